package aggregate

import (
	"sort"

	"github.com/carbocation/reactivity/catalog"
	"github.com/montanaflynn/stats"
	"gopkg.in/guregu/null.v3"
)

// ProteinRow rolls the retained sites of one protein up to the protein, per
// partition and treatment label.
type ProteinRow struct {
	Partition   catalog.Partition
	Accession   string
	Description string
	Label       string

	// Sites counts the retained sites with a median ratio.
	Sites     int
	MaxRatio  null.Float
	MeanRatio null.Float

	Experiments []string
}

type proteinKey struct {
	Partition catalog.Partition
	Accession string
	Label     string
}

func (k proteinKey) less(o proteinKey) bool {
	if k.Partition != o.Partition {
		return k.Partition < o.Partition
	}
	if k.Accession != o.Accession {
		return k.Accession < o.Accession
	}
	return k.Label < o.Label
}

// SummarizeProteins takes the maximum and the mean of the site medians of each
// protein. Filtered rows and rows without a median are left out, and proteins
// with no remaining site get no row.
func SummarizeProteins(rows []Row) []ProteinRow {
	sorted := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r.Retained && r.Median.Valid {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a := Key{Partition: sorted[i].Partition, Entity: sorted[i].Entity, Label: sorted[i].Label}
		b := Key{Partition: sorted[j].Partition, Entity: sorted[j].Entity, Label: sorted[j].Label}
		return a.Less(b)
	})

	type accumulator struct {
		row         ProteinRow
		medians     stats.Float64Data
		experiments map[string]struct{}
	}

	byProtein := make(map[proteinKey]*accumulator)
	keys := make([]proteinKey, 0)
	for _, r := range sorted {
		k := proteinKey{Partition: r.Partition, Accession: r.Entity.Accession, Label: r.Label}

		acc, exists := byProtein[k]
		if !exists {
			acc = &accumulator{
				row: ProteinRow{
					Partition: r.Partition,
					Accession: r.Entity.Accession,
					Label:     r.Label,
				},
				experiments: make(map[string]struct{}),
			}
			byProtein[k] = acc
			keys = append(keys, k)
		}

		if acc.row.Description == "" {
			acc.row.Description = r.Description
		}
		acc.medians = append(acc.medians, r.Median.Float64)
		for _, e := range r.Experiments {
			acc.experiments[e] = struct{}{}
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	out := make([]ProteinRow, 0, len(keys))
	for _, k := range keys {
		acc := byProtein[k]

		acc.row.Sites = len(acc.medians)
		if highest, err := acc.medians.Max(); err == nil {
			acc.row.MaxRatio = null.FloatFrom(highest)
		}
		if mean, err := acc.medians.Mean(); err == nil {
			acc.row.MeanRatio = null.FloatFrom(mean)
		}

		acc.row.Experiments = make([]string, 0, len(acc.experiments))
		for e := range acc.experiments {
			acc.row.Experiments = append(acc.row.Experiments, e)
		}
		sort.Strings(acc.row.Experiments)

		out = append(out, acc.row)
	}

	return out
}
