// Package aggregate groups resolved observations by (partition, entity,
// treatment label) and reduces each group to summary statistics.
package aggregate

import (
	"sort"

	"github.com/carbocation/reactivity/catalog"
	"github.com/carbocation/reactivity/resolve"
	"github.com/montanaflynn/stats"
)

// Observation is one replicate ratio contributed by one experiment to one
// partition.
type Observation struct {
	Partition     catalog.Partition
	Entity        resolve.Entity
	Label         string
	Ratio         float64
	Capped        bool
	Experiment    string
	File          string
	Description   string
	SpectralCount int
}

// Key identifies an ObservationSet. Partition is part of the key so no set is
// ever shared between partitions.
type Key struct {
	Partition catalog.Partition
	Entity    resolve.Entity
	Label     string
}

func (o Observation) Key() Key {
	return Key{Partition: o.Partition, Entity: o.Entity, Label: o.Label}
}

// Less orders keys the way the output table is sorted: partition, accession,
// residue, label, then peptide.
func (k Key) Less(o Key) bool {
	if k.Partition != o.Partition {
		return k.Partition < o.Partition
	}
	if k.Entity.Accession != o.Entity.Accession {
		return k.Entity.Accession < o.Entity.Accession
	}
	if k.Entity.Residue != o.Entity.Residue {
		return k.Entity.Residue < o.Entity.Residue
	}
	if k.Label != o.Label {
		return k.Label < o.Label
	}
	return k.Entity.Peptide < o.Entity.Peptide
}

type ObservationSet struct {
	Key          Key
	Observations []Observation
}

func SortSets(sets []*ObservationSet) {
	sort.Slice(sets, func(i, j int) bool { return sets[i].Key.Less(sets[j].Key) })
}

// CollapseRedundantSites folds sets whose peptide class was assigned to more
// than one residue of the same protein into the set at the highest residue,
// which happens when a peptide is quantified with its modification on different
// residues across runs. Sets are grouped within a partition and label only.
// An experiment that saw the peptide at several residues still contributes a
// single replicate to the merged set: the median of its ratios.
func CollapseRedundantSites(sets []*ObservationSet) []*ObservationSet {
	type group struct {
		Partition catalog.Partition
		Label     string
		Accession string
		Peptide   string
	}

	groups := make(map[group][]*ObservationSet)
	for _, set := range sets {
		g := group{set.Key.Partition, set.Key.Label, set.Key.Entity.Accession, set.Key.Entity.Peptide}
		groups[g] = append(groups[g], set)
	}

	out := make([]*ObservationSet, 0, len(groups))
	for _, members := range groups {
		if len(members) == 1 {
			out = append(out, members[0])
			continue
		}

		sort.Slice(members, func(i, j int) bool { return members[i].Key.Entity.Residue < members[j].Key.Entity.Residue })
		keep := members[len(members)-1]
		byExperiment := make(map[string][]Observation)
		for _, m := range members {
			for _, obs := range m.Observations {
				obs.Entity = keep.Key.Entity
				byExperiment[obs.Experiment] = append(byExperiment[obs.Experiment], obs)
			}
		}

		merged := &ObservationSet{Key: keep.Key}
		for _, observations := range byExperiment {
			merged.Observations = append(merged.Observations, condense(observations))
		}
		sort.Slice(merged.Observations, func(i, j int) bool {
			return merged.Observations[i].Experiment < merged.Observations[j].Experiment
		})
		out = append(out, merged)
	}

	SortSets(out)

	return out
}

// condense reduces one experiment's observations of a single site to one
// observation carrying their median ratio.
func condense(observations []Observation) Observation {
	if len(observations) == 1 {
		return observations[0]
	}

	sort.Slice(observations, func(i, j int) bool {
		if observations[i].Ratio != observations[j].Ratio {
			return observations[i].Ratio < observations[j].Ratio
		}
		return observations[i].File < observations[j].File
	})

	out := observations[0]
	out.SpectralCount = 0
	out.Capped = false

	ratios := make(stats.Float64Data, 0, len(observations))
	sentinel := 0.0
	for _, o := range observations {
		ratios = append(ratios, o.Ratio)
		out.SpectralCount += o.SpectralCount
		if o.Capped && (sentinel == 0 || o.Ratio < sentinel) {
			sentinel = o.Ratio
		}
	}

	// Median of a non-empty slice cannot fail
	out.Ratio, _ = ratios.Median()

	// Capped ratios all sit at the sentinel, so the median is capped only
	// when it lands on one of them.
	out.Capped = sentinel > 0 && out.Ratio >= sentinel

	return out
}
