package aggregate

import (
	"fmt"
	"sort"

	"github.com/carbocation/reactivity/catalog"
	"github.com/carbocation/reactivity/resolve"
	"github.com/montanaflynn/stats"
	"gopkg.in/guregu/null.v3"
)

const (
	ReasonMinReplicates = "min_replicates"
	ReasonMaxCV         = "max_cv"
)

// Thresholds are the quality filters. MaxCV of 0 disables the CV filter.
type Thresholds struct {
	MinReplicates int
	MaxCV         float64
}

func (t Thresholds) Validate() error {
	if t.MinReplicates < 1 {
		return fmt.Errorf("min_replicates must be at least 1, got %d", t.MinReplicates)
	}
	if t.MaxCV < 0 {
		return fmt.Errorf("max_cv must be positive when set, got %v", t.MaxCV)
	}

	return nil
}

// Row is the reduced, immutable summary of one ObservationSet.
type Row struct {
	Partition   catalog.Partition
	Entity      resolve.Entity
	Description string
	Label       string
	N           int
	Median      null.Float

	// CV is null when it isn't defined: fewer than two replicates or a zero
	// mean.
	CV       null.Float
	Retained bool
	Reason   string

	// CappedCount is how many replicates sat at the sentinel ratio.
	CappedCount   int
	SpectralCount int
	Experiments   []string
}

// Reduce summarizes one set. Observations are put in a canonical order first,
// so the result does not depend on the order they were added in.
func Reduce(set *ObservationSet, th Thresholds) Row {
	obs := append([]Observation(nil), set.Observations...)
	sort.Slice(obs, func(i, j int) bool {
		if obs[i].Experiment != obs[j].Experiment {
			return obs[i].Experiment < obs[j].Experiment
		}
		if obs[i].Ratio != obs[j].Ratio {
			return obs[i].Ratio < obs[j].Ratio
		}
		return obs[i].File < obs[j].File
	})

	row := Row{
		Partition: set.Key.Partition,
		Entity:    set.Key.Entity,
		Label:     set.Key.Label,
		N:         len(obs),
	}

	values := make(stats.Float64Data, 0, len(obs))
	seen := make(map[string]struct{})
	for _, o := range obs {
		values = append(values, o.Ratio)
		if o.Capped {
			row.CappedCount++
		}
		row.SpectralCount += o.SpectralCount
		if row.Description == "" {
			row.Description = o.Description
		}
		if _, exists := seen[o.Experiment]; !exists {
			seen[o.Experiment] = struct{}{}
			row.Experiments = append(row.Experiments, o.Experiment)
		}
	}

	if median, err := values.Median(); err == nil {
		row.Median = null.FloatFrom(median)
	}

	if len(values) >= 2 {
		mean, err := values.Mean()
		if err == nil && mean != 0 {
			if sd, err := values.StandardDeviationPopulation(); err == nil {
				row.CV = null.FloatFrom(sd / mean)
			}
		}
	}

	row.Retained = true
	switch {
	case row.N < th.MinReplicates:
		row.Retained = false
		row.Reason = ReasonMinReplicates
	case th.MaxCV > 0 && row.CV.Valid && row.CV.Float64 > th.MaxCV:
		row.Retained = false
		row.Reason = ReasonMaxCV
	}

	return row
}

// ReduceAll reduces every set, keeping their order.
func ReduceAll(sets []*ObservationSet, th Thresholds) []Row {
	out := make([]Row, 0, len(sets))
	for _, set := range sets {
		out = append(out, Reduce(set, th))
	}

	return out
}
