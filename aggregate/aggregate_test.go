package aggregate

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/carbocation/reactivity/catalog"
	"github.com/carbocation/reactivity/resolve"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"
)

var siteA = resolve.Entity{Accession: "P00001", Residue: 2, Peptide: "KTAYIAK"}

func obs(p catalog.Partition, e resolve.Entity, label, exp string, ratio float64) Observation {
	return Observation{Partition: p, Entity: e, Label: label, Experiment: exp, File: exp + ".combined", Ratio: ratio}
}

func set(observations ...Observation) *ObservationSet {
	return &ObservationSet{Key: observations[0].Key(), Observations: observations}
}

func TestReduceSingleReplicate(t *testing.T) {
	row := Reduce(set(obs(catalog.All, siteA, "T1", "e1", 2.0)), Thresholds{MinReplicates: 1})

	require.Equal(t, 1, row.N)
	require.True(t, row.Median.Valid)
	require.Equal(t, 2.0, row.Median.Float64)
	require.False(t, row.CV.Valid)
	require.True(t, row.Retained)
	require.Equal(t, []string{"e1"}, row.Experiments)
}

func TestReduceStatistics(t *testing.T) {
	s := set(
		obs(catalog.All, siteA, "T1", "e1", 2.0),
		obs(catalog.All, siteA, "T1", "e2", 6.0),
	)
	s.Observations[1].Capped = true
	s.Observations[0].SpectralCount = 3
	s.Observations[1].SpectralCount = 4

	row := Reduce(s, Thresholds{MinReplicates: 2})
	require.Equal(t, 2, row.N)
	require.Equal(t, 4.0, row.Median.Float64)

	// Population SD of {2, 6} is 2; mean is 4
	require.True(t, row.CV.Valid)
	require.InDelta(t, 0.5, row.CV.Float64, 1e-12)
	require.Equal(t, 1, row.CappedCount)
	require.Equal(t, 7, row.SpectralCount)
	require.True(t, row.Retained)
	require.Empty(t, row.Reason)
}

func TestFilterCorrectness(t *testing.T) {
	for _, min := range []int{1, 2, 3, 5} {
		th := Thresholds{MinReplicates: min, MaxCV: 0.5}

		below := make([]Observation, 0)
		for i := 0; i < min-1; i++ {
			below = append(below, obs(catalog.NoScout, siteA, "T1", fmt.Sprintf("e%d", i), 2.0))
		}
		if len(below) > 0 {
			row := Reduce(set(below...), th)
			require.False(t, row.Retained, "min=%d", min)
			require.Equal(t, ReasonMinReplicates, row.Reason)
		}

		enough := append(below, obs(catalog.NoScout, siteA, "T1", "last", 2.1))
		row := Reduce(set(enough...), th)
		require.True(t, row.Retained, "min=%d", min)
	}

	noisy := set(
		obs(catalog.Scout, siteA, "T1", "e1", 1.0),
		obs(catalog.Scout, siteA, "T1", "e2", 10.0),
	)
	row := Reduce(noisy, Thresholds{MinReplicates: 2, MaxCV: 0.5})
	require.False(t, row.Retained)
	require.Equal(t, ReasonMaxCV, row.Reason)

	// Unset max_cv never filters
	row = Reduce(noisy, Thresholds{MinReplicates: 2})
	require.True(t, row.Retained)
}

func TestThresholdsValidate(t *testing.T) {
	require.Error(t, Thresholds{MinReplicates: 0}.Validate())
	require.Error(t, Thresholds{MinReplicates: 1, MaxCV: -1}.Validate())
	require.NoError(t, Thresholds{MinReplicates: 2}.Validate())
}

func TestMergerNoLossNoDuplication(t *testing.T) {
	m := NewMerger(4)

	const workers = 8
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				e := resolve.Entity{Accession: fmt.Sprintf("P%03d", i%50), Residue: i % 7, Peptide: "PEP"}
				m.Add(
					obs(catalog.All, e, "T1", fmt.Sprintf("w%d", w), float64(i)),
					obs(catalog.Scout, e, "T1", fmt.Sprintf("w%d", w), float64(i)),
				)
			}
		}(w)
	}
	wg.Wait()

	sets := m.Close()
	total := 0
	seen := make(map[Key]struct{})
	for i, s := range sets {
		_, dup := seen[s.Key]
		require.False(t, dup)
		seen[s.Key] = struct{}{}
		total += len(s.Observations)

		for _, o := range s.Observations {
			require.Equal(t, s.Key, o.Key())
		}
		if i > 0 {
			require.True(t, sets[i-1].Key.Less(s.Key))
		}
	}
	require.Equal(t, workers*perWorker*2, total)

	// Idempotent close
	require.Equal(t, sets, m.Close())
}

func TestOrderIndependence(t *testing.T) {
	entities := []resolve.Entity{
		siteA,
		{Accession: "P00001", Residue: 8, Peptide: "KTAYIAK"},
		{Accession: "P00002", Residue: 15, Peptide: "PEPTIDECK"},
	}

	all := make([]Observation, 0)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 40; i++ {
		e := entities[i%len(entities)]
		p := catalog.Partitions[i%len(catalog.Partitions)]
		all = append(all, obs(p, e, "T1", fmt.Sprintf("e%02d", i%9), math.Round(rng.Float64()*1000)/100))
	}

	reduce := func(observations []Observation, shards int) []Row {
		m := NewMerger(shards)
		for _, o := range observations {
			m.Add(o)
		}
		return ReduceAll(m.Close(), Thresholds{MinReplicates: 2})
	}

	want := reduce(all, 1)
	for trial := 0; trial < 5; trial++ {
		shuffled := append([]Observation(nil), all...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, want, reduce(shuffled, trial+2))
	}
}

func TestPartitionsNeverShareSets(t *testing.T) {
	m := NewMerger(3)
	m.Add(
		obs(catalog.NoScout, siteA, "T1", "e1", 2.0),
		obs(catalog.All, siteA, "T1", "e1", 2.0),
		obs(catalog.Scout, siteA, "T1", "e2", 6.0),
		obs(catalog.All, siteA, "T1", "e2", 6.0),
	)

	rows := ReduceAll(m.Close(), Thresholds{MinReplicates: 1})
	require.Len(t, rows, 3)
	require.Equal(t, catalog.All, rows[0].Partition)
	require.Equal(t, 2, rows[0].N)
	require.Equal(t, 4.0, rows[0].Median.Float64)
	require.Equal(t, catalog.NoScout, rows[1].Partition)
	require.Equal(t, 2.0, rows[1].Median.Float64)
	require.Equal(t, catalog.Scout, rows[2].Partition)
	require.Equal(t, 6.0, rows[2].Median.Float64)
}

func TestCollapseRedundantSites(t *testing.T) {
	low := resolve.Entity{Accession: "P1", Residue: 152, Peptide: "PEPK"}
	high := resolve.Entity{Accession: "P1", Residue: 155, Peptide: "PEPK"}
	other := resolve.Entity{Accession: "P1", Residue: 10, Peptide: "OTHER"}

	sets := []*ObservationSet{
		set(obs(catalog.All, low, "T1", "e1", 2.0), obs(catalog.All, low, "T1", "e2", 3.5)),
		set(obs(catalog.All, high, "T1", "e3", 1.0)),
		set(obs(catalog.All, other, "T1", "e1", 5.0)),
		set(obs(catalog.Scout, low, "T1", "e1", 2.0)),
	}

	out := CollapseRedundantSites(sets)
	require.Len(t, out, 3)

	require.Equal(t, other, out[0].Key.Entity)
	require.Equal(t, high, out[1].Key.Entity)
	require.Len(t, out[1].Observations, 3)
	for _, o := range out[1].Observations {
		require.Equal(t, high, o.Entity)
	}

	// Other partitions are left alone
	require.Equal(t, catalog.Scout, out[2].Key.Partition)
	require.Equal(t, low, out[2].Key.Entity)
}

func TestCollapseCountsEachExperimentOnce(t *testing.T) {
	low := resolve.Entity{Accession: "P1", Residue: 10, Peptide: "PEPK"}
	high := resolve.Entity{Accession: "P1", Residue: 15, Peptide: "PEPK"}

	a := obs(catalog.All, low, "T1", "e1", 2.0)
	a.SpectralCount = 1
	b := obs(catalog.All, high, "T1", "e1", 8.0)
	b.SpectralCount = 2

	out := CollapseRedundantSites([]*ObservationSet{set(a), set(b)})
	require.Len(t, out, 1)
	require.Len(t, out[0].Observations, 1)

	row := Reduce(out[0], Thresholds{MinReplicates: 2})
	require.Equal(t, high, row.Entity)
	require.Equal(t, 1, row.N)
	require.Equal(t, 5.0, row.Median.Float64)
	require.Equal(t, 3, row.SpectralCount)
	require.Equal(t, []string{"e1"}, row.Experiments)
	require.False(t, row.Retained)
	require.Equal(t, ReasonMinReplicates, row.Reason)
}

func TestCollapseKeepsCappedMedian(t *testing.T) {
	low := resolve.Entity{Accession: "P1", Residue: 10, Peptide: "PEPK"}
	mid := resolve.Entity{Accession: "P1", Residue: 12, Peptide: "PEPK"}
	high := resolve.Entity{Accession: "P1", Residue: 15, Peptide: "PEPK"}

	capped := func(e resolve.Entity) Observation {
		o := obs(catalog.All, e, "T1", "e1", 20.0)
		o.Capped = true
		return o
	}

	out := CollapseRedundantSites([]*ObservationSet{
		set(obs(catalog.All, low, "T1", "e1", 2.0)),
		set(capped(mid)),
		set(capped(high), obs(catalog.All, high, "T1", "e2", 3.0)),
	})
	require.Len(t, out, 1)
	require.Len(t, out[0].Observations, 2)

	e1 := out[0].Observations[0]
	require.Equal(t, "e1", e1.Experiment)
	require.Equal(t, 20.0, e1.Ratio)
	require.True(t, e1.Capped)
	require.False(t, out[0].Observations[1].Capped)
}

func TestSummarizeProteins(t *testing.T) {
	row := func(p catalog.Partition, acc string, residue int, label string, median float64, retained bool, exps ...string) Row {
		return Row{
			Partition:   p,
			Entity:      resolve.Entity{Accession: acc, Residue: residue, Peptide: "PEPK"},
			Description: acc + " protein",
			Label:       label,
			Median:      null.FloatFrom(median),
			Retained:    retained,
			Experiments: exps,
		}
	}

	rows := []Row{
		row(catalog.Scout, "P1", 10, "T1", 9.0, true, "e3"),
		row(catalog.All, "P1", 15, "T1", 6.0, true, "e2"),
		row(catalog.All, "P1", 10, "T1", 2.0, true, "e1", "e2"),
		row(catalog.All, "P1", 20, "T1", 50.0, false, "e1"),
		row(catalog.All, "P2", 5, "T1", 3.0, false, "e1"),
		{Partition: catalog.All, Entity: resolve.Entity{Accession: "P3", Residue: 1}, Label: "T1", Retained: true},
	}

	out := SummarizeProteins(rows)
	require.Len(t, out, 2)

	require.Equal(t, catalog.All, out[0].Partition)
	require.Equal(t, "P1", out[0].Accession)
	require.Equal(t, "P1 protein", out[0].Description)
	require.Equal(t, 2, out[0].Sites)
	require.Equal(t, 6.0, out[0].MaxRatio.Float64)
	require.Equal(t, 4.0, out[0].MeanRatio.Float64)
	require.Equal(t, []string{"e1", "e2"}, out[0].Experiments)

	require.Equal(t, catalog.Scout, out[1].Partition)
	require.Equal(t, 9.0, out[1].MaxRatio.Float64)

	// Input order does not matter
	rand.New(rand.NewSource(7)).Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	require.Equal(t, out, SummarizeProteins(rows))
}
