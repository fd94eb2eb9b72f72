package aggregate

import (
	"encoding/binary"
	"strconv"
	"sync"

	"github.com/minio/blake2b-simd"
)

const batchChannelDepth = 16

// Merger groups observations into ObservationSets. Each shard owns a disjoint
// slice of the entity space and is the only goroutine that writes to its map,
// so callers may Add from many goroutines without locking.
type Merger struct {
	shards  []chan []Observation
	results []map[Key]*ObservationSet
	wg      sync.WaitGroup
	once    sync.Once
	sets    []*ObservationSet
}

// NewMerger starts n shard goroutines. n < 1 is treated as 1.
func NewMerger(n int) *Merger {
	if n < 1 {
		n = 1
	}

	m := &Merger{
		shards:  make([]chan []Observation, n),
		results: make([]map[Key]*ObservationSet, n),
	}

	for i := range m.shards {
		m.shards[i] = make(chan []Observation, batchChannelDepth)
		m.results[i] = make(map[Key]*ObservationSet)
		m.wg.Add(1)
		go m.run(i)
	}

	return m
}

func (m *Merger) run(shard int) {
	defer m.wg.Done()

	sets := m.results[shard]
	for batch := range m.shards[shard] {
		for _, obs := range batch {
			k := obs.Key()
			set, exists := sets[k]
			if !exists {
				set = &ObservationSet{Key: k}
				sets[k] = set
			}
			set.Observations = append(set.Observations, obs)
		}
	}
}

// Add routes observations to their shards. It must not be called after Close.
func (m *Merger) Add(observations ...Observation) {
	if len(observations) == 0 {
		return
	}

	batches := make([][]Observation, len(m.shards))
	for _, obs := range observations {
		s := m.shardOf(obs)
		batches[s] = append(batches[s], obs)
	}

	for s, batch := range batches {
		if len(batch) > 0 {
			m.shards[s] <- batch
		}
	}
}

// Close waits for every shard to drain and returns all sets in output order.
func (m *Merger) Close() []*ObservationSet {
	m.once.Do(func() {
		for _, ch := range m.shards {
			close(ch)
		}
		m.wg.Wait()

		for _, sets := range m.results {
			for _, set := range sets {
				m.sets = append(m.sets, set)
			}
		}
		SortSets(m.sets)
	})

	return m.sets
}

// shardOf hashes the entity alone, so every partition and label of one entity
// lands on the same shard.
func (m *Merger) shardOf(obs Observation) int {
	if len(m.shards) == 1 {
		return 0
	}

	h, err := blake2b.New(&blake2b.Config{Size: 8})
	if err != nil {
		return 0
	}
	h.Write([]byte(obs.Entity.Accession))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(obs.Entity.Residue)))
	h.Write([]byte{0})
	h.Write([]byte(obs.Entity.Peptide))

	return int(binary.BigEndian.Uint64(h.Sum(nil)) % uint64(len(m.shards)))
}
