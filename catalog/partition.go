package catalog

import "fmt"

// Partition is the experimental cohort an observation is aggregated under.
// NoScout and Scout are disjoint and together make up All.
type Partition uint8

const (
	All Partition = iota
	NoScout
	Scout
)

// Partitions lists every partition in output order.
var Partitions = []Partition{All, NoScout, Scout}

func (p Partition) String() string {
	switch p {
	case All:
		return "ALL"
	case NoScout:
		return "NOSCOUT"
	case Scout:
		return "SCOUT"
	}

	return fmt.Sprintf("Partition(%d)", uint8(p))
}

// ParsePartition is the inverse of Partition.String.
func ParsePartition(s string) (Partition, error) {
	for _, p := range Partitions {
		if p.String() == s {
			return p, nil
		}
	}

	return All, fmt.Errorf("Partition %q is not recognized. Valid partitions include: ALL, NOSCOUT, SCOUT", s)
}

func (p Partition) MarshalCSV() (string, error) {
	return p.String(), nil
}

func (p *Partition) UnmarshalCSV(s string) error {
	parsed, err := ParsePartition(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
