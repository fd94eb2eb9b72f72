// Package catalog discovers experiment folders under the three partition roots
// and checks that the scout/non-scout split accounts for every experiment
// exactly once.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/reactivity"
)

var (
	// ErrInconsistent is matched by every InconsistencyError.
	ErrInconsistent = errors.New("catalog inconsistency")

	// ErrNoExperiments is returned when the roots hold no experiment folders.
	ErrNoExperiments = errors.New("no experiments discovered")
)

// Roots are the three directories (or gs:// prefixes) holding experiment
// folders. All must be the disjoint union of NoScout and Scout by folder name.
type Roots struct {
	All     string
	NoScout string
	Scout   string
}

func (r Roots) Validate() error {
	if r.All == "" || r.NoScout == "" || r.Scout == "" {
		return fmt.Errorf("all three partition roots are required (all=%q noscout=%q scout=%q)", r.All, r.NoScout, r.Scout)
	}

	return nil
}

// Descriptor identifies one experiment. Path is the folder under the All root,
// which is the copy that gets parsed; SubsetPath is the same experiment's
// folder under its NoScout or Scout root.
type Descriptor struct {
	Name       string
	Path       string
	SubsetPath string
	Label      string
	Partitions []Partition
}

// Subset returns the NoScout or Scout partition the experiment belongs to.
func (d Descriptor) Subset() Partition {
	for _, p := range d.Partitions {
		if p != All {
			return p
		}
	}

	return All
}

// Problem is one reason the catalog can't be trusted.
type Problem struct {
	Name   string
	Reason string
}

// InconsistencyError is the fatal CatalogInconsistency: the partition
// bookkeeping disagrees with the folders on disk.
type InconsistencyError struct {
	Problems []Problem
}

func (e *InconsistencyError) Error() string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("catalog inconsistency: %d experiment folder(s) are mis-partitioned:", len(e.Problems)))
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf(" [%s: %s]", p.Name, p.Reason))
	}

	return sb.String()
}

func (e *InconsistencyError) Is(target error) bool {
	return target == ErrInconsistent
}

// Options tune catalog discovery.
type Options struct {
	// LabelPrefixes are stripped from folder names before reading the label.
	// Nil means DefaultLabelPrefixes.
	LabelPrefixes []string

	// Storage is only needed when a root is a gs:// path.
	Storage *storage.Client
}

// Scan lists the experiment folders under all three roots and returns one
// Descriptor per experiment, sorted by folder name.
func Scan(ctx context.Context, roots Roots, opts Options) ([]Descriptor, error) {
	if err := roots.Validate(); err != nil {
		return nil, err
	}

	listed := make(map[Partition][]string)
	for _, p := range Partitions {
		root := roots.root(p)
		names, err := reactivity.ListFolders(ctx, opts.Storage, root)
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("listing %s root %s: %w", p, root, err))
		}
		listed[p] = names
	}

	return Build(roots, listed[All], listed[NoScout], listed[Scout], opts.LabelPrefixes)
}

// Build checks the three folder-name sets against each other and assembles
// the descriptors. It does not touch the filesystem.
func Build(roots Roots, all, noscout, scout []string, labelPrefixes []string) ([]Descriptor, error) {
	if labelPrefixes == nil {
		labelPrefixes = DefaultLabelPrefixes
	}

	allSet := toSet(all)
	noscoutSet := toSet(noscout)
	scoutSet := toSet(scout)

	problems := make([]Problem, 0)
	for name := range allSet {
		_, inNoScout := noscoutSet[name]
		_, inScout := scoutSet[name]
		switch {
		case inNoScout && inScout:
			problems = append(problems, Problem{name, "present in both the noscout and scout roots"})
		case !inNoScout && !inScout:
			problems = append(problems, Problem{name, "present in the all root but in neither subset"})
		}
	}
	for name := range noscoutSet {
		if _, exists := allSet[name]; !exists {
			problems = append(problems, Problem{name, "present in the noscout root but not in the all root"})
		}
	}
	for name := range scoutSet {
		if _, exists := allSet[name]; !exists {
			problems = append(problems, Problem{name, "present in the scout root but not in the all root"})
		}
	}

	if len(problems) > 0 {
		sort.Slice(problems, func(i, j int) bool {
			if problems[i].Name != problems[j].Name {
				return problems[i].Name < problems[j].Name
			}
			return problems[i].Reason < problems[j].Reason
		})
		return nil, &InconsistencyError{Problems: problems}
	}

	if len(allSet) == 0 {
		return nil, ErrNoExperiments
	}

	out := make([]Descriptor, 0, len(allSet))
	for name := range allSet {
		subset := NoScout
		if _, exists := scoutSet[name]; exists {
			subset = Scout
		}

		out = append(out, Descriptor{
			Name:       name,
			Path:       reactivity.JoinPath(roots.All, name),
			SubsetPath: reactivity.JoinPath(roots.root(subset), name),
			Label:      TreatmentLabel(name, labelPrefixes),
			Partitions: []Partition{All, subset},
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out, nil
}

func (r Roots) root(p Partition) string {
	switch p {
	case NoScout:
		return r.NoScout
	case Scout:
		return r.Scout
	}

	return r.All
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, v := range names {
		out[v] = struct{}{}
	}

	return out
}
