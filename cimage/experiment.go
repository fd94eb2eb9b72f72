// Package cimage parses the two per-experiment tables produced by the
// isoTOP-ABPP workflow: the cimage quantification table and the DTASelect
// identification table. Both are looked up by header name.
package cimage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/reactivity"
)

// Options control locating and parsing an experiment's files.
type Options struct {
	QuantLayout string
	IDLayout    string

	// Glob patterns, tried in order. Within a pattern the lexically first
	// match wins.
	QuantPatterns []string
	IDPatterns    []string

	// Ratios at or above SentinelRatio mean "no competition" and are clamped
	// to it. Zero disables clamping.
	SentinelRatio float64

	// MinR2 drops quantifications with a poorer co-elution fit.
	MinR2 float64

	// Masses of the labeling modification, rewritten to Marker.
	ModificationMasses []string

	Storage *storage.Client
}

func DefaultOptions() Options {
	return Options{
		QuantLayout:        "CIMAGE",
		IDLayout:           "DTASELECT",
		QuantPatterns:      []string{"*.combined", "*combined*.txt", "output_rt_*.txt"},
		IDPatterns:         []string{"*.dtaselect", "DTASelect-filter*.txt"},
		SentinelRatio:      20,
		MinR2:              0.8,
		ModificationMasses: []string{"464.24957", "470.26338"},
	}
}

// Locate finds the file in dir matching the first pattern that matches
// anything.
func Locate(ctx context.Context, client *storage.Client, dir, kind string, patterns []string) (string, error) {
	names, err := reactivity.ListFiles(ctx, client, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &MissingFileError{Dir: dir, Kind: kind, Patterns: patterns}
		}
		return "", pfx.Err(err)
	}
	sort.Strings(names)

	for _, pattern := range patterns {
		for _, name := range names {
			matched, err := path.Match(pattern, name)
			if err != nil {
				return "", fmt.Errorf("bad %s pattern %q: %w", kind, pattern, err)
			}
			if matched {
				return reactivity.JoinPath(dir, name), nil
			}
		}
	}

	return "", &MissingFileError{Dir: dir, Kind: kind, Patterns: patterns}
}

// ParseExperiment locates, reads and joins both tables of one experiment
// folder. A missing table is a MissingFileError; a table whose header can't
// be used is a ParseError. Malformed rows don't fail the experiment and are
// returned in Warnings instead.
func ParseExperiment(ctx context.Context, dir string, opts Options) (*Experiment, error) {
	quantLayout, err := LookupQuantLayout(opts.QuantLayout)
	if err != nil {
		return nil, err
	}
	idLayout, err := LookupIDLayout(opts.IDLayout)
	if err != nil {
		return nil, err
	}

	exp := &Experiment{}

	if exp.QuantFile, err = Locate(ctx, opts.Storage, dir, "quantification", opts.QuantPatterns); err != nil {
		return nil, err
	}
	if exp.IDFile, err = Locate(ctx, opts.Storage, dir, "identification", opts.IDPatterns); err != nil {
		return nil, err
	}

	quantData, err := reactivity.ReadFile(ctx, opts.Storage, exp.QuantFile)
	if err != nil {
		return nil, err
	}
	quants, skipped, warnings, err := parseQuantification(quantData, exp.QuantFile, quantLayout, opts)
	if err != nil {
		return nil, err
	}
	exp.Skipped = skipped
	exp.Warnings = append(exp.Warnings, warnings...)

	idData, err := reactivity.ReadFile(ctx, opts.Storage, exp.IDFile)
	if err != nil {
		return nil, err
	}
	ids, warnings, err := parseIdentification(idData, exp.IDFile, idLayout, opts)
	if err != nil {
		return nil, err
	}
	exp.Warnings = append(exp.Warnings, warnings...)

	exp.Pairs = Join(quants, ids)

	return exp, nil
}

// Join pairs each quantification, in order, with the identification of the
// same flank-free peptide.
func Join(quants []Quantification, ids map[string]Identification) []Pair {
	out := make([]Pair, 0, len(quants))
	for _, q := range quants {
		id, exists := ids[Core(q.Sequence)]
		out = append(out, Pair{Quant: q, ID: id, Identified: exists})
	}

	return out
}
