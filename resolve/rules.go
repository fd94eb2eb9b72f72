package resolve

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/reactivity"
	"github.com/carbocation/reactivity/catalog"
	"github.com/carbocation/reactivity/cimage"
	"gopkg.in/yaml.v3"
)

// Rewrite replaces an accession matching Pattern with Replace, which may
// refer to capture groups as $1.
type Rewrite struct {
	Pattern string `yaml:"pattern"`
	Replace string `yaml:"replace"`
}

// Rules is the declared normalization rule set. Keys absent from a rules file
// keep their DefaultRules value.
type Rules struct {
	AccessionRewrites         []Rewrite `yaml:"accession_rewrites"`
	CollapseLeucineIsoleucine bool      `yaml:"collapse_leucine_isoleucine"`
	SentinelRatio             float64   `yaml:"sentinel_ratio"`
	MinR2                     float64   `yaml:"min_r2"`
	SiteOffset                int       `yaml:"site_offset"`
	ModificationMasses        []string  `yaml:"modification_masses"`
	ExcludeAccessionPrefixes  []string  `yaml:"exclude_accession_prefixes"`
	ExcludeDescriptions       []string  `yaml:"exclude_descriptions"`

	// TrypticOnly drops half-tryptic peptides and peptides whose modified
	// lysine sits at a cleavage site. Sequences reported without flanking
	// residues carry no cleavage context and are kept.
	TrypticOnly bool `yaml:"tryptic_only"`

	CollapseRedundantSites bool     `yaml:"collapse_redundant_sites"`
	LabelPrefixes          []string `yaml:"label_prefixes"`
	QuantPatterns          []string `yaml:"quant_patterns"`
	IDPatterns             []string `yaml:"id_patterns"`
}

// DefaultExcludeDescriptions drop keratin contaminants.
var DefaultExcludeDescriptions = []string{"KRT", "Keratin"}

// DefaultAccessionRewrites reduce UniProt headers to the bare accession and
// strip isoform and version suffixes, in that order.
var DefaultAccessionRewrites = []Rewrite{
	{Pattern: `^(?:sp|tr)\|([^|]+)\|.*$`, Replace: "$1"},
	{Pattern: `^([A-Za-z0-9_]+)-[0-9]+$`, Replace: "$1"},
	{Pattern: `^([A-Za-z0-9_]+)\.[0-9]+$`, Replace: "$1"},
}

func DefaultRules() Rules {
	parse := cimage.DefaultOptions()

	return Rules{
		AccessionRewrites:        append([]Rewrite(nil), DefaultAccessionRewrites...),
		SentinelRatio:            parse.SentinelRatio,
		MinR2:                    parse.MinR2,
		ModificationMasses:       parse.ModificationMasses,
		ExcludeAccessionPrefixes: []string{"Reverse_"},
		ExcludeDescriptions:      append([]string(nil), DefaultExcludeDescriptions...),
		TrypticOnly:              true,
		LabelPrefixes:            append([]string(nil), catalog.DefaultLabelPrefixes...),
		QuantPatterns:            parse.QuantPatterns,
		IDPatterns:               parse.IDPatterns,
	}
}

// LoadRules reads a YAML rules file on top of DefaultRules. Unknown keys are
// an error so that a misspelled rule can't silently fall back to a default.
func LoadRules(ctx context.Context, client *storage.Client, path string) (Rules, error) {
	data, err := reactivity.ReadFile(ctx, client, path)
	if err != nil {
		return Rules{}, pfx.Err(err)
	}

	rules, err := ParseRules(bytes.NewReader(data))
	if err != nil {
		return rules, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	return rules, nil
}

func ParseRules(r io.Reader) (Rules, error) {
	rules := DefaultRules()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil && err != io.EOF {
		return rules, err
	}

	return rules, rules.Validate()
}

func (r Rules) Validate() error {
	if r.SentinelRatio < 0 {
		return fmt.Errorf("sentinel_ratio must not be negative, got %v", r.SentinelRatio)
	}
	if r.MinR2 < 0 || r.MinR2 > 1 {
		return fmt.Errorf("min_r2 must be between 0 and 1, got %v", r.MinR2)
	}
	for _, v := range r.AccessionRewrites {
		if _, err := regexp.Compile(v.Pattern); err != nil {
			return fmt.Errorf("accession_rewrites: %w", err)
		}
	}

	return nil
}

// ParserOptions carries the parsing-related rules over to the record parser.
func (r Rules) ParserOptions(quantLayout, idLayout string, client *storage.Client) cimage.Options {
	opts := cimage.DefaultOptions()
	if quantLayout != "" {
		opts.QuantLayout = quantLayout
	}
	if idLayout != "" {
		opts.IDLayout = idLayout
	}
	if len(r.QuantPatterns) > 0 {
		opts.QuantPatterns = r.QuantPatterns
	}
	if len(r.IDPatterns) > 0 {
		opts.IDPatterns = r.IDPatterns
	}
	opts.SentinelRatio = r.SentinelRatio
	opts.MinR2 = r.MinR2
	opts.ModificationMasses = r.ModificationMasses
	opts.Storage = client

	return opts
}
