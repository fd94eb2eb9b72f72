package cimage

import (
	"fmt"
	"sort"
	"strings"
)

// QuantLayout names the header columns of a quantification table. Columns are
// looked up by header name, never by position. An empty name means the table
// doesn't carry that column.
type QuantLayout struct {
	Comment        rune
	ColAccession   string
	ColDescription string
	ColSymbol      string
	ColSequence    string
	ColCharge      string
	ColRatio       string
	ColScans       string
	ColR2          string

	// ColSite is the modification-site annotation. It is optional even when
	// named: some exports carry it and some don't.
	ColSite string
}

// IDLayout names the header columns of a DTASelect-style identification
// table, which interleaves protein rows and peptide rows under two different
// headers.
type IDLayout struct {
	Comment rune

	// ColLocus starts the protein header and holds the accession on protein
	// rows.
	ColLocus       string
	ColDescription string

	// ColUnique starts the peptide header. Peptide rows have an empty or "*"
	// first field.
	ColUnique   string
	ColSequence string
	ColXCorr    string

	// SummaryMarker in the second field of a peptide-shaped row starts the
	// trailing summary block, which is not parsed.
	SummaryMarker string
}

var QuantLayouts = map[string]QuantLayout{
	// cimage combined / output_rt tables
	"CIMAGE": {
		ColAccession:   "ipi",
		ColDescription: "description",
		ColSymbol:      "symbol",
		ColSequence:    "sequence",
		ColCharge:      "charge",
		ColRatio:       "ratio",
		ColScans:       "NP",
		ColR2:          "R2",
		ColSite:        "site",
	},
	// Flat exports that already use the processed table's vocabulary
	"GENERIC": {
		Comment:        '#',
		ColAccession:   "protein_accession",
		ColDescription: "protein_description",
		ColSequence:    "peptide_sequence",
		ColCharge:      "charge",
		ColRatio:       "ratio",
		ColScans:       "scans",
		ColSite:        "residue_position",
	},
}

var IDLayouts = map[string]IDLayout{
	"DTASELECT": {
		ColLocus:       "Locus",
		ColDescription: "Descriptive Name",
		ColUnique:      "Unique",
		ColSequence:    "Sequence",
		ColXCorr:       "XCorr",
		SummaryMarker:  "Proteins",
	},
}

func QuantLayoutNames() string {
	return layoutNames(len(QuantLayouts), func(f func(string)) {
		for m := range QuantLayouts {
			f(m)
		}
	})
}

func IDLayoutNames() string {
	return layoutNames(len(IDLayouts), func(f func(string)) {
		for m := range IDLayouts {
			f(m)
		}
	})
}

func layoutNames(n int, each func(func(string))) string {
	names := make([]string, 0, n)
	each(func(name string) { names = append(names, name) })
	sort.Strings(names)

	return strings.Join(names, ", ")
}

// LookupQuantLayout returns the named layout or an error listing the valid
// names.
func LookupQuantLayout(name string) (QuantLayout, error) {
	l, exists := QuantLayouts[name]
	if !exists {
		return l, fmt.Errorf("Quantification layout %s is not found. Valid layout names include: %s", name, QuantLayoutNames())
	}

	return l, nil
}

func LookupIDLayout(name string) (IDLayout, error) {
	l, exists := IDLayouts[name]
	if !exists {
		return l, fmt.Errorf("Identification layout %s is not found. Valid layout names include: %s", name, IDLayoutNames())
	}

	return l, nil
}

// headerIndex maps header names to column positions. Names are trimmed; the
// first occurrence of a repeated name wins.
func headerIndex(row []string) map[string]int {
	header := make(map[string]int, len(row))
	for i, v := range row {
		v = strings.TrimSpace(v)
		if _, exists := header[v]; !exists {
			header[v] = i
		}
	}

	return header
}

// column resolves a named column against the header: -1 when the layout
// doesn't name it, an error when it's named but missing.
func column(header map[string]int, name string) (int, error) {
	if name == "" {
		return -1, nil
	}

	idx, exists := header[name]
	if !exists {
		return -1, fmt.Errorf("missing required column %q", name)
	}

	return idx, nil
}

func optionalColumn(header map[string]int, name string) int {
	if idx, exists := header[name]; exists && name != "" {
		return idx
	}

	return -1
}
