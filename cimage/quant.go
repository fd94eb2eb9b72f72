package cimage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/carbocation/reactivity"
)

type quantColumns struct {
	accession, description, symbol, sequence, charge, ratio, scans, r2, site int
}

// parseQuantification reads a quantification table. Rows that can't be used
// are reported as ParseError and skipped; an unusable header fails the file.
func parseQuantification(data []byte, file string, layout QuantLayout, opts Options) ([]Quantification, Skipped, []ParseError, error) {
	skipped := Skipped{}
	warnings := make([]ParseError, 0)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = reactivity.DetermineDelimiterBytes(data)
	reader.Comment = layout.Comment
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	headerRow, err := reader.Read()
	if err == io.EOF {
		return nil, skipped, warnings, ParseError{File: file, Line: 1, Reason: "empty file"}
	} else if err != nil {
		return nil, skipped, warnings, ParseError{File: file, Line: 1, Reason: err.Error()}
	}

	cols, err := resolveQuantColumns(headerIndex(headerRow), layout)
	if err != nil {
		return nil, skipped, warnings, ParseError{File: file, Line: 1, Reason: err.Error()}
	}

	out := make([]Quantification, 0)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			line := 0
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				line = perr.StartLine
			}
			warnings = append(warnings, ParseError{File: file, Line: line, Reason: err.Error()})
			continue
		}

		if isBlank(row) {
			continue
		}
		line, _ := reader.FieldPos(0)

		q, reason := cols.parse(row, opts)
		switch reason {
		case "":
			q.Line = line
			out = append(out, q)
		case reasonUnquantified:
			skipped.Unquantified++
		case reasonLowR2:
			skipped.LowR2++
		default:
			warnings = append(warnings, ParseError{File: file, Line: line, Reason: reason})
		}
	}

	return out, skipped, warnings, nil
}

func resolveQuantColumns(header map[string]int, layout QuantLayout) (quantColumns, error) {
	c := quantColumns{}
	var err error

	required := []struct {
		name string
		dst  *int
	}{
		{layout.ColAccession, &c.accession},
		{layout.ColDescription, &c.description},
		{layout.ColSymbol, &c.symbol},
		{layout.ColSequence, &c.sequence},
		{layout.ColCharge, &c.charge},
		{layout.ColRatio, &c.ratio},
		{layout.ColScans, &c.scans},
		{layout.ColR2, &c.r2},
	}
	for _, v := range required {
		if *v.dst, err = column(header, v.name); err != nil {
			return c, err
		}
	}

	if c.accession < 0 || c.sequence < 0 || c.ratio < 0 {
		return c, fmt.Errorf("layout must name the accession, sequence and ratio columns")
	}

	c.site = optionalColumn(header, layout.ColSite)

	return c, nil
}

const (
	reasonUnquantified = "unquantified"
	reasonLowR2        = "low_r2"
)

// parse returns the record, or a non-empty reason the row was not kept.
func (c quantColumns) parse(row []string, opts Options) (Quantification, string) {
	q := Quantification{}

	field := func(idx int) (string, bool) {
		if idx < 0 {
			return "", true
		}
		if idx >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[idx]), true
	}

	var ok bool
	if q.Accession, ok = field(c.accession); !ok || q.Accession == "" {
		return q, "missing required column: accession"
	}
	if q.Sequence, ok = field(c.sequence); !ok || q.Sequence == "" {
		return q, "missing required column: sequence"
	}
	q.Sequence = NormalizeSequence(q.Sequence, opts.ModificationMasses)

	rawRatio, ok := field(c.ratio)
	if !ok || rawRatio == "" {
		return q, "missing required column: ratio"
	}
	ratio, err := parseRatio(rawRatio)
	if err != nil {
		return q, fmt.Sprintf("non-numeric ratio %q", rawRatio)
	}
	if ratio < 0 {
		return q, fmt.Sprintf("negative ratio %q", rawRatio)
	}
	if ratio == 0 {
		return q, reasonUnquantified
	}
	if opts.SentinelRatio > 0 && ratio >= opts.SentinelRatio {
		ratio = opts.SentinelRatio
		q.Capped = true
	}
	q.Ratio = ratio

	if c.r2 >= 0 {
		raw, ok := field(c.r2)
		if !ok || raw == "" {
			return q, "missing required column: R2"
		}
		if q.R2, err = parseRatio(raw); err != nil {
			return q, fmt.Sprintf("non-numeric R2 %q", raw)
		}
		if q.R2 < opts.MinR2 {
			return q, reasonLowR2
		}
	} else {
		q.R2 = 1
	}

	if q.Scans, err = optionalInt(row, c.scans); err != nil {
		return q, fmt.Sprintf("non-numeric scan count: %s", err)
	}
	if q.Charge, err = optionalInt(row, c.charge); err != nil {
		return q, fmt.Sprintf("non-numeric charge: %s", err)
	}

	q.Description, _ = field(c.description)
	q.Symbol, _ = field(c.symbol)
	q.Site, _ = field(c.site)

	return q, ""
}

// optionalInt treats an absent or empty cell as 0. cimage sometimes prints
// integral counts as floats.
func optionalInt(row []string, idx int) (int, error) {
	if idx < 0 || idx >= len(row) {
		return 0, nil
	}

	raw := strings.TrimSpace(row[idx])
	if raw == "" {
		return 0, nil
	}

	if v, err := strconv.Atoi(raw); err == nil {
		return v, nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}

	return int(f), nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}

	return true
}
