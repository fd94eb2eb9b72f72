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

// parseIdentification reads a DTASelect filter table into identifications
// keyed by the flank-free normalized peptide. Each peptide row counts as one
// spectrum. Everything before the protein header is preamble, and the summary
// block at the end is ignored.
func parseIdentification(data []byte, file string, layout IDLayout, opts Options) (map[string]Identification, []ParseError, error) {
	warnings := make([]ParseError, 0)
	out := make(map[string]Identification)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = reactivity.DetermineDelimiterBytes(data)
	reader.Comment = layout.Comment
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var proteinHeader, peptideHeader map[string]int
	colLocus, colDesc, colSeq, colXCorr := -1, -1, -1, -1

	accession, description := "", ""
	groupOpen := false

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
		first := strings.TrimSpace(row[0])

		switch {
		case first == layout.ColLocus && proteinHeader == nil:
			proteinHeader = headerIndex(row)
			if colLocus, err = column(proteinHeader, layout.ColLocus); err != nil {
				return nil, warnings, ParseError{File: file, Line: line, Reason: err.Error()}
			}
			colDesc = optionalColumn(proteinHeader, layout.ColDescription)
			continue

		case first == layout.ColUnique && peptideHeader == nil:
			peptideHeader = headerIndex(row)
			if colSeq, err = column(peptideHeader, layout.ColSequence); err != nil {
				return nil, warnings, ParseError{File: file, Line: line, Reason: err.Error()}
			}
			colXCorr = optionalColumn(peptideHeader, layout.ColXCorr)
			continue

		case proteinHeader == nil || peptideHeader == nil:
			// Preamble
			continue
		}

		if first != "" && first != "*" {
			// Protein row. Consecutive protein rows form one group whose
			// peptides are credited to the group's first locus.
			if !groupOpen {
				accession = strings.TrimSpace(row[colLocus])
				description = ""
				if colDesc >= 0 && colDesc < len(row) {
					description = strings.TrimSpace(row[colDesc])
				}
				groupOpen = true
			}
			continue
		}
		groupOpen = false

		if len(row) > 1 && strings.TrimSpace(row[1]) == layout.SummaryMarker {
			break
		}

		if colSeq >= len(row) || strings.TrimSpace(row[colSeq]) == "" {
			warnings = append(warnings, ParseError{File: file, Line: line, Reason: fmt.Sprintf("missing required column: %s", layout.ColSequence)})
			continue
		}

		seq := NormalizeSequence(row[colSeq], opts.ModificationMasses)
		key := Core(seq)

		xcorr := 0.0
		if colXCorr >= 0 && colXCorr < len(row) {
			if raw := strings.TrimSpace(row[colXCorr]); raw != "" {
				if xcorr, err = strconv.ParseFloat(raw, 64); err != nil {
					warnings = append(warnings, ParseError{File: file, Line: line, Reason: fmt.Sprintf("non-numeric %s %q", layout.ColXCorr, raw)})
					continue
				}
			}
		}

		id, exists := out[key]
		if !exists {
			id = Identification{
				Accession:   accession,
				Description: description,
				Sequence:    seq,
				Confidence:  xcorr,
			}
		}
		id.SpectralCount++
		if xcorr > id.Confidence {
			id.Confidence = xcorr
		}
		out[key] = id
	}

	if proteinHeader == nil || peptideHeader == nil {
		return nil, warnings, ParseError{File: file, Line: 1, Reason: fmt.Sprintf("no %q and %q header rows found", layout.ColLocus, layout.ColUnique)}
	}

	return out, warnings, nil
}
