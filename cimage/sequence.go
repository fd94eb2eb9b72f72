package cimage

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Marker follows a modified residue in a normalized peptide.
const Marker = "*"

var massTag = regexp.MustCompile(`\((-?[0-9]+(?:\.[0-9]+)?)\)`)

// Search engines print masses with varying precision.
const massTolerance = 0.001

// NormalizeSequence upper-cases seq and rewrites parenthesized mass tags:
// masses found in marked become Marker and all other tags are dropped, so
// K.RYK(464.24957)TQC(57.02146).K becomes K.RYK*TQC.K when 464.24957 is a
// marked mass.
func NormalizeSequence(seq string, marked []string) string {
	seq = strings.ToUpper(strings.TrimSpace(seq))
	if !strings.Contains(seq, "(") {
		return seq
	}

	targets := make([]float64, 0, len(marked))
	for _, v := range marked {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			targets = append(targets, f)
		}
	}

	return massTag.ReplaceAllStringFunc(seq, func(tag string) string {
		mass, err := strconv.ParseFloat(strings.Trim(tag, "()"), 64)
		if err != nil {
			return ""
		}
		for _, target := range targets {
			if math.Abs(mass-target) < massTolerance {
				return Marker
			}
		}
		return ""
	})
}

// SplitFlanks splits K.PEPTIDE.R into its preceding residue, the peptide
// itself, and the following residue. Sequences without two flank separators
// are returned whole as the core.
func SplitFlanks(seq string) (pre, core, post string) {
	parts := strings.Split(seq, ".")
	if len(parts) != 3 {
		return "", seq, ""
	}

	return parts[0], parts[1], parts[2]
}

// Core drops the flanking residues.
func Core(seq string) string {
	_, core, _ := SplitFlanks(seq)
	return core
}

// parseRatio accepts "." decimals and a lone "," decimal separator.
func parseRatio(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrSyntax
	}

	return v, nil
}
