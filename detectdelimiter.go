package reactivity

import (
	"bytes"
	"io"

	"github.com/csimplestring/go-csv/detector"
)

// DetermineDelimiter returns the single most likely rune that would delimit the
// values in the reader. Instrument exports are tab-delimited, so a tab wins any
// tie and is the fallback; a comma is only returned when the detector proposes
// it and not a tab.
func DetermineDelimiter(r io.Reader) rune {
	d := detector.New()
	delimiters := d.DetectDelimiter(r, '"')

	sawComma := false
	for _, v := range delimiters {
		switch v {
		case "\t":
			return '\t'
		case ",":
			sawComma = true
		}
	}

	if sawComma {
		return ','
	}

	return '\t'
}

// DetermineDelimiterBytes is DetermineDelimiter over an in-memory file. Only
// the first lines are inspected.
func DetermineDelimiterBytes(data []byte) rune {
	const sniffLines = 32

	end := len(data)
	seen := 0
	for i, b := range data {
		if b == '\n' {
			seen++
			if seen == sniffLines {
				end = i + 1
				break
			}
		}
	}

	return DetermineDelimiter(bytes.NewReader(data[:end]))
}
