package cimage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingFile is matched by every MissingFileError.
var ErrMissingFile = errors.New("missing experiment file")

// MissingFileError reports that an experiment folder lacks one of its two
// tables. The experiment is skipped; the run continues.
type MissingFileError struct {
	Dir      string
	Kind     string
	Patterns []string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("%s: no %s file matching any of [%s]", e.Dir, e.Kind, strings.Join(e.Patterns, " "))
}

func (e *MissingFileError) Is(target error) bool {
	return target == ErrMissingFile
}

// ParseError describes one malformed row. The row is skipped and the rest of
// the file is still parsed.
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
}
