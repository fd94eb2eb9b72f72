package catalog

import "strings"

// DefaultLabelPrefixes are instrument-run prefixes stripped from folder names
// before the treatment label is read.
var DefaultLabelPrefixes = []string{"MIKA_", "MIKA-"}

// TreatmentLabel derives the treatment label from an experiment folder
// name. Folder names follow COMPOUND_CONCENTRATION_<anything else>, optionally
// behind one of prefixes, e.g. MIKA_KB02_50uM_231_rep1 is labeled KB02_50uM.
// Names that don't carry both fields are used whole.
func TreatmentLabel(name string, prefixes []string) string {
	trimmed := name
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(trimmed, prefix) {
			trimmed = strings.TrimPrefix(trimmed, prefix)
			break
		}
	}

	fields := strings.Split(trimmed, "_")
	if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
		return trimmed
	}

	return fields[0] + "_" + fields[1]
}
