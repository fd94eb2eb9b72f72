// Package table writes aggregated rows as the processed reactivity table.
// The column names and their order are read by downstream analysis scripts
// and must not change without updating them.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/carbocation/reactivity/aggregate"
	"github.com/carbocation/reactivity/catalog"
	"github.com/carbocation/reactivity/resolve"
	"github.com/gocarina/gocsv"
	"gopkg.in/guregu/null.v3"
)

// FileName is the artifact written into the output directory.
const FileName = "reactivity.tsv"

const experimentSeparator = ";"

// ErrOutputNotEmpty is returned when the output directory already holds files.
var ErrOutputNotEmpty = errors.New("output directory is not empty")

// Float is a nullable float that is written as an empty cell when null and
// with the shortest round-trip formatting otherwise.
type Float struct {
	null.Float
}

func (f Float) MarshalCSV() (string, error) {
	b, err := f.Float.MarshalText()
	return string(b), err
}

func (f *Float) UnmarshalCSV(s string) error {
	return f.Float.UnmarshalText([]byte(strings.TrimSpace(s)))
}

// Record is one line of the table. The first ten columns are the
// compatibility contract; the rest are provenance.
type Record struct {
	Partition          catalog.Partition `csv:"partition"`
	ProteinAccession   string            `csv:"protein_accession"`
	ProteinDescription string            `csv:"protein_description"`
	ResiduePosition    int               `csv:"residue_position"`
	PeptideSequence    string            `csv:"peptide_sequence"`
	TreatmentLabel     string            `csv:"treatment_label"`
	ReplicateCount     int               `csv:"replicate_count"`
	MedianRatio        Float             `csv:"median_ratio"`
	CV                 Float             `csv:"cv"`
	Retained           bool              `csv:"retained"`
	CappedCount        int               `csv:"capped_count"`
	SpectralCount      int               `csv:"spectral_count"`
	FilterReason       string            `csv:"filter_reason"`
	Experiments        string            `csv:"experiments"`
}

// Columns lists the header in output order.
var Columns = []string{
	"partition", "protein_accession", "protein_description", "residue_position",
	"peptide_sequence", "treatment_label", "replicate_count", "median_ratio",
	"cv", "retained", "capped_count", "spectral_count", "filter_reason",
	"experiments",
}

func NewRecord(r aggregate.Row) Record {
	return Record{
		Partition:          r.Partition,
		ProteinAccession:   r.Entity.Accession,
		ProteinDescription: r.Description,
		ResiduePosition:    r.Entity.Residue,
		PeptideSequence:    r.Entity.Peptide,
		TreatmentLabel:     r.Label,
		ReplicateCount:     r.N,
		MedianRatio:        Float{r.Median},
		CV:                 Float{r.CV},
		Retained:           r.Retained,
		CappedCount:        r.CappedCount,
		SpectralCount:      r.SpectralCount,
		FilterReason:       r.Reason,
		Experiments:        strings.Join(r.Experiments, experimentSeparator),
	}
}

// Row converts a record back into an aggregated row.
func (rec Record) Row() aggregate.Row {
	out := aggregate.Row{
		Partition: rec.Partition,
		Entity: resolve.Entity{
			Accession: rec.ProteinAccession,
			Residue:   rec.ResiduePosition,
			Peptide:   rec.PeptideSequence,
		},
		Description:   rec.ProteinDescription,
		Label:         rec.TreatmentLabel,
		N:             rec.ReplicateCount,
		Median:        rec.MedianRatio.Float,
		CV:            rec.CV.Float,
		Retained:      rec.Retained,
		Reason:        rec.FilterReason,
		CappedCount:   rec.CappedCount,
		SpectralCount: rec.SpectralCount,
	}
	if rec.Experiments != "" {
		out.Experiments = strings.Split(rec.Experiments, experimentSeparator)
	}

	return out
}

// Sort orders rows by partition, protein accession, residue position and
// treatment label, with the peptide class as the final tie-break.
func Sort(rows []aggregate.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return key(rows[i]).Less(key(rows[j]))
	})
}

func key(r aggregate.Row) aggregate.Key {
	return aggregate.Key{Partition: r.Partition, Entity: r.Entity, Label: r.Label}
}

// WriteTSV writes rows, in the order given, as a tab-delimited table.
func WriteTSV(w io.Writer, rows []aggregate.Row) error {
	records := make([]*Record, 0, len(rows))
	for _, r := range rows {
		rec := NewRecord(r)
		records = append(records, &rec)
	}

	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	safe := gocsv.NewSafeCSVWriter(cw)

	if err := gocsv.MarshalCSV(&records, safe); err != nil {
		return pfx.Err(err)
	}
	safe.Flush()

	return safe.Error()
}

// ReadTSV reads a table written by WriteTSV.
func ReadTSV(r io.Reader) ([]aggregate.Row, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true

	records := []*Record{}
	if err := gocsv.UnmarshalCSV(cr, &records); err != nil {
		return nil, pfx.Err(err)
	}

	out := make([]aggregate.Row, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Row())
	}

	return out, nil
}

// CheckOutputDir fails unless dir is absent or an empty directory.
func CheckOutputDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return pfx.Err(err)
	}

	if len(entries) > 0 {
		return fmt.Errorf("%s: %w (%d entries)", dir, ErrOutputNotEmpty, len(entries))
	}

	return nil
}

// WriteFile writes the table into dir, which must be empty or absent. The
// table is written to a temporary file first and renamed into place, so an
// interrupted run never leaves a partial table behind.
func WriteFile(dir string, rows []aggregate.Row) (string, error) {
	if err := CheckOutputDir(dir); err != nil {
		return "", err
	}

	return writeAtomic(dir, FileName, func(w io.Writer) error {
		return WriteTSV(w, rows)
	})
}

func writeAtomic(dir, name string, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", pfx.Err(err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+"-*")
	if err != nil {
		return "", pfx.Err(err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", pfx.Err(err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", pfx.Err(err)
	}

	dest := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", pfx.Err(err)
	}

	return dest, nil
}
