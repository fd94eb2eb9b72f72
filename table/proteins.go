package table

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/carbocation/reactivity/aggregate"
	"github.com/carbocation/reactivity/catalog"
	"github.com/gocarina/gocsv"
)

// ProteinFileName is written next to FileName.
const ProteinFileName = "proteins.tsv"

type ProteinRecord struct {
	Partition          catalog.Partition `csv:"partition"`
	ProteinAccession   string            `csv:"protein_accession"`
	ProteinDescription string            `csv:"protein_description"`
	TreatmentLabel     string            `csv:"treatment_label"`
	SiteCount          int               `csv:"site_count"`
	MaxRatio           Float             `csv:"max_ratio"`
	AverageRatio       Float             `csv:"average_ratio"`
	Experiments        string            `csv:"experiments"`
}

func NewProteinRecord(p aggregate.ProteinRow) ProteinRecord {
	return ProteinRecord{
		Partition:          p.Partition,
		ProteinAccession:   p.Accession,
		ProteinDescription: p.Description,
		TreatmentLabel:     p.Label,
		SiteCount:          p.Sites,
		MaxRatio:           Float{p.MaxRatio},
		AverageRatio:       Float{p.MeanRatio},
		Experiments:        strings.Join(p.Experiments, experimentSeparator),
	}
}

func (rec ProteinRecord) ProteinRow() aggregate.ProteinRow {
	out := aggregate.ProteinRow{
		Partition:   rec.Partition,
		Accession:   rec.ProteinAccession,
		Description: rec.ProteinDescription,
		Label:       rec.TreatmentLabel,
		Sites:       rec.SiteCount,
		MaxRatio:    rec.MaxRatio.Float,
		MeanRatio:   rec.AverageRatio.Float,
	}
	if rec.Experiments != "" {
		out.Experiments = strings.Split(rec.Experiments, experimentSeparator)
	}

	return out
}

// WriteProteinsTSV writes protein rows, in the order given.
func WriteProteinsTSV(w io.Writer, proteins []aggregate.ProteinRow) error {
	records := make([]*ProteinRecord, 0, len(proteins))
	for _, p := range proteins {
		rec := NewProteinRecord(p)
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

func ReadProteinsTSV(r io.Reader) ([]aggregate.ProteinRow, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true

	records := []*ProteinRecord{}
	if err := gocsv.UnmarshalCSV(cr, &records); err != nil {
		return nil, pfx.Err(err)
	}

	out := make([]aggregate.ProteinRow, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ProteinRow())
	}

	return out, nil
}

// WriteProteinFile writes the protein table into dir, next to the site table.
func WriteProteinFile(dir string, proteins []aggregate.ProteinRow) (string, error) {
	return writeAtomic(dir, ProteinFileName, func(w io.Writer) error {
		return WriteProteinsTSV(w, proteins)
	})
}
