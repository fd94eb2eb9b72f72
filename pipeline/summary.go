package pipeline

import (
	"errors"
	"log"

	"github.com/carbocation/reactivity/aggregate"
	"github.com/carbocation/reactivity/catalog"
	"github.com/carbocation/reactivity/cimage"
	"github.com/carbocation/runningvariance"
)

// Summary is the data-quality report of one run.
type Summary struct {
	Experiments int
	Parsed      int
	MissingFile int
	Failed      int

	RowsParsed   int
	ParseErrors  int
	Unquantified int
	LowR2        int
	Excluded     int
	Unresolvable int
	Duplicates   int
	Ambiguities  int

	Observations   int
	CollapsedSites int

	RowsWritten           int
	Retained              int
	FilteredMinReplicates int
	FilteredMaxCV         int
	CappedRows            int

	// Distribution of the defined per-row CVs and of replicate counts.
	CVCount        int
	CVMean         float64
	CVSD           float64
	ReplicatesMean float64
	ReplicatesSD   float64

	ProteinRows int

	Output        string
	ProteinOutput string
	SQLite        string
	Build  string
}

func (s *Summary) addExperiment(logger *log.Logger, desc catalog.Descriptor, res experimentResult) {
	if res.err != nil {
		if errors.Is(res.err, cimage.ErrMissingFile) {
			s.MissingFile++
		} else {
			s.Failed++
		}
		logger.Printf("Skipping experiment %s: %v\n", desc.Name, res.err)
		return
	}

	s.Parsed++
	s.RowsParsed += res.pairs
	s.ParseErrors += len(res.warnings)
	s.Unquantified += res.skipped.Unquantified
	s.LowR2 += res.skipped.LowR2
	s.Excluded += res.resolved.Excluded
	s.Unresolvable += res.resolved.Unresolvable
	s.Duplicates += res.resolved.Duplicates
	s.Ambiguities += len(res.resolved.Ambiguities)
	s.Observations += res.observations

	for _, w := range res.warnings {
		logger.Printf("ParseError: %v\n", w)
	}
	for _, a := range res.resolved.Ambiguities {
		logger.Printf("ResolutionAmbiguity: %v\n", a)
	}
}

func (s *Summary) addRows(rows []aggregate.Row) {
	cv := runningvariance.NewRunningStat()
	replicates := runningvariance.NewRunningStat()

	for _, r := range rows {
		s.RowsWritten++
		replicates.Push(float64(r.N))

		if r.CV.Valid {
			s.CVCount++
			cv.Push(r.CV.Float64)
		}
		if r.CappedCount > 0 {
			s.CappedRows++
		}

		switch r.Reason {
		case "":
			s.Retained++
		case aggregate.ReasonMinReplicates:
			s.FilteredMinReplicates++
		case aggregate.ReasonMaxCV:
			s.FilteredMaxCV++
		}
	}

	if s.CVCount > 0 {
		s.CVMean = cv.Mean()
		s.CVSD = cv.StandardDeviation()
	}
	if s.RowsWritten > 0 {
		s.ReplicatesMean = replicates.Mean()
		s.ReplicatesSD = replicates.StandardDeviation()
	}
}

// Log prints the summary in a form a scientist can read without the rest of
// the log.
func (s Summary) Log(logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}

	logger.Printf("Build: %s\n", s.Build)
	logger.Printf("Experiments: %d discovered, %d parsed, %d missing a file, %d failed\n", s.Experiments, s.Parsed, s.MissingFile, s.Failed)
	logger.Printf("Quantified rows: %d parsed; skipped %d malformed, %d unquantified, %d below R2 threshold\n", s.RowsParsed, s.ParseErrors, s.Unquantified, s.LowR2)
	logger.Printf("Resolution: %d excluded by rule, %d unresolvable, %d duplicates (%d ambiguous ties)\n", s.Excluded, s.Unresolvable, s.Duplicates, s.Ambiguities)
	if s.CollapsedSites > 0 {
		logger.Printf("Collapsed %d redundant sites\n", s.CollapsedSites)
	}
	logger.Printf("Rows: %d written from %d observations; %d retained, %d filtered by min_replicates, %d filtered by max_cv, %d with capped ratios\n", s.RowsWritten, s.Observations, s.Retained, s.FilteredMinReplicates, s.FilteredMaxCV, s.CappedRows)
	logger.Printf("Replicates per row: mean %.3f, SD %.3f. CV (%d rows with a defined CV): mean %.3f, SD %.3f\n", s.ReplicatesMean, s.ReplicatesSD, s.CVCount, s.CVMean, s.CVSD)
	if s.Output != "" {
		logger.Printf("Wrote %s\n", s.Output)
	}
	if s.ProteinOutput != "" {
		logger.Printf("Wrote %d proteins to %s\n", s.ProteinRows, s.ProteinOutput)
	}
	if s.SQLite != "" {
		logger.Printf("Wrote %s\n", s.SQLite)
	}
}
