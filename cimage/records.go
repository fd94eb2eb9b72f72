package cimage

// Quantification is one row of the quantification table. Sequence has mass
// tags normalized but keeps its flanking residues.
type Quantification struct {
	Line        int
	Accession   string
	Description string
	Symbol      string
	Sequence    string
	Site        string
	Charge      int
	Ratio       float64

	// Capped is set when the reported ratio was at or above the sentinel and
	// Ratio has been clamped to it.
	Capped bool

	// Scans is the number of MS1 scans supporting the ratio.
	Scans int
	R2    float64
}

// Identification aggregates the peptide rows of the identification table
// that share one normalized sequence.
type Identification struct {
	Accession     string
	Description   string
	Sequence      string
	SpectralCount int

	// Confidence is the best XCorr seen for the sequence.
	Confidence float64
}

// Pair joins a quantification row to the identification of its peptide.
// Identified is false when the identification table never saw the peptide.
type Pair struct {
	Quant      Quantification
	ID         Identification
	Identified bool
}

// Skipped counts quantification rows dropped without being malformed.
type Skipped struct {
	// Unquantified rows carry a ratio of 0.
	Unquantified int

	// LowR2 rows fall below the co-elution fit threshold.
	LowR2 int
}

// Experiment is everything parsed from one experiment folder.
type Experiment struct {
	QuantFile string
	IDFile    string
	Pairs     []Pair
	Warnings  []ParseError
	Skipped   Skipped
}
