// Package resolve maps parsed record pairs to canonical entities: the
// (protein accession, residue, peptide class) identity that replicate
// observations are aggregated under.
package resolve

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/carbocation/reactivity/cimage"
	"github.com/carbocation/reactivity/fasta"
)

var (
	// ErrUnresolvable means no residue position could be derived for a record.
	ErrUnresolvable = errors.New("residue position could not be resolved")

	// ErrExcluded means a rule filtered the record out on purpose.
	ErrExcluded = errors.New("excluded by rule")
)

// Entity is the canonical identity of a modified residue. Peptide is the
// peptide class: flank-free, unmarked, and L/I-collapsed when configured.
type Entity struct {
	Accession string
	Residue   int
	Peptide   string
}

func (e Entity) String() string {
	return fmt.Sprintf("%s_%d_%s", e.Accession, e.Residue, e.Peptide)
}

func (e Entity) Less(o Entity) bool {
	if e.Accession != o.Accession {
		return e.Accession < o.Accession
	}
	if e.Residue != o.Residue {
		return e.Residue < o.Residue
	}
	return e.Peptide < o.Peptide
}

// AmbiguityError records a duplicate within one experiment that the scan
// count couldn't break. The earlier line is kept.
type AmbiguityError struct {
	File        string
	Entity      Entity
	KeptLine    int
	DroppedLine int
	Scans       int
}

func (e AmbiguityError) Error() string {
	return fmt.Sprintf("%s: lines %d and %d both resolve to %s with %d supporting scans; keeping line %d", e.File, e.KeptLine, e.DroppedLine, e.Entity, e.Scans, e.KeptLine)
}

type rewrite struct {
	re      *regexp.Regexp
	replace string
}

// Resolver applies a compiled Rules. It is read-only after construction and
// safe for concurrent use.
type Resolver struct {
	rules    Rules
	rewrites []rewrite
	db       *fasta.Database
}

var siteNumber = regexp.MustCompile(`[0-9]+`)

// NewResolver compiles rules. db may be nil, in which case records without a
// usable site annotation are unresolvable.
func NewResolver(rules Rules, db *fasta.Database) (*Resolver, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	r := &Resolver{rules: rules, db: db}
	for _, v := range rules.AccessionRewrites {
		r.rewrites = append(r.rewrites, rewrite{re: regexp.MustCompile(v.Pattern), replace: v.Replace})
	}

	return r, nil
}

func (r *Resolver) Rules() Rules {
	return r.rules
}

// Accession applies the rewrite table in order.
func (r *Resolver) Accession(acc string) string {
	acc = strings.TrimSpace(acc)
	for _, v := range r.rewrites {
		acc = v.re.ReplaceAllString(acc, v.replace)
	}

	return acc
}

// PeptideClass reduces a sequence to its flank-free, unmarked form.
func (r *Resolver) PeptideClass(seq string) string {
	core := strings.ToUpper(cimage.Core(seq))
	core = strings.ReplaceAll(core, cimage.Marker, "")
	if r.rules.CollapseLeucineIsoleucine {
		core = strings.ReplaceAll(core, "I", "L")
	}

	return core
}

// Description prefers the quantification table's description.
func Description(pair cimage.Pair) string {
	if pair.Quant.Description != "" {
		return pair.Quant.Description
	}
	return pair.ID.Description
}

// Entity resolves one pair. Excluded records wrap ErrExcluded; records without
// a derivable residue wrap ErrUnresolvable.
func (r *Resolver) Entity(pair cimage.Pair) (Entity, error) {
	q := pair.Quant

	rawAcc := strings.TrimSpace(q.Accession)
	if rawAcc == "" {
		rawAcc = strings.TrimSpace(pair.ID.Accession)
	}
	for _, prefix := range r.rules.ExcludeAccessionPrefixes {
		if prefix != "" && strings.HasPrefix(rawAcc, prefix) {
			return Entity{}, fmt.Errorf("%w: accession %s has prefix %s", ErrExcluded, rawAcc, prefix)
		}
	}

	desc := strings.ToLower(Description(pair))
	for _, sub := range r.rules.ExcludeDescriptions {
		if sub != "" && strings.Contains(desc, strings.ToLower(sub)) {
			return Entity{}, fmt.Errorf("%w: description matches %q", ErrExcluded, sub)
		}
	}

	seq := strings.ToUpper(q.Sequence)
	if pre, _, post := cimage.SplitFlanks(seq); r.rules.TrypticOnly && (pre != "" || post != "") {
		if !IsFullyTryptic(seq) {
			return Entity{}, fmt.Errorf("%w: %s is half-tryptic", ErrExcluded, seq)
		}
		if LigandedTrypticEnd(seq) {
			return Entity{}, fmt.Errorf("%w: %s is modified at a cleavage site", ErrExcluded, seq)
		}
	}

	e := Entity{
		Accession: r.Accession(rawAcc),
		Peptide:   r.PeptideClass(seq),
	}
	if e.Accession == "" || e.Peptide == "" {
		return Entity{}, fmt.Errorf("%w: empty accession or peptide", ErrUnresolvable)
	}

	if residue, ok := r.siteResidue(q.Site); ok {
		e.Residue = residue
		return e, nil
	}

	// The protein database holds the native sequence, so align before any
	// L/I collapse.
	if residue, ok := r.db.Assign(e.Accession, cimage.Core(seq)); ok {
		e.Residue = residue
		return e, nil
	}

	return Entity{}, fmt.Errorf("%w: %s %s", ErrUnresolvable, e.Accession, seq)
}

// siteResidue reads the first number in an annotation such as C123 or 123.
func (r *Resolver) siteResidue(site string) (int, bool) {
	raw := siteNumber.FindString(site)
	if raw == "" {
		return 0, false
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}

	n += r.rules.SiteOffset
	if n <= 0 {
		return 0, false
	}

	return n, true
}

// IsFullyTryptic reports whether a flanked sequence follows a K/R (or the
// protein N-terminus) and ends in K/R (or the protein C-terminus).
func IsFullyTryptic(seq string) bool {
	pre, core, post := cimage.SplitFlanks(seq)
	if pre == "" && post == "" {
		return false
	}

	front := pre == "K" || pre == "R" || pre == "-"
	end := post == "-" || strings.HasSuffix(core, "K") || strings.HasSuffix(core, "R")

	return front && end
}

// LigandedTrypticEnd reports a modified lysine adjacent to a cleavage site,
// which trypsin would not have cut.
func LigandedTrypticEnd(seq string) bool {
	for _, motif := range []string{"K.K*", "R.K*", "K*.K", "K*.R"} {
		if strings.Contains(seq, motif) {
			return true
		}
	}

	return false
}

// Record is a resolved quantification, ready to be aggregated.
type Record struct {
	Entity        Entity
	Description   string
	Ratio         float64
	Capped        bool
	Scans         int
	SpectralCount int
	Line          int
}

// Result is one experiment's resolved records plus what was dropped.
type Result struct {
	Records      []Record
	Excluded     int
	Unresolvable int
	Duplicates   int
	Ambiguities  []AmbiguityError
}

// Resolve resolves every pair of an experiment and keeps one record per
// entity: the one with more supporting scans, or on a tie the earlier line.
// Records are returned in file order.
func (r *Resolver) Resolve(exp *cimage.Experiment) Result {
	res := Result{}
	kept := make(map[Entity]int)

	for _, pair := range exp.Pairs {
		e, err := r.Entity(pair)
		if errors.Is(err, ErrExcluded) {
			res.Excluded++
			continue
		} else if err != nil {
			res.Unresolvable++
			continue
		}

		rec := Record{
			Entity:        e,
			Description:   Description(pair),
			Ratio:         pair.Quant.Ratio,
			Capped:        pair.Quant.Capped,
			Scans:         pair.Quant.Scans,
			SpectralCount: pair.ID.SpectralCount,
			Line:          pair.Quant.Line,
		}

		idx, exists := kept[e]
		if !exists {
			kept[e] = len(res.Records)
			res.Records = append(res.Records, rec)
			continue
		}

		res.Duplicates++
		prior := res.Records[idx]
		switch {
		case rec.Scans > prior.Scans:
			res.Records[idx] = rec
		case rec.Scans == prior.Scans:
			res.Ambiguities = append(res.Ambiguities, AmbiguityError{
				File:        exp.QuantFile,
				Entity:      e,
				KeptLine:    prior.Line,
				DroppedLine: rec.Line,
				Scans:       rec.Scans,
			})
		}
	}

	sort.SliceStable(res.Records, func(i, j int) bool { return res.Records[i].Line < res.Records[j].Line })

	return res
}
