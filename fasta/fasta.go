// Package fasta loads a protein sequence database and assigns modified
// residues to protein coordinates by locating peptides in their parent
// protein.
package fasta

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/reactivity"
)

// Marker is the character that follows a modified residue in a peptide.
const Marker = '*'

// Database maps protein accession to its primary sequence.
type Database struct {
	sequences map[string]string
}

// Open reads a FASTA file from local disk or gs://. Compressed files are
// handled transparently.
func Open(ctx context.Context, client *storage.Client, path string) (*Database, error) {
	data, err := reactivity.ReadFile(ctx, client, path)
	if err != nil {
		return nil, pfx.Err(err)
	}

	db, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}

	return db, nil
}

// Parse reads FASTA records. Decoy entries (any header containing "Reverse")
// are skipped. The accession is the second "|"-delimited field of the header
// (sp|P04406|G3P_HUMAN), or the first whitespace-delimited token when the
// header has no "|".
func Parse(r io.Reader) (*Database, error) {
	db := &Database{sequences: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	header := ""
	seq := strings.Builder{}
	flush := func() {
		if header == "" || strings.Contains(header, "Reverse") {
			seq.Reset()
			return
		}
		if acc := headerAccession(header); acc != "" {
			if _, exists := db.sequences[acc]; !exists {
				db.sequences[acc] = seq.String()
			}
		}
		seq.Reset()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line[0] == '>' {
			flush()
			header = line[1:]
			continue
		}

		seq.WriteString(strings.ToUpper(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	return db, nil
}

func headerAccession(header string) string {
	if fields := strings.Split(header, "|"); len(fields) >= 2 {
		return strings.TrimSpace(fields[1])
	}

	fields := strings.Fields(header)
	if len(fields) == 0 {
		return ""
	}

	return fields[0]
}

// Len is the number of proteins loaded.
func (d *Database) Len() int {
	if d == nil {
		return 0
	}
	return len(d.sequences)
}

// Sequence returns the primary sequence for acc.
func (d *Database) Sequence(acc string) (string, bool) {
	if d == nil {
		return "", false
	}
	seq, ok := d.sequences[acc]
	return seq, ok
}

// Assign returns the 1-based position of the modified residue in the protein.
// The peptide may carry flanking residues (K.PEPC*TIDE.R); only the middle is
// aligned. Without a Marker, the position of the peptide's first residue is
// returned. The first occurrence in the protein wins.
func (d *Database) Assign(acc, peptide string) (int, bool) {
	primary, ok := d.Sequence(acc)
	if !ok {
		return 0, false
	}

	if parts := strings.Split(peptide, "."); len(parts) == 3 {
		peptide = parts[1]
	}

	offset := strings.IndexRune(peptide, Marker)
	needle := strings.ToUpper(strings.ReplaceAll(peptide, string(Marker), ""))
	if needle == "" {
		return 0, false
	}

	idx := strings.Index(primary, needle)
	if idx < 0 {
		return 0, false
	}

	if offset < 0 {
		return idx + 1, true
	}

	// The marker follows the modified residue, so its offset in the marked
	// peptide is already the 1-based position within the stripped peptide.
	return idx + offset, true
}
