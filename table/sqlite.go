package table

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/carbocation/reactivity/aggregate"
	"github.com/jmoiron/sqlx"

	_ "modernc.org/sqlite"
)

const createTable = `CREATE TABLE reactivity (
	partition TEXT NOT NULL,
	protein_accession TEXT NOT NULL,
	protein_description TEXT NOT NULL,
	residue_position INTEGER NOT NULL,
	peptide_sequence TEXT NOT NULL,
	treatment_label TEXT NOT NULL,
	replicate_count INTEGER NOT NULL,
	median_ratio REAL,
	cv REAL,
	retained INTEGER NOT NULL,
	capped_count INTEGER NOT NULL,
	spectral_count INTEGER NOT NULL,
	filter_reason TEXT NOT NULL,
	experiments TEXT NOT NULL
)`

var ErrSQLiteExists = errors.New("SQLite output already exists")

// CheckSQLitePath fails when path is already taken. Callers run it before any
// output is written.
func CheckSQLitePath(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("%s: %w", path, ErrSQLiteExists)
	} else if !errors.Is(err, os.ErrNotExist) {
		return pfx.Err(err)
	}

	return nil
}

// WriteSQLite writes rows into a new SQLite database at path, in a table named
// reactivity with the same columns as the TSV. path must not exist yet.
func WriteSQLite(path string, rows []aggregate.Row) error {
	if err := CheckSQLitePath(path); err != nil {
		return err
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return pfx.Err(err)
	}
	defer db.Close()

	tx, err := db.Beginx()
	if err != nil {
		return pfx.Err(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(createTable); err != nil {
		return pfx.Err(err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(Columns)), ",")
	stmt, err := tx.Preparex(fmt.Sprintf("INSERT INTO reactivity (%s) VALUES (%s)", strings.Join(Columns, ", "), placeholders))
	if err != nil {
		return pfx.Err(err)
	}
	defer stmt.Close()

	for _, r := range rows {
		rec := NewRecord(r)
		retained := 0
		if rec.Retained {
			retained = 1
		}
		if _, err := stmt.Exec(
			rec.Partition.String(),
			rec.ProteinAccession,
			rec.ProteinDescription,
			rec.ResiduePosition,
			rec.PeptideSequence,
			rec.TreatmentLabel,
			rec.ReplicateCount,
			rec.MedianRatio.Float,
			rec.CV.Float,
			retained,
			rec.CappedCount,
			rec.SpectralCount,
			rec.FilterReason,
			rec.Experiments,
		); err != nil {
			return pfx.Err(err)
		}
	}

	if err := stmt.Close(); err != nil {
		return pfx.Err(err)
	}

	if err := tx.Commit(); err != nil {
		return pfx.Err(err)
	}

	return nil
}
