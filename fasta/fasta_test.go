package fasta

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `>sp|P00001|TEST1_HUMAN Test protein 1 OS=Homo sapiens
MKTAYIAKQR
QISFVKSHFS
>Reverse_sp|P00001|TEST1_HUMAN decoy
RQKAIYATKM
>sp|P00002|TEST2_HUMAN Test protein 2
MCCGKLRPEPTIDECK

>bare_accession something
MAAA
`

func TestParse(t *testing.T) {
	db, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Equal(t, 3, db.Len())

	seq, ok := db.Sequence("P00001")
	require.True(t, ok)
	require.Equal(t, "MKTAYIAKQRQISFVKSHFS", seq)

	_, ok = db.Sequence("Reverse_sp")
	require.False(t, ok)

	seq, ok = db.Sequence("bare_accession")
	require.True(t, ok)
	require.Equal(t, "MAAA", seq)
}

func TestAssign(t *testing.T) {
	db, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	type expectations struct {
		acc     string
		peptide string
		want    int
		ok      bool
	}

	for _, v := range []expectations{
		// K at position 2 of MKTAYIAKQR
		{"P00001", "M.K*TAYIAK.Q", 2, true},
		{"P00001", "K*TAYIAK", 2, true},
		// K at position 8
		{"P00001", "-.MKTAYIAK*.Q", 8, true},
		// Wrapped lines are joined before alignment
		{"P00001", "K.QRQISFVK*.S", 16, true},
		// Unmarked peptide reports its start
		{"P00001", "TAYIAK", 3, true},
		{"P00002", "R.PEPTIDEC*K.-", 15, true},
		{"P00002", "K.NOTTHERE*.K", 0, false},
		{"P99999", "K.PEPC*.K", 0, false},
		{"P00002", "*", 0, false},
	} {
		got, ok := db.Assign(v.acc, v.peptide)
		if ok != v.ok || got != v.want {
			t.Errorf("Assign(%q, %q) = %d, %v; expected %d, %v", v.acc, v.peptide, got, ok, v.want, v.ok)
		}
	}
}

func TestOpenCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.fasta.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	db, err := Open(context.Background(), nil, path)
	require.NoError(t, err)
	require.Equal(t, 3, db.Len())
}

func TestNilDatabase(t *testing.T) {
	var db *Database
	_, ok := db.Assign("P00001", "K*")
	require.False(t, ok)
	require.Equal(t, 0, db.Len())
}
