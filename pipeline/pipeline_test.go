package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carbocation/reactivity/aggregate"
	"github.com/carbocation/reactivity/catalog"
	"github.com/carbocation/reactivity/resolve"
	"github.com/carbocation/reactivity/table"
	"github.com/stretchr/testify/require"
)

const proteins = `>sp|P00001|TEST1_HUMAN Test protein 1
MKTAYIAKQRQISFVKSHFS
>sp|P00002|TEST2_HUMAN Test protein 2
MCCGKLRPEPTIDECKAAAK
`

const quantHeader = "index\tipi\tdescription\tsymbol\tsequence\tmass\tcharge\tsegment\tratio\tINT\tNP\tR2\n"

func quantRow(i int, acc, seq, ratio string) string {
	return fmt.Sprintf("%d\t%s\tTest protein\tTST\t%s\t1000.5\t2\t1\t%s\t100\t3\t0.95\n", i, acc, seq, ratio)
}

const dtaselect = "DTASelect v2.0.39\n" +
	"Locus\tSequence Count\tSpectrum Count\tSequence Coverage\tLength\tMolWt\tpI\tValidation Status\tDescriptive Name\n" +
	"Unique\tFileName\tXCorr\tDeltCN\tConf%\tM+H+\tCalcM+H+\tTotalIntensity\tSpR\tSpScore\tIonProportion\tRedundancy\tSequence\n" +
	"sp|P00001|TEST1_HUMAN\t1\t2\t10%\t20\t2000\t7\tU\tTest protein 1\n" +
	"*\trun.1.1.2\t3.1\t0.2\t99\t1000\t1000\t1\t1\t1\t1\t1\t-.MK(464.24957)TAYIAK.Q\n" +
	"sp|P00002|TEST2_HUMAN\t1\t1\t10%\t16\t1800\t7\tU\tTest protein 2\n" +
	"\trun.2.2.2\t2.0\t0.2\t99\t1000\t1000\t1\t1\t1\t1\t1\tR.PEPTIDEC(464.24957)K.A\n" +
	"\tProteins\tPeptide IDs\tSpectra\n"

type fixture struct {
	roots catalog.Roots
	fasta string
	base  string
}

type experiment struct {
	name  string
	scout bool
	quant string
	// Without an identification table the experiment is missing a file
	noID bool
}

func newFixture(t *testing.T, experiments ...experiment) fixture {
	t.Helper()

	base := t.TempDir()
	f := fixture{
		base: base,
		roots: catalog.Roots{
			All:     filepath.Join(base, "all"),
			NoScout: filepath.Join(base, "noscout"),
			Scout:   filepath.Join(base, "scout"),
		},
		fasta: filepath.Join(base, "db.fasta"),
	}

	require.NoError(t, os.WriteFile(f.fasta, []byte(proteins), 0644))
	for _, root := range []string{f.roots.All, f.roots.NoScout, f.roots.Scout} {
		require.NoError(t, os.MkdirAll(root, 0755))
	}

	for _, e := range experiments {
		dir := filepath.Join(f.roots.All, e.name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "combined_dta.combined"), []byte(e.quant), 0644))
		if !e.noID {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "DTASelect-filter.txt"), []byte(dtaselect), 0644))
		}

		subset := f.roots.NoScout
		if e.scout {
			subset = f.roots.Scout
		}
		require.NoError(t, os.MkdirAll(filepath.Join(subset, e.name), 0755))
	}

	return f
}

func (f fixture) config(out string, minReplicates int) Config {
	return Config{
		Roots:      f.roots,
		OutputDir:  filepath.Join(f.base, out),
		Thresholds: aggregate.Thresholds{MinReplicates: minReplicates},
		Rules:      resolve.DefaultRules(),
		FastaPath:  f.fasta,
		Workers:    2,
		Logger:     log.New(io.Discard, "", 0),
	}
}

func readOutput(t *testing.T, path string) []aggregate.Row {
	t.Helper()

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	rows, err := table.ReadTSV(fh)
	require.NoError(t, err)

	return rows
}

func scoutScenario() []experiment {
	return []experiment{
		{name: "T1_50uM_a", quant: quantHeader + quantRow(1, "P00001", "-.MK*TAYIAK.Q", "2.0")},
		{name: "T1_50uM_b", scout: true, quant: quantHeader + quantRow(1, "sp|P00001|TEST1_HUMAN", "-.MK*TAYIAK.Q", "6.0")},
	}
}

func TestPartitionedScenario(t *testing.T) {
	f := newFixture(t, scoutScenario()...)

	summary, err := Run(context.Background(), f.config("out", 1))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Experiments)
	require.Equal(t, 2, summary.Parsed)
	require.Equal(t, 3, summary.RowsWritten)
	require.Equal(t, 4, summary.Observations)

	rows := readOutput(t, summary.Output)
	require.Len(t, rows, 3)

	site := resolve.Entity{Accession: "P00001", Residue: 2, Peptide: "MKTAYIAK"}
	expected := []struct {
		partition catalog.Partition
		n         int
		median    float64
	}{
		{catalog.All, 2, 4.0},
		{catalog.NoScout, 1, 2.0},
		{catalog.Scout, 1, 6.0},
	}

	for i, v := range expected {
		require.Equal(t, v.partition, rows[i].Partition)
		require.Equal(t, site, rows[i].Entity)
		require.Equal(t, "T1_50uM", rows[i].Label)
		require.Equal(t, v.n, rows[i].N)
		require.Equal(t, v.median, rows[i].Median.Float64)
		require.True(t, rows[i].Retained)
	}

	// n=1 rows never report a dispersion
	require.False(t, rows[1].CV.Valid)
	require.False(t, rows[2].CV.Valid)
	require.True(t, rows[0].CV.Valid)
	require.Equal(t, []string{"T1_50uM_a", "T1_50uM_b"}, rows[0].Experiments)

	fh, err := os.Open(summary.ProteinOutput)
	require.NoError(t, err)
	defer fh.Close()
	proteins, err := table.ReadProteinsTSV(fh)
	require.NoError(t, err)
	require.Len(t, proteins, 3)
	require.Equal(t, 3, summary.ProteinRows)
	require.Equal(t, catalog.All, proteins[0].Partition)
	require.Equal(t, 4.0, proteins[0].MaxRatio.Float64)
	require.Equal(t, 1, proteins[0].Sites)
}

func TestMalformedRowScenario(t *testing.T) {
	exps := scoutScenario()
	exps[0].quant += quantRow(2, "P00002", "R.PEPTIDEC*K.A", "not-a-number")
	f := newFixture(t, exps...)

	var logs bytes.Buffer
	cfg := f.config("out", 1)
	cfg.Logger = log.New(&logs, "", 0)

	summary, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 1, summary.ParseErrors)
	require.Equal(t, 1, strings.Count(logs.String(), "ParseError"))
	require.Contains(t, logs.String(), "combined_dta.combined:3")

	rows := readOutput(t, summary.Output)
	require.Len(t, rows, 3)
	for _, r := range rows {
		require.Equal(t, "P00001", r.Entity.Accession)
	}
	require.Equal(t, 4.0, rows[0].Median.Float64)
}

func TestInconsistentCatalogWritesNothing(t *testing.T) {
	f := newFixture(t, scoutScenario()...)
	require.NoError(t, os.MkdirAll(filepath.Join(f.roots.Scout, "T1_50uM_a"), 0755))

	cfg := f.config("out", 1)
	_, err := Run(context.Background(), cfg)
	require.True(t, errors.Is(err, catalog.ErrInconsistent))

	_, statErr := os.Stat(cfg.OutputDir)
	require.True(t, os.IsNotExist(statErr))
}

func TestNoExperiments(t *testing.T) {
	f := newFixture(t)

	_, err := Run(context.Background(), f.config("out", 1))
	require.True(t, errors.Is(err, catalog.ErrNoExperiments))
}

func TestDeterministicOutput(t *testing.T) {
	exps := scoutScenario()
	exps[0].quant += quantRow(2, "P00002", "R.PEPTIDEC*K.A", "20.0")
	exps[1].quant += quantRow(2, "P00002", "R.PEPTIDEC*K.A", "1.5")
	exps = append(exps,
		experiment{name: "T2_10uM_a", quant: quantHeader + quantRow(1, "P00001", "-.MK*TAYIAK.Q", "3.3")},
		experiment{name: "T1_50uM_c", scout: true, quant: quantHeader + quantRow(1, "P00001", "-.MK*TAYIAK.Q", "1,1")},
	)
	f := newFixture(t, exps...)

	outputs := make([][]byte, 0)
	for i, workers := range []int{1, 2, 8} {
		cfg := f.config(fmt.Sprintf("out%d", i), 2)
		cfg.Workers = workers

		summary, err := Run(context.Background(), cfg)
		require.NoError(t, err)

		data, err := os.ReadFile(summary.Output)
		require.NoError(t, err)
		proteins, err := os.ReadFile(summary.ProteinOutput)
		require.NoError(t, err)
		outputs = append(outputs, append(data, proteins...))
	}

	require.Equal(t, outputs[0], outputs[1])
	require.Equal(t, outputs[0], outputs[2])
}

func TestMissingFileSkipsExperiment(t *testing.T) {
	exps := append(scoutScenario(), experiment{name: "T3_1uM_a", noID: true, quant: quantHeader})
	f := newFixture(t, exps...)

	var logs bytes.Buffer
	cfg := f.config("out", 1)
	cfg.Logger = log.New(&logs, "", 0)

	summary, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Experiments)
	require.Equal(t, 2, summary.Parsed)
	require.Equal(t, 1, summary.MissingFile)
	require.Contains(t, logs.String(), "Skipping experiment T3_1uM_a")
	require.Len(t, readOutput(t, summary.Output), 3)
}

func TestFiltersAndSQLite(t *testing.T) {
	f := newFixture(t, scoutScenario()...)

	cfg := f.config("out", 2)
	cfg.Thresholds.MaxCV = 0.1
	cfg.SQLitePath = filepath.Join(f.base, "reactivity.sqlite")

	summary, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 2, summary.FilteredMinReplicates)
	require.Equal(t, 1, summary.FilteredMaxCV)
	require.Equal(t, 0, summary.Retained)

	rows := readOutput(t, summary.Output)
	require.Len(t, rows, 3)
	require.Equal(t, aggregate.ReasonMaxCV, rows[0].Reason)
	require.Equal(t, aggregate.ReasonMinReplicates, rows[1].Reason)

	_, err = os.Stat(cfg.SQLitePath)
	require.NoError(t, err)

	var logs bytes.Buffer
	summary.Log(log.New(&logs, "", 0))
	require.Contains(t, logs.String(), "2 filtered by min_replicates, 1 filtered by max_cv")
}

func TestOutputDirMustBeEmpty(t *testing.T) {
	f := newFixture(t, scoutScenario()...)
	cfg := f.config("out", 1)
	require.NoError(t, os.MkdirAll(cfg.OutputDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.OutputDir, "old.tsv"), nil, 0644))

	_, err := Run(context.Background(), cfg)
	require.True(t, errors.Is(err, table.ErrOutputNotEmpty))
}

func TestInvalidThresholds(t *testing.T) {
	f := newFixture(t, scoutScenario()...)

	_, err := Run(context.Background(), f.config("out", 0))
	require.Error(t, err)
}

func TestExistingSQLitePathWritesNothing(t *testing.T) {
	f := newFixture(t, scoutScenario()...)
	cfg := f.config("out", 1)
	cfg.SQLitePath = filepath.Join(f.base, "taken.sqlite")
	require.NoError(t, os.WriteFile(cfg.SQLitePath, []byte("x"), 0644))

	_, err := Run(context.Background(), cfg)
	require.True(t, errors.Is(err, table.ErrSQLiteExists))

	_, statErr := os.Stat(cfg.OutputDir)
	require.True(t, os.IsNotExist(statErr))
}
