// reactivity aggregates per-experiment cimage ratios into one reactivity
// table, once over all experiments and once within each of the NOSCOUT and
// SCOUT subsets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"

	"cloud.google.com/go/storage"
	"github.com/carbocation/reactivity"
	"github.com/carbocation/reactivity/aggregate"
	"github.com/carbocation/reactivity/catalog"
	"github.com/carbocation/reactivity/cimage"
	"github.com/carbocation/reactivity/compileinfo"
	"github.com/carbocation/reactivity/pipeline"
	"github.com/carbocation/reactivity/resolve"
)

var errUsage = errors.New("-all, -noscout, -scout and -output are required")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		log.Fatalln(err)
	}
}

// run returns an error for anything that must end the process with a
// non-zero status. Degraded rows and skipped experiments are not errors.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		all, noscout, scout string
		output              string
		fastaPath           string
		rulesPath           string
		sqlitePath          string
		quantLayout         string
		idLayout            string
		minReplicates       int
		maxCV               float64
		workers             int
		showDeps            bool
	)

	flags := flag.NewFlagSet("reactivity", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&all, "all", "", "Folder (local or gs://) with one subfolder per experiment. Every experiment is read from here.")
	flags.StringVar(&noscout, "noscout", "", "Folder whose subfolder names are the experiments run without a scout fragment.")
	flags.StringVar(&scout, "scout", "", "Folder whose subfolder names are the experiments run with a scout fragment.")
	flags.StringVar(&output, "output", "", "Empty or nonexistent folder that will receive reactivity.tsv and proteins.tsv.")
	flags.IntVar(&minReplicates, "min_replicates", 2, "Rows with fewer replicate ratios than this are marked as filtered.")
	flags.Float64Var(&maxCV, "max_cv", 0, "Rows whose CV exceeds this are marked as filtered. 0 disables the filter.")
	flags.StringVar(&fastaPath, "fasta", "", "(Optional) FASTA protein database used to place residues when a table lacks a site annotation.")
	flags.StringVar(&rulesPath, "rules", "", "(Optional) YAML file overriding the default resolution rules.")
	flags.IntVar(&workers, "workers", runtime.NumCPU(), "Number of experiments to parse concurrently.")
	flags.StringVar(&sqlitePath, "sqlite", "", "(Optional) Path of a new SQLite database that will also receive the table.")
	flags.StringVar(&quantLayout, "quant_layout", "CIMAGE", fmt.Sprintf("Quantification table layout. One of: %s", cimage.QuantLayoutNames()))
	flags.StringVar(&idLayout, "id_layout", "DTASELECT", fmt.Sprintf("Identification table layout. One of: %s", cimage.IDLayoutNames()))
	flags.BoolVar(&showDeps, "deps", false, "Print the linked dependency versions and exit.")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cinfo := compileinfo.Get()
	fmt.Fprintln(stderr, cinfo)

	if showDeps {
		return cinfo.WriteDeps(stdout)
	}

	if all == "" || noscout == "" || scout == "" || output == "" {
		flags.PrintDefaults()
		return errUsage
	}

	if _, err := cimage.LookupQuantLayout(quantLayout); err != nil {
		return err
	}
	if _, err := cimage.LookupIDLayout(idLayout); err != nil {
		return err
	}

	roots := catalog.Roots{
		All:     reactivity.ExpandHome(all),
		NoScout: reactivity.ExpandHome(noscout),
		Scout:   reactivity.ExpandHome(scout),
	}
	output = reactivity.ExpandHome(output)
	fastaPath = reactivity.ExpandHome(fastaPath)
	rulesPath = reactivity.ExpandHome(rulesPath)
	sqlitePath = reactivity.ExpandHome(sqlitePath)

	var client *storage.Client
	for _, p := range []string{roots.All, roots.NoScout, roots.Scout, fastaPath, rulesPath} {
		if !reactivity.IsGoogleStorage(p) {
			continue
		}

		var err error
		client, err = storage.NewClient(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		break
	}

	logger := log.New(stderr, "", log.LstdFlags)

	rules := resolve.DefaultRules()
	if rulesPath != "" {
		var err error
		if rules, err = resolve.LoadRules(ctx, client, rulesPath); err != nil {
			return err
		}
		logger.Println("Using resolution rules from", rulesPath)
	}

	summary, err := pipeline.Run(ctx, pipeline.Config{
		Roots:     roots,
		OutputDir: output,
		Thresholds: aggregate.Thresholds{
			MinReplicates: minReplicates,
			MaxCV:         maxCV,
		},
		Rules:       rules,
		FastaPath:   fastaPath,
		Workers:     workers,
		SQLitePath:  sqlitePath,
		QuantLayout: quantLayout,
		IDLayout:    idLayout,
		Storage:     client,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	summary.Log(logger)

	return nil
}
