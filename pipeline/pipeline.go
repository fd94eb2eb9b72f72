// Package pipeline runs one aggregation pass: catalog scan, parallel parse and
// resolve per experiment, sharded merge, reduction, and output.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"runtime"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/reactivity/aggregate"
	"github.com/carbocation/reactivity/catalog"
	"github.com/carbocation/reactivity/cimage"
	"github.com/carbocation/reactivity/compileinfo"
	"github.com/carbocation/reactivity/fasta"
	"github.com/carbocation/reactivity/resolve"
	"github.com/carbocation/reactivity/table"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Roots      catalog.Roots
	OutputDir  string
	Thresholds aggregate.Thresholds
	Rules      resolve.Rules

	// FastaPath is optional. Without it, residues come only from site
	// annotations.
	FastaPath string

	// Workers bounds how many experiments are read at once. 0 means one per
	// CPU.
	Workers int

	// SQLitePath, when set, also writes the table into a new SQLite file.
	SQLitePath string

	QuantLayout string
	IDLayout    string

	// Storage is only needed for gs:// paths.
	Storage *storage.Client

	// Logger receives progress and warnings. Nil means the standard logger.
	Logger *log.Logger
}

// experimentResult is what one worker hands back. Workers share nothing
// else, apart from the merger.
type experimentResult struct {
	err          error
	warnings     []cimage.ParseError
	skipped      cimage.Skipped
	pairs        int
	resolved     resolve.Result
	observations int
}

// Run performs the whole aggregation. Catalog inconsistencies, zero
// experiments, bad configuration and an unusable output directory are
// returned as errors; problems with single experiments or rows are logged and
// counted in the Summary instead.
func Run(ctx context.Context, cfg Config) (Summary, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	summary := Summary{Build: compileinfo.Get().Short()}

	if err := cfg.Thresholds.Validate(); err != nil {
		return summary, err
	}
	if cfg.OutputDir == "" {
		return summary, fmt.Errorf("an output directory is required")
	}
	if err := table.CheckOutputDir(cfg.OutputDir); err != nil {
		return summary, err
	}
	if cfg.SQLitePath != "" {
		if err := table.CheckSQLitePath(cfg.SQLitePath); err != nil {
			return summary, err
		}
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	descriptors, err := catalog.Scan(ctx, cfg.Roots, catalog.Options{
		LabelPrefixes: cfg.Rules.LabelPrefixes,
		Storage:       cfg.Storage,
	})
	if err != nil {
		return summary, err
	}
	summary.Experiments = len(descriptors)
	logger.Printf("Found %d experiments under %s\n", len(descriptors), cfg.Roots.All)

	var db *fasta.Database
	if cfg.FastaPath != "" {
		if db, err = fasta.Open(ctx, cfg.Storage, cfg.FastaPath); err != nil {
			return summary, err
		}
		logger.Printf("Loaded %d proteins from %s\n", db.Len(), cfg.FastaPath)
	}

	resolver, err := resolve.NewResolver(cfg.Rules, db)
	if err != nil {
		return summary, pfx.Err(err)
	}
	parseOpts := cfg.Rules.ParserOptions(cfg.QuantLayout, cfg.IDLayout, cfg.Storage)

	merger := aggregate.NewMerger(workers)
	results := make([]experimentResult, len(descriptors))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, desc := range descriptors {
		i, desc := i, desc
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = processExperiment(gctx, desc, parseOpts, resolver, merger)
			return nil
		})
	}
	waitErr := g.Wait()

	// Shards must be drained even when the run is abandoned.
	sets := merger.Close()
	if waitErr != nil {
		return summary, waitErr
	}

	for i, desc := range descriptors {
		summary.addExperiment(logger, desc, results[i])
	}
	logger.Printf("Processed %d of %d experiments\n", summary.Parsed, summary.Experiments)

	if cfg.Rules.CollapseRedundantSites {
		before := len(sets)
		sets = aggregate.CollapseRedundantSites(sets)
		summary.CollapsedSites = before - len(sets)
	}

	rows := aggregate.ReduceAll(sets, cfg.Thresholds)
	table.Sort(rows)
	summary.addRows(rows)

	if summary.Output, err = table.WriteFile(cfg.OutputDir, rows); err != nil {
		return summary, err
	}

	proteins := aggregate.SummarizeProteins(rows)
	summary.ProteinRows = len(proteins)
	if summary.ProteinOutput, err = table.WriteProteinFile(cfg.OutputDir, proteins); err != nil {
		return summary, err
	}

	if cfg.SQLitePath != "" {
		if err := table.WriteSQLite(cfg.SQLitePath, rows); err != nil {
			return summary, err
		}
		summary.SQLite = cfg.SQLitePath
	}

	return summary, nil
}

func processExperiment(ctx context.Context, desc catalog.Descriptor, opts cimage.Options, resolver *resolve.Resolver, merger *aggregate.Merger) experimentResult {
	out := experimentResult{}

	exp, err := cimage.ParseExperiment(ctx, desc.Path, opts)
	if err != nil {
		out.err = err
		return out
	}
	out.warnings = exp.Warnings
	out.skipped = exp.Skipped
	out.pairs = len(exp.Pairs)

	out.resolved = resolver.Resolve(exp)

	observations := make([]aggregate.Observation, 0, len(out.resolved.Records)*len(desc.Partitions))
	for _, rec := range out.resolved.Records {
		for _, p := range desc.Partitions {
			observations = append(observations, aggregate.Observation{
				Partition:     p,
				Entity:        rec.Entity,
				Label:         desc.Label,
				Ratio:         rec.Ratio,
				Capped:        rec.Capped,
				Experiment:    desc.Name,
				File:          exp.QuantFile,
				Description:   rec.Description,
				SpectralCount: rec.SpectralCount,
			})
		}
	}
	out.observations = len(observations)
	merger.Add(observations...)

	return out
}
