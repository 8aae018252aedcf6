package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"cosmopipe/adapters/engine"
	"cosmopipe/adapters/output"
	"cosmopipe/internal"
	"cosmopipe/internal/config"
	"cosmopipe/internal/errors"
	"cosmopipe/internal/monitor"
	"cosmopipe/internal/sampler"
	"cosmopipe/ports"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// output section keys
const (
	outputSection = "output"
	envDatabase   = "DATABASE_URL"
)

func newSampleCmd(flags *rootFlags) *cobra.Command {
	var section, statusAddr string

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Run nested sampling over the pipeline",
		Long: `Run nested sampling over the pipeline and write the dead points.

The sampler reads its options from the [nested] section (or --section) and
the sink from [output]: format text, null or postgres, with filename or
database_url.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			lp, opts, logger, err := flags.likelihoodPipeline()
			if err != nil {
				return err
			}
			defer lp.Cleanup()

			eng, err := engine.Open(opts.String(section, "engine", sampler.DefaultEngine), logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			runID := uuid.New()
			sink, closeSink, err := openSink(ctx, opts, runID, logger)
			if err != nil {
				return err
			}
			defer closeSink()

			nested := sampler.NewNested(lp, opts, eng, sink, logger).WithSection(section)
			nested.RunID = runID

			if statusAddr != "" {
				progress := monitor.NewProgress()
				nested.WithObserver(progress)
				serveCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				go func() {
					if err := monitor.Serve(serveCtx, statusAddr, progress, logger); err != nil {
						logger.Warn("status server stopped: %v", err)
					}
				}()
			}

			if err := nested.Config(); err != nil {
				return err
			}
			err = nested.Execute(ctx)
			logZ, logZErr := nested.LogZ()
			if stderrors.Is(err, sampler.ErrInterrupted) {
				logger.Warn("Sampling interrupted after %d dead points; partial output kept", nested.Snapshot().NDead)
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: log Z = %g +/- %g\n", runID, logZ, logZErr)
			return nil
		},
	}
	cmd.Flags().StringVar(&section, "section", sampler.DefaultSection, "Configuration section holding the sampler options")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve run progress over HTTP on this address, e.g. :8090")
	return cmd
}

// openSink builds the configured output and a function that releases it
func openSink(ctx context.Context, opts *config.Options, runID uuid.UUID, logger *internal.Logger) (ports.OutputSink, func(), error) {
	format := opts.String(outputSection, "format", "text")
	switch format {
	case "null", "none":
		return output.Null{}, func() {}, nil

	case "text":
		path := opts.String(outputSection, "filename", "output/chain.txt")
		t, err := output.NewText(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Writing samples to %s", path)
		return t, func() {
			if err := t.Close(); err != nil {
				logger.Error("closing %s: %v", path, err)
			}
		}, nil

	case "postgres", "database":
		url := opts.String(outputSection, "database_url", "")
		if url == "" {
			url = os.Getenv(envDatabase)
		}
		if url == "" {
			return nil, nil, errors.ConfigInvalidf("%s/format is %s but neither %s/database_url nor %s is set", outputSection, format, outputSection, envDatabase)
		}
		db, err := output.Connect(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		if err := output.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		// samples already taken are still stored after an interrupt
		pg := output.NewPostgres(context.WithoutCancel(ctx), db, runID)
		if n, err := opts.Int(outputSection, "batch_size", output.DefaultBatchSize); err != nil {
			db.Close()
			return nil, nil, err
		} else if n > 0 {
			pg.BatchSize = n
		}
		logger.Info("Writing samples to the database as run %s", runID)
		return pg, func() {
			if err := pg.Close(); err != nil {
				logger.Error("closing run %s: %v", runID, err)
			}
			db.Close()
		}, nil
	}
	return nil, nil, errors.ConfigInvalidf("unknown %s/format %q (want text, null or postgres)", outputSection, format)
}
