package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"cosmopipe/adapters/modules"
	"cosmopipe/domain/core"
	"cosmopipe/internal"
	"cosmopipe/internal/config"
	"cosmopipe/internal/errors"
	"cosmopipe/internal/pipeline"
	"cosmopipe/internal/pool"

	"github.com/spf13/cobra"
)

// global flags
type rootFlags struct {
	configPaths []string
	envFile     string
	override    map[string]string
	seed        uint64
}

func main() {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "cosmopipe",
		Short: "Run likelihood pipelines and nested sampling over them",
		Long: `cosmopipe chains configured modules into a likelihood pipeline.

Example: cosmopipe run --config params.yaml --override cosmological_parameters--slope=2.1`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringSliceVarP(&flags.configPaths, "config", "c", nil, "Configuration file(s); later files override earlier ones")
	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "Environment file loaded before the configuration")
	rootCmd.PersistentFlags().StringToStringVar(&flags.override, "override", nil, "Values file overrides as section--name=value")
	rootCmd.PersistentFlags().Uint64Var(&flags.seed, "seed", 0, "Seed for random starts; 0 picks one")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newValuesCmd(flags),
		newEvaluateCmd(flags),
		newSampleCmd(flags),
		newModulesCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the configuration and builds the logger it asks for
func (f *rootFlags) load() (*config.Options, *internal.Logger, error) {
	if len(f.configPaths) == 0 {
		return nil, nil, errors.ConfigInvalid("no configuration given; use --config")
	}
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, nil, err
	}
	opts, err := config.Load(f.configPaths...)
	if err != nil {
		return nil, nil, err
	}
	opts.ApplyEnvOverrides()

	logger := internal.NewDefaultLogger()
	if level := opts.String(core.SectionLogging, "level", ""); level != "" {
		logger = internal.NewLogger(internal.ParseLevel(level, logger.GetLevel()))
	}
	return opts, logger, nil
}

func (f *rootFlags) settings(id string, seed uint64) pipeline.Settings {
	return pipeline.Settings{ID: id, Override: f.override, Seed: seed}
}

// likelihoodPipeline builds one pipeline from the configuration
func (f *rootFlags) likelihoodPipeline() (*pipeline.LikelihoodPipeline, *config.Options, *internal.Logger, error) {
	opts, logger, err := f.load()
	if err != nil {
		return nil, nil, nil, err
	}
	lp, err := pipeline.NewLikelihoodPipeline(opts, modules.Default(logger), logger, f.settings("", f.seed))
	if err != nil {
		return nil, nil, nil, err
	}
	return lp, opts, logger, nil
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var random bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate the likelihood once at the start values",
		RunE: func(cmd *cobra.Command, args []string) error {
			lp, _, _, err := flags.likelihoodPipeline()
			if err != nil {
				return err
			}
			defer lp.Cleanup()

			v := lp.StartVector()
			if random {
				v = lp.RandomizedStart()
			}
			res := lp.Likelihood(v)
			out := cmd.OutOrStdout()
			for i, p := range lp.VariedParams {
				fmt.Fprintf(out, "%s = %g\n", p, v[i])
			}
			for i, k := range lp.ExtraSaves {
				fmt.Fprintf(out, "%s = %g\n", k, res.Extra[i])
			}
			fmt.Fprintf(out, "status = %s\n", res.Status)
			fmt.Fprintf(out, "like = %g\n", res.Like)
			if lp.Timing {
				lp.WriteTimings(out)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&random, "random", false, "Draw the point from the priors instead of using the start values")
	return cmd
}

func newValuesCmd(flags *rootFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "values",
		Short: "Write a values file pinned at the start values",
		RunE: func(cmd *cobra.Command, args []string) error {
			lp, _, _, err := flags.likelihoodPipeline()
			if err != nil {
				return err
			}
			defer lp.Cleanup()

			if output == "" || output == "-" {
				return lp.WriteValues(lp.StartVector(), cmd.OutOrStdout())
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := lp.WriteValues(lp.StartVector(), f); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	return cmd
}

func newEvaluateCmd(flags *rootFlags) *cobra.Command {
	var points, workers, setupLimit int

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate the likelihood at random prior draws across a worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, logger, err := flags.load()
			if err != nil {
				return err
			}
			registry := modules.Default(logger)
			factory := func(rank int) (*pipeline.LikelihoodPipeline, error) {
				seed := flags.seed
				if seed != 0 {
					seed += uint64(rank)
				}
				return pipeline.NewLikelihoodPipeline(opts, registry, logger, flags.settings(fmt.Sprintf("%d", rank), seed))
			}

			ctx := cmd.Context()
			p, err := pool.New(ctx, factory, workers, setupLimit, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			draws := make([][]float64, points)
			for i := range draws {
				draws[i] = p.Pipeline(0).RandomizedStart()
			}
			evals, err := p.Evaluate(ctx, draws)
			if err != nil {
				return err
			}
			summary, err := pool.Summarize(evals)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "points: %d  succeeded: %d  rejected: %d  failed: %d\n",
				summary.N, summary.Succeeded, summary.Rejected, summary.Failed)
			if summary.Best >= 0 {
				best := evals[summary.Best]
				fmt.Fprintf(out, "max like: %g at %s\n", summary.MaxLike, formatPoint(best.Point))
				fmt.Fprintf(out, "like mean: %g  sd: %g  median: %g  68%%: [%g, %g]\n",
					summary.Mean, summary.StdDev, summary.Median, summary.Lower68, summary.Upper68)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&points, "points", "n", 100, "Number of prior draws")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Number of pipelines evaluating in parallel")
	cmd.Flags().IntVar(&setupLimit, "setup-limit", 0, "Pipelines set up at once; 0 means all")
	return cmd
}

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the built-in module implementations",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range modules.Default(internal.Discard).Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func formatPoint(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%g", x)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
