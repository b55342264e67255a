package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dagopt/internal/codegen"
	"github.com/roach88/dagopt/internal/config"
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/optimizer"
	"github.com/roach88/dagopt/internal/pass"
	"github.com/roach88/dagopt/internal/plan"
	"github.com/roach88/dagopt/internal/store"
)

// Plan output formats.
const (
	OutputJSON     = "json"
	OutputDot      = "dot"
	OutputCompiled = "compiled"
)

// ValidOutputFormats defines the allowed plan output formats.
var ValidOutputFormats = []string{OutputJSON, OutputDot, OutputCompiled}

// OptimizeOptions holds flags for the optimize command.
type OptimizeOptions struct {
	*RootOptions
	Output       string
	OutputFormat string
	Level        int
	Passes       []string
	Target       string
	Config       string
	Cache        string
	Artifacts    string
}

// OptimizeSummary is reported after writing the optimized plan to a file.
type OptimizeSummary struct {
	Output    string   `json:"output"`
	Passes    []string `json:"passes"`
	Operators int      `json:"operators"`
	Cached    bool     `json:"cached"`
}

// NewOptimizeCommand creates the optimize command.
func NewOptimizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OptimizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "optimize <dag.json>",
		Short: "Optimize a plan",
		Long: `Run the optimizer over a plan document.

The pass list follows the optimization level and target, adjusted by
optimizations.<pass>.active in the configuration file. --passes replaces
it outright. With --output-format compiled every pipeline is handed to the
code generator and replaced by a compiled pipeline.

Exit codes:
  0 - Plan optimized
  1 - A pass rejected the plan
  2 - Command error (unreadable plan, bad configuration, etc.)

Examples:
  dagopt optimize plan.json
  dagopt optimize plan.json -O 2 --target omp -o out.json
  dagopt optimize plan.json --output-format dot | dot -Tsvg > plan.svg
  dagopt optimize plan.json --passes type_inference,verify
  dagopt optimize plan.json --cache plans.db --config opt.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&opts.OutputFormat, "output-format", OutputJSON, "plan output format (json|dot|compiled)")
	cmd.Flags().IntVarP(&opts.Level, "level", "O", 1, "optimization level (0|1|2)")
	cmd.Flags().StringSliceVar(&opts.Passes, "passes", nil, "explicit comma-separated pass list")
	cmd.Flags().StringVar(&opts.Target, "target", config.TargetSingleCore, "target (singlecore|omp)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "configuration file (JSON or YAML)")
	cmd.Flags().StringVar(&opts.Cache, "cache", "", "SQLite plan cache and pass trace")
	cmd.Flags().StringVar(&opts.Artifacts, "artifacts", "artifacts", "directory for compiled pipelines")

	return cmd
}

// loadConfig reads --config and applies the flags the user set on top.
func loadConfig(opts *OptimizeOptions, cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		if cfg, err = config.Load(opts.Config); err != nil {
			return config.Config{}, err
		}
	}
	if cmd.Flags().Changed("level") {
		cfg.Level = opts.Level
	}
	if cmd.Flags().Changed("target") {
		cfg.Target = opts.Target
	}
	if opts.Verbose {
		cfg.Verbose = true
	}
	if opts.OutputFormat == OutputCompiled {
		cfg.SetActive(pass.CompilePipelines, true)
	}
	return cfg, nil
}

func runOptimize(ctx context.Context, opts *OptimizeOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd)

	if !slices.Contains(ValidOutputFormats, opts.OutputFormat) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid output format %q: must be one of %v", opts.OutputFormat, ValidOutputFormats))
	}

	input, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read plan", err)
	}
	g, err := plan.Unmarshal(input)
	if err != nil {
		return out.Fail("failed to parse plan", err)
	}
	cfg, err := loadConfig(opts, cmd)
	if err != nil {
		return out.Fail("failed to load config", err)
	}

	optOpts := []optimizer.Option{optimizer.WithLogger(logger)}
	if len(opts.Passes) > 0 {
		optOpts = append(optOpts, optimizer.WithPasses(opts.Passes...))
	}
	if opts.OutputFormat == OutputCompiled {
		optOpts = append(optOpts, optimizer.WithBackend(&codegen.PlanDir{Dir: opts.Artifacts}))
	}

	var st *store.Store
	var key store.CachedPlan
	if opts.Cache != "" {
		st, err = store.Open(opts.Cache)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open cache", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing cache", "error", closeErr)
			}
		}()
		optOpts = append(optOpts, optimizer.WithTracer(st))

		if key.InputHash, err = plan.Hash(g); err != nil {
			return out.Fail("failed to hash plan", err)
		}
		if key.ConfigHash, err = cfg.Hash(opts.OutputFormat, strings.Join(opts.Passes, ",")); err != nil {
			return out.Fail("failed to hash config", err)
		}
	}

	o, err := optimizer.New(cfg, optOpts...)
	if err != nil {
		return out.Fail("failed to build optimizer", err)
	}

	summary := OptimizeSummary{Output: opts.Output, Passes: o.Passes()}
	runID := ""

	cached := false
	if st != nil {
		hit, ok, err := st.LookupPlan(ctx, key.Key())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read cache", err)
		}
		if ok {
			if g, err = plan.Unmarshal(hit.PlanJSON); err != nil {
				return out.Fail("failed to parse cached plan", err)
			}
			cached = true
			logger.Info("plan cache hit", "key", key.Key())
		}
	}

	if !cached {
		rep, err := o.Run(ctx, g)
		if err != nil {
			return out.Fail("optimization failed", err)
		}
		runID = rep.RunID
		if st != nil {
			key.PlanJSON, err = plan.Marshal(g)
			if err != nil {
				return out.Fail("failed to encode plan", err)
			}
			if err := st.PutPlan(ctx, key); err != nil {
				return WrapExitError(ExitCommandError, "failed to write cache", err)
			}
		}
	}
	summary.Cached = cached
	summary.Operators = g.Len()

	var buf bytes.Buffer
	if err := writePlan(&buf, g, opts.OutputFormat); err != nil {
		return out.Fail("failed to encode plan", err)
	}

	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(opts.Output, buf.Bytes(), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	if opts.Format == "json" {
		return out.SuccessRun(runID, summary)
	}
	return out.Success(fmt.Sprintf("wrote %s: %d operators after %d passes", opts.Output, summary.Operators, len(summary.Passes)))
}

func writePlan(w io.Writer, g *dag.Graph, format string) error {
	if format == OutputDot {
		return plan.WriteDot(w, g)
	}
	data, err := plan.Marshal(g)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
