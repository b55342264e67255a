package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/dagopt/internal/config"
	"github.com/roach88/dagopt/internal/optimizer"
	"github.com/roach88/dagopt/internal/pass"
)

// PassesOptions holds flags for the passes command.
type PassesOptions struct {
	*RootOptions
	Schedule bool
	Level    int
	Target   string
}

// NewPassesCommand creates the passes command.
func NewPassesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PassesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "passes",
		Short: "List optimizer passes",
		Long: `List the registered passes, or with --schedule the passes the
optimizer runs for a level and target, in order.

Examples:
  dagopt passes
  dagopt passes --schedule -O 2 --target omp`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPasses(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Schedule, "schedule", false, "show the pass list for a level and target")
	cmd.Flags().IntVarP(&opts.Level, "level", "O", 1, "optimization level (0|1|2)")
	cmd.Flags().StringVar(&opts.Target, "target", config.TargetSingleCore, "target (singlecore|omp)")

	return cmd
}

func runPasses(opts *PassesOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	names := pass.NewRegistry().Names()
	if opts.Schedule {
		cfg := config.Default()
		cfg.Level = opts.Level
		cfg.Target = opts.Target
		o, err := optimizer.New(cfg, optimizer.WithLogger(newLogger(opts.RootOptions, cmd)))
		if err != nil {
			return out.Fail("invalid schedule", err)
		}
		names = o.Passes()
	}

	if opts.Format == "json" {
		return out.Success(names)
	}
	lines := make([]string, len(names))
	for i, n := range names {
		lines[i] = n
		if opts.Schedule {
			lines[i] = fmt.Sprintf("%2d. %s", i+1, n)
		}
	}
	return out.Success(strings.Join(lines, "\n"))
}
