package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/dagopt/internal/pass"
	"github.com/roach88/dagopt/internal/plan"
	"github.com/roach88/dagopt/internal/udf"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Types bool
}

// VerifyResult is reported by the verify command.
type VerifyResult struct {
	Valid     bool     `json:"valid"`
	Operators int      `json:"operators"`
	Errors    []string `json:"errors,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <dag.json>",
		Short: "Check a plan for structural errors",
		Long: `Check that a plan is well formed: acyclic, every input port fed
exactly once, every output consumed, nested graphs where they belong.
With --types the stored operator types are also checked against the
typing rules.

Exit codes:
  0 - Plan is well formed
  1 - Verification failed
  2 - Command error (unreadable plan, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Types, "types", false, "also check operator types")

	return cmd
}

func runVerify(opts *VerifyOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	input, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read plan", err)
	}
	g, err := plan.Unmarshal(input)
	if err != nil {
		return out.Fail("failed to parse plan", err)
	}

	result := VerifyResult{Valid: true, Operators: g.Len()}
	verr := pass.VerifyGraph(g)
	if verr == nil && opts.Types {
		verr = pass.InferTypes(g, udf.Descriptor{}, true)
	}
	if verr != nil {
		result.Valid = false
		result.Errors = splitJoined(verr)
		if opts.Format == "json" {
			if err := out.Error("E_VERIFY", "plan verification failed", result); err != nil {
				return err
			}
		} else {
			w := cmd.OutOrStdout()
			for _, e := range result.Errors {
				fmt.Fprintf(w, "✗ %s\n", e)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d verification error(s)", len(result.Errors)))
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	return out.Success(fmt.Sprintf("✓ plan is well formed (%d operators)", result.Operators))
}

// splitJoined flattens an errors.Join result into messages.
func splitJoined(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}
