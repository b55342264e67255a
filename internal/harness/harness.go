package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/dagopt/internal/config"
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/optimizer"
	"github.com/roach88/dagopt/internal/plan"
	"github.com/roach88/dagopt/internal/store"
)

// Run optimizes the scenario's plan and evaluates its assertions.
//
// Each scenario runs against a fresh in-memory store, which traces the
// optimizer run. An optimizer failure fails the result; an unreadable
// plan or configuration is returned as an error.
func Run(scenario *Scenario) (*Result, error) {
	g, err := loadDAG(scenario.DAG)
	if err != nil {
		return nil, fmt.Errorf("failed to load dag: %w", err)
	}
	cfg, err := config.FromMap(scenario.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	opts := []optimizer.Option{
		optimizer.WithTracer(st),
		optimizer.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if len(scenario.Passes) > 0 {
		opts = append(opts, optimizer.WithPasses(scenario.Passes...))
	}
	o, err := optimizer.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build optimizer: %w", err)
	}

	ctx := context.Background()
	result := NewResult()
	rep, runErr := o.Run(ctx, g)
	result.RunID = rep.RunID

	runs, err := st.PassRuns(ctx, rep.RunID)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		result.Trace = append(result.Trace, r.Pass)
	}

	if runErr != nil {
		result.AddError(fmt.Sprintf("optimize: %v", runErr))
		return result, nil
	}

	result.Plan, err = plan.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}

	for _, msg := range EvaluateAssertions(g, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func loadDAG(src string) (*dag.Graph, error) {
	if isInline(src) {
		return plan.Unmarshal([]byte(src))
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return plan.Decode(f)
}

