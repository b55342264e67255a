package pass

import (
	"fmt"

	"github.com/roach88/dagopt/internal/codegen"
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
)

func runCompilePipelines(g *dag.Graph, env *Env) error {
	if env.Backend == nil {
		return planerr.Configuration("optimizations.compile_pipelines", "%v", codegen.ErrNoBackend)
	}
	n := 0
	err := forEachGraph(g, func(g *dag.Graph) error {
		for _, op := range g.Operators() {
			p, ok := op.(*ops.Pipeline)
			if !ok {
				continue
			}
			if err := compilePipeline(g, p, env); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return err
	}
	env.logger().Debug("compiled pipelines", "pipelines", n)
	return nil
}

// compilePipeline hands the body of p to the backend and puts the
// resulting CompiledPipeline in p's place. The body is discarded.
func compilePipeline(g *dag.Graph, p *ops.Pipeline, env *Env) error {
	inner := g.Inner(p)
	if inner == nil {
		return typeErr(g, p, "pipeline has no body")
	}
	art, err := env.Backend.CompilePipeline(env.context(), inner)
	if err != nil {
		return fmt.Errorf("compile pipeline %d: %w", g.MustID(p), err)
	}
	cp := ops.NewCompiledPipeline(p.NumInputs, art.LibraryPath, art.EntrySymbol, p.Type().Clone())
	if err := g.ReplaceOperator(p, cp); err != nil {
		return err
	}
	inner.Clear()
	return g.SetInner(cp, nil)
}
