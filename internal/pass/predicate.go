package pass

import (
	"fmt"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/types"
	"github.com/roach88/dagopt/internal/udf"
)

func runPredicateMoveAround(g *dag.Graph, env *Env) error {
	log := env.logger()
	return forEachGraph(g, func(g *dag.Graph) error {
		moved, err := MovePredicates(g, env.analyzer())
		if err != nil {
			return err
		}
		if moved > 0 {
			log.Debug("moved predicates", "filters", moved)
		}
		return nil
	})
}

// MovePredicates pushes every Filter of g as far upstream as the columns it
// reads stay available and returns how many filters changed position.
// Read sets must be current: run attribute_id_tracking first.
func MovePredicates(g *dag.Graph, a udf.Analyzer) (int, error) {
	order, err := dag.TopologicalOrder(g)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, op := range order {
		f, ok := op.(*ops.Filter)
		if !ok || !g.Contains(f) {
			continue
		}
		changed, err := movePredicate(g, f, a)
		if err != nil {
			return moved, err
		}
		if changed {
			moved++
		}
	}
	return moved, nil
}

func movePredicate(g *dag.Graph, f *ops.Filter, a udf.Analyzer) (bool, error) {
	reads := f.ReadSet()
	if len(reads) == 0 {
		return false, nil
	}
	feed, ok := g.InFlow(f, 0)
	if !ok {
		return false, nil
	}

	provides := func(op dag.Operator) bool {
		t := ops.Must(op).Type()
		return t != nil && t.Attrs().ContainsAll(reads)
	}
	blocks := func(op dag.Operator) bool {
		return ops.Has(op, ops.CapStopsPredicateMove) || ops.Has(op, ops.CapNested)
	}

	// Downstream to the tip.
	tip := dag.Operator(f)
	for {
		succ := g.Successors(tip)
		if len(succ) != 1 || g.OutDegree(tip) != 1 || len(g.OutputsOf(tip)) > 0 {
			break
		}
		next := succ[0]
		if next.NumInPorts() != 1 || blocks(next) || !provides(next) {
			break
		}
		tip = next
	}

	// Upstream from the tip.
	qualifies := func(p dag.Operator) bool {
		return provides(p) && g.OutDegree(p) == 1 && len(g.OutputsOf(p)) == 0
	}
	var locations []dag.Operator
	work := []dag.Operator{tip}
	seen := map[dag.Operator]bool{tip: true}
	for len(work) > 0 {
		n := work[0]
		work = work[1:]
		if n != dag.Operator(f) && blocks(n) {
			locations = append(locations, n)
			continue
		}
		pushed := false
		for _, p := range g.Predecessors(n) {
			if !qualifies(p) || seen[p] {
				continue
			}
			seen[p] = true
			work = append(work, p)
			pushed = true
		}
		if !pushed {
			locations = append(locations, n)
		}
	}

	keep := false
	var inserts []dag.Operator
	for _, n := range locations {
		if n == dag.Operator(f) {
			keep = true
			continue
		}
		out := g.OutFlows(n)
		if len(out) == 1 && out[0].Target == dag.Operator(f) {
			keep = true
			continue
		}
		inserts = append(inserts, n)
	}
	if len(inserts) == 0 {
		return false, nil
	}

	from := ops.Must(feed.Source).Type()
	for _, n := range inserts {
		if err := insertFilterAfter(g, n, f, from, a); err != nil {
			return false, err
		}
	}
	if !keep {
		if err := removeFilter(g, f); err != nil {
			return false, err
		}
	}
	return true, nil
}

// insertFilterAfter places a copy of f on the single outgoing flow of n,
// rewritten for n's field layout.
func insertFilterAfter(g *dag.Graph, n dag.Operator, f *ops.Filter, from types.Tuple, a udf.Analyzer) error {
	out := g.OutFlows(n)
	if len(out) != 1 {
		return fmt.Errorf("filter location %s(%d) has %d outgoing flows", n.Name(), g.MustID(n), len(out))
	}
	nt := ops.Must(n).Type()
	fn, err := a.AdjustFilterSignature(f.Func, from, nt)
	if err != nil {
		return typeErr(g, f, err.Error())
	}
	clone := ops.NewFilter(fn)
	clone.SetType(nt.Clone())
	clone.SetAttrSets(f.ReadSet(), nil, nt.Attrs().Minus(f.ReadSet()))

	e := *out[0]
	if err := g.RemoveFlow(out[0]); err != nil {
		return err
	}
	if _, err := g.AddOperator(clone); err != nil {
		return err
	}
	if err := g.AddFlow(n, e.SourcePort, clone, 0); err != nil {
		return err
	}
	return g.AddFlow(clone, 0, e.Target, e.TargetPort)
}

// removeFilter splices f out, connecting its consumers and DAG outputs to
// its predecessor.
func removeFilter(g *dag.Graph, f *ops.Filter) error {
	in, ok := g.InFlow(f, 0)
	if !ok {
		return fmt.Errorf("filter %d has no predecessor", g.MustID(f))
	}
	src, srcPort := in.Source, in.SourcePort
	outs := g.OutFlows(f)
	ports := g.OutputsOf(f)

	if err := g.RemoveFlow(in); err != nil {
		return err
	}
	for _, o := range outs {
		e := *o
		if err := g.RemoveFlow(o); err != nil {
			return err
		}
		if err := g.AddFlow(src, srcPort, e.Target, e.TargetPort); err != nil {
			return err
		}
	}
	for _, p := range ports {
		if err := g.RemoveOutput(p.DAGPort); err != nil {
			return err
		}
		if err := g.SetOutput(p.DAGPort, src, srcPort); err != nil {
			return err
		}
	}
	return g.RemoveOperator(f)
}
