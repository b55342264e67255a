package pass

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/plan"
)

func runCanonicalize(g *dag.Graph, _ *Env) error {
	return CanonicalizeGraph(g)
}

// CanonicalizeGraph renumbers g so that its ids depend only on its
// structure, not on insertion order. Each operator is labeled by what it
// computes together with everything above it (incoming label) and below
// it (outgoing label); operators are ordered by depth, then label, and the
// graph is rebuilt in that order. Nested graphs are canonicalized first.
func CanonicalizeGraph(g *dag.Graph) error {
	for _, op := range g.Operators() {
		if inner := g.Inner(op); inner != nil {
			if err := CanonicalizeGraph(inner); err != nil {
				return err
			}
		}
	}

	order, err := dag.TopologicalOrder(g)
	if err != nil {
		return err
	}

	sig := make(map[dag.Operator]string, len(order))
	for _, op := range order {
		s, err := signature(g, op)
		if err != nil {
			return err
		}
		sig[op] = s
	}

	depth := make(map[dag.Operator]int, len(order))
	incoming := make(map[dag.Operator]string, len(order))
	for _, op := range order {
		parts := []string{sig[op]}
		for port := 0; port < op.NumInPorts(); port++ {
			if f, ok := g.InFlow(op, port); ok {
				depth[op] = max(depth[op], depth[f.Source]+1)
				parts = append(parts, fmt.Sprintf("%d:%d:%s", port, f.SourcePort, incoming[f.Source]))
			} else if dp, ok := g.InputBinding(op, port); ok {
				parts = append(parts, fmt.Sprintf("%d:in%d", port, dp))
			}
		}
		incoming[op] = plan.Digest(parts...)
	}

	outgoing := make(map[dag.Operator]string, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		op := order[i]
		var edges []string
		for _, f := range g.OutFlows(op) {
			edges = append(edges, fmt.Sprintf("%d:%d:%s", f.SourcePort, f.TargetPort, outgoing[f.Target]))
		}
		for _, out := range g.OutputsOf(op) {
			edges = append(edges, fmt.Sprintf("%d:out%d", out.OpPort, out.DAGPort))
		}
		slices.Sort(edges)
		outgoing[op] = plan.Digest(append([]string{sig[op]}, edges...)...)
	}

	label := func(op dag.Operator) string { return incoming[op] + outgoing[op] }
	slices.SortStableFunc(order, func(a, b dag.Operator) int {
		if d := cmp.Compare(depth[a], depth[b]); d != 0 {
			return d
		}
		if d := cmp.Compare(label(a), label(b)); d != 0 {
			return d
		}
		return cmp.Compare(g.MustID(a), g.MustID(b))
	})
	return rebuild(g, order)
}

// signature describes what op computes, independent of its position.
func signature(g *dag.Graph, op dag.Operator) (string, error) {
	o := ops.Must(op)
	params, err := plan.MarshalCanonical(plan.Params(o))
	if err != nil {
		return "", fmt.Errorf("operator %d: %w", g.MustID(op), err)
	}
	s := o.Name() + "|" + string(params) + "|" + o.Type().String()
	if inner := g.Inner(op); inner != nil {
		h, err := plan.Hash(inner)
		if err != nil {
			return "", err
		}
		s += "|" + h
	}
	return s, nil
}

// rebuild tears g down and adds everything back with operator i of order
// receiving id i.
func rebuild(g *dag.Graph, order []dag.Operator) error {
	flows := g.Flows()
	saved := make([]dag.Flow, len(flows))
	for i, f := range flows {
		saved[i] = *f
	}
	inputs := g.Inputs()
	outputs := g.Outputs()
	inputTypes := g.InputTypes()
	inners := make([]*dag.Graph, len(order))
	for i, op := range order {
		inners[i] = g.Inner(op)
	}

	g.Clear()
	for i, op := range order {
		if _, err := g.AddOperator(op, dag.WithID(i), dag.WithInner(inners[i])); err != nil {
			return err
		}
	}
	slices.SortFunc(saved, func(a, b dag.Flow) int {
		if d := cmp.Compare(g.MustID(a.Target), g.MustID(b.Target)); d != 0 {
			return d
		}
		return cmp.Compare(a.TargetPort, b.TargetPort)
	})
	for _, f := range saved {
		if err := g.AddFlow(f.Source, f.SourcePort, f.Target, f.TargetPort); err != nil {
			return err
		}
	}
	for _, in := range inputs {
		if err := g.AddInput(in.DAGPort, in.Op, in.OpPort); err != nil {
			return err
		}
	}
	for _, out := range outputs {
		if err := g.SetOutput(out.DAGPort, out.Op, out.OpPort); err != nil {
			return err
		}
	}
	ports := make([]int, 0, len(inputTypes))
	for p := range inputTypes {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	for _, p := range ports {
		g.SetInputType(p, inputTypes[p])
	}
	return nil
}
