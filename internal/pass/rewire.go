package pass

import (
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
)

// feed is what arrives at one input port: either another operator's output
// or a DAG-level input.
type feed struct {
	src     dag.Operator
	srcPort int
	dagPort int
}

func feedsOf(g *dag.Graph, op dag.Operator) ([]feed, error) {
	feeds := make([]feed, op.NumInPorts())
	for port := range feeds {
		if f, ok := g.InFlow(op, port); ok {
			feeds[port] = feed{src: f.Source, srcPort: f.SourcePort}
			continue
		}
		if dp, ok := g.InputBinding(op, port); ok {
			feeds[port] = feed{dagPort: dp}
			continue
		}
		return nil, planerr.StructuralAt(planerr.CodeMissingPredecessor, g.MustID(op), op.Name(),
			"input port %d is not fed", port)
	}
	return feeds, nil
}

func detachInputs(g *dag.Graph, op dag.Operator) error {
	for _, f := range g.InFlows(op) {
		if err := g.RemoveFlow(f); err != nil {
			return err
		}
	}
	for _, in := range g.InputsOf(op) {
		if err := g.RemoveInput(in.DAGPort, op, in.OpPort); err != nil {
			return err
		}
	}
	return nil
}

func connect(g *dag.Graph, f feed, dst dag.Operator, port int) error {
	if f.src != nil {
		return g.AddFlow(f.src, f.srcPort, dst, port)
	}
	return g.AddInput(f.dagPort, dst, port)
}

// consumers is everything reading an operator's output.
type consumers struct {
	flows   []dag.Flow
	outputs []dag.Output
}

func detachOutputs(g *dag.Graph, op dag.Operator) (consumers, error) {
	var c consumers
	for _, f := range g.OutFlows(op) {
		c.flows = append(c.flows, *f)
		if err := g.RemoveFlow(f); err != nil {
			return c, err
		}
	}
	c.outputs = g.OutputsOf(op)
	for _, out := range c.outputs {
		if err := g.RemoveOutput(out.DAGPort); err != nil {
			return c, err
		}
	}
	return c, nil
}

func reattach(g *dag.Graph, c consumers, src dag.Operator, srcPort int) error {
	for _, f := range c.flows {
		if err := g.AddFlow(src, srcPort, f.Target, f.TargetPort); err != nil {
			return err
		}
	}
	for _, out := range c.outputs {
		if err := g.SetOutput(out.DAGPort, src, srcPort); err != nil {
			return err
		}
	}
	return nil
}

// transplant moves every operator of src, with its flows, into dst and
// returns the outputs src had. src is left empty.
func transplant(src, dst *dag.Graph) ([]dag.Output, error) {
	flows := src.Flows()
	saved := make([]dag.Flow, len(flows))
	for i, f := range flows {
		saved[i] = *f
	}
	outputs := src.Outputs()
	for _, out := range outputs {
		if err := src.RemoveOutput(out.DAGPort); err != nil {
			return nil, err
		}
	}
	for _, in := range src.Inputs() {
		if err := src.RemoveInput(in.DAGPort, in.Op, in.OpPort); err != nil {
			return nil, err
		}
	}
	for _, f := range flows {
		if err := src.RemoveFlow(f); err != nil {
			return nil, err
		}
	}
	for _, op := range src.Operators() {
		if _, err := src.MoveOperator(dst, op); err != nil {
			return nil, err
		}
	}
	for _, f := range saved {
		if err := dst.AddFlow(f.Source, f.SourcePort, f.Target, f.TargetPort); err != nil {
			return nil, err
		}
	}
	return outputs, nil
}

func parameterLookups(g *dag.Graph) []*ops.ParameterLookup {
	var pls []*ops.ParameterLookup
	for _, op := range g.Operators() {
		if pl, ok := op.(*ops.ParameterLookup); ok {
			pls = append(pls, pl)
		}
	}
	return pls
}

// dropParameter removes parameter index from a parameterized nested graph.
// Readers of the parameter are fed from the operator output replace
// returns, which is only called when a reader exists. Higher indices shift
// down by one.
func dropParameter(inner *dag.Graph, index int, replace func() (dag.Operator, int, error)) error {
	for _, pl := range parameterLookups(inner) {
		switch {
		case pl.Index == index:
			c, err := detachOutputs(inner, pl)
			if err != nil {
				return err
			}
			if len(c.flows) > 0 || len(c.outputs) > 0 {
				src, port, err := replace()
				if err != nil {
					return err
				}
				if err := reattach(inner, c, src, port); err != nil {
					return err
				}
			}
			if err := inner.RemoveOperator(pl); err != nil {
				return err
			}
		case pl.Index > index:
			pl.Index--
		}
	}
	return nil
}

func renumberTopological(g *dag.Graph) error {
	order, err := dag.TopologicalOrder(g)
	if err != nil {
		return err
	}
	return g.Renumber(order)
}
