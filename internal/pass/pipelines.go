package pass

import (
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
)

func runCreatePipelines(g *dag.Graph, env *Env) error {
	n, err := BuildPipelines(g)
	if err != nil {
		return err
	}
	env.logger().Debug("created pipelines", "pipelines", n)
	return nil
}

// BuildPipelines groups every operator into tree-shaped Pipeline operators.
// A pipeline ends at a driver: an operator read more than once, a DAG
// output, a pipeline breaker, or the last operator before a nested one.
// Everything upstream of a driver that is read only by the tree becomes
// part of its pipeline; other inputs become pipeline inputs. Nested graphs
// are processed first; existing pipelines are left alone. It returns the
// number of pipelines created.
func BuildPipelines(g *dag.Graph) (int, error) {
	total := 0
	for _, op := range g.Operators() {
		inner := g.Inner(op)
		if inner == nil || ops.Must(op).Kind() == ops.KindPipeline {
			continue
		}
		n, err := BuildPipelines(inner)
		if err != nil {
			return total, err
		}
		total += n
	}

	order, err := dag.TopologicalOrder(g)
	if err != nil {
		return total, err
	}
	var drivers []dag.Operator
	for _, op := range order {
		if pipelinable(op) && !absorbed(g, op) {
			drivers = append(drivers, op)
		}
	}
	for _, d := range drivers {
		if err := wrapPipeline(g, d); err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

// pipelinable reports whether op may run inside a pipeline. Nested
// operators, compiled pipelines and parameter lookups mark the boundary.
func pipelinable(op dag.Operator) bool {
	o, ok := ops.Of(op)
	if !ok {
		return false
	}
	switch o.Kind() {
	case ops.KindCompiledPipeline, ops.KindParameterLookup:
		return false
	}
	return !o.Kind().Has(ops.CapNested)
}

// absorbed reports whether op runs inside the pipeline of its only
// consumer.
func absorbed(g *dag.Graph, op dag.Operator) bool {
	if !pipelinable(op) || ops.Has(op, ops.CapPipelineBreaker) {
		return false
	}
	if g.OutDegree(op) != 1 || len(g.OutputsOf(op)) > 0 {
		return false
	}
	return pipelinable(g.Successors(op)[0])
}

type crossing struct {
	member dag.Operator
	port   int
	feed   feed
}

func wrapPipeline(g *dag.Graph, driver dag.Operator) error {
	members := []dag.Operator{driver}
	inTree := map[dag.Operator]bool{driver: true}
	for i := 0; i < len(members); i++ {
		for _, f := range g.InFlows(members[i]) {
			if !inTree[f.Source] && absorbed(g, f.Source) {
				inTree[f.Source] = true
				members = append(members, f.Source)
			}
		}
	}

	var cross []crossing
	var internal []dag.Flow
	for _, m := range members {
		feeds, err := feedsOf(g, m)
		if err != nil {
			return err
		}
		for port, fd := range feeds {
			if fd.src != nil && inTree[fd.src] {
				f, _ := g.InFlow(m, port)
				internal = append(internal, *f)
				continue
			}
			cross = append(cross, crossing{member: m, port: port, feed: fd})
		}
	}

	cons, err := detachOutputs(g, driver)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := detachInputs(g, m); err != nil {
			return err
		}
	}
	inner := dag.New()
	for _, m := range members {
		if _, err := g.MoveOperator(inner, m); err != nil {
			return err
		}
	}
	for _, f := range internal {
		if err := inner.AddFlow(f.Source, f.SourcePort, f.Target, f.TargetPort); err != nil {
			return err
		}
	}
	for i, c := range cross {
		if err := inner.AddInput(i, c.member, c.port); err != nil {
			return err
		}
	}
	if err := inner.SetOutput(0, driver, 0); err != nil {
		return err
	}
	if err := renumberTopological(inner); err != nil {
		return err
	}

	p := ops.NewPipeline(len(cross))
	if _, err := g.AddOperator(p, dag.WithInner(inner)); err != nil {
		return err
	}
	for i, c := range cross {
		if err := connect(g, c.feed, p, i); err != nil {
			return err
		}
	}
	return reattach(g, cons, p, 0)
}
