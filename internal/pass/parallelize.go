package pass

import (
	"log/slog"
	"slices"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
)

type parallelizeSettings struct {
	// NumWorkers is recorded on every region and partition; 0 leaves the
	// choice to the execution engine.
	NumWorkers int `mapstructure:"num_workers"`
}

var regionKinds = map[string]ops.Kind{
	Parallelize:           ops.KindConcurrentExecute,
	ParallelizeConcurrent: ops.KindConcurrentExecute,
	ParallelizeProcess:    ops.KindConcurrentExecuteProcess,
	ParallelizeLambda:     ops.KindConcurrentExecuteLambda,
}

func parallelizeAs(name string) func(*dag.Graph, *Env) error {
	return func(g *dag.Graph, env *Env) error {
		var s parallelizeSettings
		if err := env.Decode(name, &s); err != nil {
			return err
		}
		if s.NumWorkers < 0 {
			return planerr.Configuration("optimizations."+name+".num_workers", "must not be negative, got %d", s.NumWorkers)
		}
		p := &parallelizer{kind: regionKinds[name], workers: s.NumWorkers, log: env.logger()}
		return p.run(g)
	}
}

// ParallelizeGraph wraps the seeds of g into concurrent-execution regions
// of the given kind.
func ParallelizeGraph(g *dag.Graph, kind ops.Kind, workers int) error {
	if !kind.IsConcurrentExecute() {
		return planerr.Configuration("kind", "%s is not a concurrent-execution kind", kind)
	}
	p := &parallelizer{kind: kind, workers: workers, log: slog.Default()}
	return p.run(g)
}

type parallelizer struct {
	kind    ops.Kind
	workers int
	log     *slog.Logger
}

func (p *parallelizer) run(g *dag.Graph) error {
	var seeds []ops.Operator
	for _, op := range g.Operators() {
		o := ops.Must(op)
		if !o.Kind().Has(ops.CapSeed) || p.isCombiner(g, o) {
			continue
		}
		seeds = append(seeds, o)
	}

	var regions []*ops.ConcurrentExecute
	for _, seed := range seeds {
		ce, err := p.wrap(g, seed)
		if err != nil {
			return err
		}
		if err := p.extend(g, ce); err != nil {
			return err
		}
		regions = append(regions, ce)
	}

	merged, err := p.merge(g)
	if err != nil {
		return err
	}

	for _, op := range g.Operators() {
		if ce, ok := op.(*ops.ConcurrentExecute); ok {
			if err := inlineConstants(g, ce); err != nil {
				return err
			}
		}
	}
	p.log.Debug("parallelized", "kind", p.kind.String(), "seeds", len(seeds),
		"regions", len(regions)-merged, "merged", merged)
	return nil
}

// isCombiner reports whether op is the outer half of an already
// parallelized Reduce.
func (p *parallelizer) isCombiner(g *dag.Graph, op ops.Operator) bool {
	if op.Kind() != ops.KindReduce {
		return false
	}
	preds := g.Predecessors(op)
	return len(preds) == 1 && ops.Must(preds[0]).Kind().IsConcurrentExecute()
}

// wrap moves seed into a new region that takes the seed's place in g.
func (p *parallelizer) wrap(g *dag.Graph, seed ops.Operator) (*ops.ConcurrentExecute, error) {
	feeds, err := feedsOf(g, seed)
	if err != nil {
		return nil, err
	}
	if err := detachInputs(g, seed); err != nil {
		return nil, err
	}
	cons, err := detachOutputs(g, seed)
	if err != nil {
		return nil, err
	}

	inner := dag.New()
	if _, err := g.MoveOperator(inner, seed); err != nil {
		return nil, err
	}
	ce := ops.NewConcurrentExecute(p.kind, len(feeds))
	ce.NumWorkers = p.workers

	for port := range feeds {
		pl := ops.NewParameterLookup(port)
		if _, err := inner.AddOperator(pl); err != nil {
			return nil, err
		}
		head := dag.Operator(pl)
		switch seed.Kind() {
		case ops.KindCartesianProduct, ops.KindExpandPattern:
			ce.Broadcast[port] = port == 1
		case ops.KindJoin, ops.KindAntiJoin, ops.KindSemiJoin, ops.KindReduceByKey:
			part := ops.NewPartition(p.workers)
			exch := ops.NewExchange(p.workers)
			if _, err := inner.AddOperator(part); err != nil {
				return nil, err
			}
			if _, err := inner.AddOperator(exch); err != nil {
				return nil, err
			}
			if err := inner.AddFlow(pl, 0, part, 0); err != nil {
				return nil, err
			}
			if err := inner.AddFlow(part, 0, exch, 0); err != nil {
				return nil, err
			}
			head = exch
		}
		if err := inner.AddFlow(head, 0, seed, port); err != nil {
			return nil, err
		}
	}

	top := dag.Operator(seed)
	if seed.Kind() == ops.KindReduce {
		est := ops.NewEnsureSingleTuple()
		if _, err := inner.AddOperator(est); err != nil {
			return nil, err
		}
		if err := inner.AddFlow(seed, 0, est, 0); err != nil {
			return nil, err
		}
		top = est
	}
	if err := inner.SetOutput(0, top, 0); err != nil {
		return nil, err
	}
	if err := renumberTopological(inner); err != nil {
		return nil, err
	}

	if _, err := g.AddOperator(ce, dag.WithInner(inner)); err != nil {
		return nil, err
	}
	for port, f := range feeds {
		if err := connect(g, f, ce, port); err != nil {
			return nil, err
		}
	}

	out := dag.Operator(ce)
	if r, ok := seed.(*ops.Reduce); ok {
		comb := ops.NewReduce(r.Func.Clone())
		comb.SetType(r.Type().Clone())
		if _, err := g.AddOperator(comb); err != nil {
			return nil, err
		}
		if err := g.AddFlow(ce, 0, comb, 0); err != nil {
			return nil, err
		}
		out = comb
	}
	return ce, reattach(g, cons, out, 0)
}

// extend pulls single consumers of absorbable kinds into the region.
func (p *parallelizer) extend(g *dag.Graph, ce *ops.ConcurrentExecute) error {
	inner := g.Inner(ce)
	for g.OutDegree(ce) == 1 && len(g.OutputsOf(ce)) == 0 {
		next := g.Successors(ce)[0]
		if !ops.Has(next, ops.CapAbsorbable) || next.NumInPorts() != 1 || g.HasInner(next) {
			return nil
		}
		cons, err := detachOutputs(g, next)
		if err != nil {
			return err
		}
		if err := detachInputs(g, next); err != nil {
			return err
		}
		if _, err := g.MoveOperator(inner, next); err != nil {
			return err
		}
		prev, _ := inner.Output(0)
		if err := inner.RemoveOutput(0); err != nil {
			return err
		}
		if err := inner.AddFlow(prev.Op, prev.Port, next, 0); err != nil {
			return err
		}
		if err := inner.SetOutput(0, next, 0); err != nil {
			return err
		}
		if err := reattach(g, cons, ce, 0); err != nil {
			return err
		}
	}
	return renumberTopological(inner)
}

// merge folds a region into the region consuming it whenever the first
// has no other consumer, both are of the same kind and the input it feeds
// is partitioned rather than broadcast. It returns the number of merges.
//
// A single consumer is what keeps the merge acyclic: every path out of c1
// starts with the flow into c2, so no other input of c2 can depend on c1.
// A region read by a second consumer would need a second output, and a
// region has exactly one output type, so such regions are left alone.
func (p *parallelizer) merge(g *dag.Graph) (int, error) {
	merged := 0
	for {
		order, err := dag.TopologicalOrder(g)
		if err != nil {
			return merged, err
		}
		done := true
		for _, op := range order {
			c1, ok := op.(*ops.ConcurrentExecute)
			if !ok || g.OutDegree(c1) != 1 || len(g.OutputsOf(c1)) > 0 {
				continue
			}
			f := g.OutFlows(c1)[0]
			c2, ok := f.Target.(*ops.ConcurrentExecute)
			if !ok || c2.Kind() != c1.Kind() || c2.IsBroadcast(f.TargetPort) {
				continue
			}
			if err := mergeRegions(g, c1, c2, f.TargetPort); err != nil {
				return merged, err
			}
			merged++
			done = false
			break
		}
		if done {
			return merged, nil
		}
	}
}

// mergeRegions folds c1, which feeds port of c2, into c2. The parameters of
// c2 after port shift down by one and c1's parameters follow them.
func mergeRegions(g *dag.Graph, c1, c2 *ops.ConcurrentExecute, port int) error {
	f1, err := feedsOf(g, c1)
	if err != nil {
		return err
	}
	f2, err := feedsOf(g, c2)
	if err != nil {
		return err
	}
	if err := detachInputs(g, c1); err != nil {
		return err
	}
	if err := detachInputs(g, c2); err != nil {
		return err
	}

	i1, i2 := g.Inner(c1), g.Inner(c2)
	moved := parameterLookups(i1)
	outs, err := transplant(i1, i2)
	if err != nil {
		return err
	}
	if len(outs) != 1 {
		return planerr.StructuralAt(planerr.CodePortRange, g.MustID(c1), c1.Name(),
			"region has %d outputs, want 1", len(outs))
	}
	produced := outs[0]
	for _, pl := range moved {
		pl.Index += len(f2) + len(f1)
	}
	err = dropParameter(i2, port, func() (dag.Operator, int, error) {
		return produced.Op, produced.OpPort, nil
	})
	if err != nil {
		return err
	}
	for _, pl := range moved {
		pl.Index -= len(f1)
	}

	broadcast := make([]bool, 0, len(f1)+len(f2)-1)
	feeds := make([]feed, 0, cap(broadcast))
	for i, f := range f2 {
		if i != port {
			broadcast = append(broadcast, c2.IsBroadcast(i))
			feeds = append(feeds, f)
		}
	}
	for i, f := range f1 {
		broadcast = append(broadcast, c1.IsBroadcast(i))
		feeds = append(feeds, f)
	}

	if err := g.RemoveOperator(c1); err != nil {
		return err
	}
	c2.NumInputs = len(feeds)
	c2.Broadcast = broadcast
	c2.NumWorkers = max(c1.NumWorkers, c2.NumWorkers)
	for i, f := range feeds {
		if err := connect(g, f, c2, i); err != nil {
			return err
		}
	}
	for i := 0; i < len(f1)+len(f2); i++ {
		i2.SetInputType(i, nil)
	}
	return renumberTopological(i2)
}

// inlineConstants replaces every broadcast input of ce that is fed by a
// constant with a copy of the constant inside the region. Partitioned
// inputs keep their feed: a copy per worker would be read once per worker.
func inlineConstants(g *dag.Graph, ce *ops.ConcurrentExecute) error {
	for port := ce.NumInputs - 1; port >= 0; port-- {
		f, ok := g.InFlow(ce, port)
		if !ok {
			continue
		}
		c, ok := f.Source.(*ops.ConstantTuple)
		if !ok || !ce.IsBroadcast(port) {
			continue
		}
		feeds, err := feedsOf(g, ce)
		if err != nil {
			return err
		}
		inner := g.Inner(ce)
		err = dropParameter(inner, port, func() (dag.Operator, int, error) {
			cp := ops.NewConstantTuple(slices.Clone(c.Values), c.Type().Clone())
			_, err := inner.AddOperator(cp)
			return cp, 0, err
		})
		if err != nil {
			return err
		}
		if err := detachInputs(g, ce); err != nil {
			return err
		}
		broadcast := make([]bool, 0, ce.NumInputs-1)
		for i := 0; i < ce.NumInputs; i++ {
			if i != port {
				broadcast = append(broadcast, ce.IsBroadcast(i))
			}
		}
		feeds = slices.Delete(feeds, port, port+1)
		ce.NumInputs = len(feeds)
		ce.Broadcast = broadcast
		for i, fd := range feeds {
			if err := connect(g, fd, ce, i); err != nil {
				return err
			}
		}
		inner.SetInputType(ce.NumInputs, nil)
		if g.OutDegree(c) == 0 && len(g.OutputsOf(c)) == 0 {
			if err := g.RemoveOperator(c); err != nil {
				return err
			}
		}
		if err := renumberTopological(inner); err != nil {
			return err
		}
	}
	return nil
}
