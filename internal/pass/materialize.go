package pass

import (
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
)

func runMaterializeMultipleReads(g *dag.Graph, env *Env) error {
	log := env.logger()
	return forEachGraph(g, func(g *dag.Graph) error {
		n, err := MaterializeShared(g)
		if n > 0 {
			log.Debug("materialized shared results", "operators", n)
		}
		return err
	})
}

// MaterializeShared puts a MaterializeRowVector behind every
// operator whose result is consumed more than once and gives each consumer
// its own RowScan, so the producer runs exactly once. It returns the
// number of producers rewritten. New operators are untyped until type
// inference runs again.
func MaterializeShared(g *dag.Graph) (int, error) {
	n := 0
	for _, op := range g.Operators() {
		if g.OutDegree(op) < 2 || !needsMaterialization(op) {
			continue
		}
		if err := materialize(g, op); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func needsMaterialization(op dag.Operator) bool {
	o, ok := ops.Of(op)
	if !ok {
		return false
	}
	switch o.Kind() {
	case ops.KindMaterializeRowVector, ops.KindMaterializeColumnChunks, ops.KindParameterLookup:
		return false
	}
	return !o.Kind().Has(ops.CapSingleTuple)
}

func materialize(g *dag.Graph, op dag.Operator) error {
	outs := g.OutFlows(op)
	mat := ops.NewMaterializeRowVector()
	if _, err := g.AddOperator(mat); err != nil {
		return err
	}
	if err := g.AddFlow(op, 0, mat, 0); err != nil {
		return err
	}
	for _, f := range outs {
		e := *f
		if err := g.RemoveFlow(f); err != nil {
			return err
		}
		scan := ops.NewRowScan(false)
		if _, err := g.AddOperator(scan); err != nil {
			return err
		}
		if err := g.AddFlow(mat, 0, scan, 0); err != nil {
			return err
		}
		if err := g.AddFlow(scan, 0, e.Target, e.TargetPort); err != nil {
			return err
		}
	}
	return nil
}
