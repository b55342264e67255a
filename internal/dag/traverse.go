package dag

import (
	"slices"

	"github.com/roach88/dagopt/internal/planerr"
)

// VisitFunc is called for each operator during a traversal. A non-nil error
// stops the traversal and is returned unchanged.
type VisitFunc func(g *Graph, op Operator) error

// TopologicalOrder returns the operators of g so that every flow points
// forward. Independent operators are ordered by ascending id; callers that
// need a plan-level deterministic order canonicalize first.
func TopologicalOrder(g *Graph) ([]Operator, error) {
	indeg := make(map[*vertex]int, len(g.vertices))
	var ready []*vertex
	for _, v := range g.vertices {
		indeg[v] = len(v.in)
		if len(v.in) == 0 {
			ready = append(ready, v)
		}
	}

	order := make([]Operator, 0, len(g.vertices))
	for len(ready) > 0 {
		slices.SortFunc(ready, func(a, b *vertex) int { return a.id - b.id })
		v := ready[0]
		ready = ready[1:]
		order = append(order, v.op)
		for _, f := range v.out {
			w := g.vertices[f.Target]
			indeg[w]--
			if indeg[w] == 0 {
				ready = append(ready, w)
			}
		}
	}

	if len(order) != len(g.vertices) {
		return nil, planerr.Structural(planerr.CodeCycle, "graph has a cycle %s", g.cyclePath())
	}
	return order, nil
}

// ApplyInTopologicalOrder calls fn for every operator, producers before
// consumers. The order is fixed before the first call; operators that fn
// removes from g are skipped when their turn comes, operators fn adds are
// not visited.
func ApplyInTopologicalOrder(g *Graph, fn VisitFunc) error {
	order, err := TopologicalOrder(g)
	if err != nil {
		return err
	}
	return apply(g, order, fn)
}

// ApplyInReverseTopologicalOrder calls fn for every operator, consumers
// before producers, with the same mutation rules as ApplyInTopologicalOrder.
func ApplyInReverseTopologicalOrder(g *Graph, fn VisitFunc) error {
	order, err := TopologicalOrder(g)
	if err != nil {
		return err
	}
	slices.Reverse(order)
	return apply(g, order, fn)
}

func apply(g *Graph, order []Operator, fn VisitFunc) error {
	for _, op := range order {
		if !g.Contains(op) {
			continue
		}
		if err := fn(g, op); err != nil {
			return err
		}
	}
	return nil
}

// ApplyInTopologicalOrderRecursive walks g in topological order. For each
// operator it calls enter, then walks the operator's nested graph (if any)
// recursively, then calls exit. Either callback may be nil.
//
// Work that must flow into a nested graph (input types, for instance) goes
// in enter; work that depends on the nested result goes in exit.
func ApplyInTopologicalOrderRecursive(g *Graph, enter, exit VisitFunc) error {
	order, err := TopologicalOrder(g)
	if err != nil {
		return err
	}
	return applyRecursive(g, order, enter, exit, ApplyInTopologicalOrderRecursive)
}

// ApplyInReverseTopologicalOrderRecursive is the consumer-first counterpart
// of ApplyInTopologicalOrderRecursive.
func ApplyInReverseTopologicalOrderRecursive(g *Graph, enter, exit VisitFunc) error {
	order, err := TopologicalOrder(g)
	if err != nil {
		return err
	}
	slices.Reverse(order)
	return applyRecursive(g, order, enter, exit, ApplyInReverseTopologicalOrderRecursive)
}

func applyRecursive(g *Graph, order []Operator, enter, exit VisitFunc,
	descend func(*Graph, VisitFunc, VisitFunc) error) error {
	for _, op := range order {
		if !g.Contains(op) {
			continue
		}
		if enter != nil {
			if err := enter(g, op); err != nil {
				return err
			}
		}
		if inner := g.Inner(op); inner != nil {
			if err := descend(inner, enter, exit); err != nil {
				return err
			}
		}
		if exit != nil && g.Contains(op) {
			if err := exit(g, op); err != nil {
				return err
			}
		}
	}
	return nil
}

// WalkOrder selects when Walk calls its visitor relative to the nested
// graph of the visited operator.
type WalkOrder int

const (
	// PreOrder visits an operator before its nested graph.
	PreOrder WalkOrder = iota
	// PostOrder visits an operator after its nested graph.
	PostOrder
)

// Walk visits every operator of g and of all nested graphs in topological
// order.
func Walk(g *Graph, order WalkOrder, fn VisitFunc) error {
	if order == PreOrder {
		return ApplyInTopologicalOrderRecursive(g, fn, nil)
	}
	return ApplyInTopologicalOrderRecursive(g, nil, fn)
}
