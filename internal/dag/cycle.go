package dag

import (
	"fmt"
	"slices"
	"strings"
)

// HasCycle reports whether g contains a directed cycle.
//
// The check is a depth-first search rooted at every operator without
// incoming flows. Any operator the search never reaches sits on (or behind)
// a cycle, since an acyclic graph always has a zero-in-degree ancestor for
// every node.
func (g *Graph) HasCycle() bool {
	const (
		white = iota
		grey
		black
	)
	color := make(map[*vertex]int, len(g.vertices))

	var visit func(v *vertex) bool
	visit = func(v *vertex) bool {
		color[v] = grey
		for _, f := range v.out {
			w := g.vertices[f.Target]
			switch color[w] {
			case grey:
				return true
			case white:
				if visit(w) {
					return true
				}
			}
		}
		color[v] = black
		return false
	}

	for _, v := range g.sortedVertices() {
		if len(v.in) == 0 && color[v] == white {
			if visit(v) {
				return true
			}
		}
	}
	for _, v := range g.vertices {
		if color[v] != black {
			return true
		}
	}
	return false
}

// IsTree reports whether g is a non-empty in-tree: acyclic, every operator
// has at most one outgoing flow, and exactly one operator (the root) has
// none.
func (g *Graph) IsTree() bool {
	if len(g.vertices) == 0 || g.HasCycle() {
		return false
	}
	roots := 0
	for _, v := range g.vertices {
		switch len(v.out) {
		case 0:
			roots++
		case 1:
		default:
			return false
		}
	}
	return roots == 1
}

// Cycles returns the strongly connected components of g that form cycles:
// components with more than one operator, or a single operator with a flow
// to itself. Each component is ordered along a cycle through it.
//
// Under normal operation AddFlow keeps g acyclic and Cycles returns nil; it
// exists for diagnostics.
func (g *Graph) Cycles() [][]Operator {
	var (
		index   = 0
		stack   []*vertex
		indices = make(map[*vertex]int)
		lowlink = make(map[*vertex]int)
		onStack = make(map[*vertex]bool)
		cycles  [][]Operator
	)

	var strongConnect func(*vertex)
	strongConnect = func(v *vertex) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, f := range v.out {
			w := g.vertices[f.Target]
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var scc []*vertex
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		if len(scc) > 1 || g.hasSelfLoop(scc[0]) {
			cycles = append(cycles, g.reconstructCycle(scc))
		}
	}

	for _, v := range g.sortedVertices() {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return cycles
}

func (g *Graph) hasSelfLoop(v *vertex) bool {
	return slices.ContainsFunc(v.out, func(f *Flow) bool { return f.Target == v.op })
}

// reconstructCycle orders an SCC along a cycle, starting at its lowest id
// and following flows to unvisited members until it returns to the start.
func (g *Graph) reconstructCycle(scc []*vertex) []Operator {
	members := make(map[*vertex]bool, len(scc))
	start := scc[0]
	for _, v := range scc {
		members[v] = true
		if v.id < start.id {
			start = v
		}
	}

	path := []Operator{start.op}
	visited := map[*vertex]bool{start: true}
	for current := start; ; {
		var next *vertex
		for _, f := range g.OutFlows(current.op) {
			w := g.vertices[f.Target]
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == nil || next == start {
			break
		}
		path = append(path, next.op)
		visited[next] = true
		current = next
	}
	return path
}

// cyclePath renders the first cycle of g as "a(1) -> b(2) -> a(1)".
func (g *Graph) cyclePath() string {
	cycles := g.Cycles()
	if len(cycles) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cycles[0])+1)
	for _, op := range cycles[0] {
		parts = append(parts, fmt.Sprintf("%s(%d)", op.Name(), g.MustID(op)))
	}
	parts = append(parts, parts[0])
	return strings.Join(parts, " -> ")
}
