package dag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/planerr"
)

type node struct {
	name     string
	in, outs int
}

func (n *node) Name() string     { return n.name }
func (n *node) NumInPorts() int  { return n.in }
func (n *node) NumOutPorts() int { return n.outs }

func newNode(name string, in, out int) *node { return &node{name: name, in: in, outs: out} }

func mustAdd(t *testing.T, g *Graph, op Operator, opts ...AddOption) int {
	t.Helper()
	id, err := g.AddOperator(op, opts...)
	require.NoError(t, err)
	return id
}

// chain builds src -> mid -> sink and returns the three operators.
func chain(t *testing.T) (*Graph, *node, *node, *node) {
	t.Helper()
	g := New()
	src, mid, sink := newNode("src", 0, 1), newNode("mid", 1, 1), newNode("sink", 1, 1)
	mustAdd(t, g, src)
	mustAdd(t, g, mid)
	mustAdd(t, g, sink)
	require.NoError(t, g.AddFlow(src, 0, mid, 0))
	require.NoError(t, g.AddFlow(mid, 0, sink, 0))
	return g, src, mid, sink
}

// TestAddOperatorAssignsIDs tests default and explicit id assignment.
func TestAddOperatorAssignsIDs(t *testing.T) {
	g := New()
	a, b, c := newNode("a", 0, 1), newNode("b", 0, 1), newNode("c", 0, 1)

	assert.Equal(t, 0, mustAdd(t, g, a))
	assert.Equal(t, 7, mustAdd(t, g, b, WithID(7)))
	assert.Equal(t, 8, mustAdd(t, g, c))

	_, err := g.AddOperator(newNode("d", 0, 1), WithID(7))
	assert.ErrorIs(t, err, planerr.ErrStructural)

	_, err = g.AddOperator(a)
	assert.ErrorIs(t, err, planerr.ErrStructural)

	op, ok := g.Lookup(7)
	require.True(t, ok)
	assert.Same(t, b, op)
	assert.Equal(t, []Operator{a, b, c}, g.Operators())
}

// TestAddFlowPortRange tests that ports outside the arity are rejected.
func TestAddFlowPortRange(t *testing.T) {
	g := New()
	a, b := newNode("a", 0, 1), newNode("b", 1, 1)
	mustAdd(t, g, a)
	mustAdd(t, g, b)

	var se *planerr.StructuralError
	err := g.AddFlow(a, 1, b, 0)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, planerr.CodePortRange, se.Code)

	err = g.AddFlow(a, 0, b, 1)
	require.ErrorAs(t, err, &se)
	assert.Equal(t, planerr.CodePortRange, se.Code)
	assert.Empty(t, g.Flows())
}

// TestAddFlowRejectsCycle tests that flows closing a cycle leave the graph
// unchanged.
func TestAddFlowRejectsCycle(t *testing.T) {
	g := New()
	a, b, c := newNode("a", 1, 1), newNode("b", 1, 1), newNode("c", 1, 1)
	mustAdd(t, g, a)
	mustAdd(t, g, b)
	mustAdd(t, g, c)
	require.NoError(t, g.AddFlow(a, 0, b, 0))
	require.NoError(t, g.AddFlow(b, 0, c, 0))
	before := g.Flows()

	// Connecting c back to its ancestors a and b must fail both times.
	for _, ancestor := range []*node{a, b} {
		err := g.AddFlow(c, 0, ancestor, 0)
		var se *planerr.StructuralError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, planerr.CodeCycle, se.Code)
		assert.Contains(t, se.Message, "->")
	}

	assert.Equal(t, before, g.Flows())
	assert.False(t, g.HasCycle())
	assert.Empty(t, g.Cycles())
}

// TestAddFlowRejectsSelfLoop tests the degenerate one-node cycle.
func TestAddFlowRejectsSelfLoop(t *testing.T) {
	g := New()
	a := newNode("a", 1, 1)
	mustAdd(t, g, a)

	err := g.AddFlow(a, 0, a, 0)
	assert.ErrorIs(t, err, planerr.ErrStructural)
	assert.Equal(t, 0, g.InDegree(a))
}

// TestAcyclicityUnderRandomFlows tests that no sequence of AddFlow calls can
// leave a cycle behind.
func TestAcyclicityUnderRandomFlows(t *testing.T) {
	g := New()
	var ops []*node
	for i := 0; i < 8; i++ {
		op := newNode("n", 2, 2)
		mustAdd(t, g, op)
		ops = append(ops, op)
	}
	// Deterministic pseudo-random pairs.
	x := 17
	for i := 0; i < 200; i++ {
		x = (x*1103515245 + 12345) & 0x7fffffff
		src, dst := ops[x%8], ops[(x/8)%8]
		before := len(g.Flows())
		err := g.AddFlow(src, x%2, dst, (x/2)%2)
		if err != nil {
			assert.ErrorIs(t, err, planerr.ErrStructural)
			assert.Len(t, g.Flows(), before)
		}
		require.False(t, g.HasCycle())
	}
}

// TestRemoveOperatorRequiresDisconnect tests the removal precondition.
func TestRemoveOperatorRequiresDisconnect(t *testing.T) {
	g, src, mid, sink := chain(t)

	err := g.RemoveOperator(mid)
	var se *planerr.StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, planerr.CodeStillConnected, se.Code)

	for _, f := range append(g.InFlows(mid), g.OutFlows(mid)...) {
		require.NoError(t, g.RemoveFlow(f))
	}
	require.NoError(t, g.RemoveOperator(mid))
	assert.False(t, g.Contains(mid))
	assert.Equal(t, 2, g.Len())

	require.NoError(t, g.SetOutput(0, sink, 0))
	assert.ErrorIs(t, g.RemoveOperator(sink), planerr.ErrStructural)
	require.NoError(t, g.RemoveOutput(0))
	require.NoError(t, g.RemoveOperator(sink))
	assert.Equal(t, []Operator{src}, g.Operators())
}

// TestMoveOperatorResetsID tests that moving transfers the nested graph and
// assigns the target's next id.
func TestMoveOperatorResetsID(t *testing.T) {
	from, to := New(), New()
	inner := New()
	op := newNode("op", 0, 1)
	mustAdd(t, from, op, WithID(5), WithInner(inner))
	mustAdd(t, to, newNode("x", 0, 1), WithID(2))

	id, err := from.MoveOperator(to, op)
	require.NoError(t, err)
	assert.Equal(t, 3, id)
	assert.False(t, from.Contains(op))
	assert.Same(t, inner, to.Inner(op))

	other := newNode("y", 1, 1)
	mustAdd(t, to, other)
	require.NoError(t, to.AddFlow(op, 0, other, 0))
	_, err = to.MoveOperator(from, op)
	assert.ErrorIs(t, err, planerr.ErrStructural)
}

// TestReplaceOperatorPreservesStructure tests the in-place payload swap.
func TestReplaceOperatorPreservesStructure(t *testing.T) {
	g, src, mid, sink := chain(t)
	require.NoError(t, g.SetOutput(0, sink, 0))
	inner := New()
	require.NoError(t, g.SetInner(mid, inner))
	id := g.MustID(mid)

	repl := newNode("repl", 1, 1)
	require.NoError(t, g.ReplaceOperator(mid, repl))

	assert.False(t, g.Contains(mid))
	assert.Equal(t, id, g.MustID(repl))
	assert.Same(t, inner, g.Inner(repl))
	p, ok := g.Predecessor(repl, 0)
	require.True(t, ok)
	assert.Same(t, src, p)
	assert.Equal(t, []Operator{sink}, g.Successors(repl))

	// Replacement must cover every connected port.
	assert.ErrorIs(t, g.ReplaceOperator(repl, newNode("narrow", 0, 1)), planerr.ErrStructural)
}

// TestDegreeQueries tests per-port and overall degree lookups.
func TestDegreeQueries(t *testing.T) {
	g := New()
	a, j := newNode("a", 0, 1), newNode("join", 2, 1)
	c1, c2 := newNode("c1", 1, 1), newNode("c2", 1, 1)
	for _, op := range []*node{a, j, c1, c2} {
		mustAdd(t, g, op)
	}
	require.NoError(t, g.AddFlow(a, 0, j, 0))
	require.NoError(t, g.AddFlow(a, 0, j, 1))
	require.NoError(t, g.AddFlow(j, 0, c1, 0))
	require.NoError(t, g.AddFlow(j, 0, c2, 0))

	assert.Equal(t, 2, g.OutDegree(a))
	assert.Equal(t, 2, g.InDegree(j))
	assert.Equal(t, 1, g.InDegreePort(j, 1))
	assert.Equal(t, 2, g.OutDegreePort(j, 0))
	assert.Equal(t, []Operator{a}, g.Predecessors(j))
	assert.Equal(t, []Operator{c1, c2}, g.Successors(j))
	assert.Len(t, g.OutFlowsFrom(j, 0), 2)
	assert.Equal(t, []Operator{a}, g.Sources())
	assert.Equal(t, []Operator{c1, c2}, g.Sinks())
	assert.False(t, g.IsTree())
}

// TestIsTree tests the in-tree shape check.
func TestIsTree(t *testing.T) {
	g, _, _, _ := chain(t)
	assert.True(t, g.IsTree())
	assert.False(t, New().IsTree())
}

// TestDAGPorts tests the DAG-level input multimap and output map.
func TestDAGPorts(t *testing.T) {
	g := New()
	a, b := newNode("a", 1, 1), newNode("b", 2, 1)
	mustAdd(t, g, a)
	mustAdd(t, g, b)

	require.NoError(t, g.AddInput(0, a, 0))
	require.NoError(t, g.AddInput(0, b, 1))
	require.NoError(t, g.AddInput(1, b, 0))
	assert.Equal(t, 2, g.NumInputs())
	dp, ok := g.InputBinding(b, 1)
	require.True(t, ok)
	assert.Equal(t, 0, dp)
	assert.Len(t, g.InputsOf(b), 2)

	require.NoError(t, g.SetOutput(0, b, 0))
	err := g.SetOutput(0, a, 0)
	var se *planerr.StructuralError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, planerr.CodeDuplicate, se.Code)

	out, ok := g.Output(0)
	require.True(t, ok)
	assert.Same(t, b, out.Op)
	assert.Equal(t, 1, g.NumOutputs())

	require.NoError(t, g.RemoveInput(0, a, 0))
	assert.Len(t, g.Inputs(), 2)
}

// TestClear tests that Clear removes everything.
func TestClear(t *testing.T) {
	g, src, _, sink := chain(t)
	side := newNode("side", 1, 1)
	mustAdd(t, g, side)
	require.NoError(t, g.AddInput(0, side, 0))
	require.NoError(t, g.SetOutput(0, sink, 0))
	require.NoError(t, g.SetOutput(1, side, 0))

	err := g.AddInput(1, src, 0)
	assert.ErrorIs(t, err, planerr.ErrStructural, "sources have no input port")

	g.Clear()
	assert.Equal(t, 0, g.Len())
	assert.Empty(t, g.Flows())
	assert.Empty(t, g.Inputs())
	assert.Empty(t, g.Outputs())
	assert.False(t, g.Contains(side))
}

// TestRenumber tests reassigning ids from an explicit order.
func TestRenumber(t *testing.T) {
	g, src, mid, sink := chain(t)
	require.NoError(t, g.Renumber([]Operator{sink, src, mid}))
	assert.Equal(t, 0, g.MustID(sink))
	assert.Equal(t, 1, g.MustID(src))
	assert.Equal(t, 2, g.MustID(mid))

	err := g.Renumber([]Operator{sink, sink, mid})
	assert.True(t, errors.Is(err, planerr.ErrStructural))
}
