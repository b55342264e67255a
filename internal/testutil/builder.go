package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/types"
	"github.com/roach88/dagopt/internal/udf"
)

// Builder assembles plan graphs in tests. Every method fails the test on
// error, so a test reads as the plan it builds.
type Builder struct {
	t testing.TB
	g *dag.Graph
}

// NewBuilder creates a builder over an empty graph.
func NewBuilder(t testing.TB) *Builder {
	return &Builder{t: t, g: dag.New()}
}

// Graph returns the graph built so far.
func (b *Builder) Graph() *dag.Graph { return b.g }

// Add adds op and connects output 0 of preds[i] to input port i.
func Add[T dag.Operator](b *Builder, op T, preds ...dag.Operator) T {
	b.t.Helper()
	_, err := b.g.AddOperator(op)
	require.NoError(b.t, err)
	for port, p := range preds {
		require.NoError(b.t, b.g.AddFlow(p, 0, op, port))
	}
	return op
}

// AddNested adds op owning inner and connects preds like Add.
func AddNested[T dag.Operator](b *Builder, op T, inner *dag.Graph, preds ...dag.Operator) T {
	b.t.Helper()
	_, err := b.g.AddOperator(op, dag.WithInner(inner))
	require.NoError(b.t, err)
	for port, p := range preds {
		require.NoError(b.t, b.g.AddFlow(p, 0, op, port))
	}
	return op
}

// Output binds DAG output dagPort to output 0 of op.
func (b *Builder) Output(dagPort int, op dag.Operator) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.g.SetOutput(dagPort, op, 0))
	return b
}

// Input binds DAG input dagPort, of type typ, to port opPort of op.
func (b *Builder) Input(dagPort int, op dag.Operator, opPort int, typ string) *Builder {
	b.t.Helper()
	require.NoError(b.t, b.g.AddInput(dagPort, op, opPort))
	if typ != "" {
		b.g.SetInputType(dagPort, types.MustParse(typ))
	}
	return b
}

// Double is a map body returning twice its first argument.
func Double() udf.Function {
	return udf.Function{Name: "double", Results: []udf.Expr{
		udf.Call(udf.OpMul, udf.Arg(0), udf.Const("2", "int64")),
	}}
}

// KeepFirstDoubleSecond is a map body forwarding argument 0 and doubling
// argument 1.
func KeepFirstDoubleSecond() udf.Function {
	return udf.Function{Name: "keep_double", Results: []udf.Expr{
		udf.Arg(0),
		udf.Call(udf.OpMul, udf.Arg(1), udf.Const("2", "int64")),
	}}
}

// LessThan is a filter body testing argument arg against value.
func LessThan(arg int, value string) udf.Function {
	return udf.Function{Name: "less_than", Results: []udf.Expr{
		udf.Call(udf.OpLt, udf.Arg(arg), udf.Const(value, "int64")),
	}}
}

// Sum is a reduce body adding two partial results.
func Sum() udf.Function {
	return udf.Function{Name: "sum", Results: []udf.Expr{
		udf.Call(udf.OpAdd, udf.Arg(0), udf.Arg(1)),
	}}
}
