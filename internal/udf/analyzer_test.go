package udf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/types"
)

func TestOutputPositionsAndReads(t *testing.T) {
	// (x, x*2, y) over input (x, y, z)
	fn := Function{Name: "f", Results: []Expr{
		Arg(0),
		Call(OpMul, Arg(0), Const("2", "int64")),
		Arg(1),
	}}
	var a Descriptor

	assert.Equal(t, []int{0}, a.OutputPositions(fn, 0))
	assert.Equal(t, []int{2}, a.OutputPositions(fn, 1))
	assert.Empty(t, a.OutputPositions(fn, 2))

	assert.True(t, a.IsArgumentRead(fn, 0))
	assert.True(t, a.IsArgumentRead(fn, 1))
	assert.False(t, a.IsArgumentRead(fn, 2))
	assert.Equal(t, []int{0, 1}, fn.ArgsRead())
}

func TestResultType(t *testing.T) {
	var a Descriptor
	in := types.MustParse("{int32,double,bool}")

	tests := []struct {
		name string
		fn   Function
		want string
	}{
		{"passthrough", Function{Results: []Expr{Arg(2), Arg(0)}}, "{bool,int32}"},
		{"promote", Function{Results: []Expr{Call(OpAdd, Arg(0), Arg(1))}}, "{double}"},
		{"int const", Function{Results: []Expr{Call(OpMul, Arg(0), Const("2", "int64"))}}, "{int64}"},
		{"predicate", Function{Results: []Expr{Call(OpAnd, Call(OpLt, Arg(0), Const("5", "")), Arg(2))}}, "{bool}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ResultType(tt.fn, in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}

	_, err := a.ResultType(Function{Results: []Expr{Arg(3)}}, in)
	assert.Error(t, err)

	_, err = a.ResultType(Function{Results: []Expr{Call(OpAdd, Arg(0))}}, in)
	assert.Error(t, err)

	arr := types.MustParse("{[{int64}]}")
	_, err = a.ResultType(Function{Results: []Expr{Call(OpAdd, Arg(0), Arg(0))}}, arr)
	assert.Error(t, err, "arithmetic on arrays")
}

func TestAdjustFilterSignature(t *testing.T) {
	var a Descriptor
	x, y := types.NewAttr(), types.NewAttr()

	from := types.MustParse("{int64,int64}")
	from[0].Attr, from[1].Attr = x, y
	to := types.MustParse("{double,int64,int64}")
	to[1].Attr, to[2].Attr = y, x

	fn := Function{Name: "p", Results: []Expr{Call(OpLt, Arg(0), Arg(1))}}
	adj, err := a.AdjustFilterSignature(fn, from, to)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, adj.ArgsRead())
	assert.Equal(t, 2, adj.Results[0].Args[0].Arg)
	assert.Equal(t, 0, fn.Results[0].Args[0].Arg, "input is not modified")

	_, err = a.AdjustFilterSignature(fn, from, to[:2])
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Function{Results: []Expr{Call(OpNot, Arg(0))}}.Validate())
	assert.Error(t, Function{Results: []Expr{{Op: "pow"}}}.Validate())
	assert.Error(t, Function{Results: []Expr{Call(OpNot)}}.Validate())
}
