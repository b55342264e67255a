package udf

import (
	"fmt"

	"github.com/roach88/dagopt/internal/types"
)

// Analyzer answers the questions the passes ask about function bodies.
type Analyzer interface {
	// OutputPositions returns the result positions that forward argument
	// arg unchanged.
	OutputPositions(fn Function, arg int) []int

	// IsArgumentRead reports whether the body consults argument arg.
	IsArgumentRead(fn Function, arg int) bool

	// AdjustFilterSignature rewrites fn, written against tuple layout from,
	// to address the same columns in layout to. Columns are matched by
	// attribute.
	AdjustFilterSignature(fn Function, from, to types.Tuple) (Function, error)

	// ResultType returns the tuple type fn produces for the given input.
	ResultType(fn Function, input types.Tuple) (types.Tuple, error)
}

// Descriptor is the Analyzer for expression-tree function bodies.
type Descriptor struct{}

var _ Analyzer = Descriptor{}

// OutputPositions implements Analyzer.
func (Descriptor) OutputPositions(fn Function, arg int) []int {
	var pos []int
	for i, e := range fn.Results {
		if e.Op == OpArg && e.Arg == arg {
			pos = append(pos, i)
		}
	}
	return pos
}

// IsArgumentRead implements Analyzer.
func (Descriptor) IsArgumentRead(fn Function, arg int) bool {
	for _, a := range fn.ArgsRead() {
		if a == arg {
			return true
		}
	}
	return false
}

// AdjustFilterSignature implements Analyzer.
func (Descriptor) AdjustFilterSignature(fn Function, from, to types.Tuple) (Function, error) {
	out := Function{Name: fn.Name, Results: make([]Expr, len(fn.Results))}
	remap := func(i int) (int, error) {
		if i >= len(from) {
			return 0, fmt.Errorf("function %q reads argument %d of a %d-field input", fn.Name, i, len(from))
		}
		j := to.IndexOf(from[i].Attr)
		if j < 0 {
			return 0, fmt.Errorf("function %q: column %s of argument %d is not available in %s",
				fn.Name, from[i].Attr, i, to)
		}
		return j, nil
	}
	for i, e := range fn.Results {
		m, err := e.mapArgs(remap)
		if err != nil {
			return Function{}, err
		}
		out.Results[i] = m
	}
	return out, nil
}

// ResultType implements Analyzer.
func (Descriptor) ResultType(fn Function, input types.Tuple) (types.Tuple, error) {
	ts := make([]types.Type, len(fn.Results))
	for i, e := range fn.Results {
		t, err := exprType(e, input)
		if err != nil {
			return nil, fmt.Errorf("function %q result %d: %w", fn.Name, i, err)
		}
		ts[i] = t
	}
	return types.FromTypes(ts...), nil
}

func exprType(e Expr, input types.Tuple) (types.Type, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	switch {
	case e.Op == OpArg:
		if e.Arg < 0 || e.Arg >= len(input) {
			return nil, fmt.Errorf("argument %d out of range for input %s", e.Arg, input)
		}
		return input[e.Arg].Type, nil
	case e.Op == OpConst:
		name := e.Type
		if name == "" {
			name = "int64"
		}
		k, ok := types.KindOf(name)
		if !ok {
			return nil, fmt.Errorf("constant of unknown type %q", e.Type)
		}
		return types.Atomic{Kind: k}, nil
	case e.Op.IsArithmetic():
		l, err := atomicOperand(e.Args[0], input)
		if err != nil {
			return nil, err
		}
		r, err := atomicOperand(e.Args[1], input)
		if err != nil {
			return nil, err
		}
		return types.Atomic{Kind: types.Promote(l, r)}, nil
	case e.Op.IsPredicate():
		for _, a := range e.Args {
			if _, err := atomicOperand(a, input); err != nil {
				return nil, err
			}
		}
		return types.Atomic{Kind: types.Bool}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", e.Op)
	}
}

func atomicOperand(e Expr, input types.Tuple) (types.Kind, error) {
	t, err := exprType(e, input)
	if err != nil {
		return types.Invalid, err
	}
	a, ok := t.(types.Atomic)
	if !ok {
		return types.Invalid, fmt.Errorf("operand of type %s is not atomic", t)
	}
	return a.Kind, nil
}
