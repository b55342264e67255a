// Package udf holds the bodies of user-defined functions attached to Map,
// Filter and the reduce operators, together with the analyzer interface the
// passes consult about them.
//
// Function bodies are small expression trees over the argument tuple. Real
// deployments plug in an analyzer backed by their IR; the Descriptor
// analyzer in this package answers the same questions by inspecting the
// expression trees directly.
package udf

import (
	"fmt"
	"slices"
)

// Op names one expression node kind.
type Op string

const (
	OpArg   Op = "arg"
	OpConst Op = "const"

	OpAdd Op = "add"
	OpSub Op = "sub"
	OpMul Op = "mul"
	OpDiv Op = "div"

	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpLt  Op = "lt"
	OpLe  Op = "le"
	OpGt  Op = "gt"
	OpGe  Op = "ge"
	OpAnd Op = "and"
	OpOr  Op = "or"
	OpNot Op = "not"
)

var arity = map[Op]int{
	OpArg: 0, OpConst: 0,
	OpAdd: 2, OpSub: 2, OpMul: 2, OpDiv: 2,
	OpEq: 2, OpNe: 2, OpLt: 2, OpLe: 2, OpGt: 2, OpGe: 2,
	OpAnd: 2, OpOr: 2, OpNot: 1,
}

// IsArithmetic reports whether op computes a numeric result.
func (op Op) IsArithmetic() bool {
	return op == OpAdd || op == OpSub || op == OpMul || op == OpDiv
}

// IsPredicate reports whether op computes a boolean result.
func (op Op) IsPredicate() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpAnd, OpOr, OpNot:
		return true
	}
	return false
}

// Expr is one node of a function body.
type Expr struct {
	Op    Op     `json:"op" mapstructure:"op"`
	Arg   int    `json:"arg,omitempty" mapstructure:"arg"`
	Value string `json:"value,omitempty" mapstructure:"value"`
	Type  string `json:"type,omitempty" mapstructure:"type"`
	Args  []Expr `json:"args,omitempty" mapstructure:"args"`
}

// Arg returns an expression reading argument i.
func Arg(i int) Expr { return Expr{Op: OpArg, Arg: i} }

// Const returns a literal of the given atomic type name.
func Const(value, typ string) Expr { return Expr{Op: OpConst, Value: value, Type: typ} }

// Call returns an operator application.
func Call(op Op, args ...Expr) Expr { return Expr{Op: op, Args: args} }

// Function is a compiled function body: one expression per result field.
type Function struct {
	Name    string `json:"name,omitempty" mapstructure:"name"`
	Results []Expr `json:"results" mapstructure:"results"`
}

// IsZero reports whether f has no body.
func (f Function) IsZero() bool { return f.Name == "" && len(f.Results) == 0 }

// Clone returns a deep copy of f.
func (f Function) Clone() Function {
	out := Function{Name: f.Name, Results: make([]Expr, len(f.Results))}
	for i, e := range f.Results {
		out.Results[i] = e.clone()
	}
	return out
}

func (e Expr) clone() Expr {
	out := e
	if e.Args != nil {
		out.Args = make([]Expr, len(e.Args))
		for i, a := range e.Args {
			out.Args[i] = a.clone()
		}
	}
	return out
}

// Validate checks operator names and arities.
func (f Function) Validate() error {
	for i, e := range f.Results {
		if err := e.validate(); err != nil {
			return fmt.Errorf("function %q result %d: %w", f.Name, i, err)
		}
	}
	return nil
}

func (e Expr) validate() error {
	n, ok := arity[e.Op]
	if !ok {
		return fmt.Errorf("unknown op %q", e.Op)
	}
	if len(e.Args) != n {
		return fmt.Errorf("op %q takes %d operands, got %d", e.Op, n, len(e.Args))
	}
	if e.Op == OpArg && e.Arg < 0 {
		return fmt.Errorf("negative argument index %d", e.Arg)
	}
	for _, a := range e.Args {
		if err := a.validate(); err != nil {
			return err
		}
	}
	return nil
}

// ArgsRead returns the sorted argument indices referenced anywhere in f.
func (f Function) ArgsRead() []int {
	var args []int
	for _, e := range f.Results {
		e.walk(func(x Expr) {
			if x.Op == OpArg {
				args = append(args, x.Arg)
			}
		})
	}
	slices.Sort(args)
	return slices.Compact(args)
}

func (e Expr) walk(fn func(Expr)) {
	fn(e)
	for _, a := range e.Args {
		a.walk(fn)
	}
}

func (e Expr) mapArgs(fn func(int) (int, error)) (Expr, error) {
	out := e
	if e.Op == OpArg {
		i, err := fn(e.Arg)
		if err != nil {
			return Expr{}, err
		}
		out.Arg = i
	}
	if e.Args != nil {
		out.Args = make([]Expr, len(e.Args))
		for i, a := range e.Args {
			m, err := a.mapArgs(fn)
			if err != nil {
				return Expr{}, err
			}
			out.Args[i] = m
		}
	}
	return out, nil
}
