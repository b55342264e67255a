package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/pass"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed: %s: expected %s, actual %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion against g and returns the
// failure messages.
func EvaluateAssertions(g *dag.Graph, assertions []Assertion) []string {
	var errs []string
	for _, a := range assertions {
		if err := evaluate(g, a); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(g *dag.Graph, a Assertion) error {
	switch a.Type {
	case AssertOperatorCount:
		return assertOperatorCount(g, a)
	case AssertVerify:
		if err := pass.VerifyGraph(g); err != nil {
			return &AssertionError{Type: a.Type, Expected: "a well-formed plan", Actual: err.Error()}
		}
	case AssertAcyclic:
		var cyclic []string
		walk(g, func(g *dag.Graph, op dag.Operator) {
			if inner := g.Inner(op); inner != nil && inner.HasCycle() {
				cyclic = append(cyclic, fmt.Sprintf("%s %d", op.Name(), g.MustID(op)))
			}
		})
		if g.HasCycle() {
			cyclic = append(cyclic, "top level")
		}
		if len(cyclic) > 0 {
			return &AssertionError{Type: a.Type, Expected: "no cycles", Actual: "cycle in " + strings.Join(cyclic, ", ")}
		}
	case AssertOutputType:
		return assertOutputType(g, a)
	case AssertNestedSink:
		return assertNestedSink(g, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// walk visits every operator of g and of its nested graphs, outer first.
func walk(g *dag.Graph, fn func(*dag.Graph, dag.Operator)) {
	for _, op := range g.Operators() {
		fn(g, op)
		if inner := g.Inner(op); inner != nil {
			walk(inner, fn)
		}
	}
}

func assertOperatorCount(g *dag.Graph, a Assertion) error {
	n := 0
	walk(g, func(_ *dag.Graph, op dag.Operator) {
		if a.Kind == "" || op.Name() == a.Kind {
			n++
		}
	})
	if n != a.Count {
		what := a.Kind
		if what == "" {
			what = "any"
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d operators of kind %s", a.Count, what),
			Actual:   fmt.Sprintf("%d", n),
		}
	}
	return nil
}

func assertOutputType(g *dag.Graph, a Assertion) error {
	var found ops.Operator
	walk(g, func(_ *dag.Graph, op dag.Operator) {
		if found == nil && op.Name() == a.OpKind {
			found = ops.Must(op)
		}
	})
	switch {
	case found == nil:
		return &AssertionError{Type: a.Type, Expected: "an operator of kind " + a.OpKind, Actual: "none"}
	case found.Type() == nil:
		return &AssertionError{Type: a.Type, Expected: a.Expect, Actual: "untyped"}
	case found.Type().String() != a.Expect:
		return &AssertionError{Type: a.Type, Expected: a.Expect, Actual: found.Type().String()}
	}
	return nil
}

func assertNestedSink(g *dag.Graph, a Assertion) error {
	var seen []string
	ok := false
	walk(g, func(g *dag.Graph, op dag.Operator) {
		inner := g.Inner(op)
		if ok || op.Name() != a.Kind || inner == nil {
			return
		}
		chain := sinkChain(inner, len(a.Chain))
		if slices.Equal(chain, a.Chain) {
			ok = true
			return
		}
		seen = append(seen, "["+strings.Join(chain, " ")+"]")
	})
	if ok {
		return nil
	}
	actual := "no operator of kind " + a.Kind
	if len(seen) > 0 {
		actual = strings.Join(seen, ", ")
	}
	return &AssertionError{Type: a.Type, Expected: "[" + strings.Join(a.Chain, " ") + "]", Actual: actual}
}

// sinkChain returns up to n kinds starting at output 0 of inner and
// following input port 0 upwards.
func sinkChain(inner *dag.Graph, n int) []string {
	out, ok := inner.Output(0)
	if !ok {
		return nil
	}
	var chain []string
	op := out.Op
	for len(chain) < n {
		chain = append(chain, op.Name())
		pred, ok := inner.Predecessor(op, 0)
		if !ok {
			break
		}
		op = pred
	}
	return chain
}
