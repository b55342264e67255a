package pass

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
)

type verifySettings struct {
	// Types additionally runs a type check after the structural checks.
	Types bool `mapstructure:"types"`
}

func runVerify(g *dag.Graph, env *Env) error {
	var s verifySettings
	if err := env.Decode(Verify, &s); err != nil {
		return err
	}
	if err := VerifyGraph(g); err != nil {
		return err
	}
	if s.Types {
		return InferTypes(g, env.analyzer(), true)
	}
	return nil
}

// VerifyGraph checks the structural invariants every pass must preserve
// and returns all violations found, joined.
func VerifyGraph(g *dag.Graph) error {
	var errs []error
	verifyInto(g, &errs)
	return errors.Join(errs...)
}

func verifyInto(g *dag.Graph, errs *[]error) {
	fail := func(op dag.Operator, check string, expected, actual any) {
		id := planerr.NoOp
		kind := ""
		if op != nil {
			id, kind = g.MustID(op), op.Name()
		}
		*errs = append(*errs, &planerr.VerificationError{
			OpID: id, Kind: kind, Check: check,
			Expected: fmt.Sprint(expected), Actual: fmt.Sprint(actual),
		})
	}

	if g.HasCycle() {
		fail(nil, "acyclic", "no cycle", "cycle")
		return
	}

	for _, op := range g.Operators() {
		for port := 0; port < op.NumInPorts(); port++ {
			n := g.InDegreePort(op, port)
			for _, in := range g.InputsOf(op) {
				if in.OpPort == port {
					n++
				}
			}
			if n != 1 {
				fail(op, "input port "+strconv.Itoa(port)+" feeds", 1, n)
			}
		}
		for port := 0; port < op.NumOutPorts(); port++ {
			if g.OutDegreePort(op, port) > 0 {
				continue
			}
			bound := false
			for _, out := range g.OutputsOf(op) {
				bound = bound || out.OpPort == port
			}
			if !bound {
				fail(op, "output port "+strconv.Itoa(port)+" consumed", "consumer or DAG output", "none")
			}
		}

		o := ops.Must(op)
		inner := g.Inner(op)
		nested := o.Kind().Has(ops.CapNested)
		switch {
		case nested && inner == nil:
			fail(op, "nested graph", "present", "missing")
			continue
		case !nested && inner != nil:
			fail(op, "nested graph", "absent", "present")
			continue
		case inner == nil:
			continue
		}

		if inner.NumOutputs() != op.NumOutPorts() {
			fail(op, "nested outputs", op.NumOutPorts(), inner.NumOutputs())
		}
		if o.Kind().Has(ops.CapParameterized) {
			if inner.NumInputs() != 0 {
				fail(op, "nested inputs", 0, inner.NumInputs())
			}
			for _, pl := range parameterLookups(inner) {
				if pl.Index < 0 || pl.Index >= op.NumInPorts() {
					fail(op, "parameter index", fmt.Sprintf("< %d", op.NumInPorts()), pl.Index)
				}
			}
		} else if inner.NumInputs() != op.NumInPorts() {
			fail(op, "nested inputs", op.NumInPorts(), inner.NumInputs())
		}
		verifyInto(inner, errs)
	}
}
