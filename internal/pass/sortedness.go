package pass

import (
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/types"
	"github.com/roach88/dagopt/internal/udf"
)

func runDetermineSortedness(g *dag.Graph, env *Env) error {
	return PropagateSortedness(g, env.analyzer())
}

// PropagateSortedness recomputes the Sorted, Unique and Grouped properties
// of every output field. Properties start empty and only flow downstream;
// at the end every Unique or Sorted field is also marked Grouped.
func PropagateSortedness(g *dag.Graph, a udf.Analyzer) error {
	resetProps := func(g *dag.Graph, op dag.Operator) error {
		o := ops.Must(op)
		t := o.Type().Clone()
		for i := range t {
			t[i].Props = types.NoProps
		}
		o.SetType(t)
		return nil
	}
	if err := dag.ApplyInTopologicalOrderRecursive(g, resetProps, nil); err != nil {
		return err
	}

	enter := func(g *dag.Graph, op dag.Operator) error {
		inner := g.Inner(op)
		if inner == nil {
			return nil
		}
		for port := 0; port < op.NumInPorts(); port++ {
			in, err := inputType(g, op, port)
			if err != nil {
				return err
			}
			inner.SetInputType(port, in.Clone())
		}
		return nil
	}
	exit := func(g *dag.Graph, op dag.Operator) error {
		o := ops.Must(op)
		out := o.Type()
		if out == nil {
			return typeErr(g, op, "operator has no type; run type inference first")
		}
		if err := propagateProps(g, o, out, a); err != nil {
			return err
		}
		for i := range out {
			out[i].Props = out[i].Props.Close()
		}
		return nil
	}
	return dag.ApplyInTopologicalOrderRecursive(g, enter, exit)
}

func propagateProps(g *dag.Graph, op ops.Operator, out types.Tuple, a udf.Analyzer) error {
	first := func() (types.Tuple, error) { return inputType(g, op, 0) }
	copyAt := func(dst int, p types.Props) {
		if dst >= 0 && dst < len(out) {
			out[dst].Props |= p
		}
	}
	uniqueSorted := types.Unique | types.Sorted

	switch o := op.(type) {
	case *ops.RangeSource:
		copyAt(0, uniqueSorted)

	case *ops.RowScan:
		if o.AddIndex {
			copyAt(0, uniqueSorted)
		}

	case *ops.ColumnScan:
		if o.AddIndex {
			copyAt(0, uniqueSorted)
		}

	case *ops.Filter, *ops.SemiJoin, *ops.AntiJoin, *ops.EnsureSingleTuple:
		in, err := first()
		if err != nil {
			return err
		}
		for i, f := range in {
			copyAt(i, f.Props)
		}

	case *ops.Map:
		in, err := first()
		if err != nil {
			return err
		}
		for arg, f := range in {
			for _, p := range a.OutputPositions(o.Func, arg) {
				copyAt(p, f.Props)
			}
		}

	case *ops.Projection:
		in, err := first()
		if err != nil {
			return err
		}
		for i, p := range o.Positions {
			if p < len(in) {
				copyAt(i, in[p].Props)
			}
		}

	case *ops.Join:
		left, err := inputType(g, op, 0)
		if err != nil {
			return err
		}
		right, err := inputType(g, op, 1)
		if err != nil {
			return err
		}
		if keysUnique(left, o.NumKeys) && keysUnique(right, o.NumKeys) {
			for k := 0; k < o.NumKeys; k++ {
				copyAt(k, types.Unique)
			}
		}

	case *ops.Exchange:
		in, err := first()
		if err != nil {
			return err
		}
		for i := 1; i < len(in); i++ {
			if in[i].Props.Has(types.Unique) {
				copyAt(i-1, types.Unique)
			}
		}

	case *ops.ReduceByKey, *ops.ReduceByKeyGrouped:
		copyAt(0, types.Unique)

	case *ops.GroupBy:
		if o.NumKeys == 1 {
			copyAt(0, types.Unique)
		}

	case *ops.ParameterLookup:
		if in, ok := g.InputType(o.Index); ok {
			for i, f := range in {
				copyAt(i, f.Props&uniqueSorted)
			}
		}

	case *ops.Pipeline:
		inner, err := innerOutputType(g, op)
		if err != nil {
			return err
		}
		for i, f := range inner {
			copyAt(i, f.Props)
		}

	case *ops.ConcurrentExecute, *ops.ParallelMap:
		// One single tuple per worker or per input tuple is not a single
		// tuple overall.
		inner, err := innerOutputType(g, op)
		if err != nil {
			return err
		}
		if sink, _ := g.Inner(op).Output(0); ops.Has(sink.Op, ops.CapSingleTuple) {
			break
		}
		for i, f := range inner {
			copyAt(i, f.Props)
		}
	}

	if op.Kind().Has(ops.CapSingleTuple) {
		for i := range out {
			copyAt(i, uniqueSorted)
		}
	}
	return nil
}

func keysUnique(t types.Tuple, numKeys int) bool {
	if numKeys != 1 || len(t) == 0 {
		return false
	}
	return t[0].Props.Has(types.Unique)
}
