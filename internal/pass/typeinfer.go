package pass

import (
	"fmt"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
	"github.com/roach88/dagopt/internal/types"
	"github.com/roach88/dagopt/internal/udf"
)

// Type inference modes.
const (
	ModeRecompute = "recompute"
	ModeCheck     = "check"
)

type typeInferenceSettings struct {
	Mode string `mapstructure:"mode"`
}

func runTypeInference(g *dag.Graph, env *Env) error {
	s := typeInferenceSettings{Mode: ModeRecompute}
	if err := env.Decode(TypeInference, &s); err != nil {
		return err
	}
	switch s.Mode {
	case ModeRecompute:
		return InferTypes(g, env.analyzer(), false)
	case ModeCheck:
		return InferTypes(g, env.analyzer(), true)
	default:
		return planerr.Configuration("optimizations.type_inference.mode", "unknown mode %q", s.Mode)
	}
}

func runTypeCheck(g *dag.Graph, env *Env) error {
	return InferTypes(g, env.analyzer(), true)
}

// InferTypes computes the output type of every operator from its inputs.
// In recompute mode the stored types are overwritten; attributes and
// properties survive at fields whose type did not change. In check mode a
// stored type that differs from the computed one is a TypeError.
func InferTypes(g *dag.Graph, a udf.Analyzer, check bool) error {
	enter := func(g *dag.Graph, op dag.Operator) error {
		inner := g.Inner(op)
		if inner == nil {
			return nil
		}
		for port := 0; port < op.NumInPorts(); port++ {
			t, err := inputType(g, op, port)
			if err != nil {
				return err
			}
			inner.SetInputType(port, t.Clone())
		}
		return nil
	}
	exit := func(g *dag.Graph, op dag.Operator) error {
		o := ops.Must(op)
		computed, err := computeType(g, o, a)
		if err != nil {
			return err
		}
		stored := o.Type()
		if check {
			if stored == nil || !stored.Equal(computed) {
				return &planerr.TypeError{
					OpID:     g.MustID(op),
					Kind:     op.Name(),
					Message:  "stored type disagrees with inferred type",
					Expected: computed.String(),
					Found:    stored.String(),
				}
			}
			return nil
		}
		o.SetType(stored.Retype(computed.Clone().Types()))
		return nil
	}
	return dag.ApplyInTopologicalOrderRecursive(g, enter, exit)
}

// inputType returns the type arriving at port of op, either from the
// producing operator or from the DAG-level input bound to the port.
func inputType(g *dag.Graph, op dag.Operator, port int) (types.Tuple, error) {
	if f, ok := g.InFlow(op, port); ok {
		t := ops.Must(f.Source).Type()
		if t == nil {
			return nil, typeErr(g, f.Source, "operator has no type yet")
		}
		return t, nil
	}
	if dp, ok := g.InputBinding(op, port); ok {
		t, ok := g.InputType(dp)
		if !ok {
			return nil, typeErr(g, op, fmt.Sprintf("DAG input %d has no type", dp))
		}
		return t, nil
	}
	return nil, planerr.StructuralAt(planerr.CodeMissingPredecessor, g.MustID(op), op.Name(),
		"input port %d is not fed", port)
}

func inputTypes(g *dag.Graph, op dag.Operator) ([]types.Tuple, error) {
	in := make([]types.Tuple, op.NumInPorts())
	for port := range in {
		t, err := inputType(g, op, port)
		if err != nil {
			return nil, err
		}
		in[port] = t
	}
	return in, nil
}

func typeErr(g *dag.Graph, op dag.Operator, msg string) error {
	return &planerr.TypeError{OpID: g.MustID(op), Kind: op.Name(), Message: msg}
}

func innerOutputType(g *dag.Graph, op dag.Operator) (types.Tuple, error) {
	inner := g.Inner(op)
	if inner == nil {
		return nil, typeErr(g, op, "nested graph missing")
	}
	out, ok := inner.Output(0)
	if !ok {
		return nil, typeErr(g, op, "nested graph has no output 0")
	}
	t := ops.Must(out.Op).Type()
	if t == nil {
		return nil, typeErr(g, op, "nested output has no type")
	}
	return t, nil
}

func checkKeys(g *dag.Graph, op dag.Operator, numKeys int, sides ...types.Tuple) error {
	for i, t := range sides {
		if len(t) == 0 {
			return typeErr(g, op, fmt.Sprintf("input %d is an empty tuple", i))
		}
		if numKeys < 1 || numKeys > len(t) {
			return typeErr(g, op, fmt.Sprintf("%d key columns on a %d-field input", numKeys, len(t)))
		}
		for k := 0; k < numKeys; k++ {
			if !types.IsAtomic(t[k].Type) {
				return &planerr.TypeError{OpID: g.MustID(op), Kind: op.Name(),
					Message: fmt.Sprintf("key column %d of input %d is not atomic", k, i),
					Expected: "atomic", Found: t[k].Type.String()}
			}
		}
	}
	if len(sides) == 2 {
		for k := 0; k < numKeys; k++ {
			if !sides[0][k].Type.Equal(sides[1][k].Type) {
				return &planerr.TypeError{OpID: g.MustID(op), Kind: op.Name(),
					Message:  fmt.Sprintf("key column %d differs between inputs", k),
					Expected: sides[0][k].Type.String(), Found: sides[1][k].Type.String()}
			}
		}
	}
	return nil
}

func scanElem(g *dag.Graph, op dag.Operator, f types.Field) (types.Tuple, error) {
	arr, ok := f.Type.(types.Array)
	if !ok {
		return nil, &planerr.TypeError{OpID: g.MustID(op), Kind: op.Name(),
			Message: "scan input is not an array", Expected: "array", Found: f.Type.String()}
	}
	return arr.Elem, nil
}

var indexField = types.Field{Type: types.Atomic{Kind: types.Int64}}

// computeType is the per-kind typing rule. Every catalog kind must be
// handled here.
func computeType(g *dag.Graph, op ops.Operator, a udf.Analyzer) (types.Tuple, error) {
	var in []types.Tuple
	switch op.(type) {
	case *ops.ParameterLookup, *ops.ConcurrentExecute, *ops.Pipeline, *ops.ParallelMap, *ops.CompiledPipeline:
	default:
		var err error
		if in, err = inputTypes(g, op); err != nil {
			return nil, err
		}
	}

	switch o := op.(type) {
	case *ops.RangeSource:
		return types.FromTypes(types.Atomic{Kind: o.Elem}), nil

	case *ops.CollectionSource, *ops.ConstantTuple, *ops.CompiledPipeline:
		if op.Type() == nil {
			return nil, typeErr(g, op, "declared output type missing")
		}
		if c, ok := op.(*ops.CompiledPipeline); ok {
			for port := 0; port < c.NumInPorts(); port++ {
				if _, err := inputType(g, op, port); err != nil {
					return nil, err
				}
			}
		}
		return op.Type().Clone(), nil

	case *ops.RowScan:
		if len(in[0]) != 1 {
			return nil, typeErr(g, op, fmt.Sprintf("row scan over a %d-field input", len(in[0])))
		}
		elem, err := scanElem(g, op, in[0][0])
		if err != nil {
			return nil, err
		}
		if o.AddIndex {
			return types.Concat(types.Tuple{indexField}, elem), nil
		}
		return elem.Clone(), nil

	case *ops.ColumnScan:
		if len(in[0]) == 0 {
			return nil, typeErr(g, op, "column scan over an empty tuple")
		}
		var out types.Tuple
		if o.AddIndex {
			out = types.Tuple{indexField}
		}
		for _, f := range in[0] {
			elem, err := scanElem(g, op, f)
			if err != nil {
				return nil, err
			}
			if len(elem) != 1 {
				return nil, typeErr(g, op, "column chunk element is not a single field")
			}
			out = types.Concat(out, elem)
		}
		return out, nil

	case *ops.Map:
		out, err := a.ResultType(o.Func, in[0])
		if err != nil {
			return nil, typeErr(g, op, err.Error())
		}
		return out, nil

	case *ops.Filter:
		res, err := a.ResultType(o.Func, in[0])
		if err != nil {
			return nil, typeErr(g, op, err.Error())
		}
		if !res.Equal(types.FromTypes(types.Atomic{Kind: types.Bool})) {
			return nil, &planerr.TypeError{OpID: g.MustID(op), Kind: op.Name(),
				Message: "predicate must return a single bool", Expected: "{bool}", Found: res.String()}
		}
		return in[0].Clone(), nil

	case *ops.Join:
		if err := checkKeys(g, op, o.NumKeys, in[0], in[1]); err != nil {
			return nil, err
		}
		return types.Concat(in[0], in[1][o.NumKeys:]), nil

	case *ops.AntiJoin:
		if err := checkKeys(g, op, o.NumKeys, in[0], in[1]); err != nil {
			return nil, err
		}
		return in[0].Clone(), nil

	case *ops.SemiJoin:
		if err := checkKeys(g, op, o.NumKeys, in[0], in[1]); err != nil {
			return nil, err
		}
		return in[0].Clone(), nil

	case *ops.CartesianProduct:
		return types.Concat(in[0], in[1]), nil

	case *ops.ExpandPattern:
		return types.Concat(in[0], types.Tuple{indexField}), nil

	case *ops.GroupBy:
		if err := checkKeys(g, op, o.NumKeys, in[0]); err != nil {
			return nil, err
		}
		agg, err := innerOutputType(g, op)
		if err != nil {
			return nil, err
		}
		return types.Concat(in[0][:o.NumKeys], agg), nil

	case *ops.Partition:
		if err := checkKeys(g, op, 1, in[0]); err != nil {
			return nil, err
		}
		return types.Concat(types.Tuple{indexField}, in[0]), nil

	case *ops.Exchange:
		if len(in[0]) < 2 || !in[0][0].Type.Equal(indexField.Type) {
			return nil, &planerr.TypeError{OpID: g.MustID(op), Kind: op.Name(),
				Message: "exchange expects a partition id column", Expected: "{int64,...}", Found: in[0].String()}
		}
		return in[0][1:].Clone(), nil

	case *ops.ReduceByKey, *ops.ReduceByKeyGrouped:
		if err := checkKeys(g, op, 1, in[0]); err != nil {
			return nil, err
		}
		return in[0].Clone(), nil

	case *ops.Reduce:
		if len(in[0]) == 0 {
			return nil, typeErr(g, op, "reduce over an empty tuple")
		}
		return in[0].Clone(), nil

	case *ops.Projection:
		out := make(types.Tuple, len(o.Positions))
		for i, p := range o.Positions {
			if p < 0 || p >= len(in[0]) {
				return nil, typeErr(g, op, fmt.Sprintf("position %d out of range for %s", p, in[0]))
			}
			out[i] = in[0][p]
		}
		return out.Clone(), nil

	case *ops.ParameterLookup:
		t, ok := g.InputType(o.Index)
		if !ok {
			return nil, typeErr(g, op, fmt.Sprintf("parameter %d has no type", o.Index))
		}
		return t.Clone(), nil

	case *ops.MaterializeRowVector:
		return types.FromTypes(types.Array{Elem: in[0].Clone()}), nil

	case *ops.MaterializeColumnChunks:
		if len(in[0]) == 0 {
			return nil, typeErr(g, op, "materializing an empty tuple")
		}
		ts := make([]types.Type, len(in[0]))
		for i, f := range in[0] {
			ts[i] = types.Array{Elem: types.Tuple{f}.Clone()}
		}
		return types.FromTypes(ts...), nil

	case *ops.EnsureSingleTuple:
		return in[0].Clone(), nil

	case *ops.Pipeline, *ops.ParallelMap, *ops.ConcurrentExecute:
		for port := 0; port < op.NumInPorts(); port++ {
			if _, err := inputType(g, op, port); err != nil {
				return nil, err
			}
		}
		out, err := innerOutputType(g, op)
		if err != nil {
			return nil, err
		}
		return out.Clone(), nil
	}
	return nil, ops.Unsupported(g.MustID(op), op)
}
