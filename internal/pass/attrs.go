package pass

import (
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/types"
	"github.com/roach88/dagopt/internal/udf"
)

func runAttributeIDTracking(g *dag.Graph, env *Env) error {
	return TrackAttributes(g, env.analyzer())
}

// TrackAttributes assigns attribute ids to every output field and
// recomputes the read, write and dead sets of every operator. Fields that
// forward an input column unchanged carry the input's attribute; all other
// fields get an attribute no input carries.
//
// Types must be current: run type inference first.
func TrackAttributes(g *dag.Graph, a udf.Analyzer) error {
	t := &attrTracker{analyzer: a, minted: make(map[types.Attr]dag.Operator)}
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
	return dag.ApplyInTopologicalOrderRecursive(g, enter, t.visit)
}

type attrTracker struct {
	analyzer udf.Analyzer
	// minted records which operator introduced each fresh attribute so two
	// operators never share one by accident.
	minted map[types.Attr]dag.Operator
}

func (t *attrTracker) visit(g *dag.Graph, op dag.Operator) error {
	o := ops.Must(op)
	if o.Type() == nil {
		return typeErr(g, op, "operator has no type; run type inference first")
	}

	var in []types.Tuple
	if _, ok := o.(*ops.ParameterLookup); !ok {
		var err error
		if in, err = inputTypes(g, op); err != nil {
			return err
		}
	}
	var inAttrs types.AttrSet
	for _, tup := range in {
		inAttrs = inAttrs.Union(tup.Attrs())
	}

	out := o.Type().Clone()
	pass := make([]types.Attr, len(out))
	forward := func(dst int, f types.Field) {
		if dst < len(pass) {
			pass[dst] = f.Attr
		}
	}
	forwardAll := func(offset int, src types.Tuple) {
		for i, f := range src {
			forward(offset+i, f)
		}
	}
	var read types.AttrSet

	switch x := o.(type) {
	case *ops.RangeSource, *ops.CollectionSource, *ops.ConstantTuple, *ops.CompiledPipeline:

	case *ops.ParameterLookup:
		if src, ok := g.InputType(x.Index); ok && len(src) == len(out) {
			forwardAll(0, src)
		}

	case *ops.Filter:
		forwardAll(0, in[0])
		read = argsRead(t.analyzer, x.Func, in[0])

	case *ops.EnsureSingleTuple:
		forwardAll(0, in[0])

	case *ops.SemiJoin:
		forwardAll(0, in[0])
		read = keyAttrs(x.NumKeys, in...)

	case *ops.AntiJoin:
		forwardAll(0, in[0])
		read = keyAttrs(x.NumKeys, in...)

	case *ops.Map:
		for arg, f := range in[0] {
			for _, p := range t.analyzer.OutputPositions(x.Func, arg) {
				forward(p, f)
			}
		}
		read = argsRead(t.analyzer, x.Func, in[0])

	case *ops.Projection:
		for i, p := range x.Positions {
			if p < len(in[0]) {
				forward(i, in[0][p])
			}
		}

	case *ops.Join:
		forwardAll(0, in[0])
		if x.NumKeys <= len(in[1]) {
			forwardAll(len(in[0]), in[1][x.NumKeys:])
		}
		read = keyAttrs(x.NumKeys, in...)

	case *ops.CartesianProduct:
		forwardAll(0, in[0])
		forwardAll(len(in[0]), in[1])

	case *ops.ExpandPattern:
		forwardAll(0, in[0])
		read = in[0].Attrs().Union(in[1].Attrs())

	case *ops.Partition:
		forwardAll(1, in[0])
		read = keyAttrs(1, in[0])

	case *ops.Exchange:
		if len(in[0]) > 0 {
			forwardAll(0, in[0][1:])
		}

	case *ops.ReduceByKey, *ops.ReduceByKeyGrouped:
		forwardAll(0, in[0][:min(1, len(in[0]))])
		read = in[0].Attrs()

	case *ops.Reduce:
		read = in[0].Attrs()

	case *ops.GroupBy:
		forwardAll(0, in[0][:min(x.NumKeys, len(in[0]))])
		read = keyAttrs(x.NumKeys, in[0])

	case *ops.RowScan:
		if elem, ok := arrayElem(in[0], 0); ok {
			offset := 0
			if x.AddIndex {
				offset = 1
			}
			forwardAll(offset, elem)
		}

	case *ops.ColumnScan:
		offset := 0
		if x.AddIndex {
			offset = 1
		}
		for i := range in[0] {
			if elem, ok := arrayElem(in[0], i); ok && len(elem) == 1 {
				forward(offset+i, elem[0])
			}
		}

	case *ops.MaterializeRowVector:
		out[0].Type = types.Array{Elem: in[0].Clone()}

	case *ops.MaterializeColumnChunks:
		for i, f := range in[0] {
			if i < len(out) {
				out[i].Type = types.Array{Elem: types.Tuple{f}.Clone()}
			}
		}

	case *ops.Pipeline, *ops.ParallelMap, *ops.ConcurrentExecute:
		inner, err := innerOutputType(g, op)
		if err != nil {
			return err
		}
		if len(inner) == len(out) {
			forwardAll(0, inner)
		}

	default:
		return ops.Unsupported(g.MustID(op), op)
	}

	for i := range out {
		if pass[i] != types.NoAttr {
			out[i].Attr = pass[i]
			continue
		}
		out[i].Attr = t.fresh(op, out[i].Attr, inAttrs)
	}
	o.SetType(out)

	outAttrs := out.Attrs()
	write := outAttrs.Minus(inAttrs)
	dead := inAttrs.Minus(read).Minus(outAttrs)
	o.SetAttrSets(read, write, dead)
	return nil
}

// fresh returns prev when it is still usable as a new attribute of op,
// otherwise a newly allocated one.
func (t *attrTracker) fresh(op dag.Operator, prev types.Attr, inAttrs types.AttrSet) types.Attr {
	if prev != types.NoAttr && !inAttrs.Contains(prev) {
		if owner, ok := t.minted[prev]; !ok || owner == op {
			t.minted[prev] = op
			return prev
		}
	}
	a := types.NewAttr()
	t.minted[a] = op
	return a
}

func argsRead(a udf.Analyzer, fn udf.Function, in types.Tuple) types.AttrSet {
	var attrs []types.Attr
	for arg, f := range in {
		if a.IsArgumentRead(fn, arg) && f.Attr != types.NoAttr {
			attrs = append(attrs, f.Attr)
		}
	}
	return types.NewAttrSet(attrs...)
}

func keyAttrs(numKeys int, in ...types.Tuple) types.AttrSet {
	var attrs []types.Attr
	for _, t := range in {
		for k := 0; k < numKeys && k < len(t); k++ {
			if t[k].Attr != types.NoAttr {
				attrs = append(attrs, t[k].Attr)
			}
		}
	}
	return types.NewAttrSet(attrs...)
}

func arrayElem(t types.Tuple, i int) (types.Tuple, bool) {
	if i >= len(t) {
		return nil, false
	}
	arr, ok := t[i].Type.(types.Array)
	return arr.Elem, ok
}
