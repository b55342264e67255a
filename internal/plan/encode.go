package plan

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/udf"
)

// Marshal encodes g as an indented plan document. Output is deterministic:
// operators appear by id and object keys are sorted.
func Marshal(g *dag.Graph) ([]byte, error) {
	compact, err := MarshalCompact(g)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// MarshalCompact encodes g as canonical JSON without whitespace.
func MarshalCompact(g *dag.Graph) ([]byte, error) {
	doc, err := Encode(g)
	if err != nil {
		return nil, err
	}
	return MarshalCanonical(doc)
}

// Encode converts g into the plan document value tree.
func Encode(g *dag.Graph) (map[string]any, error) {
	operators := make([]any, 0, g.Len())
	for _, o := range g.Operators() {
		op, ok := ops.Of(o)
		if !ok {
			return nil, fmt.Errorf("operator %s is not a catalog operator", o.Name())
		}
		m, err := encodeOperator(g, op)
		if err != nil {
			return nil, err
		}
		operators = append(operators, m)
	}

	inputs := make([]any, 0)
	for _, in := range g.Inputs() {
		m := map[string]any{
			"op":       g.MustID(in.Op),
			"op_port":  in.OpPort,
			"dag_port": in.DAGPort,
		}
		if t, ok := g.InputType(in.DAGPort); ok {
			m["type"] = t.String()
		}
		inputs = append(inputs, m)
	}

	outs := g.Outputs()
	outputs := make([]any, 0)
	if len(outs) > 0 {
		outputs = make([]any, outs[len(outs)-1].DAGPort+1)
		for _, out := range outs {
			outputs[out.DAGPort] = map[string]any{"op": g.MustID(out.Op), "port": out.OpPort}
		}
	}

	return map[string]any{
		"operators": operators,
		"inputs":    inputs,
		"outputs":   outputs,
	}, nil
}

func encodeOperator(g *dag.Graph, op ops.Operator) (map[string]any, error) {
	m := Params(op)
	m[keyID] = g.MustID(op)
	m[keyOp] = op.Name()
	if t := op.Type(); t != nil {
		m[keyOutputType] = t.String()
	}
	if op.NumInPorts() > 0 {
		preds := make([]any, op.NumInPorts())
		for port := range preds {
			if f, ok := g.InFlow(op, port); ok {
				preds[port] = map[string]any{"op": g.MustID(f.Source), "port": f.SourcePort}
			}
		}
		m[keyPredecessors] = preds
	}
	if inner := g.Inner(op); inner != nil {
		doc, err := Encode(inner)
		if err != nil {
			return nil, fmt.Errorf("operator %d inner_dag: %w", g.MustID(op), err)
		}
		m[keyInnerDAG] = doc
	}
	return m, nil
}

// Params returns the kind-specific fields of op, including its function
// body, as a value tree. Two operators of the same kind with equal Params
// compute the same thing.
func Params(op ops.Operator) map[string]any {
	m := make(map[string]any)
	switch o := op.(type) {
	case *ops.RangeSource:
		m["from"], m["to"], m["step"] = o.From, o.To, o.Step
		m["elem"] = o.Elem.String()
	case *ops.CollectionSource:
		m["source"] = o.Source
	case *ops.RowScan:
		m["add_index"] = o.AddIndex
	case *ops.ColumnScan:
		m["add_index"] = o.AddIndex
	case *ops.Map:
		m[keyFunc] = encodeFunc(o.Func)
	case *ops.Filter:
		m[keyFunc] = encodeFunc(o.Func)
	case *ops.Reduce:
		m[keyFunc] = encodeFunc(o.Func)
	case *ops.ReduceByKey:
		m[keyFunc] = encodeFunc(o.Func)
	case *ops.ReduceByKeyGrouped:
		m[keyFunc] = encodeFunc(o.Func)
	case *ops.Join:
		m["num_keys"] = o.NumKeys
	case *ops.AntiJoin:
		m["num_keys"] = o.NumKeys
	case *ops.SemiJoin:
		m["num_keys"] = o.NumKeys
	case *ops.GroupBy:
		m["num_keys"] = o.NumKeys
	case *ops.Partition:
		m["num_partitions"] = o.NumPartitions
	case *ops.Exchange:
		m["num_partitions"] = o.NumPartitions
	case *ops.Projection:
		pos := make([]any, len(o.Positions))
		for i, p := range o.Positions {
			pos[i] = p
		}
		m["positions"] = pos
	case *ops.ConstantTuple:
		vals := make([]any, len(o.Values))
		for i, v := range o.Values {
			vals[i] = v
		}
		m["values"] = vals
	case *ops.ParameterLookup:
		m["index"] = o.Index
	case *ops.Pipeline:
		m["num_inputs"] = o.NumInputs
	case *ops.ConcurrentExecute:
		m["num_inputs"] = o.NumInputs
		m["num_workers"] = o.NumWorkers
		bc := make([]any, o.NumInputs)
		for i := range bc {
			bc[i] = o.IsBroadcast(i)
		}
		m["broadcast"] = bc
	case *ops.CompiledPipeline:
		m["num_inputs"] = o.NumInputs
		m["library_path"] = o.LibraryPath
		m["entry_symbol"] = o.EntrySymbol
	}
	return m
}

func encodeFunc(fn udf.Function) map[string]any {
	results := make([]any, len(fn.Results))
	for i, e := range fn.Results {
		results[i] = encodeExpr(e)
	}
	m := map[string]any{"results": results}
	if fn.Name != "" {
		m["name"] = fn.Name
	}
	return m
}

func encodeExpr(e udf.Expr) map[string]any {
	m := map[string]any{"op": string(e.Op)}
	switch e.Op {
	case udf.OpArg:
		m["arg"] = e.Arg
	case udf.OpConst:
		m["value"] = e.Value
		if e.Type != "" {
			m["type"] = e.Type
		}
	}
	if len(e.Args) > 0 {
		args := make([]any, len(e.Args))
		for i, a := range e.Args {
			args[i] = encodeExpr(a)
		}
		m["args"] = args
	}
	return m
}
