// Package plan implements the JSON wire format of plan graphs, their
// canonical encoding and content hash, and a Graphviz rendering.
//
// A plan document looks like:
//
//	{
//	  "operators": [
//	    {"id": 0, "op": "range_source", "from": 0, "to": 10, "step": 1},
//	    {"id": 1, "op": "map", "func": {...}, "predecessors": [{"op": 0, "port": 0}]}
//	  ],
//	  "inputs":  [{"op": 3, "op_port": 0, "dag_port": 0}],
//	  "outputs": [{"op": 1, "port": 0}]
//	}
//
// predecessors lists one entry per input port, null for a port that is fed
// by a DAG-level input. outputs is indexed by DAG output port. Operators that
// own a nested graph carry it as inner_dag in the same format.
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/mitchellh/mapstructure"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
	"github.com/roach88/dagopt/internal/types"
	"github.com/roach88/dagopt/internal/udf"
)

type wireGraph struct {
	Operators []map[string]any `mapstructure:"operators"`
	Inputs    []wireInput      `mapstructure:"inputs"`
	Outputs   []*wirePort      `mapstructure:"outputs"`
}

type wireInput struct {
	Op      int    `mapstructure:"op"`
	OpPort  int    `mapstructure:"op_port"`
	DAGPort int    `mapstructure:"dag_port"`
	Type    string `mapstructure:"type"`
}

type wirePort struct {
	Op   int `mapstructure:"op"`
	Port int `mapstructure:"port"`
}

// wireParams holds every kind-specific field. Which of them a kind accepts
// is listed in paramKeys.
type wireParams struct {
	From          int64  `mapstructure:"from"`
	To            int64  `mapstructure:"to"`
	Step          *int64 `mapstructure:"step"`
	Elem          string `mapstructure:"elem"`
	Source        string `mapstructure:"source"`
	AddIndex      bool   `mapstructure:"add_index"`
	NumKeys       *int   `mapstructure:"num_keys"`
	NumPartitions int    `mapstructure:"num_partitions"`
	Positions     []int  `mapstructure:"positions"`
	Values        []any  `mapstructure:"values"`
	Index         int    `mapstructure:"index"`
	NumInputs     int    `mapstructure:"num_inputs"`
	Broadcast     []bool `mapstructure:"broadcast"`
	NumWorkers    int    `mapstructure:"num_workers"`
	LibraryPath   string `mapstructure:"library_path"`
	EntrySymbol   string `mapstructure:"entry_symbol"`
}

// Keys shared by every operator entry.
const (
	keyID           = "id"
	keyOp           = "op"
	keyOutputType   = "output_type"
	keyFunc         = "func"
	keyPredecessors = "predecessors"
	keyInnerDAG     = "inner_dag"
)

var paramKeys = map[ops.Kind][]string{
	ops.KindRangeSource:              {"from", "to", "step", "elem"},
	ops.KindCollectionSource:         {"source"},
	ops.KindRowScan:                  {"add_index"},
	ops.KindColumnScan:               {"add_index"},
	ops.KindJoin:                     {"num_keys"},
	ops.KindAntiJoin:                 {"num_keys"},
	ops.KindSemiJoin:                 {"num_keys"},
	ops.KindGroupBy:                  {"num_keys"},
	ops.KindPartition:                {"num_partitions"},
	ops.KindExchange:                 {"num_partitions"},
	ops.KindProjection:               {"positions"},
	ops.KindConstantTuple:            {"values"},
	ops.KindParameterLookup:          {"index"},
	ops.KindPipeline:                 {"num_inputs"},
	ops.KindConcurrentExecute:        {"num_inputs", "broadcast", "num_workers"},
	ops.KindConcurrentExecuteProcess: {"num_inputs", "broadcast", "num_workers"},
	ops.KindConcurrentExecuteLambda:  {"num_inputs", "broadcast", "num_workers"},
	ops.KindCompiledPipeline:         {"num_inputs", "library_path", "entry_symbol"},
}

func hasFunc(k ops.Kind) bool {
	switch k {
	case ops.KindMap, ops.KindFilter, ops.KindReduce, ops.KindReduceByKey, ops.KindReduceByKeyGrouped:
		return true
	}
	return false
}

func decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// Unmarshal parses a plan document.
func Unmarshal(data []byte) (*dag.Graph, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a plan document from r.
func Decode(r io.Reader) (*dag.Graph, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, planerr.Configuration("plan", "invalid JSON: %v", err)
	}
	return decodeGraph(doc, "")
}

func decodeGraph(doc map[string]any, path string) (*dag.Graph, error) {
	var wg wireGraph
	if err := decode(doc, &wg); err != nil {
		return nil, planerr.Configuration(path+"plan", "%v", err)
	}

	g := dag.New()
	preds := make(map[int][]any, len(wg.Operators))
	for i, m := range wg.Operators {
		op, id, inner, err := decodeOperator(m, fmt.Sprintf("%soperators[%d]", path, i))
		if err != nil {
			return nil, err
		}
		opts := []dag.AddOption{dag.WithID(id)}
		if inner != nil {
			opts = append(opts, dag.WithInner(inner))
		}
		if _, err := g.AddOperator(op, opts...); err != nil {
			return nil, fmt.Errorf("%soperators[%d]: %w", path, i, err)
		}
		if p, ok := m[keyPredecessors]; ok && p != nil {
			list, ok := p.([]any)
			if !ok {
				return nil, planerr.Configuration(fmt.Sprintf("%soperators[%d].predecessors", path, i), "must be a list")
			}
			preds[id] = list
		}
	}

	lookup := func(key string, id int) (dag.Operator, error) {
		op, ok := g.Lookup(id)
		if !ok {
			return nil, planerr.Configuration(key, "unknown operator id %d", id)
		}
		return op, nil
	}

	ids := make([]int, 0, len(preds))
	for id := range preds {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		target, _ := g.Lookup(id)
		for port, p := range preds[id] {
			if p == nil {
				continue
			}
			key := fmt.Sprintf("%soperator %d predecessor %d", path, id, port)
			var wp wirePort
			if err := decode(p, &wp); err != nil {
				return nil, planerr.Configuration(key, "%v", err)
			}
			src, err := lookup(key, wp.Op)
			if err != nil {
				return nil, err
			}
			if err := g.AddFlow(src, wp.Port, target, port); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	for i, in := range wg.Inputs {
		key := fmt.Sprintf("%sinputs[%d]", path, i)
		op, err := lookup(key, in.Op)
		if err != nil {
			return nil, err
		}
		if err := g.AddInput(in.DAGPort, op, in.OpPort); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if in.Type != "" {
			t, err := types.Parse(in.Type)
			if err != nil {
				return nil, planerr.Configuration(key+".type", "%v", err)
			}
			g.SetInputType(in.DAGPort, t)
		}
	}

	for i, out := range wg.Outputs {
		if out == nil {
			continue
		}
		key := fmt.Sprintf("%soutputs[%d]", path, i)
		op, err := lookup(key, out.Op)
		if err != nil {
			return nil, err
		}
		if err := g.SetOutput(i, op, out.Port); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}
	return g, nil
}

func decodeOperator(m map[string]any, key string) (ops.Operator, int, *dag.Graph, error) {
	var head struct {
		ID int    `mapstructure:"id"`
		Op string `mapstructure:"op"`
	}
	rest := make(map[string]any, len(m))
	for k, v := range m {
		rest[k] = v
	}
	idRaw, ok := rest[keyID]
	if !ok {
		return nil, 0, nil, planerr.Configuration(key+".id", "missing")
	}
	if err := decode(map[string]any{keyID: idRaw, keyOp: rest[keyOp]}, &head); err != nil {
		return nil, 0, nil, planerr.Configuration(key, "%v", err)
	}
	delete(rest, keyID)
	delete(rest, keyOp)
	delete(rest, keyPredecessors)

	kind, ok := ops.KindOf(head.Op)
	if !ok {
		return nil, 0, nil, planerr.Configuration(key+".op", "unknown operator kind %q", head.Op)
	}
	op, err := ops.New(kind)
	if err != nil {
		return nil, 0, nil, err
	}

	if raw, ok := rest[keyOutputType]; ok {
		delete(rest, keyOutputType)
		s, ok := raw.(string)
		if !ok {
			return nil, 0, nil, planerr.Configuration(key+".output_type", "must be a type string")
		}
		t, err := types.Parse(s)
		if err != nil {
			return nil, 0, nil, planerr.Configuration(key+".output_type", "%v", err)
		}
		op.SetType(t)
	}

	var fn udf.Function
	if raw, ok := rest[keyFunc]; ok {
		delete(rest, keyFunc)
		if !hasFunc(kind) {
			return nil, 0, nil, planerr.Configuration(key+".func", "%s takes no function", kind)
		}
		if err := decode(raw, &fn); err != nil {
			return nil, 0, nil, planerr.Configuration(key+".func", "%v", err)
		}
		if err := fn.Validate(); err != nil {
			return nil, 0, nil, planerr.Configuration(key+".func", "%v", err)
		}
	}

	var inner *dag.Graph
	if raw, ok := rest[keyInnerDAG]; ok {
		delete(rest, keyInnerDAG)
		if !kind.Has(ops.CapNested) {
			return nil, 0, nil, planerr.Configuration(key+".inner_dag", "%s has no nested graph", kind)
		}
		doc, ok := raw.(map[string]any)
		if !ok {
			return nil, 0, nil, planerr.Configuration(key+".inner_dag", "must be an object")
		}
		inner, err = decodeGraph(doc, key+".inner_dag.")
		if err != nil {
			return nil, 0, nil, err
		}
	}

	for k := range rest {
		if !slices.Contains(paramKeys[kind], k) {
			return nil, 0, nil, planerr.Configuration(key+"."+k, "unknown field for %s", kind)
		}
	}
	var p wireParams
	if err := decode(rest, &p); err != nil {
		return nil, 0, nil, planerr.Configuration(key, "%v", err)
	}
	if err := applyParams(op, p, fn); err != nil {
		return nil, 0, nil, planerr.Configuration(key, "%v", err)
	}
	return op, head.ID, inner, nil
}

func applyParams(op ops.Operator, p wireParams, fn udf.Function) error {
	numKeys := 1
	if p.NumKeys != nil {
		numKeys = *p.NumKeys
	}
	switch o := op.(type) {
	case *ops.RangeSource:
		o.From, o.To = p.From, p.To
		if p.Step != nil {
			o.Step = *p.Step
		}
		if o.Step == 0 {
			return fmt.Errorf("range step must not be zero")
		}
		if p.Elem != "" {
			k, ok := types.KindOf(p.Elem)
			if !ok || !k.IsInteger() {
				return fmt.Errorf("range element type %q is not an integer type", p.Elem)
			}
			o.Elem = k
		}
	case *ops.CollectionSource:
		o.Source = p.Source
	case *ops.RowScan:
		o.AddIndex = p.AddIndex
	case *ops.ColumnScan:
		o.AddIndex = p.AddIndex
	case *ops.Map:
		o.Func = fn
	case *ops.Filter:
		o.Func = fn
	case *ops.Reduce:
		o.Func = fn
	case *ops.ReduceByKey:
		o.Func = fn
	case *ops.ReduceByKeyGrouped:
		o.Func = fn
	case *ops.Join:
		o.NumKeys = numKeys
	case *ops.AntiJoin:
		o.NumKeys = numKeys
	case *ops.SemiJoin:
		o.NumKeys = numKeys
	case *ops.GroupBy:
		o.NumKeys = numKeys
	case *ops.Partition:
		o.NumPartitions = p.NumPartitions
	case *ops.Exchange:
		o.NumPartitions = p.NumPartitions
	case *ops.Projection:
		o.Positions = p.Positions
	case *ops.ConstantTuple:
		o.Values = make([]string, len(p.Values))
		for i, v := range p.Values {
			o.Values[i] = fmt.Sprint(v)
		}
	case *ops.ParameterLookup:
		o.Index = p.Index
	case *ops.Pipeline:
		o.NumInputs = p.NumInputs
	case *ops.ConcurrentExecute:
		o.NumInputs = p.NumInputs
		o.NumWorkers = p.NumWorkers
		o.Broadcast = make([]bool, p.NumInputs)
		copy(o.Broadcast, p.Broadcast)
	case *ops.CompiledPipeline:
		o.NumInputs = p.NumInputs
		o.LibraryPath, o.EntrySymbol = p.LibraryPath, p.EntrySymbol
	}
	return nil
}
