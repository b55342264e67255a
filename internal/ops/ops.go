// Package ops defines the closed catalog of operator kinds that populate a
// plan graph.
//
// Every operator is a pointer to one of the concrete types below. The
// Operator interface is sealed: only this package can add kinds, so a type
// switch over the concrete types plus a default arm covers the catalog.
// Passes that must understand every kind return Unsupported from the default
// arm; passes that react to a few kinds ignore the rest.
//
// Each operator carries its output tuple type and the read, write and dead
// attribute sets maintained by the passes. Nested graphs are not stored on
// the operator: the owning dag.Graph keeps them as a node property.
package ops

import (
	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/planerr"
	"github.com/roach88/dagopt/internal/types"
	"github.com/roach88/dagopt/internal/udf"
)

// Operator is implemented by every operator in the catalog.
type Operator interface {
	dag.Operator

	Kind() Kind
	Type() types.Tuple
	SetType(types.Tuple)

	ReadSet() types.AttrSet
	WriteSet() types.AttrSet
	DeadSet() types.AttrSet
	SetAttrSets(read, write, dead types.AttrSet)

	operator()
}

type base struct {
	kind  Kind
	typ   types.Tuple
	read  types.AttrSet
	write types.AttrSet
	dead  types.AttrSet
}

func (b *base) operator() {}

// Name implements dag.Operator.
func (b *base) Name() string { return b.kind.String() }

// Kind returns the operator's kind tag.
func (b *base) Kind() Kind { return b.kind }

// Type returns the output tuple type, nil before type inference.
func (b *base) Type() types.Tuple { return b.typ }

// SetType replaces the output tuple type.
func (b *base) SetType(t types.Tuple) { b.typ = t }

// ReadSet returns the attributes the operator consults.
func (b *base) ReadSet() types.AttrSet { return b.read }

// WriteSet returns the attributes the operator produces.
func (b *base) WriteSet() types.AttrSet { return b.write }

// DeadSet returns the input attributes the operator ignores and drops.
func (b *base) DeadSet() types.AttrSet { return b.dead }

// SetAttrSets replaces the read, write and dead sets.
func (b *base) SetAttrSets(read, write, dead types.AttrSet) {
	b.read, b.write, b.dead = read, write, dead
}

type leaf struct{}

func (leaf) NumInPorts() int  { return 0 }
func (leaf) NumOutPorts() int { return 1 }

type unary struct{}

func (unary) NumInPorts() int  { return 1 }
func (unary) NumOutPorts() int { return 1 }

type binary struct{}

func (binary) NumInPorts() int  { return 2 }
func (binary) NumOutPorts() int { return 1 }

// variadic has a caller-defined number of inputs.
type variadic struct {
	NumInputs int
}

func (v *variadic) NumInPorts() int  { return v.NumInputs }
func (v *variadic) NumOutPorts() int { return 1 }

// RangeSource produces From, From+Step, ... up to but excluding To.
type RangeSource struct {
	base
	leaf
	From, To, Step int64
	Elem           types.Kind
}

// NewRangeSource creates a range of int64 values.
func NewRangeSource(from, to, step int64) *RangeSource {
	return &RangeSource{base: base{kind: KindRangeSource}, From: from, To: to, Step: step, Elem: types.Int64}
}

// CollectionSource reads an external collection whose element type is
// declared on the operator.
type CollectionSource struct {
	base
	leaf
	Source string
}

// NewCollectionSource creates a source with the declared element type.
func NewCollectionSource(source string, typ types.Tuple) *CollectionSource {
	return &CollectionSource{base: base{kind: KindCollectionSource, typ: typ}, Source: source}
}

// RowScan iterates a materialized row vector.
type RowScan struct {
	base
	unary
	AddIndex bool
}

// NewRowScan creates a row scan; addIndex prepends the row position.
func NewRowScan(addIndex bool) *RowScan {
	return &RowScan{base: base{kind: KindRowScan}, AddIndex: addIndex}
}

// ColumnScan iterates materialized column chunks in lockstep.
type ColumnScan struct {
	base
	unary
	AddIndex bool
}

// NewColumnScan creates a column scan; addIndex prepends the row position.
func NewColumnScan(addIndex bool) *ColumnScan {
	return &ColumnScan{base: base{kind: KindColumnScan}, AddIndex: addIndex}
}

// Map applies Func to every tuple.
type Map struct {
	base
	unary
	Func udf.Function
}

// NewMap creates a map.
func NewMap(fn udf.Function) *Map {
	return &Map{base: base{kind: KindMap}, Func: fn}
}

// Filter keeps the tuples for which Func returns true.
type Filter struct {
	base
	unary
	Func udf.Function
}

// NewFilter creates a filter.
func NewFilter(fn udf.Function) *Filter {
	return &Filter{base: base{kind: KindFilter}, Func: fn}
}

// Join is an equi-join on the NumKeys leading fields of both inputs.
type Join struct {
	base
	binary
	NumKeys int
}

// NewJoin creates an equi-join.
func NewJoin(numKeys int) *Join {
	return &Join{base: base{kind: KindJoin}, NumKeys: numKeys}
}

// AntiJoin keeps left tuples without a key match on the right.
type AntiJoin struct {
	base
	binary
	NumKeys int
}

// NewAntiJoin creates an anti-join.
func NewAntiJoin(numKeys int) *AntiJoin {
	return &AntiJoin{base: base{kind: KindAntiJoin}, NumKeys: numKeys}
}

// SemiJoin keeps left tuples with a key match on the right.
type SemiJoin struct {
	base
	binary
	NumKeys int
}

// NewSemiJoin creates a semi-join.
func NewSemiJoin(numKeys int) *SemiJoin {
	return &SemiJoin{base: base{kind: KindSemiJoin}, NumKeys: numKeys}
}

// CartesianProduct pairs every left tuple with every right tuple.
type CartesianProduct struct {
	base
	binary
}

// NewCartesianProduct creates a cartesian product.
func NewCartesianProduct() *CartesianProduct {
	return &CartesianProduct{base: base{kind: KindCartesianProduct}}
}

// ExpandPattern emits one tuple per match of the patterns on input 1 against
// each tuple of input 0, appending the match position.
type ExpandPattern struct {
	base
	binary
}

// NewExpandPattern creates a pattern expansion.
func NewExpandPattern() *ExpandPattern {
	return &ExpandPattern{base: base{kind: KindExpandPattern}}
}

// GroupBy runs its nested graph once per group of equal leading fields. The
// body reads the group through ParameterLookup(0).
type GroupBy struct {
	base
	unary
	NumKeys int
}

// NewGroupBy creates a group-by on the first numKeys fields.
func NewGroupBy(numKeys int) *GroupBy {
	return &GroupBy{base: base{kind: KindGroupBy}, NumKeys: numKeys}
}

// Partition prepends the partition number derived from the first field.
type Partition struct {
	base
	unary
	NumPartitions int
}

// NewPartition creates a partition operator.
func NewPartition(numPartitions int) *Partition {
	return &Partition{base: base{kind: KindPartition}, NumPartitions: numPartitions}
}

// Exchange routes partitioned tuples to their worker and strips the
// partition number.
type Exchange struct {
	base
	unary
	NumPartitions int
}

// NewExchange creates an exchange.
func NewExchange(numPartitions int) *Exchange {
	return &Exchange{base: base{kind: KindExchange}, NumPartitions: numPartitions}
}

// ReduceByKey combines tuples with equal first fields using Func.
type ReduceByKey struct {
	base
	unary
	Func udf.Function
}

// NewReduceByKey creates a hash-based keyed reduction.
func NewReduceByKey(fn udf.Function) *ReduceByKey {
	return &ReduceByKey{base: base{kind: KindReduceByKey}, Func: fn}
}

// ReduceByKeyGrouped is ReduceByKey over input already grouped by key.
type ReduceByKeyGrouped struct {
	base
	unary
	Func udf.Function
}

// NewReduceByKeyGrouped creates a streaming keyed reduction.
func NewReduceByKeyGrouped(fn udf.Function) *ReduceByKeyGrouped {
	return &ReduceByKeyGrouped{base: base{kind: KindReduceByKeyGrouped}, Func: fn}
}

// Reduce folds all tuples into one using Func.
type Reduce struct {
	base
	unary
	Func udf.Function
}

// NewReduce creates a full reduction.
func NewReduce(fn udf.Function) *Reduce {
	return &Reduce{base: base{kind: KindReduce}, Func: fn}
}

// Projection keeps the fields at Positions, in that order.
type Projection struct {
	base
	unary
	Positions []int
}

// NewProjection creates a projection.
func NewProjection(positions ...int) *Projection {
	return &Projection{base: base{kind: KindProjection}, Positions: positions}
}

// ConstantTuple produces one tuple of literal values.
type ConstantTuple struct {
	base
	leaf
	Values []string
}

// NewConstantTuple creates a constant with the declared type.
func NewConstantTuple(values []string, typ types.Tuple) *ConstantTuple {
	return &ConstantTuple{base: base{kind: KindConstantTuple, typ: typ}, Values: values}
}

// ParameterLookup reads input Index of the operator owning the enclosing
// nested graph.
type ParameterLookup struct {
	base
	leaf
	Index int
}

// NewParameterLookup creates a parameter lookup.
func NewParameterLookup(index int) *ParameterLookup {
	return &ParameterLookup{base: base{kind: KindParameterLookup}, Index: index}
}

// MaterializeRowVector collects its input into a single row vector.
type MaterializeRowVector struct {
	base
	unary
}

// NewMaterializeRowVector creates a row-vector materialization.
func NewMaterializeRowVector() *MaterializeRowVector {
	return &MaterializeRowVector{base: base{kind: KindMaterializeRowVector}}
}

// MaterializeColumnChunks collects its input into one chunk per column.
type MaterializeColumnChunks struct {
	base
	unary
}

// NewMaterializeColumnChunks creates a column-chunk materialization.
func NewMaterializeColumnChunks() *MaterializeColumnChunks {
	return &MaterializeColumnChunks{base: base{kind: KindMaterializeColumnChunks}}
}

// EnsureSingleTuple asserts that its input holds exactly one tuple.
type EnsureSingleTuple struct {
	base
	unary
}

// NewEnsureSingleTuple creates the assertion operator.
func NewEnsureSingleTuple() *EnsureSingleTuple {
	return &EnsureSingleTuple{base: base{kind: KindEnsureSingleTuple}}
}

// Pipeline is a tree-shaped, materialization-free unit of sequential work.
// Its nested graph receives input i through DAG-level input port i.
type Pipeline struct {
	base
	variadic
}

// NewPipeline creates a pipeline with numInputs inputs.
func NewPipeline(numInputs int) *Pipeline {
	return &Pipeline{base: base{kind: KindPipeline}, variadic: variadic{NumInputs: numInputs}}
}

// ParallelMap runs its nested graph once per input tuple.
type ParallelMap struct {
	base
	unary
}

// NewParallelMap creates a parallel map.
func NewParallelMap() *ParallelMap {
	return &ParallelMap{base: base{kind: KindParallelMap}}
}

// ConcurrentExecute runs its nested graph on many workers at once. Inputs
// marked in Broadcast are shipped whole to every worker; the others are
// split between workers.
type ConcurrentExecute struct {
	base
	variadic
	Broadcast  []bool
	NumWorkers int
}

// NewConcurrentExecute creates a concurrent-execution region of the given
// variant kind.
func NewConcurrentExecute(kind Kind, numInputs int) *ConcurrentExecute {
	if !kind.IsConcurrentExecute() {
		panic("ops: " + kind.String() + " is not a concurrent-execution kind")
	}
	return &ConcurrentExecute{
		base:      base{kind: kind},
		variadic:  variadic{NumInputs: numInputs},
		Broadcast: make([]bool, numInputs),
	}
}

// IsBroadcast reports whether input port is shipped whole to every worker.
func (c *ConcurrentExecute) IsBroadcast(port int) bool {
	return port >= 0 && port < len(c.Broadcast) && c.Broadcast[port]
}

// CompiledPipeline is a pipeline that has been turned into native code.
type CompiledPipeline struct {
	base
	variadic
	LibraryPath string
	EntrySymbol string
}

// NewCompiledPipeline creates a compiled pipeline with the declared type.
func NewCompiledPipeline(numInputs int, libraryPath, entrySymbol string, typ types.Tuple) *CompiledPipeline {
	return &CompiledPipeline{
		base:        base{kind: KindCompiledPipeline, typ: typ},
		variadic:    variadic{NumInputs: numInputs},
		LibraryPath: libraryPath,
		EntrySymbol: entrySymbol,
	}
}

// Unsupported is returned by passes that must handle every kind when they
// meet one they do not know.
func Unsupported(id int, op dag.Operator) error {
	return &planerr.TypeError{OpID: id, Kind: op.Name(), Message: "unsupported operator"}
}

// Of returns op as a catalog operator.
func Of(op dag.Operator) (Operator, bool) {
	o, ok := op.(Operator)
	return o, ok
}

// Must returns op as a catalog operator. Every operator stored in a plan
// graph is a catalog operator; anything else is a programming error.
func Must(op dag.Operator) Operator {
	o, ok := op.(Operator)
	if !ok {
		panic("ops: " + op.Name() + " is not a catalog operator")
	}
	return o
}

// Has reports whether the kind of op carries capability c.
func Has(op dag.Operator, c Caps) bool {
	o, ok := op.(Operator)
	return ok && o.Kind().Has(c)
}

// New creates an operator of kind k with zero-valued parameters. It is used
// by decoders that fill in parameters afterwards.
func New(k Kind) (Operator, error) {
	switch k {
	case KindRangeSource:
		return NewRangeSource(0, 0, 1), nil
	case KindCollectionSource:
		return NewCollectionSource("", nil), nil
	case KindRowScan:
		return NewRowScan(false), nil
	case KindColumnScan:
		return NewColumnScan(false), nil
	case KindMap:
		return NewMap(udf.Function{}), nil
	case KindFilter:
		return NewFilter(udf.Function{}), nil
	case KindJoin:
		return NewJoin(1), nil
	case KindAntiJoin:
		return NewAntiJoin(1), nil
	case KindSemiJoin:
		return NewSemiJoin(1), nil
	case KindCartesianProduct:
		return NewCartesianProduct(), nil
	case KindExpandPattern:
		return NewExpandPattern(), nil
	case KindGroupBy:
		return NewGroupBy(1), nil
	case KindPartition:
		return NewPartition(0), nil
	case KindExchange:
		return NewExchange(0), nil
	case KindReduceByKey:
		return NewReduceByKey(udf.Function{}), nil
	case KindReduceByKeyGrouped:
		return NewReduceByKeyGrouped(udf.Function{}), nil
	case KindReduce:
		return NewReduce(udf.Function{}), nil
	case KindProjection:
		return NewProjection(), nil
	case KindConstantTuple:
		return NewConstantTuple(nil, nil), nil
	case KindParameterLookup:
		return NewParameterLookup(0), nil
	case KindMaterializeRowVector:
		return NewMaterializeRowVector(), nil
	case KindMaterializeColumnChunks:
		return NewMaterializeColumnChunks(), nil
	case KindEnsureSingleTuple:
		return NewEnsureSingleTuple(), nil
	case KindPipeline:
		return NewPipeline(0), nil
	case KindParallelMap:
		return NewParallelMap(), nil
	case KindConcurrentExecute, KindConcurrentExecuteProcess, KindConcurrentExecuteLambda:
		return NewConcurrentExecute(k, 0), nil
	case KindCompiledPipeline:
		return NewCompiledPipeline(0, "", "", nil), nil
	default:
		return nil, planerr.Configuration("op", "unknown operator kind %d", k)
	}
}
