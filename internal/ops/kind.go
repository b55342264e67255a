package ops

// Kind tags the concrete operator type. The set of kinds is closed.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindRangeSource
	KindCollectionSource
	KindRowScan
	KindColumnScan
	KindMap
	KindFilter
	KindJoin
	KindAntiJoin
	KindSemiJoin
	KindCartesianProduct
	KindExpandPattern
	KindGroupBy
	KindPartition
	KindExchange
	KindReduceByKey
	KindReduceByKeyGrouped
	KindReduce
	KindProjection
	KindConstantTuple
	KindParameterLookup
	KindMaterializeRowVector
	KindMaterializeColumnChunks
	KindEnsureSingleTuple
	KindPipeline
	KindParallelMap
	KindConcurrentExecute
	KindConcurrentExecuteProcess
	KindConcurrentExecuteLambda
	KindCompiledPipeline

	numKinds
)

// Caps are per-kind capability flags consulted by the passes instead of
// matching on kind names.
type Caps uint16

const (
	// CapSeed marks kinds that can start a concurrent-execution region.
	CapSeed Caps = 1 << iota
	// CapAbsorbable marks kinds a region may swallow from downstream.
	CapAbsorbable
	// CapStopsPredicateMove marks scan-like leaves that filters are never
	// pushed through.
	CapStopsPredicateMove
	// CapPipelineBreaker marks kinds that end a pipeline.
	CapPipelineBreaker
	// CapSingleTuple marks kinds whose output is exactly one tuple.
	CapSingleTuple
	// CapNested marks kinds that own a nested graph.
	CapNested
	// CapParameterized marks nested kinds whose body reads the owner's
	// inputs through ParameterLookup instead of DAG-level input ports.
	CapParameterized
)

type kindInfo struct {
	name string
	caps Caps
}

var kinds = [numKinds]kindInfo{
	KindInvalid:                  {"invalid", 0},
	KindRangeSource:              {"range_source", CapSeed | CapStopsPredicateMove},
	KindCollectionSource:         {"collection_source", CapStopsPredicateMove},
	KindRowScan:                  {"row_scan", CapAbsorbable | CapStopsPredicateMove},
	KindColumnScan:               {"column_scan", CapAbsorbable | CapStopsPredicateMove},
	KindMap:                      {"map", CapAbsorbable},
	KindFilter:                   {"filter", CapAbsorbable},
	KindJoin:                     {"join", CapSeed},
	KindAntiJoin:                 {"antijoin", CapSeed},
	KindSemiJoin:                 {"semijoin", CapSeed},
	KindCartesianProduct:         {"cartesian_product", CapSeed},
	KindExpandPattern:            {"expand_pattern", CapSeed},
	KindGroupBy:                  {"group_by", CapNested | CapParameterized},
	KindPartition:                {"partition", 0},
	KindExchange:                 {"exchange", 0},
	KindReduceByKey:              {"reduce_by_key", CapSeed | CapPipelineBreaker},
	KindReduceByKeyGrouped:       {"reduce_by_key_grouped", CapPipelineBreaker},
	KindReduce:                   {"reduce", CapSeed | CapPipelineBreaker | CapSingleTuple},
	KindProjection:               {"projection", 0},
	KindConstantTuple:            {"constant_tuple", CapStopsPredicateMove | CapSingleTuple},
	KindParameterLookup:          {"parameter_lookup", CapStopsPredicateMove},
	KindMaterializeRowVector:     {"materialize_row_vector", CapAbsorbable | CapPipelineBreaker | CapSingleTuple},
	KindMaterializeColumnChunks:  {"materialize_column_chunks", CapAbsorbable | CapPipelineBreaker | CapSingleTuple},
	KindEnsureSingleTuple:        {"ensure_single_tuple", CapSingleTuple},
	KindPipeline:                 {"pipeline", CapNested},
	KindParallelMap:              {"parallel_map", CapNested | CapParameterized},
	KindConcurrentExecute:        {"concurrent_execute", CapNested | CapParameterized},
	KindConcurrentExecuteProcess: {"concurrent_execute_process", CapNested | CapParameterized},
	KindConcurrentExecuteLambda:  {"concurrent_execute_lambda", CapNested | CapParameterized},
	KindCompiledPipeline:         {"compiled_pipeline", 0},
}

func (k Kind) String() string {
	if k < numKinds {
		return kinds[k].name
	}
	return kinds[KindInvalid].name
}

// Caps returns the capability flags of k.
func (k Kind) Caps() Caps {
	if k < numKinds {
		return kinds[k].caps
	}
	return 0
}

// Has reports whether k carries every capability in c.
func (k Kind) Has(c Caps) bool { return k.Caps()&c == c }

// IsConcurrentExecute reports whether k is one of the concurrent-execution
// variants.
func (k Kind) IsConcurrentExecute() bool {
	return k == KindConcurrentExecute || k == KindConcurrentExecuteProcess || k == KindConcurrentExecuteLambda
}

// KindOf resolves a wire name.
func KindOf(name string) (Kind, bool) {
	for k := KindInvalid + 1; k < numKinds; k++ {
		if kinds[k].name == name {
			return k, true
		}
	}
	return KindInvalid, false
}

// Kinds returns every valid kind in declaration order.
func Kinds() []Kind {
	ks := make([]Kind, 0, numKinds-1)
	for k := KindInvalid + 1; k < numKinds; k++ {
		ks = append(ks, k)
	}
	return ks
}
