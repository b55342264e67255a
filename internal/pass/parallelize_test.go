package pass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
	"github.com/roach88/dagopt/internal/testutil"
	"github.com/roach88/dagopt/internal/types"
	"github.com/roach88/dagopt/internal/udf"
)

func regionsOf(g *dag.Graph) []*ops.ConcurrentExecute {
	var out []*ops.ConcurrentExecute
	for _, op := range g.Operators() {
		if ce, ok := op.(*ops.ConcurrentExecute); ok {
			out = append(out, ce)
		}
	}
	return out
}

// checkPlan asserts that g is well formed and fully typed.
func checkPlan(t *testing.T, g *dag.Graph) {
	t.Helper()
	require.NoError(t, InferTypes(g, udf.Descriptor{}, false))
	require.NoError(t, InferTypes(g, udf.Descriptor{}, true))
	require.NoError(t, VerifyGraph(g))
	assert.False(t, g.HasCycle())
}

// TestParallelizeReduce tests that a reduce is split into per-worker
// partial reduces and a final combine.
func TestParallelizeReduce(t *testing.T) {
	b := testutil.NewBuilder(t)
	src := testutil.Add(b, ops.NewCollectionSource("s", types.MustParse("{int64}")))
	red := testutil.Add(b, ops.NewReduce(testutil.Sum()), src)
	b.Output(0, red)
	g := b.Graph()
	analyze(t, g)

	require.NoError(t, run(t, NewRegistry(), Parallelize, g, NewEnv()))

	regions := regionsOf(g)
	require.Len(t, regions, 1)
	ce := regions[0]
	assert.Equal(t, ops.KindConcurrentExecute, ce.Kind())

	inner := g.Inner(ce)
	require.NotNil(t, inner)
	sink, ok := inner.Output(0)
	require.True(t, ok)
	est, ok := sink.Op.(*ops.EnsureSingleTuple)
	require.True(t, ok, "region ends in a single tuple")
	pred, ok := inner.Predecessor(est, 0)
	require.True(t, ok)
	assert.Same(t, red, pred)
	pl, ok := inner.Predecessor(red, 0)
	require.True(t, ok)
	assert.IsType(t, &ops.ParameterLookup{}, pl)

	out, _ := g.Output(0)
	comb, ok := out.Op.(*ops.Reduce)
	require.True(t, ok, "final combine stays outside")
	assert.Equal(t, red.Func, comb.Func)
	assert.Equal(t, []dag.Operator{ce}, g.Predecessors(comb))

	checkPlan(t, g)

	require.NoError(t, run(t, NewRegistry(), Parallelize, g, NewEnv()))
	assert.Len(t, regionsOf(g), 1, "the combine is not parallelized again")
}

// TestParallelizeJoin tests partitioning of both join inputs.
func TestParallelizeJoin(t *testing.T) {
	b := testutil.NewBuilder(t)
	l := testutil.Add(b, ops.NewCollectionSource("l", types.MustParse("{int64,double}")))
	r := testutil.Add(b, ops.NewCollectionSource("r", types.MustParse("{int64}")))
	j := testutil.Add(b, ops.NewJoin(1), l, r)
	b.Output(0, j)
	g := b.Graph()
	analyze(t, g)

	env := NewEnv().With(map[string]any{"num_workers": 4})
	require.NoError(t, run(t, NewRegistry(), ParallelizeProcess, g, env))

	regions := regionsOf(g)
	require.Len(t, regions, 1)
	ce := regions[0]
	assert.Equal(t, ops.KindConcurrentExecuteProcess, ce.Kind())
	assert.Equal(t, 4, ce.NumWorkers)
	assert.False(t, ce.IsBroadcast(0))
	assert.False(t, ce.IsBroadcast(1))

	inner := g.Inner(ce)
	for port := 0; port < 2; port++ {
		exch, ok := inner.Predecessor(j, port)
		require.True(t, ok)
		require.IsType(t, &ops.Exchange{}, exch)
		assert.Equal(t, 4, exch.(*ops.Exchange).NumPartitions)
		part, _ := inner.Predecessor(exch, 0)
		require.IsType(t, &ops.Partition{}, part)
		pl, _ := inner.Predecessor(part, 0)
		require.IsType(t, &ops.ParameterLookup{}, pl)
		assert.Equal(t, port, pl.(*ops.ParameterLookup).Index)
	}
	checkPlan(t, g)
}

// TestParallelizeCartesianBroadcast tests that the right side of a product
// is broadcast and constant inputs are copied into the region.
func TestParallelizeCartesianBroadcast(t *testing.T) {
	b := testutil.NewBuilder(t)
	l := testutil.Add(b, ops.NewCollectionSource("l", types.MustParse("{int64}")))
	r := testutil.Add(b, ops.NewCollectionSource("r", types.MustParse("{double}")))
	b.Output(0, testutil.Add(b, ops.NewCartesianProduct(), l, r))
	g := b.Graph()
	analyze(t, g)

	require.NoError(t, ParallelizeGraph(g, ops.KindConcurrentExecuteLambda, 0))
	ce := regionsOf(g)[0]
	assert.False(t, ce.IsBroadcast(0))
	assert.True(t, ce.IsBroadcast(1))
	checkPlan(t, g)

	b = testutil.NewBuilder(t)
	l = testutil.Add(b, ops.NewCollectionSource("l", types.MustParse("{int64}")))
	c := testutil.Add(b, ops.NewConstantTuple([]string{"7"}, types.MustParse("{int64}")))
	b.Output(0, testutil.Add(b, ops.NewCartesianProduct(), l, c))
	g = b.Graph()
	analyze(t, g)

	require.NoError(t, ParallelizeGraph(g, ops.KindConcurrentExecute, 0))
	ce = regionsOf(g)[0]
	assert.Equal(t, 1, ce.NumInPorts(), "constant input is inlined")
	assert.False(t, g.Contains(c))
	var consts int
	for _, op := range g.Inner(ce).Operators() {
		if _, ok := op.(*ops.ConstantTuple); ok {
			consts++
		}
	}
	assert.Equal(t, 1, consts)
	checkPlan(t, g)
}

// constantsIn counts the constant tuples in g.
func constantsIn(g *dag.Graph) int {
	n := 0
	for _, op := range g.Operators() {
		if _, ok := op.(*ops.ConstantTuple); ok {
			n++
		}
	}
	return n
}

// TestParallelizeKeepsPartitionedConstants tests that constants feeding a
// partitioned input stay outside the region, where they are read once.
func TestParallelizeKeepsPartitionedConstants(t *testing.T) {
	t.Run("reduce", func(t *testing.T) {
		b := testutil.NewBuilder(t)
		c := testutil.Add(b, ops.NewConstantTuple([]string{"7"}, types.MustParse("{int64}")))
		b.Output(0, testutil.Add(b, ops.NewReduce(testutil.Sum()), c))
		g := b.Graph()
		analyze(t, g)

		require.NoError(t, ParallelizeGraph(g, ops.KindConcurrentExecute, 4))
		regions := regionsOf(g)
		require.Len(t, regions, 1)
		ce := regions[0]
		require.Equal(t, 1, ce.NumInPorts())
		assert.False(t, ce.IsBroadcast(0))
		in, ok := g.Predecessor(ce, 0)
		require.True(t, ok)
		assert.Same(t, c, in)
		assert.Zero(t, constantsIn(g.Inner(ce)))
		checkPlan(t, g)
	})

	t.Run("join", func(t *testing.T) {
		b := testutil.NewBuilder(t)
		c := testutil.Add(b, ops.NewConstantTuple([]string{"7"}, types.MustParse("{int64}")))
		r := testutil.Add(b, ops.NewCollectionSource("r", types.MustParse("{int64,double}")))
		b.Output(0, testutil.Add(b, ops.NewJoin(1), c, r))
		g := b.Graph()
		analyze(t, g)

		require.NoError(t, ParallelizeGraph(g, ops.KindConcurrentExecute, 4))
		ce := regionsOf(g)[0]
		require.Equal(t, 2, ce.NumInPorts())
		in0, _ := g.Predecessor(ce, 0)
		in1, _ := g.Predecessor(ce, 1)
		assert.Same(t, c, in0)
		assert.Same(t, r, in1)
		assert.Zero(t, constantsIn(g.Inner(ce)))
		checkPlan(t, g)
	})
}

// TestParallelizeSharedRegionNotMerged tests that a region read by two
// consumers is not folded into either of them.
func TestParallelizeSharedRegionNotMerged(t *testing.T) {
	b := testutil.NewBuilder(t)
	src := testutil.Add(b, ops.NewCollectionSource("s", types.MustParse("{int64,double}")))
	red := testutil.Add(b, ops.NewReduceByKey(testutil.Sum()), src)
	f := testutil.Add(b, ops.NewFilter(testutil.LessThan(0, "50")), red)
	j := testutil.Add(b, ops.NewJoin(1), red, f)
	b.Output(0, j)
	g := b.Graph()
	analyze(t, g)

	require.NoError(t, ParallelizeGraph(g, ops.KindConcurrentExecute, 0))

	regions := regionsOf(g)
	require.Len(t, regions, 2)
	var up, down *ops.ConcurrentExecute
	for _, ce := range regions {
		if g.Inner(ce).Contains(red) {
			up = ce
		} else {
			down = ce
		}
	}
	require.NotNil(t, up)
	require.NotNil(t, down)
	assert.True(t, g.Inner(down).Contains(j))
	assert.True(t, g.Contains(f), "filter with a shared producer stays outside")
	assert.Equal(t, 2, g.OutDegree(up))

	in0, _ := g.Predecessor(down, 0)
	in1, _ := g.Predecessor(down, 1)
	assert.Same(t, up, in0)
	assert.Same(t, f, in1)
	checkPlan(t, g)
}

// TestParallelizeExtendAndMerge tests absorption of consumers and merging
// of adjacent regions.
func TestParallelizeExtendAndMerge(t *testing.T) {
	b := testutil.NewBuilder(t)
	rng := testutil.Add(b, ops.NewRangeSource(0, 100, 1))
	m := testutil.Add(b, ops.NewMap(testutil.Double()), rng)
	f := testutil.Add(b, ops.NewFilter(testutil.LessThan(0, "50")), m)
	red := testutil.Add(b, ops.NewReduce(testutil.Sum()), f)
	b.Output(0, red)
	g := b.Graph()
	analyze(t, g)

	require.NoError(t, ParallelizeGraph(g, ops.KindConcurrentExecute, 2))

	regions := regionsOf(g)
	require.Len(t, regions, 1, "range region merged into reduce region")
	ce := regions[0]
	assert.Zero(t, ce.NumInPorts())
	assert.Equal(t, 2, g.Len(), "region and final combine")

	inner := g.Inner(ce)
	for _, op := range []dag.Operator{rng, m, f, red} {
		assert.True(t, inner.Contains(op), op.Name())
	}
	assert.Empty(t, parameterLookups(inner))
	assert.Equal(t, []dag.Operator{f}, inner.Predecessors(red))
	checkPlan(t, g)
}

// TestParallelizeMergeKeepsOtherInputs tests parameter renumbering when a
// region with inputs is folded into a region with several inputs.
func TestParallelizeMergeKeepsOtherInputs(t *testing.T) {
	b := testutil.NewBuilder(t)
	l := testutil.Add(b, ops.NewCollectionSource("l", types.MustParse("{int64}")))
	r := testutil.Add(b, ops.NewCollectionSource("r", types.MustParse("{int64,double}")))
	red := testutil.Add(b, ops.NewReduceByKey(testutil.Sum()), r)
	j := testutil.Add(b, ops.NewJoin(1), red, l)
	b.Output(0, j)
	g := b.Graph()
	analyze(t, g)

	require.NoError(t, ParallelizeGraph(g, ops.KindConcurrentExecute, 0))
	regions := regionsOf(g)
	require.Len(t, regions, 1)
	ce := regions[0]
	require.Equal(t, 2, ce.NumInPorts())

	in0, _ := g.Predecessor(ce, 0)
	in1, _ := g.Predecessor(ce, 1)
	assert.Same(t, l, in0, "join's remaining input first")
	assert.Same(t, r, in1, "merged region's input appended")
	checkPlan(t, g)
}

// TestParallelizeSettings tests rejection of bad settings.
func TestParallelizeSettings(t *testing.T) {
	b := testutil.NewBuilder(t)
	b.Output(0, testutil.Add(b, ops.NewRangeSource(0, 1, 1)))

	err := run(t, NewRegistry(), Parallelize, b.Graph(), NewEnv().With(map[string]any{"num_workers": -1}))
	assert.ErrorIs(t, err, planerr.ErrConfiguration)

	err = ParallelizeGraph(b.Graph(), ops.KindPipeline, 0)
	assert.ErrorIs(t, err, planerr.ErrConfiguration)
}
