package pass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/testutil"
	"github.com/roach88/dagopt/internal/types"
	"github.com/roach88/dagopt/internal/udf"
)

// TestDetermineSortedness tests property sources and propagation.
func TestDetermineSortedness(t *testing.T) {
	b := testutil.NewBuilder(t)
	rng := testutil.Add(b, ops.NewRangeSource(0, 10, 1))
	f := testutil.Add(b, ops.NewFilter(testutil.LessThan(0, "5")), rng)
	doubled := testutil.Add(b, ops.NewMap(testutil.Double()), f)
	src := testutil.Add(b, ops.NewCollectionSource("s", types.MustParse("{int64,double}")))
	rbk := testutil.Add(b, ops.NewReduceByKey(testutil.Sum()), src)
	red := testutil.Add(b, ops.NewReduce(testutil.Sum()), src)
	b.Output(0, doubled)
	b.Output(1, rbk)
	b.Output(2, red)
	g := b.Graph()
	analyze(t, g)

	src.Type()[0].Props = types.Sorted
	require.NoError(t, PropagateSortedness(g, udf.Descriptor{}))

	full := types.Sorted | types.Unique | types.Grouped
	assert.Equal(t, full, rng.Type()[0].Props)
	assert.Equal(t, full, f.Type()[0].Props, "filter keeps order")
	assert.Equal(t, types.NoProps, doubled.Type()[0].Props, "computed column knows nothing")
	assert.Equal(t, types.NoProps, src.Type()[0].Props, "stale properties are cleared")
	assert.Equal(t, types.Unique|types.Grouped, rbk.Type()[0].Props)
	assert.Equal(t, types.NoProps, rbk.Type()[1].Props)
	assert.Equal(t, full, red.Type()[1].Props, "a single tuple is trivially ordered")
}

// TestDetermineSortednessScanIndex tests the index column of a scan.
func TestDetermineSortednessScanIndex(t *testing.T) {
	b := testutil.NewBuilder(t)
	src := testutil.Add(b, ops.NewCollectionSource("s", types.MustParse("{[{int64}]}")))
	scan := testutil.Add(b, ops.NewRowScan(true), src)
	b.Output(0, scan)
	g := b.Graph()
	analyze(t, g)

	require.NoError(t, PropagateSortedness(g, udf.Descriptor{}))
	assert.Equal(t, types.Sorted|types.Unique|types.Grouped, scan.Type()[0].Props)
	assert.Equal(t, types.NoProps, scan.Type()[1].Props)
}

// TestDetermineSortednessAcrossRegions tests that properties enter nested
// graphs through parameters and leave them through the region's output.
func TestDetermineSortednessAcrossRegions(t *testing.T) {
	full := types.Sorted | types.Unique | types.Grouped

	t.Run("parallel map", func(t *testing.T) {
		inner := dag.New()
		pl := ops.NewParameterLookup(0)
		f := ops.NewFilter(testutil.LessThan(0, "5"))
		_, err := inner.AddOperator(pl)
		require.NoError(t, err)
		_, err = inner.AddOperator(f)
		require.NoError(t, err)
		require.NoError(t, inner.AddFlow(pl, 0, f, 0))
		require.NoError(t, inner.SetOutput(0, f, 0))

		b := testutil.NewBuilder(t)
		rng := testutil.Add(b, ops.NewRangeSource(0, 10, 1))
		pm := testutil.AddNested(b, ops.NewParallelMap(), inner, rng)
		b.Output(0, pm)
		g := b.Graph()
		analyze(t, g)

		require.NoError(t, PropagateSortedness(g, udf.Descriptor{}))
		assert.Equal(t, full, pl.Type()[0].Props)
		assert.Equal(t, full, f.Type()[0].Props)
		assert.Equal(t, full, pm.Type()[0].Props)
	})

	t.Run("concurrent execute", func(t *testing.T) {
		b := testutil.NewBuilder(t)
		rng := testutil.Add(b, ops.NewRangeSource(0, 100, 1))
		b.Output(0, testutil.Add(b, ops.NewFilter(testutil.LessThan(0, "50")), rng))
		src := testutil.Add(b, ops.NewCollectionSource("s", types.MustParse("{int64}")))
		b.Output(1, testutil.Add(b, ops.NewReduce(testutil.Sum()), src))
		g := b.Graph()
		analyze(t, g)
		require.NoError(t, ParallelizeGraph(g, ops.KindConcurrentExecute, 0))
		require.NoError(t, InferTypes(g, udf.Descriptor{}, false))

		require.NoError(t, PropagateSortedness(g, udf.Descriptor{}))
		filtered, ok := g.Output(0)
		require.True(t, ok)
		require.IsType(t, &ops.ConcurrentExecute{}, filtered.Op)
		assert.Equal(t, full, ops.Must(filtered.Op).Type()[0].Props)

		partials, ok := g.Predecessor(mustOutput(t, g, 1), 0)
		require.True(t, ok)
		require.IsType(t, &ops.ConcurrentExecute{}, partials)
		assert.Equal(t, types.NoProps, ops.Must(partials).Type()[0].Props,
			"one partial result per worker")
	})
}

func mustOutput(t *testing.T, g *dag.Graph, port int) dag.Operator {
	t.Helper()
	out, ok := g.Output(port)
	require.True(t, ok)
	return out.Op
}
