package pass

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
	"github.com/roach88/dagopt/internal/testutil"
)

// TestCompilePipelines tests that pipelines are replaced by compiled
// operators and their bodies discarded.
func TestCompilePipelines(t *testing.T) {
	b := testutil.NewBuilder(t)
	rng := testutil.Add(b, ops.NewRangeSource(0, 10, 1))
	rbk := testutil.Add(b, ops.NewReduceByKey(testutil.Sum()), rng)
	b.Output(0, testutil.Add(b, ops.NewMap(testutil.Double()), rbk))
	g := b.Graph()
	analyze(t, g)
	_, err := BuildPipelines(g)
	require.NoError(t, err)
	checkPlan(t, g)

	backend := testutil.NewRecordingBackend()
	env := NewEnv()
	env.Backend = backend
	require.NoError(t, run(t, NewRegistry(), CompilePipelines, g, env))

	assert.Equal(t, []int{2, 1}, backend.Bodies())
	assert.Empty(t, pipelinesOf(g))
	out, _ := g.Output(0)
	cp, ok := out.Op.(*ops.CompiledPipeline)
	require.True(t, ok)
	assert.Equal(t, "lib1.so", cp.LibraryPath)
	assert.Equal(t, "pipeline_1", cp.EntrySymbol)
	assert.Equal(t, "{int64}", cp.Type().String())
	assert.False(t, g.HasInner(cp))
	checkPlan(t, g)
}

// TestCompilePipelinesErrors tests missing and failing backends.
func TestCompilePipelinesErrors(t *testing.T) {
	b := testutil.NewBuilder(t)
	b.Output(0, testutil.Add(b, ops.NewRangeSource(0, 10, 1)))
	g := b.Graph()
	analyze(t, g)
	_, err := BuildPipelines(g)
	require.NoError(t, err)

	err = run(t, NewRegistry(), CompilePipelines, g, NewEnv())
	assert.ErrorIs(t, err, planerr.ErrConfiguration)

	boom := errors.New("toolchain missing")
	backend := testutil.NewRecordingBackend()
	backend.FailWith(boom)
	env := NewEnv()
	env.Backend = backend
	err = run(t, NewRegistry(), CompilePipelines, g, env)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, pipelinesOf(g), 1, "graph untouched on failure")
}
