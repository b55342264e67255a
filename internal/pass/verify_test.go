package pass

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/dag"
	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
	"github.com/roach88/dagopt/internal/testutil"
	"github.com/roach88/dagopt/internal/types"
)

// TestVerifyGraph tests each structural check.
func TestVerifyGraph(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *testutil.Builder)
		check string
	}{
		{
			name: "unfed input",
			build: func(b *testutil.Builder) {
				b.Output(0, testutil.Add(b, ops.NewMap(testutil.Double())))
			},
			check: "input port 0 feeds",
		},
		{
			name: "doubly fed input",
			build: func(b *testutil.Builder) {
				rng := testutil.Add(b, ops.NewRangeSource(0, 1, 1))
				m := testutil.Add(b, ops.NewMap(testutil.Double()), rng)
				b.Input(0, m, 0, "{int64}")
				b.Output(0, m)
			},
			check: "input port 0 feeds",
		},
		{
			name: "dangling output",
			build: func(b *testutil.Builder) {
				testutil.Add(b, ops.NewRangeSource(0, 1, 1))
			},
			check: "output port 0 consumed",
		},
		{
			name: "missing nested graph",
			build: func(b *testutil.Builder) {
				b.Output(0, testutil.Add(b, ops.NewPipeline(0)))
			},
			check: "nested graph",
		},
		{
			name: "region without output",
			build: func(b *testutil.Builder) {
				inner := dag.New()
				_, err := inner.AddOperator(ops.NewRangeSource(0, 1, 1))
				require.NoError(t, err)
				b.Output(0, testutil.AddNested(b, ops.NewConcurrentExecute(ops.KindConcurrentExecute, 0), inner))
			},
			check: "nested outputs",
		},
		{
			name: "parameter out of range",
			build: func(b *testutil.Builder) {
				inner := dag.New()
				pl := ops.NewParameterLookup(3)
				_, err := inner.AddOperator(pl)
				require.NoError(t, err)
				require.NoError(t, inner.SetOutput(0, pl, 0))
				src := testutil.Add(b, ops.NewCollectionSource("s", types.MustParse("{int64}")))
				b.Output(0, testutil.AddNested(b, ops.NewConcurrentExecute(ops.KindConcurrentExecute, 1), inner, src))
			},
			check: "parameter index",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testutil.NewBuilder(t)
			tt.build(b)
			err := VerifyGraph(b.Graph())
			require.ErrorIs(t, err, planerr.ErrVerification)
			var ve *planerr.VerificationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.check, ve.Check)
		})
	}
}

// TestVerifyGraphReportsAll tests that every violation is reported.
func TestVerifyGraphReportsAll(t *testing.T) {
	b := testutil.NewBuilder(t)
	testutil.Add(b, ops.NewRangeSource(0, 1, 1))
	testutil.Add(b, ops.NewRangeSource(0, 2, 1))

	err := VerifyGraph(b.Graph())
	require.Error(t, err)
	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	assert.Len(t, joined.Unwrap(), 2)
}

// TestVerifyPassTypes tests the types setting.
func TestVerifyPassTypes(t *testing.T) {
	b := testutil.NewBuilder(t)
	rng := testutil.Add(b, ops.NewRangeSource(0, 1, 1))
	b.Output(0, rng)
	r := NewRegistry()

	require.NoError(t, run(t, r, Verify, b.Graph(), NewEnv()))
	err := run(t, r, Verify, b.Graph(), NewEnv().With(map[string]any{"types": true}))
	assert.ErrorIs(t, err, planerr.ErrType, "types were never inferred")
}
