package plan

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/ops"
	"github.com/roach88/dagopt/internal/planerr"
)

const samplePlan = `{
  "operators": [
    {"id": 0, "op": "range_source", "from": 0, "to": 10, "step": 1},
    {"id": 1, "op": "map", "func": {"name": "double", "results": [
      {"op": "mul", "args": [{"op": "arg", "arg": 0}, {"op": "const", "value": 2, "type": "int64"}]}
    ]}, "predecessors": [{"op": 0, "port": 0}]},
    {"id": 2, "op": "concurrent_execute", "num_inputs": 1, "broadcast": [true],
     "predecessors": [{"op": 1, "port": 0}],
     "inner_dag": {
       "operators": [
         {"id": 0, "op": "parameter_lookup", "index": 0},
         {"id": 1, "op": "ensure_single_tuple", "predecessors": [{"op": 0, "port": 0}]}
       ],
       "outputs": [{"op": 1, "port": 0}]
     }},
    {"id": 3, "op": "join", "num_keys": 1, "predecessors": [{"op": 2, "port": 0}, null]}
  ],
  "inputs": [{"op": 3, "op_port": 1, "dag_port": 0, "type": "{int64,double}"}],
  "outputs": [{"op": 3, "port": 0}]
}`

// TestUnmarshal tests decoding of operators, flows, ports and nested graphs.
func TestUnmarshal(t *testing.T) {
	g, err := Unmarshal([]byte(samplePlan))
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())

	op, ok := g.Lookup(0)
	require.True(t, ok)
	rng := op.(*ops.RangeSource)
	assert.Equal(t, int64(10), rng.To)

	op, _ = g.Lookup(1)
	m := op.(*ops.Map)
	assert.Equal(t, "double", m.Func.Name)
	assert.Equal(t, "2", m.Func.Results[0].Args[1].Value)

	op, _ = g.Lookup(2)
	ce := op.(*ops.ConcurrentExecute)
	assert.True(t, ce.IsBroadcast(0))
	inner := g.Inner(ce)
	require.NotNil(t, inner)
	assert.Equal(t, 2, inner.Len())
	assert.Equal(t, 1, inner.NumOutputs())

	op, _ = g.Lookup(3)
	assert.Equal(t, 1, g.InDegree(op))
	dp, ok := g.InputBinding(op, 1)
	require.True(t, ok)
	assert.Equal(t, 0, dp)
	it, ok := g.InputType(0)
	require.True(t, ok)
	assert.Equal(t, "{int64,double}", it.String())
}

// TestMarshalRoundTrip tests that encoding is stable across a decode.
func TestMarshalRoundTrip(t *testing.T) {
	g, err := Unmarshal([]byte(samplePlan))
	require.NoError(t, err)

	first, err := Marshal(g)
	require.NoError(t, err)

	g2, err := Unmarshal(first)
	require.NoError(t, err)
	second, err := Marshal(g2)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), `"predecessors": [`)

	h1, err := Hash(g)
	require.NoError(t, err)
	h2, err := Hash(g2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

// TestUnmarshalErrors tests rejection of malformed documents.
func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"invalid json", `{`, planerr.ErrConfiguration},
		{"unknown kind", `{"operators": [{"id": 0, "op": "sort"}]}`, planerr.ErrConfiguration},
		{"unknown field", `{"operators": [{"id": 0, "op": "filter", "num_keys": 2}]}`, planerr.ErrConfiguration},
		{"func on join", `{"operators": [{"id": 0, "op": "join", "func": {"results": []}}]}`, planerr.ErrConfiguration},
		{"bad type", `{"operators": [{"id": 0, "op": "collection_source", "output_type": "{int}"}]}`, planerr.ErrConfiguration},
		{"unknown pred", `{"operators": [{"id": 0, "op": "filter", "predecessors": [{"op": 9, "port": 0}]}]}`, planerr.ErrConfiguration},
		{"duplicate id", `{"operators": [{"id": 0, "op": "range_source"}, {"id": 0, "op": "range_source"}]}`, planerr.ErrStructural},
		{"cycle", `{"operators": [
			{"id": 0, "op": "filter", "predecessors": [{"op": 1, "port": 0}]},
			{"id": 1, "op": "filter", "predecessors": [{"op": 0, "port": 0}]}]}`, planerr.ErrStructural},
		{"port range", `{"operators": [
			{"id": 0, "op": "range_source"},
			{"id": 1, "op": "filter", "predecessors": [{"op": 0, "port": 0}, {"op": 0, "port": 0}]}]}`, planerr.ErrStructural},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestMarshalCanonical tests key order, escaping and rejected values.
func TestMarshalCanonical(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"zebra": 1,
		"alpha": []any{true, nil, "a<b"},
		"beta":  map[string]any{"y": int64(-2), "x": "q\""},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":[true,null,"a<b"],"beta":{"x":"q\"","y":-2},"zebra":1}`, string(out))

	out, err = MarshalCanonical(map[string]any{"\uE000": 1, "\U00010000": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(out), "keys sort by UTF-16 code units")

	out, err = MarshalCanonical("line\u2028sep")
	require.NoError(t, err)
	assert.Equal(t, "\"line\u2028sep\"", string(out))

	_, err = MarshalCanonical(1.5)
	assert.Error(t, err)
	_, err = MarshalCanonical(struct{}{})
	assert.Error(t, err)
}

// TestDigest tests separator handling.
func TestDigest(t *testing.T) {
	assert.NotEqual(t, Digest("ab", "c"), Digest("a", "bc"))
	assert.Equal(t, Digest("x"), Digest("x"))
}

// TestWriteDot tests the Graphviz rendering.
func TestWriteDot(t *testing.T) {
	g, err := Unmarshal([]byte(samplePlan))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteDot(&buf, g))
	out := buf.String()

	assert.Contains(t, out, "digraph plan {")
	assert.Contains(t, out, `n0 [label="0: range_source"];`)
	assert.Contains(t, out, `n0 -> n1 [label="0:0"];`)
	assert.Contains(t, out, "subgraph cluster_n2 {")
	assert.Contains(t, out, "n2_1 -> n2 [style=dashed];")
	assert.Contains(t, out, "nin0 -> n3")
	assert.Contains(t, out, "n3 -> nout0")
}
