package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/planerr"
)

// TestDefault tests the zero configuration.
func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, 1, c.Level)
	assert.Equal(t, TargetSingleCore, c.Target)
	assert.True(t, c.Active("verify", true))
	assert.False(t, c.Active("parallelize", false))
	assert.False(t, c.Explicit("compile_pipelines"))
	assert.Nil(t, c.Settings("parallelize"))
}

// TestParseJSON tests nested and flattened keys with pass settings.
func TestParseJSON(t *testing.T) {
	c, err := ParseJSON([]byte(`{
		"optimization-level": 2,
		"target": "omp",
		"optimizations.parallelize.num_workers": 4,
		"optimizations": {"parallelize": {"active": true}, "predicate_move_around": {"active": false}}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Level)
	assert.Equal(t, TargetOMP, c.Target)
	assert.True(t, c.Active("parallelize", false))
	assert.True(t, c.Explicit("parallelize"))
	assert.False(t, c.Active("predicate_move_around", true))
	assert.Equal(t, map[string]any{"num_workers": int64(4)}, c.Settings("parallelize"))
	assert.Equal(t, []string{"parallelize", "predicate_move_around"}, c.Passes())
}

// TestParseYAML tests the YAML spelling of the same document.
func TestParseYAML(t *testing.T) {
	c, err := ParseYAML([]byte(`
optimization-level: 0
verbose: true
optimizations:
  type_inference:
    mode: check
`))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Level)
	assert.True(t, c.Verbose)
	assert.Equal(t, "check", c.Settings("type_inference")["mode"])
	assert.True(t, c.Active("type_inference", true))
}

// TestParseErrors tests schema violations surface as configuration errors.
func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		key  string
	}{
		{"level range", `{"optimization-level": 3}`, "optimization-level"},
		{"level float", `{"optimization-level": 1.5}`, "optimization-level"},
		{"target", `{"target": "gpu"}`, "target"},
		{"unknown key", `{"speed": "fast"}`, "speed"},
		{"active type", `{"optimizations.verify.active": "yes"}`, "active"},
		{"conflict", `{"optimizations": 1, "optimizations.verify.active": true}`, "optimizations"},
		{"syntax", `{`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, planerr.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

// TestUnflatten tests merging of dotted and nested spellings.
func TestUnflatten(t *testing.T) {
	got, err := Unflatten(map[string]any{
		"a.b":   1,
		"a":     map[string]any{"c": 2},
		"a.d.e": true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": map[string]any{"b": int64(1), "c": int64(2), "d": map[string]any{"e": true}},
	}, got)

	_, err = Unflatten(map[string]any{"a": 1, "a.b": 2})
	assert.ErrorIs(t, err, planerr.ErrConfiguration)
}

// TestSetActive tests explicit overrides set in code.
func TestSetActive(t *testing.T) {
	var c Config
	c.SetActive("compile_pipelines", true)
	assert.True(t, c.Explicit("compile_pipelines"))
	assert.True(t, c.Active("compile_pipelines", false))
}

// TestLoad tests file loading by extension.
func TestLoad(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "opt.yaml")
	require.NoError(t, os.WriteFile(yml, []byte("target: omp\n"), 0o644))
	c, err := Load(yml)
	require.NoError(t, err)
	assert.Equal(t, TargetOMP, c.Target)

	js := filepath.Join(dir, "opt.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"verbose": true}`), 0o644))
	c, err = Load(js)
	require.NoError(t, err)
	assert.True(t, c.Verbose)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

// TestHash tests that the hash follows configuration content.
func TestHash(t *testing.T) {
	a, err := Default().Hash()
	require.NoError(t, err)
	b, err := Default().Hash()
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c := Default()
	c.Level = 2
	h, err := c.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, a, h)

	h, err = Default().Hash("dot")
	require.NoError(t, err)
	assert.NotEqual(t, a, h)
}
