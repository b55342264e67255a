package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainScenario = `name: chain
description: A chain becomes one pipeline.
dag: plans/chain.json
golden: true
assertions:
  - type: operator_count
    kind: pipeline
    count: 1
  - type: verify
`

const sumScenario = `name: parallel_sum
description: A sum is parallelized.
dag: plans/sum.json
config:
  optimization-level: 2
  target: omp
assertions:
  - type: operator_count
    kind: concurrent_execute
    count: 1
`

const failingScenario = `name: wrong_count
description: Expects too many pipelines.
dag: plans/chain.json
assertions:
  - type: operator_count
    kind: pipeline
    count: 3
`

// scenarioDir writes plans and the given scenario files into a directory.
func scenarioDir(t *testing.T, scenarios map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "plans"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plans", "chain.json"), []byte(chainPlan), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plans", "sum.json"), []byte(sumPlan), 0o644))
	for name, content := range scenarios {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

// TestTestCommandErrors tests argument and path errors.
func TestTestCommandErrors(t *testing.T) {
	_, _, err := execute(t, "test")
	assert.Error(t, err)

	_, _, err = execute(t, "test", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	dir := scenarioDir(t, map[string]string{"chain.yaml": chainScenario})
	_, _, err = execute(t, "test", dir, "--filter", "[")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// TestTestCommandEmpty tests a directory without scenarios.
func TestTestCommandEmpty(t *testing.T) {
	stdout, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, stdout, "No scenarios found.")
}

// TestTestCommandGolden tests creating and then comparing golden files.
func TestTestCommandGolden(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"chain.yaml":        chainScenario,
		"parallel_sum.yaml": sumScenario,
	})

	stdout, _, err := execute(t, "test", dir)
	require.Error(t, err, "golden file does not exist yet")
	assert.Contains(t, stdout, "run with --update to create")
	assert.Contains(t, stdout, "✓ parallel_sum")

	stdout, _, err = execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ chain (golden updated)")
	assert.FileExists(t, filepath.Join(dir, "golden", "chain.golden"))

	stdout, _, err = execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Test Summary: 2 passed, 0 failed, 2 total")
	assert.Contains(t, stdout, "✓ All scenarios passed")

	golden := filepath.Join(dir, "golden", "chain.golden")
	require.NoError(t, os.WriteFile(golden, []byte("{}\n"), 0o644))
	stdout, _, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "optimized plan differs from golden file")
}

// TestTestCommandFailures tests reporting of failing scenarios.
func TestTestCommandFailures(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"parallel_sum.yaml": sumScenario,
		"wrong_count.yaml":  failingScenario,
		"broken.yaml":       "name: [",
	})

	stdout, _, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ broken.yaml")
	assert.Contains(t, stdout, "failed to load scenario")
	assert.Contains(t, stdout, "✗ wrong_count")
	assert.Contains(t, stdout, "Test Summary: 1 passed, 2 failed, 3 total")

	stdout, _, err = execute(t, "test", dir, "--filter", "parallel_*")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Test Summary: 1 passed, 0 failed, 1 total")
}

// TestTestCommandJSON tests JSON output.
func TestTestCommandJSON(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"parallel_sum.yaml": sumScenario,
		"wrong_count.yaml":  failingScenario,
	})

	stdout, _, err := execute(t, "test", dir, "--format", "json")
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)

	for _, s := range resp.Data.Scenarios {
		if s.Name == "wrong_count" {
			assert.False(t, s.Pass)
			assert.NotEmpty(t, s.Errors)
		}
	}
}
