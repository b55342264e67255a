package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dagopt/internal/planerr"
)

// TestOutputFormatterJSON tests the JSON envelope for results and errors.
func TestOutputFormatterJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.SuccessRun("run-1", map[string]int{"operators": 3}))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.NotNil(t, resp.Data)

	buf.Reset()
	require.NoError(t, formatter.Error("E_TYPE", "optimization failed", []string{"op 3"}))
	resp = CLIResponse{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TYPE", resp.Error.Code)
	assert.NotNil(t, resp.Error.Details)
}

// TestOutputFormatterText tests plain output and verbose details.
func TestOutputFormatterText(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("plan is well formed"))
	assert.Equal(t, "plan is well formed\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Error("E_CONFIG", "bad level", "detail"))
	assert.Contains(t, buf.String(), "Error [E_CONFIG]: bad level")
	assert.NotContains(t, buf.String(), "Details:")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("E_CONFIG", "bad level", "detail"))
	assert.Contains(t, buf.String(), "Details: detail")
}

// TestVerboseLog tests that diagnostics go to ErrWriter only when verbose.
func TestVerboseLog(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}

	formatter.VerboseLog("pass %s", "verify")
	assert.Empty(t, errOut.String())

	formatter.Verbose = true
	formatter.VerboseLog("pass %s", "verify")
	assert.Equal(t, "pass verify\n", errOut.String())
	assert.Empty(t, out.String())
}

// TestFail tests error classification into codes and exit codes.
func TestFail(t *testing.T) {
	tests := []struct {
		err  error
		code string
		exit int
	}{
		{planerr.Configuration("target", "unknown"), "E_CONFIG", ExitCommandError},
		{fmt.Errorf("pass type_check: %w", &planerr.TypeError{Kind: "map"}), "E_TYPE", ExitFailure},
		{&planerr.VerificationError{Check: "acyclic"}, "E_VERIFY", ExitFailure},
		{planerr.Structural(planerr.CodeMissingPredecessor, "x"), "E_STRUCTURE", ExitFailure},
		{errors.New("disk"), "E_INTERNAL", ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf}
			err := formatter.Fail("optimization failed", tt.err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, buf.String(), "Error ["+tt.code+"]")
		})
	}
}

// TestExitError tests message formatting and code extraction.
func TestExitError(t *testing.T) {
	err := NewExitError(ExitCommandError, "no such file")
	assert.Equal(t, "no such file", err.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	wrapped := WrapExitError(ExitFailure, "optimization failed", errors.New("boom"))
	assert.Equal(t, "optimization failed: boom", wrapped.Error())
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("outer: %w", wrapped)))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}
