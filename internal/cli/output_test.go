package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatterFor(format string, verbose bool) (*OutputFormatter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &OutputFormatter{Format: format, Writer: &out, ErrWriter: &errOut, Verbose: verbose}, &out, &errOut
}

func TestOutputFormatter_JSON(t *testing.T) {
	f, _, _ := formatterFor("json", false)
	assert.True(t, f.JSON())
	f, _, _ = formatterFor("text", false)
	assert.False(t, f.JSON())
}

func TestOutputFormatter_Success(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		f, out, _ := formatterFor("json", false)
		require.NoError(t, f.Success(map[string]int{"fired": 3}))
		var fired struct{ Fired int }
		resp := decodeResponse(t, out.String(), &fired)
		assert.Equal(t, "ok", resp.Status)
		assert.Nil(t, resp.Error)
		assert.Equal(t, 3, fired.Fired)
	})
	t.Run("text", func(t *testing.T) {
		f, out, _ := formatterFor("text", false)
		require.NoError(t, f.Success("✓ All specs valid"))
		assert.Equal(t, "✓ All specs valid\n", out.String())
	})
}

func TestOutputFormatter_Error(t *testing.T) {
	details := map[string]string{"file": "rules.cue"}

	t.Run("json", func(t *testing.T) {
		f, out, _ := formatterFor("json", false)
		require.NoError(t, f.Error("E005", "path not found", details))
		resp := decodeResponse(t, out.String(), nil)
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "E005", resp.Error.Code)
		assert.Equal(t, "path not found", resp.Error.Message)
		assert.Equal(t, map[string]any{"file": "rules.cue"}, resp.Error.Details)
	})
	t.Run("text hides details", func(t *testing.T) {
		f, out, _ := formatterFor("text", false)
		require.NoError(t, f.Error("E005", "path not found", details))
		assert.Equal(t, "Error [E005]: path not found\n", out.String())
	})
	t.Run("verbose text shows details", func(t *testing.T) {
		f, out, _ := formatterFor("text", true)
		require.NoError(t, f.Error("E005", "path not found", details))
		assert.Contains(t, out.String(), "Details: map[file:rules.cue]")
	})
}

func TestOutputFormatter_Failure(t *testing.T) {
	f, out, _ := formatterFor("json", false)
	require.NoError(t, f.Failure("E_TEST_FAILED", "1 scenario(s) failed", TestResult{Passed: 1, Failed: 1, Total: 2}))

	var result TestResult
	resp := decodeResponse(t, out.String(), &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 2, result.Total)
}

func TestOutputFormatter_Response(t *testing.T) {
	f, out, _ := formatterFor("json", false)
	require.NoError(t, f.Response(CLIResponse{Status: "ok", Data: map[string]int{"fired": 2}, TraceID: "run-1"}))
	assert.Equal(t, "{\n  \"status\": \"ok\",\n  \"data\": {\n    \"fired\": 2\n  },\n  \"trace_id\": \"run-1\"\n}\n", out.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	f, out, errOut := formatterFor("json", true)
	f.VerboseLog("found %d file(s)", 2)
	assert.Empty(t, out.String())
	assert.Equal(t, "found 2 file(s)\n", errOut.String())

	quiet, out, errOut := formatterFor("text", false)
	quiet.VerboseLog("found %d file(s)", 2)
	assert.Empty(t, out.String())
	assert.Empty(t, errOut.String())

	var buf bytes.Buffer
	noErr := &OutputFormatter{Writer: &buf, Verbose: true}
	noErr.VerboseLog("fallback")
	assert.Equal(t, "fallback\n", buf.String())
}

func TestExitError(t *testing.T) {
	assert.Equal(t, "journal not found: x.db", NewExitError(ExitCommandError, "journal not found: x.db").Error())

	cause := errors.New("locked")
	wrapped := WrapExitError(ExitCommandError, "journal", cause)
	assert.Equal(t, "journal: locked", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"exit error", NewExitError(ExitCommandError, "bad path"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "journal", errors.New("locked"))), ExitCommandError},
		{"plain error", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}
