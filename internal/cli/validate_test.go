package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/compiler"
)

const unboundSpec = `
rule: shout: {
	when: ["(person ?n)"]
	then: ["(printout t ?who crlf)"]
}
rule: empty: {
	when: ["(person ?n)"]
	then: []
}
`

func TestValidateValidSpecs(t *testing.T) {
	out, err := execute(t, "validate", stockDir(t))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All specs valid")
}

func TestValidateValidSpecsJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", stockDir(t))
	require.NoError(t, err)

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	assert.Equal(t, 4, result.Constructs)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.cue": unboundSpec})

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, compiler.ErrUnboundVariable)
	assert.Contains(t, out, "?who is not bound")
	assert.Contains(t, out, "✗ Validation failed (1 error(s))")
	assert.Contains(t, out, "warning E213: Rule has no actions: empty")
}

func TestValidateEmptyRuleIsWarning(t *testing.T) {
	dir := writeFiles(t, map[string]string{"noop.cue": `
rule: noop: {
	when: ["(person ?n)"]
	then: []
}
`})

	out, err := execute(t, "--format", "json", "validate", dir)
	require.NoError(t, err)

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, compiler.ErrEmptyRule, result.Warnings[0].Code)
	assert.Equal(t, []string{"noop"}, result.Warnings[0].Path)
}

func TestValidateErrorsJSON(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.cue": unboundSpec})

	out, err := execute(t, "--format", "json", "validate", dir)
	require.Error(t, err)

	var result ValidationResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, compiler.ErrUnboundVariable, result.Errors[0].Code)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, compiler.ErrEmptyRule, result.Warnings[0].Code)
}

func TestValidateDecodeError(t *testing.T) {
	dir := writeFiles(t, map[string]string{"bad.cue": "rule: 5\n"})

	out, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeInvalidRule)
}

func TestValidateReportsCycles(t *testing.T) {
	dir := writeFiles(t, map[string]string{"loop.cue": `
rule: ping: {
	when: ["?f <- (ping)"]
	then: ["(retract ?f)", "(assert (pong))"]
}
rule: pong: {
	when: ["?f <- (pong)"]
	then: ["(retract ?f)", "(assert (ping))"]
}
`})

	out, err := execute(t, "validate", dir)
	require.NoError(t, err, "cycles are warnings")
	assert.Contains(t, out, "✓ All specs valid")
	assert.Contains(t, out, "warning: ")
}

func TestValidateMissingPath(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestValidateEmptyDirectory(t *testing.T) {
	out, err := execute(t, "validate", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNoFiles)
}

func TestValidateSpecs(t *testing.T) {
	errs, err := ValidateSpecs(stockDir(t))
	require.NoError(t, err)
	assert.Empty(t, errs)

	errs, err = ValidateSpecs(writeFiles(t, map[string]string{"bad.cue": unboundSpec}))
	require.NoError(t, err)
	assert.Len(t, errs, 2)

	_, err = ValidateSpecs("/nonexistent/directory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field    string
		expected string
	}{
		{"module", ErrCodeInvalidModule},
		{"template.item.slots", ErrCodeInvalidTemplate},
		{"global", ErrCodeInvalidGlobal},
		{"facts.stock", ErrCodeInvalidFacts},
		{"rule.r.when[0]", ErrCodeInvalidRule},
		{"unknown", ErrCodeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapFieldToErrorCode(tt.field))
		})
	}
}
