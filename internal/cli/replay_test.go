package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/journal"
)

func TestReplayVerify(t *testing.T) {
	dir := stockDir(t)
	db, runID := recordRun(t, dir, "--fact", "(item (name kiwi))")

	out, err := execute(t, "replay", dir, "--db", db, "--verify")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Replay of run "+runID)
	assert.Contains(t, out, "Restored: 1 fact(s)")
	assert.Contains(t, out, "Fired: 4 rule(s)")
	assert.Contains(t, out, "✓ Replay matches the recorded run")
	assert.NotContains(t, out, "Warning")
}

func TestReplayVerifyJSON(t *testing.T) {
	dir := stockDir(t)
	db, runID := recordRun(t, dir)

	out, err := execute(t, "--format", "json", "replay", dir, "--db", db, "--run", runID, "--verify")
	require.NoError(t, err)

	var result ReplayResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, runID, result.RunID)
	require.NotNil(t, result.Deterministic)
	assert.True(t, *result.Deterministic)
	assert.True(t, result.HashMatches)
	assert.Equal(t, []string{"MAIN::restock", "MAIN::drop"}, result.Fired)
	assert.Equal(t, result.Recorded, result.Fired)
	assert.Equal(t, "restocked pear\n", result.Output)
}

func TestReplayDivergence(t *testing.T) {
	dir := stockDir(t)
	db, _ := recordRun(t, dir)

	changed := writeFiles(t, map[string]string{
		"stock.cue": strings.Replace(stockSpec, "rule: drop:", "rule: discard:", 1),
	})
	out, err := execute(t, "replay", changed, "--db", db, "--verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Warning: specs differ from the recorded run")
	assert.Contains(t, out, "✗ Replay diverged at firing 2: recorded MAIN::drop, replayed MAIN::discard")
}

func TestReplayDivergenceJSON(t *testing.T) {
	dir := stockDir(t)
	db, _ := recordRun(t, dir)

	changed := writeFiles(t, map[string]string{
		"stock.cue": strings.Replace(stockSpec, "(modify ?i (qty 5))", "(modify ?i (qty 6))", 1) + `
rule: audit: {
	salience: 10
	when: ["(item (qty 6))"]
	then: ["(printout t \"audit\" crlf)"]
}
`,
	})
	out, err := execute(t, "--format", "json", "replay", changed, "--db", db, "--verify")
	require.Error(t, err)

	var result ReplayResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_DETERMINISM", resp.Error.Code)
	assert.False(t, result.HashMatches)
	assert.Equal(t, []string{"MAIN::restock", "MAIN::audit"}, result.Fired)
}

func TestReplayRecord(t *testing.T) {
	dir := stockDir(t)
	db, runID := recordRun(t, dir)

	out, err := execute(t, "--format", "json", "replay", dir, "--db", db, "--record")
	require.NoError(t, err)

	var result ReplayResult
	resp := decodeResponse(t, out, &result)
	require.NotEmpty(t, result.ReplayRunID)
	assert.Equal(t, result.ReplayRunID, resp.TraceID)

	j, err := journal.Open(db)
	require.NoError(t, err)
	defer j.Close()

	run, _, err := j.ReadRun(t.Context(), result.ReplayRunID)
	require.NoError(t, err)
	assert.Equal(t, "replay of "+runID, run.Label)
	assert.Equal(t, 2, run.Fired)

	// Without --run, the latest run is the replay.
	out, err = execute(t, "replay", dir, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay of run "+result.ReplayRunID)
}

func TestReplayAtSeq(t *testing.T) {
	dir := stockDir(t)
	db, runID := recordRun(t, dir)

	j, err := journal.Open(db)
	require.NoError(t, err)
	run, _, err := j.ReadRun(t.Context(), runID)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	// Nothing is left to fire in the final state.
	out, err := execute(t, "--format", "json", "replay", dir, "--db", db, "--at", fmt.Sprint(run.LastSeq))
	require.NoError(t, err)

	var result ReplayResult
	decodeResponse(t, out, &result)
	assert.Equal(t, run.LastSeq, result.AtSeq)
	assert.Equal(t, 2, result.Restored)
	assert.Empty(t, result.Fired)
	assert.Nil(t, result.Deterministic)
}

func TestReplayErrors(t *testing.T) {
	dir := stockDir(t)
	db, _ := recordRun(t, dir)

	t.Run("unknown run", func(t *testing.T) {
		_, err := execute(t, "replay", dir, "--db", db, "--run", "nope")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "run not found")
	})

	t.Run("missing journal", func(t *testing.T) {
		_, err := execute(t, "replay", dir, "--db", filepath.Join(t.TempDir(), "none.db"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("empty journal", func(t *testing.T) {
		empty := filepath.Join(t.TempDir(), "empty.db")
		j, err := journal.Open(empty)
		require.NoError(t, err)
		require.NoError(t, j.Close())

		_, err = execute(t, "replay", dir, "--db", empty)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "journal has no runs")
	})

	t.Run("at and verify", func(t *testing.T) {
		_, err := execute(t, "replay", dir, "--db", db, "--at", "3", "--verify")
		require.Error(t, err)
	})
}

func TestDivergence(t *testing.T) {
	assert.Equal(t, -1, divergence(nil, nil))
	assert.Equal(t, -1, divergence([]string{"a", "b"}, []string{"a", "b"}))
	assert.Equal(t, 1, divergence([]string{"a", "b"}, []string{"a", "c"}))
	assert.Equal(t, 2, divergence([]string{"a", "b"}, []string{"a", "b", "c"}))
	assert.Equal(t, 0, divergence([]string{"a"}, nil))
}
