package journal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/compiler"
	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/ir"
)

// recordStockRun records a full run of stockProgram and returns the run ID.
func recordStockRun(t *testing.T, j *Journal) string {
	t.Helper()
	env := newStockEnv(t, "env-1", true)
	rec, err := j.Record(t.Context(), env, WithRunID("run-1"), WithLabel("stock"), WithRuleSetHash("abc"))
	require.NoError(t, err)

	fired, err := env.Run(0)
	require.NoError(t, err)
	require.Equal(t, 2, fired)
	require.NoError(t, rec.Close())
	return rec.RunID()
}

func TestRecordRun(t *testing.T) {
	j := openTestJournal(t)
	runID := recordStockRun(t, j)

	run, events, err := j.ReadRun(t.Context(), runID)
	require.NoError(t, err)
	assert.Equal(t, "env-1", run.EnvID)
	assert.Equal(t, "stock", run.Label)
	assert.Equal(t, "abc", run.RuleSetHash)
	assert.Equal(t, ir.EngineVersion, run.EngineVersion)
	assert.True(t, run.Ended)
	assert.Equal(t, 2, run.Fired)
	assert.Empty(t, run.Error)

	require.NotEmpty(t, events)
	assert.Equal(t, engine.EventRunStart, events[0].Type)
	assert.Equal(t, engine.EventRunEnd, events[len(events)-1].Type)
	assert.Equal(t, 2, events[len(events)-1].Count)
	assert.Equal(t, events[len(events)-1].Seq, run.LastSeq)
	for i := 1; i < len(events); i++ {
		assert.Less(t, events[i-1].Seq, events[i].Seq)
	}

	fires, err := j.Events(t.Context(), runID, EventFilter{Types: []engine.EventType{engine.EventFire}})
	require.NoError(t, err)
	require.Len(t, fires, 2)
	assert.Equal(t, "MAIN::restock", fires[0].Rule)
	assert.Equal(t, "MAIN::drop", fires[1].Rule)

	stats, err := j.Stats(t.Context(), runID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats[engine.EventFire])
	assert.Equal(t, 1, stats[engine.EventModify])
	assert.Equal(t, 1, stats[engine.EventAssert])
	assert.Equal(t, 1, stats[engine.EventRetract])
}

func TestRecordFactVersions(t *testing.T) {
	j := openTestJournal(t)
	runID := recordStockRun(t, j)
	ctx := t.Context()

	live, err := j.LiveFacts(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, int64(1), live[0].Index)
	assert.Equal(t, int64(0), live[0].AssertedSeq)
	assert.Equal(t, []ir.SlotValue{{Name: "name", Value: ir.Sym("pear")}, {Name: "qty", Value: ir.Integer(5)}}, live[1].Slots)
	assert.Equal(t, "MAIN::item", live[1].Template)

	modified, err := j.FactEvents(ctx, runID, 2)
	require.NoError(t, err)
	require.Len(t, modified, 1)
	assert.Equal(t, engine.EventModify, modified[0].Type)
	assert.Equal(t, []ir.Value{ir.Sym("pear"), ir.Integer(5)}, modified[0].Values)

	before, err := j.LiveFacts(ctx, runID, modified[0].Seq-1)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.Equal(t, ir.Integer(0), before[1].Slots[1].Value)

	restocked, err := j.FactEvents(ctx, runID, 3)
	require.NoError(t, err)
	require.Len(t, restocked, 2)
	assert.Equal(t, engine.EventAssert, restocked[0].Type)
	assert.Equal(t, engine.EventRetract, restocked[1].Type)
	assert.Equal(t, "(restocked pear)", restocked[0].Text)

	during, err := j.LiveFacts(ctx, runID, restocked[0].Seq)
	require.NoError(t, err)
	require.Len(t, during, 3)
	assert.Equal(t, []ir.SlotValue{{Name: "implied", Value: ir.Multi(ir.Sym("pear"))}}, during[2].Slots)
}

func TestRecordEventFilter(t *testing.T) {
	j := openTestJournal(t)
	runID := recordStockRun(t, j)
	ctx := t.Context()

	all, err := j.Events(ctx, runID, EventFilter{})
	require.NoError(t, err)

	mid := all[len(all)/2].Seq
	tail, err := j.Events(ctx, runID, EventFilter{FromSeq: mid})
	require.NoError(t, err)
	assert.Equal(t, all[len(all)/2:], tail)

	head, err := j.Events(ctx, runID, EventFilter{ToSeq: mid})
	require.NoError(t, err)
	assert.Equal(t, all[:len(all)/2+1], head)

	drop, err := j.Events(ctx, runID, EventFilter{Rule: "MAIN::drop", Types: []engine.EventType{engine.EventFire}})
	require.NoError(t, err)
	require.Len(t, drop, 1)

	none, err := j.Events(ctx, "nope", EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRecordRunError(t *testing.T) {
	j := openTestJournal(t)
	env := newStockEnv(t, "env-err", false)
	rec, err := j.Record(t.Context(), env)
	require.NoError(t, err)

	_, err = compiler.Load(env, `rule: bad: {then: ["(+ 1 abc)"]}`, "bad.cue")
	require.NoError(t, err)
	require.NoError(t, env.Reset())
	_, err = env.Run(0)
	require.Error(t, err)
	require.NoError(t, rec.Close())

	run, _, err := j.ReadRun(t.Context(), rec.RunID())
	require.NoError(t, err)
	assert.NotEmpty(t, run.Error)

	stats, err := j.Stats(t.Context(), rec.RunID())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats[engine.EventError], 1)
}

func TestRecorderIgnoresEventsAfterClose(t *testing.T) {
	j := openTestJournal(t)
	env := newStockEnv(t, "env-2", false)
	rec, err := j.Record(t.Context(), env)
	require.NoError(t, err)
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	require.NoError(t, env.Reset())
	_, err = env.Run(0)
	require.NoError(t, err)

	_, events, err := j.ReadRun(t.Context(), rec.RunID())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecorderKeepsFirstWriteError(t *testing.T) {
	j := openTestJournal(t)
	env := newStockEnv(t, "env-3", true)
	rec, err := j.Record(t.Context(), env)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	fired, err := env.Run(0)
	require.NoError(t, err, "journal failures do not stop the engine")
	assert.Equal(t, 2, fired)
	require.Error(t, rec.Err())
	assert.Error(t, rec.Close())
}

func TestRecordGeneratesRunIDs(t *testing.T) {
	j := openTestJournal(t)
	a, err := j.Record(t.Context(), newStockEnv(t, "env-a", false))
	require.NoError(t, err)
	b, err := j.Record(t.Context(), newStockEnv(t, "env-b", false))
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID(), b.RunID())

	runs, err := j.Runs(t.Context())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "env-a", runs[0].EnvID)
	assert.Equal(t, "env-b", runs[1].EnvID)
}

func TestReadRunNotFound(t *testing.T) {
	j := openTestJournal(t)
	_, _, err := j.ReadRun(t.Context(), "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}
