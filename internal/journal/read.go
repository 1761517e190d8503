package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/ir"
)

// Run is a recorded session.
type Run struct {
	ID            string
	EnvID         string
	Label         string
	RuleSetHash   string
	EngineVersion string
	SchemaVersion string
	Ended         bool
	LastSeq       int64
	Fired         int
	Error         string
}

// Event is a stored trace event.
type Event struct {
	RunID    string
	Seq      int64
	Type     engine.EventType
	Rule     string
	Fact     int64
	Template string
	Text     string
	Values   []ir.Value
	Salience int
	Count    int
	Error    string
}

// FactRecord is one version of a fact: the values it had from
// AssertedSeq until RetractedSeq.
type FactRecord struct {
	RunID       string
	Index       int64
	Template    string
	Slots       []ir.SlotValue
	AssertedSeq int64
	// RetractedSeq is 0 while the version is live.
	RetractedSeq int64
}

// EventFilter narrows an Events read. Zero fields match everything.
type EventFilter struct {
	Types   []engine.EventType
	Rule    string
	Fact    int64
	FromSeq int64
	ToSeq   int64
}

// Runs returns every run, oldest first. Generated run IDs are UUIDv7, so
// ID order is creation order.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, env_id, label, ruleset_hash, engine_version, schema_version, ended, last_seq, fired, error
		FROM runs
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a run and all of its events in seq order.
func (j *Journal) ReadRun(ctx context.Context, id string) (Run, []Event, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, env_id, label, ruleset_hash, engine_version, schema_version, ended, last_seq, fired, error
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, nil, err
	}
	events, err := j.Events(ctx, id, EventFilter{})
	if err != nil {
		return Run{}, nil, err
	}
	return run, events, nil
}

// Events returns the events of a run that match the filter, in seq order.
func (j *Journal) Events(ctx context.Context, runID string, filter EventFilter) ([]Event, error) {
	where := []string{"run_id = ?"}
	args := []any{runID}
	if len(filter.Types) > 0 {
		marks := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Rule != "" {
		where = append(where, "rule = ?")
		args = append(args, filter.Rule)
	}
	if filter.Fact != 0 {
		where = append(where, "fact_index = ?")
		args = append(args, filter.Fact)
	}
	if filter.FromSeq != 0 {
		where = append(where, "seq >= ?")
		args = append(args, filter.FromSeq)
	}
	if filter.ToSeq != 0 {
		where = append(where, "seq <= ?")
		args = append(args, filter.ToSeq)
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, seq, type, rule, fact_index, template, text, payload, salience, count, error
		FROM events
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY seq ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			ev      Event
			typ     string
			payload string
		)
		if err := rows.Scan(&ev.RunID, &ev.Seq, &typ, &ev.Rule, &ev.Fact, &ev.Template, &ev.Text, &payload, &ev.Salience, &ev.Count, &ev.Error); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = engine.EventType(typ)
		if ev.Values, err = unmarshalValues(payload); err != nil {
			return nil, fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// FactEvents returns the assert, modify and retract events of one fact.
func (j *Journal) FactEvents(ctx context.Context, runID string, index int64) ([]Event, error) {
	return j.Events(ctx, runID, EventFilter{
		Types: []engine.EventType{engine.EventAssert, engine.EventModify, engine.EventRetract},
		Fact:  index,
	})
}

// LiveFacts returns the fact versions live in a run right after event
// atSeq, in fact index order. atSeq 0 reads the latest state. Facts
// present when recording began have asserted_seq 0.
func (j *Journal) LiveFacts(ctx context.Context, runID string, atSeq int64) ([]FactRecord, error) {
	query := `
		SELECT run_id, fact_index, template, slots, asserted_seq, COALESCE(retracted_seq, 0)
		FROM facts
		WHERE run_id = ? AND retracted_seq IS NULL
		ORDER BY fact_index ASC
	`
	args := []any{runID}
	if atSeq > 0 {
		query = `
		SELECT run_id, fact_index, template, slots, asserted_seq, COALESCE(retracted_seq, 0)
		FROM facts
		WHERE run_id = ? AND asserted_seq <= ? AND (retracted_seq IS NULL OR retracted_seq > ?)
		ORDER BY fact_index ASC
	`
		args = append(args, atSeq, atSeq)
	}
	return j.queryFacts(ctx, query, args...)
}

// SnapshotFacts returns the facts that were in working memory when
// recording began, in fact index order, whether or not they were later
// retracted.
func (j *Journal) SnapshotFacts(ctx context.Context, runID string) ([]FactRecord, error) {
	return j.queryFacts(ctx, `
		SELECT run_id, fact_index, template, slots, asserted_seq, COALESCE(retracted_seq, 0)
		FROM facts
		WHERE run_id = ? AND asserted_seq = 0
		ORDER BY fact_index ASC
	`, runID)
}

func (j *Journal) queryFacts(ctx context.Context, query string, args ...any) ([]FactRecord, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	out := []FactRecord{}
	for rows.Next() {
		var (
			rec   FactRecord
			slots string
		)
		if err := rows.Scan(&rec.RunID, &rec.Index, &rec.Template, &slots, &rec.AssertedSeq, &rec.RetractedSeq); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		if rec.Slots, err = DecodeSlots(slots); err != nil {
			return nil, fmt.Errorf("fact %d: %w", rec.Index, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return out, nil
}

// Stats counts a run's events by type.
func (j *Journal) Stats(ctx context.Context, runID string) (map[engine.EventType]int, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM events
		WHERE run_id = ?
		GROUP BY type
		ORDER BY type ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	out := map[engine.EventType]int{}
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out[engine.EventType(typ)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var run Run
	err := s.Scan(&run.ID, &run.EnvID, &run.Label, &run.RuleSetHash, &run.EngineVersion, &run.SchemaVersion,
		&run.Ended, &run.LastSeq, &run.Fired, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, err
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	return run, nil
}
