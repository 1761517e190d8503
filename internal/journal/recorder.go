package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/ir"
)

// RecordOption configures a recording.
type RecordOption func(*recordConfig)

type recordConfig struct {
	runID   string
	label   string
	ruleset string
}

// WithRunID sets the run ID instead of a generated UUIDv7.
func WithRunID(id string) RecordOption {
	return func(c *recordConfig) { c.runID = id }
}

// WithLabel attaches a free-form label to the run.
func WithLabel(label string) RecordOption {
	return func(c *recordConfig) { c.label = label }
}

// WithRuleSetHash records the hash of the loaded constructs, as computed
// by ir.RuleSetHash.
func WithRuleSetHash(hash string) RecordOption {
	return func(c *recordConfig) { c.ruleset = hash }
}

// Recorder writes an environment's trace events to a journal run. It is
// an engine.Observer.
//
// Write failures do not interrupt the engine: the first one is logged,
// kept, and returned by Err and Close, and later events are dropped.
type Recorder struct {
	j     *Journal
	env   *engine.Environment
	ctx   context.Context
	runID string

	mu      sync.Mutex
	err     error
	closed  bool
	lastSeq int64
	fired   int
	runErr  string
}

// Record starts a run for env and attaches a recorder to it. The facts
// already in working memory are stored as the run's initial snapshot.
func (j *Journal) Record(ctx context.Context, env *engine.Environment, opts ...RecordOption) (*Recorder, error) {
	var cfg recordConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("record: generate run id: %w", err)
		}
		cfg.runID = id.String()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("record: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, env_id, label, ruleset_hash, engine_version, schema_version)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cfg.runID, env.ID(), cfg.label, cfg.ruleset, ir.EngineVersion, ir.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("record: insert run: %w", err)
	}

	r := &Recorder{j: j, env: env, ctx: ctx, runID: cfg.runID}
	for f := range env.Facts() {
		if err := r.insertFact(tx, f.Index(), f.Template().Name(), f.Values(), 0); err != nil {
			return nil, fmt.Errorf("record: snapshot: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("record: commit: %w", err)
	}

	env.AddObserver(r)
	return r, nil
}

// RunID returns the ID of the run being recorded.
func (r *Recorder) RunID() string { return r.runID }

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Observe implements engine.Observer.
func (r *Recorder) Observe(ev engine.TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}
	if err := r.write(ev); err != nil {
		r.err = err
		r.env.Logger().Error("journal write failed", "run", r.runID, "seq", ev.Seq, "event", ev.Type, "error", err)
		return
	}
	r.lastSeq = ev.Seq
	if ev.Type == engine.EventRunEnd {
		r.fired += ev.Count
		if ev.Err != nil {
			r.runErr = ev.Err.Error()
		}
	}
}

func (r *Recorder) write(ev engine.TraceEvent) error {
	payload, err := marshalValues(ev.Values)
	if err != nil {
		return err
	}
	var errText string
	if ev.Err != nil {
		errText = ev.Err.Error()
	}

	tx, err := r.j.db.BeginTx(r.ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(r.ctx, `
		INSERT INTO events
		(run_id, seq, type, rule, fact_index, template, text, payload, salience, count, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.runID, ev.Seq, string(ev.Type), ev.Rule, ev.Fact, ev.Template, ev.Text, payload, ev.Salience, ev.Count, errText)
	if err != nil {
		return fmt.Errorf("insert event %d: %w", ev.Seq, err)
	}

	switch ev.Type {
	case engine.EventAssert:
		err = r.insertFact(tx, ev.Fact, ev.Template, ev.Values, ev.Seq)
	case engine.EventRetract:
		err = r.closeFact(tx, ev.Fact, ev.Seq)
	case engine.EventModify:
		if err = r.closeFact(tx, ev.Fact, ev.Seq); err == nil {
			err = r.insertFact(tx, ev.Fact, ev.Template, ev.Values, ev.Seq)
		}
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Recorder) insertFact(tx *sql.Tx, index int64, tpl string, vals []ir.Value, seq int64) error {
	names, err := r.slotNames(tpl)
	if err != nil {
		return err
	}
	slots, err := marshalSlots(names, vals)
	if err != nil {
		return fmt.Errorf("fact %d: %w", index, err)
	}
	_, err = tx.ExecContext(r.ctx, `
		INSERT INTO facts (run_id, fact_index, template, slots, asserted_seq)
		VALUES (?, ?, ?, ?, ?)
	`, r.runID, index, tpl, slots, seq)
	if err != nil {
		return fmt.Errorf("insert fact %d: %w", index, err)
	}
	return nil
}

func (r *Recorder) closeFact(tx *sql.Tx, index, seq int64) error {
	_, err := tx.ExecContext(r.ctx, `
		UPDATE facts SET retracted_seq = ?
		WHERE run_id = ? AND fact_index = ? AND retracted_seq IS NULL
	`, seq, r.runID, index)
	if err != nil {
		return fmt.Errorf("retract fact %d: %w", index, err)
	}
	return nil
}

// slotNames returns the slot names of a template, or nil for an implied
// template.
func (r *Recorder) slotNames(name string) ([]string, error) {
	tpl, err := r.env.FindTemplate(name)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return tpl.SlotNames(), nil
}

// Close ends the run: later events are ignored and the run row gets its
// final seq, fired count and last error. Close returns the first write
// error seen while recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.err
	}
	r.closed = true
	_, err := r.j.db.ExecContext(context.WithoutCancel(r.ctx), `
		UPDATE runs SET ended = 1, last_seq = ?, fired = ?, error = ?
		WHERE id = ?
	`, r.lastSeq, r.fired, r.runErr, r.runID)
	if err != nil {
		err = fmt.Errorf("close run %s: %w", r.runID, err)
	}
	return errors.Join(r.err, err)
}

var _ engine.Observer = (*Recorder)(nil)
