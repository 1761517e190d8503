package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
)

// Restore asserts into env the facts that were live in a run after event
// atSeq (0 for the end of the run), in their original index order. The
// restored facts get new indices. Facts env already holds are skipped.
// It returns the number of facts asserted.
//
// Templates must already be defined in env; ordered relations are
// created as needed.
func (j *Journal) Restore(ctx context.Context, runID string, atSeq int64, env *engine.Environment) (int, error) {
	if err := j.checkRun(ctx, runID); err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}
	recs, err := j.LiveFacts(ctx, runID, atSeq)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", runID, err)
	}
	return restoreFacts(ctx, runID, recs, env)
}

// RestoreSnapshot asserts into env the facts a run started with, so that
// running env again repeats the recorded run.
func (j *Journal) RestoreSnapshot(ctx context.Context, runID string, env *engine.Environment) (int, error) {
	if err := j.checkRun(ctx, runID); err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}
	recs, err := j.SnapshotFacts(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("restore %s: %w", runID, err)
	}
	return restoreFacts(ctx, runID, recs, env)
}

func restoreFacts(ctx context.Context, runID string, recs []FactRecord, env *engine.Environment) (int, error) {
	n := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, err := env.Assert(factSpec(env, rec))
		var dup *facts.DuplicateError
		if errors.As(err, &dup) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("restore %s: fact %d: %w", runID, rec.Index, err)
		}
		n++
	}
	return n, nil
}

func (j *Journal) checkRun(ctx context.Context, runID string) error {
	var one int
	err := j.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return err
}

// factSpec rebuilds the spec for a stored fact version. Implied facts
// become ordered facts again.
func factSpec(env *engine.Environment, rec FactRecord) ir.FactSpec {
	tpl, err := env.FindTemplate(rec.Template)
	templated := err == nil && !tpl.Implied()
	if !templated && len(rec.Slots) == 1 {
		if m, ok := rec.Slots[0].Value.(ir.Multifield); ok {
			return ir.FactSpec{Template: rec.Template, Values: []ir.Value(m)}
		}
	}
	return ir.FactSpec{Template: rec.Template, Slots: rec.Slots}
}
