package querysql

import (
	"context"
	"database/sql"
	"fmt"
	"maps"

	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/journal"
	"github.com/roach88/prodsys/internal/query"
)

// Querier runs read queries. *journal.Journal implements it.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Row is one result: the fact version chosen by each select, left to
// right, and the variables they bind.
type Row struct {
	Facts []journal.FactRecord
	Vars  map[string]ir.Value
}

// Exec compiles q and runs it. Slots named by bindings that a fact does
// not have bind nothing; the in-memory evaluator reports them as errors.
func (c *SQLCompiler) Exec(ctx context.Context, db Querier, q query.Query) ([]Row, error) {
	p, err := c.plan(q)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, p.sql, p.params...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		row, err := c.scanRow(rows, p)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}
	return out, nil
}

func (c *SQLCompiler) scanRow(rows *sql.Rows, p *compiled) (Row, error) {
	n := len(p.selects)
	recs := make([]journal.FactRecord, n)
	slots := make([]string, n)
	dest := make([]any, 0, 5*n)
	for i := range recs {
		recs[i].RunID = c.RunID
		dest = append(dest, &recs[i].Index, &recs[i].Template, &slots[i], &recs[i].AssertedSeq, &recs[i].RetractedSeq)
	}
	if err := rows.Scan(dest...); err != nil {
		return Row{}, fmt.Errorf("scan row: %w", err)
	}

	row := Row{Facts: recs, Vars: maps.Clone(c.BoundValues)}
	if row.Vars == nil {
		row.Vars = make(map[string]ir.Value)
	}
	for i, sel := range p.selects {
		decoded, err := journal.DecodeSlots(slots[i])
		if err != nil {
			return Row{}, fmt.Errorf("fact %d: %w", recs[i].Index, err)
		}
		recs[i].Slots = decoded
		if sel.As != "" {
			row.Vars[sel.As] = ir.FactAddress{Index: recs[i].Index}
		}
		for _, sv := range decoded {
			if v, ok := sel.Bindings[sv.Name]; ok {
				row.Vars[v] = sv.Value
			}
		}
	}
	return row, nil
}
