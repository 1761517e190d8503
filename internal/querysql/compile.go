package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/query"
)

// SQLCompiler compiles fact queries to parameterized SQLite over a
// journal's facts table.
//
// Every query is restricted to one run and to the fact versions live at
// one point of it. Rows are ordered by fact index, leftmost select first.
// Values are always parameters, never interpolated.
type SQLCompiler struct {
	// RunID selects the journal run. Required.
	RunID string
	// AtSeq reads the facts live right after event AtSeq; 0 reads the
	// latest state.
	AtSeq int64
	// Module qualifies template names given without a module. Defaults
	// to MAIN.
	Module string
	// BoundValues supplies variables for BoundEquals predicates that no
	// select binds.
	BoundValues map[string]ir.Value
}

// NewSQLCompiler creates a compiler for the latest state of a run.
func NewSQLCompiler(runID string) *SQLCompiler {
	return &SQLCompiler{
		RunID:       runID,
		Module:      ir.MainModule,
		BoundValues: make(map[string]ir.Value),
	}
}

// Compile converts a query to SQL and its parameters.
func (c *SQLCompiler) Compile(q query.Query) (string, []any, error) {
	p, err := c.plan(q)
	if err != nil {
		return "", nil, err
	}
	return p.sql, p.params, nil
}

// compiled is a compiled query plus what is needed to decode its rows.
type compiled struct {
	sql     string
	params  []any
	selects []query.Select
}

// step is one select of a flattened query with the join conditions that
// are checked once it has been chosen.
type step struct {
	sel query.Select
	on  []query.Predicate
}

// binding locates the value of a variable: a slot of a select, or the
// address of its fact when slot is empty.
type binding struct {
	alias int
	slot  string
}

func (c *SQLCompiler) plan(q query.Query) (*compiled, error) {
	if q == nil {
		return nil, fmt.Errorf("cannot compile nil query")
	}
	if c.RunID == "" {
		return nil, fmt.Errorf("cannot compile query without a run id")
	}
	steps, err := flatten(q)
	if err != nil {
		return nil, err
	}

	var (
		cols        []string
		order       []string
		joins       strings.Builder
		joinParams  []any
		where       []string
		whereParams []any
		selects     []query.Select
	)
	scope := make(map[string]binding)
	for i, st := range steps {
		alias := aliasName(i)
		cols = append(cols,
			alias+".fact_index", alias+".template", alias+".slots",
			alias+".asserted_seq", "COALESCE("+alias+".retracted_seq, 0)")
		order = append(order, alias+".fact_index ASC")
		selects = append(selects, st.sel)

		if st.sel.As != "" {
			scope[st.sel.As] = binding{alias: i}
		}
		for slot, v := range st.sel.Bindings {
			scope[v] = binding{alias: i, slot: slot}
		}

		conds, params, err := c.stepConditions(st, i, scope)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", st.sel.Template, err)
		}
		if i == 0 {
			where, whereParams = conds, params
			continue
		}
		joins.WriteString(" INNER JOIN facts AS " + alias + " ON " + strings.Join(conds, " AND "))
		joinParams = append(joinParams, params...)
	}

	sql := fmt.Sprintf("SELECT %s FROM facts AS %s%s WHERE %s ORDER BY %s",
		strings.Join(cols, ", "),
		aliasName(0),
		joins.String(),
		strings.Join(where, " AND "),
		strings.Join(order, ", "))
	return &compiled{
		sql:     sql,
		params:  append(joinParams, whereParams...),
		selects: selects,
	}, nil
}

// stepConditions returns the conditions choosing the fact of step i: its
// run, template and liveness, its filter, then its join conditions.
func (c *SQLCompiler) stepConditions(st step, i int, scope map[string]binding) ([]string, []any, error) {
	alias := aliasName(i)
	conds := []string{alias + ".run_id = ?", alias + ".template = ?"}
	params := []any{c.RunID, c.qualify(st.sel.Template)}

	if c.AtSeq > 0 {
		conds = append(conds, alias+".asserted_seq <= ?",
			"("+alias+".retracted_seq IS NULL OR "+alias+".retracted_seq > ?)")
		params = append(params, c.AtSeq, c.AtSeq)
	} else {
		conds = append(conds, alias+".retracted_seq IS NULL")
	}

	for _, p := range append([]query.Predicate{st.sel.Filter}, st.on...) {
		sql, ps, err := c.compilePredicate(p, i, scope)
		if err != nil {
			return nil, nil, err
		}
		if sql != "" {
			conds = append(conds, sql)
			params = append(params, ps...)
		}
	}
	return conds, params, nil
}

// flatten turns a join tree into its selects in evaluation order. A
// join's condition is checked at the last select of its right side.
func flatten(q query.Query) ([]step, error) {
	switch n := q.(type) {
	case query.Select:
		return []step{{sel: n}}, nil
	case *query.Select:
		return []step{{sel: *n}}, nil
	case query.Join:
		return flattenJoin(n)
	case *query.Join:
		return flattenJoin(*n)
	case nil:
		return nil, fmt.Errorf("cannot compile nil query")
	default:
		return nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func flattenJoin(j query.Join) ([]step, error) {
	left, err := flatten(j.Left)
	if err != nil {
		return nil, fmt.Errorf("join left: %w", err)
	}
	right, err := flatten(j.Right)
	if err != nil {
		return nil, fmt.Errorf("join right: %w", err)
	}
	if j.On != nil {
		last := &right[len(right)-1]
		last.on = append(last.on, j.On)
	}
	return append(left, right...), nil
}

// compilePredicate compiles a predicate over the fact of step i. An
// empty result means the predicate always holds.
func (c *SQLCompiler) compilePredicate(p query.Predicate, i int, scope map[string]binding) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "", nil, nil
	case query.Equals:
		return c.compileEquals(pred, i)
	case *query.Equals:
		return c.compileEquals(*pred, i)
	case query.BoundEquals:
		return c.compileBoundEquals(pred, i, scope)
	case *query.BoundEquals:
		return c.compileBoundEquals(*pred, i, scope)
	case query.And:
		return c.compileAnd(pred.Predicates, i, scope)
	case *query.And:
		return c.compileAnd(pred.Predicates, i, scope)
	case query.Func, *query.Func:
		return "", nil, fmt.Errorf("function predicates cannot be compiled to SQL")
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileAnd(preds []query.Predicate, i int, scope map[string]binding) (string, []any, error) {
	var (
		parts  []string
		params []any
	)
	for _, p := range preds {
		sql, ps, err := c.compilePredicate(p, i, scope)
		if err != nil {
			return "", nil, err
		}
		if sql != "" {
			parts = append(parts, sql)
			params = append(params, ps...)
		}
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

// compileEquals compares a stored slot with a literal. Both sides are
// rendered by SQLite's JSON functions, so equal canonical encodings
// compare equal as text.
func (c *SQLCompiler) compileEquals(eq query.Equals, i int) (string, []any, error) {
	path, err := slotPath(eq.Slot)
	if err != nil {
		return "", nil, err
	}
	lit, err := literal(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("slot %s: %w", eq.Slot, err)
	}
	return "json_extract(" + aliasName(i) + ".slots, ?) = json(?)", []any{path, lit}, nil
}

func (c *SQLCompiler) compileBoundEquals(beq query.BoundEquals, i int, scope map[string]binding) (string, []any, error) {
	path, err := slotPath(beq.Slot)
	if err != nil {
		return "", nil, err
	}
	lhs := "json_extract(" + aliasName(i) + ".slots, ?)"

	b, ok := scope[beq.Var]
	switch {
	case ok && b.slot == "":
		return lhs + " = json_array('" + ir.KindFactAddress.String() + "', " + aliasName(b.alias) + ".fact_index)",
			[]any{path}, nil
	case ok:
		other, err := slotPath(b.slot)
		if err != nil {
			return "", nil, err
		}
		return lhs + " = json_extract(" + aliasName(b.alias) + ".slots, ?)", []any{path, other}, nil
	}

	v, ok := c.BoundValues[beq.Var]
	if !ok {
		return "", nil, fmt.Errorf("variable %s is not bound", beq.Var)
	}
	lit, err := literal(v)
	if err != nil {
		return "", nil, fmt.Errorf("variable %s: %w", beq.Var, err)
	}
	return lhs + " = json(?)", []any{path, lit}, nil
}

func (c *SQLCompiler) qualify(name string) string {
	if mod, _ := ir.SplitName(name); mod != "" {
		return name
	}
	mod := c.Module
	if mod == "" {
		mod = ir.MainModule
	}
	return ir.QualifiedName(mod, name)
}

// slotPath is the JSON path of a slot in the slots object.
func slotPath(slot string) (string, error) {
	if slot == "" || strings.ContainsAny(slot, `"\`) {
		return "", fmt.Errorf("invalid slot name %q", slot)
	}
	return `$."` + slot + `"`, nil
}

// literal is the canonical encoding of a comparable value.
func literal(v ir.Value) (string, error) {
	if v == nil {
		return "", fmt.Errorf("nil value cannot be compared")
	}
	if _, ok := v.(ir.ExternalAddress); ok {
		return "", fmt.Errorf("external addresses cannot be compared in SQL")
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func aliasName(i int) string {
	return `"f` + strconv.Itoa(i) + `"`
}
