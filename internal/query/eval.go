package query

import (
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
)

// Source supplies the live facts of a template in assertion order.
type Source interface {
	FactsOf(template string) (iter.Seq[*facts.Fact], error)
}

// Row is one query result: the fact chosen by each Select, left to right,
// and every variable bound on the way.
type Row struct {
	Facts []*facts.Fact
	Vars  map[string]ir.Value
}

// Lookup returns a bound variable.
func (r Row) Lookup(name string) (ir.Value, bool) {
	v, ok := r.Vars[name]
	return v, ok
}

// Addresses returns the addresses of the row's facts.
func (r Row) Addresses() []ir.Value {
	out := make([]ir.Value, len(r.Facts))
	for i, f := range r.Facts {
		out[i] = f.Address()
	}
	return out
}

func (r Row) extend(f *facts.Fact) Row {
	return Row{
		Facts: append(slices.Clip(r.Facts), f),
		Vars:  maps.Clone(r.Vars),
	}
}

// current is the fact predicates refer to: the most recently chosen one.
func (r Row) current() *facts.Fact {
	if len(r.Facts) == 0 {
		return nil
	}
	return r.Facts[len(r.Facts)-1]
}

// Each visits the rows of q in order until fn returns false or an error.
// bound supplies variables for BoundEquals predicates that no Select binds.
//
// Facts are read lazily, so fn may retract facts: a retracted fact is not
// visited again, though the row holding it has already been delivered.
func Each(src Source, q Query, bound map[string]ir.Value, fn func(Row) (bool, error)) error {
	if q == nil {
		return fmt.Errorf("cannot evaluate nil query")
	}
	start := Row{Vars: maps.Clone(bound)}
	if start.Vars == nil {
		start.Vars = make(map[string]ir.Value)
	}
	_, err := run(src, q, start, fn)
	return err
}

// Eval collects every row of q.
func Eval(src Source, q Query, bound map[string]ir.Value) ([]Row, error) {
	var rows []Row
	err := Each(src, q, bound, func(r Row) (bool, error) {
		rows = append(rows, r)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Any reports whether q has at least one row.
func Any(src Source, q Query, bound map[string]ir.Value) (bool, error) {
	found := false
	err := Each(src, q, bound, func(Row) (bool, error) {
		found = true
		return false, nil
	})
	return found, err
}

// run feeds the rows of q extending row into k. It returns false once k
// asks to stop.
func run(src Source, q Query, row Row, k func(Row) (bool, error)) (bool, error) {
	switch query := q.(type) {
	case Select:
		return runSelect(src, query, row, k)
	case *Select:
		return runSelect(src, *query, row, k)
	case Join:
		return runJoin(src, query, row, k)
	case *Join:
		return runJoin(src, *query, row, k)
	default:
		return false, fmt.Errorf("unsupported query type: %T", q)
	}
}

func runSelect(src Source, sel Select, row Row, k func(Row) (bool, error)) (bool, error) {
	seq, err := src.FactsOf(sel.Template)
	if err != nil {
		return false, err
	}
	for f := range seq {
		if f.Retracted() {
			continue
		}
		next := row.extend(f)
		if sel.As != "" {
			next.Vars[sel.As] = f.Address()
		}
		for slot, v := range sel.Bindings {
			val, err := f.Slot(slot)
			if err != nil {
				return false, err
			}
			next.Vars[v] = val
		}
		ok, err := holds(sel.Filter, next)
		if err != nil {
			return false, fmt.Errorf("select %s: %w", sel.Template, err)
		}
		if !ok {
			continue
		}
		more, err := k(next)
		if err != nil || !more {
			return false, err
		}
	}
	return true, nil
}

func runJoin(src Source, j Join, row Row, k func(Row) (bool, error)) (bool, error) {
	return run(src, j.Left, row, func(left Row) (bool, error) {
		return run(src, j.Right, left, func(r Row) (bool, error) {
			ok, err := holds(j.On, r)
			if err != nil {
				return false, fmt.Errorf("join: %w", err)
			}
			if !ok {
				return true, nil
			}
			return k(r)
		})
	})
}

func holds(p Predicate, r Row) (bool, error) {
	if p == nil {
		return true, nil
	}
	switch pred := p.(type) {
	case Equals:
		return slotEquals(r, pred.Slot, pred.Value)
	case *Equals:
		return slotEquals(r, pred.Slot, pred.Value)
	case BoundEquals:
		return boundEquals(r, pred)
	case *BoundEquals:
		return boundEquals(r, *pred)
	case And:
		return holdsAll(pred.Predicates, r)
	case *And:
		return holdsAll(pred.Predicates, r)
	case Func:
		return pred.Fn(r)
	case *Func:
		return pred.Fn(r)
	default:
		return false, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func holdsAll(preds []Predicate, r Row) (bool, error) {
	for _, p := range preds {
		ok, err := holds(p, r)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func slotEquals(r Row, slot string, want ir.Value) (bool, error) {
	f := r.current()
	if f == nil {
		return false, fmt.Errorf("slot %s compared outside a select", slot)
	}
	got, err := f.Slot(slot)
	if err != nil {
		return false, err
	}
	return ir.Equal(got, want), nil
}

func boundEquals(r Row, b BoundEquals) (bool, error) {
	v, ok := r.Lookup(b.Var)
	if !ok {
		return false, fmt.Errorf("variable %s is not bound", b.Var)
	}
	return slotEquals(r, b.Slot, v)
}
