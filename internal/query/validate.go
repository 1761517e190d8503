package query

import (
	"fmt"

	"github.com/roach88/prodsys/internal/ir"
)

// ValidationResult lists what keeps a query out of the portable fragment,
// the part querysql can translate to SQL.
type ValidationResult struct {
	IsPortable bool
	Warnings   []string
}

// Validate walks q and reports every construct querysql cannot compile.
// A query that is not portable still runs through Eval.
func Validate(q Query) ValidationResult {
	var w warnings
	w.query(q)
	return ValidationResult{IsPortable: len(w) == 0, Warnings: append([]string{}, w...)}
}

type warnings []string

func (w *warnings) add(format string, args ...any) {
	*w = append(*w, fmt.Sprintf(format, args...))
}

func (w *warnings) query(q Query) {
	switch q := q.(type) {
	case nil:
		w.add("nil query")
	case Select:
		w.selectQuery(q)
	case *Select:
		w.selectQuery(*q)
	case Join:
		w.query(q.Left)
		w.query(q.Right)
		w.predicate(q.On)
	case *Join:
		w.query(q.Left)
		w.query(q.Right)
		w.predicate(q.On)
	default:
		w.add("unknown query type %T", q)
	}
}

func (w *warnings) selectQuery(s Select) {
	if s.Template == "" {
		w.add("select without a template")
	}
	w.predicate(s.Filter)
}

func (w *warnings) predicate(p Predicate) {
	switch p := p.(type) {
	case nil, BoundEquals, *BoundEquals:
	case Equals:
		w.literal(p)
	case *Equals:
		w.literal(*p)
	case And:
		for _, sub := range p.Predicates {
			w.predicate(sub)
		}
	case *And:
		for _, sub := range p.Predicates {
			w.predicate(sub)
		}
	case Func:
		w.add("function predicate %s only runs in memory", p.Name)
	case *Func:
		w.add("function predicate %s only runs in memory", p.Name)
	default:
		w.add("unknown predicate type %T", p)
	}
}

func (w *warnings) literal(eq Equals) {
	switch eq.Value.(type) {
	case nil:
		w.add("slot %s compared to no value", eq.Slot)
	case ir.ExternalAddress:
		w.add("slot %s compared to an external address", eq.Slot)
	}
}
