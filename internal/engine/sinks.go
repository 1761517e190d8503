package engine

import (
	"github.com/roach88/prodsys/internal/agenda"
	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/rete"
	"github.com/roach88/prodsys/internal/router"
)

// factSink sits between working memory and the network: it traces each
// delta before the network sees it, so a fact is listed before the
// activations it causes.
type factSink Environment

func (s *factSink) Submit(d facts.Delta) {
	e := (*Environment)(s)
	f := d.Fact
	switch d.Op {
	case facts.OpAssert:
		if e.watchesFact(f) {
			e.traceFact("==>", f)
		}
		if !e.modifying {
			e.notify(TraceEvent{Type: EventAssert, Fact: f.Index(), Template: f.Template().Name(), Text: f.String(), Values: f.Values()})
		}
	case facts.OpRetract:
		if e.watchesFact(f) {
			e.traceFact("<==", f)
		}
		if !e.modifying {
			e.notify(TraceEvent{Type: EventRetract, Fact: f.Index(), Template: f.Template().Name(), Text: f.String(), Values: f.Values()})
		}
	}
	e.logger.Debug("fact delta", "op", d.Op, "fact", f.Index(), "template", f.Template().Name())
	e.network.Submit(d)
}

// agendaSink turns complete matches into activations.
type agendaSink Environment

func (s *agendaSink) Activate(t *rete.Token) {
	e := (*Environment)(s)
	r := t.Rule()
	a := e.agenda.Add(r, e.salienceFor(r), t.Timetags(), t.FactIDs(), t)
	t.SetPayload(a)
	if e.watchesActivation(r) {
		e.traceActivation("==>", a)
	}
	e.notify(TraceEvent{Type: EventActivate, Rule: r.Name(), Text: a.String(), Salience: a.Salience()})
}

func (s *agendaSink) Deactivate(t *rete.Token) {
	e := (*Environment)(s)
	a, ok := t.Payload().(*agenda.Activation)
	if !ok || !e.agenda.Remove(a) {
		return
	}
	r := t.Rule()
	if e.watchesActivation(r) {
		e.traceActivation("<==", a)
	}
	e.notify(TraceEvent{Type: EventDeactivate, Rule: r.Name(), Text: a.String(), Salience: a.Salience()})
}

// salienceFor returns the salience of a new activation of r under the
// current evaluation mode. A failing salience expression is reported and
// the default salience used.
func (e *Environment) salienceFor(r *rete.Rule) int {
	if e.salienceMode == agenda.WhenDefined {
		if v, ok := e.salience[r]; ok {
			return v
		}
	}
	v, err := e.evalSalience(r.Salience())
	if err != nil {
		e.printf(router.Stderr, "[%s] rule %s: salience: %v\n", ir.KindOf(err), r.Name(), err)
		e.notify(TraceEvent{Type: EventError, Rule: r.Name(), Err: err})
		return agenda.DefaultSalience
	}
	if e.salienceMode == agenda.WhenDefined {
		e.salience[r] = v
	}
	return v
}

func (e *Environment) evalSalience(x *ir.Expr) (int, error) {
	if x == nil {
		return agenda.DefaultSalience, nil
	}
	v, err := e.Eval(*x)
	if err != nil {
		return 0, err
	}
	n, ok := v.(ir.Integer)
	if !ok {
		return 0, ir.TypeMismatchf("salience must be an integer, got %s", v)
	}
	if n < agenda.MinSalience || n > agenda.MaxSalience {
		return 0, ir.Errorf(ir.KindRange, "salience %d outside %d..%d", n, agenda.MinSalience, agenda.MaxSalience)
	}
	return int(n), nil
}

// refreshSalience re-evaluates every listed activation's salience.
func (e *Environment) refreshSalience() {
	e.agenda.Refresh(func(a *agenda.Activation) int {
		r, ok := a.Rule().(*rete.Rule)
		if !ok {
			return a.Salience()
		}
		return e.salienceFor(r)
	})
}
