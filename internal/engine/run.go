package engine

import (
	"errors"

	"github.com/roach88/prodsys/internal/agenda"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/rete"
	"github.com/roach88/prodsys/internal/router"
)

// Run fires activations until the agenda empties, limit rules have fired
// (limit <= 0 is unlimited), or Halt is called. It returns the number of
// rules fired.
//
// Halt is checked between firings only; a firing rule always completes
// its actions unless one of them fails. A failing action stops the run
// with a *RunError carrying the count of rules fired before it. Nothing
// is rolled back.
//
// Run cannot be called from a rule action.
func (e *Environment) Run(limit int) (int, error) {
	if e.state == Running {
		return 0, ir.Errorf(ir.KindProcessing, "run called while the environment is running")
	}
	e.state = Running
	e.halt = false
	if e.agenda.CurrentFocus() == "" {
		e.focus(ir.MainModule)
	}

	quota := NewFireLimit(limit)
	e.logger.Info("run starting", "env", e.id, "limit", limit, "agenda", e.agenda.Len())
	e.notify(TraceEvent{Type: EventRunStart, Count: limit})

	var runErr error
	for !e.halt && quota.Allow() {
		if e.salienceMode == agenda.EveryCycle {
			e.refreshSalience()
		}
		a := e.next()
		if a == nil {
			break
		}
		if err := e.fire(a, quota); err != nil {
			runErr = err
			break
		}
	}

	fired := quota.Fired()
	switch {
	case runErr != nil:
		e.state = Halted
	case e.halt:
		e.state = Halted
		e.notify(TraceEvent{Type: EventHalt, Count: fired})
	default:
		e.state = Idle
	}
	e.halt = false

	if e.watch.statistics {
		e.printf(router.Stdout, "%d rules fired\n", fired)
	}
	e.logger.Info("run finished", "env", e.id, "fired", fired, "state", e.state, "error", runErr)
	e.notify(TraceEvent{Type: EventRunEnd, Count: fired, Err: runErr})
	return fired, runErr
}

// next pops the activation to fire, tracing focus changes.
func (e *Environment) next() *agenda.Activation {
	if !e.watch.focus {
		return e.agenda.Next()
	}
	before := e.agenda.FocusStack()
	a := e.agenda.Next()
	popped := len(before) - len(e.agenda.FocusStack())
	for _, mod := range before[:popped] {
		e.traceFocus("<==", mod)
	}
	return a
}

func (e *Environment) fire(a *agenda.Activation, quota *FireLimit) error {
	tok, ok := a.Payload().(*rete.Token)
	if !ok {
		return ir.Errorf(ir.KindNetworkConsistency, "activation %s has no match", a)
	}
	r := tok.Rule()
	r.MarkFired()
	n := quota.Fired() + 1
	if e.watchesFiring(r) {
		e.traceFiring(n, a)
	}
	e.notify(TraceEvent{Type: EventFire, Rule: r.Name(), Text: a.Facts(), Salience: a.Salience(), Count: n})
	e.logger.Debug("rule firing", "rule", r.Name(), "facts", a.Facts(), "salience", a.Salience())

	ctx := &Context{env: e, rule: r, bindings: tok}
	for _, act := range r.Actions() {
		if _, err := ctx.Eval(act); err != nil {
			if errors.Is(err, errBreak) {
				continue
			}
			e.logger.Error("rule action failed", "rule", r.Name(), "action", act.String(), "error", err)
			e.printf(router.Stderr, "[%s] rule %s: %v\n", ir.KindOf(err), r.Name(), err)
			rerr := newRunError(quota.Fired(), r.Name(), act, err)
			e.notify(TraceEvent{Type: EventError, Rule: r.Name(), Err: rerr})
			return rerr
		}
	}
	quota.Record()
	return nil
}

// Halt stops a running Run before its next firing. Outside a run it has
// no effect.
func (e *Environment) Halt() {
	if e.state == Running {
		e.halt = true
	}
}

// Reset returns working memory to its initial state: the agenda and every
// fact are cleared, globals get their initial values, deffacts are
// asserted and MAIN is focused. Rules whose conditions hold without facts
// are activated again.
func (e *Environment) Reset() error {
	if e.state == Running {
		return ir.Errorf(ir.KindProcessing, "reset called while the environment is running")
	}
	e.agenda.Clear()
	e.agenda.ClearFocus()
	if _, err := e.store.RetractAll(nil); err != nil {
		return err
	}
	for g := range e.globals.All() {
		v, err := e.Eval(g.Spec().Value)
		if err != nil {
			return ir.Processing(g.Name(), err).WithConstruct(ir.ConstructGlobal, g.Name())
		}
		e.setGlobal(g, v)
	}
	for r := range e.network.Rules() {
		e.refreshRule(r)
	}
	for _, d := range e.deffacts.list {
		if err := e.assertDeffacts(d); err != nil {
			return err
		}
	}
	e.focus(ir.MainModule)
	e.state = Idle
	e.halt = false
	e.logger.Debug("environment reset", "env", e.id, "facts", e.store.Len(), "agenda", e.agenda.Len())
	return nil
}

// Clear removes every construct and fact, leaving an empty MAIN module.
// User functions stay defined.
func (e *Environment) Clear() error {
	if e.state == Running {
		return ir.Errorf(ir.KindProcessing, "clear called while the environment is running")
	}
	e.agenda.Clear()
	e.agenda.ClearFocus()
	if _, err := e.store.RetractAll(nil); err != nil {
		return err
	}
	e.network.Clear()
	e.deffacts.clear()
	e.globals.Clear()
	e.templates.Clear()
	e.modules.Clear()
	clear(e.salience)
	e.watch.perRule = nil
	e.state = Idle
	e.halt = false
	e.logger.Debug("environment cleared", "env", e.id)
	return nil
}

// Refresh puts back on the agenda the activations of a rule that have
// already fired and whose matches still hold.
func (e *Environment) Refresh(name string) error {
	r, err := e.network.Find(name)
	if err != nil {
		return err
	}
	e.refreshRule(r)
	return nil
}

func (e *Environment) refreshRule(r *rete.Rule) {
	for _, t := range e.network.Activations(r) {
		if a, ok := t.Payload().(*agenda.Activation); ok && a.Listed() {
			continue
		}
		(*agendaSink)(e).Activate(t)
	}
}
