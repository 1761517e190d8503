package engine

import (
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/roach88/prodsys/internal/agenda"
	"github.com/roach88/prodsys/internal/ir"
)

// Strategy returns the conflict resolution strategy.
func (e *Environment) Strategy() agenda.Strategy {
	return e.agenda.Strategy()
}

// SetStrategy changes the strategy, reorders the agenda and returns the
// previous strategy.
func (e *Environment) SetStrategy(s agenda.Strategy) agenda.Strategy {
	e.strategy = s
	return e.agenda.SetStrategy(s)
}

// SalienceEvaluation returns when salience is evaluated.
func (e *Environment) SalienceEvaluation() agenda.SalienceMode {
	return e.salienceMode
}

// SetSalienceEvaluation changes when salience is evaluated and returns
// the previous mode. Switching to when-defined re-evaluates every rule's
// salience on its next activation.
func (e *Environment) SetSalienceEvaluation(m agenda.SalienceMode) agenda.SalienceMode {
	prev := e.salienceMode
	e.salienceMode = m
	if m == agenda.WhenDefined && prev != m {
		clear(e.salience)
	}
	return prev
}

// Activations iterates the activations of a module in firing order; the
// empty name iterates every module.
func (e *Environment) Activations(moduleName string) iter.Seq[*agenda.Activation] {
	return e.agenda.Activations(moduleName)
}

// AgendaSize returns the number of activations on the agenda.
func (e *Environment) AgendaSize() int {
	return e.agenda.Len()
}

// DeleteActivation removes an activation from the agenda. The match it
// came from stays; Refresh can put it back.
func (e *Environment) DeleteActivation(a *agenda.Activation) error {
	if !e.agenda.Remove(a) {
		return ir.Errorf(ir.KindNotFound, "activation %s is not on the agenda", a)
	}
	return nil
}

// SetActivationSalience changes one activation's salience.
func (e *Environment) SetActivationSalience(a *agenda.Activation, salience int) error {
	if salience < agenda.MinSalience || salience > agenda.MaxSalience {
		return ir.Errorf(ir.KindRange, "salience %d outside %d..%d", salience, agenda.MinSalience, agenda.MaxSalience)
	}
	e.agenda.SetSalience(a, salience)
	return nil
}

// ClearAgenda removes every activation.
func (e *Environment) ClearAgenda() {
	e.agenda.Clear()
}

// ReorderAgenda re-sorts the agenda under the current strategy.
func (e *Environment) ReorderAgenda() {
	e.agenda.Reorder()
}

// RefreshAgenda re-evaluates the salience of every activation.
func (e *Environment) RefreshAgenda() {
	e.refreshSalience()
}

// Focus pushes modules onto the focus stack. The first module named ends
// on top.
func (e *Environment) Focus(modules ...string) error {
	for _, m := range modules {
		if _, ok := e.modules.Find(m); !ok {
			return ir.NotFound(ir.ConstructModule, m)
		}
	}
	for _, m := range slices.Backward(modules) {
		e.focus(m)
	}
	return nil
}

func (e *Environment) focus(mod string) {
	if e.agenda.CurrentFocus() == mod {
		return
	}
	e.agenda.Focus(mod)
	if e.watch.focus {
		e.traceFocus("==>", mod)
	}
	e.notify(TraceEvent{Type: EventFocus, Text: mod})
}

// PopFocus pops the focus stack and returns the module popped, or "".
func (e *Environment) PopFocus() string {
	mod := e.agenda.PopFocus()
	if mod != "" && e.watch.focus {
		e.traceFocus("<==", mod)
	}
	return mod
}

// FocusStack returns the focus stack, top first.
func (e *Environment) FocusStack() []string {
	return e.agenda.FocusStack()
}

// WriteAgenda lists the activations of every module in firing order.
func (e *Environment) WriteAgenda(w io.Writer) error {
	n := 0
	for a := range e.agenda.Activations("") {
		if _, err := fmt.Fprintln(w, a); err != nil {
			return err
		}
		n++
	}
	_, err := fmt.Fprintf(w, "For a total of %d %s.\n", n, plural(n, "activation", "activations"))
	return err
}
