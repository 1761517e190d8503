package engine

import (
	"github.com/roach88/prodsys/internal/agenda"
	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/module"
	"github.com/roach88/prodsys/internal/rete"
	"github.com/roach88/prodsys/internal/router"
)

// Watch items.
const (
	WatchFacts       = "facts"
	WatchRules       = "rules"
	WatchActivations = "activations"
	WatchGlobals     = "globals"
	WatchStatistics  = "statistics"
	WatchFocus       = "focus"
	WatchAll         = "all"
)

// WatchItems lists the items Watch accepts, "all" excluded.
var WatchItems = []string{WatchFacts, WatchRules, WatchActivations, WatchGlobals, WatchStatistics, WatchFocus}

type watchSet struct {
	facts       bool
	rules       bool
	activations bool
	globals     bool
	statistics  bool
	focus       bool
	perRule     map[*rete.Rule]ruleWatch
}

type ruleWatch struct {
	firings     bool
	activations bool
}

// Watch turns tracing of an item on or off. Traces are written to stdout
// in the engine's listing format.
func (e *Environment) Watch(item string, on bool) error {
	switch item {
	case WatchFacts:
		e.watch.facts = on
	case WatchRules:
		e.watch.rules = on
	case WatchActivations:
		e.watch.activations = on
	case WatchGlobals:
		e.watch.globals = on
		e.globals.SetWatch(on)
	case WatchStatistics:
		e.watch.statistics = on
	case WatchFocus:
		e.watch.focus = on
	case WatchAll:
		for _, it := range WatchItems {
			if err := e.Watch(it, on); err != nil {
				return err
			}
		}
	default:
		return ir.ParsingErrorf("unknown watch item %q", item)
	}
	return nil
}

// Watching reports whether an item is traced environment-wide.
func (e *Environment) Watching(item string) bool {
	switch item {
	case WatchFacts:
		return e.watch.facts
	case WatchRules:
		return e.watch.rules
	case WatchActivations:
		return e.watch.activations
	case WatchGlobals:
		return e.watch.globals
	case WatchStatistics:
		return e.watch.statistics
	case WatchFocus:
		return e.watch.focus
	}
	return false
}

// WatchRule traces firings ("rules") or activations ("activations") of a
// single rule.
func (e *Environment) WatchRule(name, item string, on bool) error {
	r, err := e.network.Find(name)
	if err != nil {
		return err
	}
	if e.watch.perRule == nil {
		e.watch.perRule = make(map[*rete.Rule]ruleWatch)
	}
	w := e.watch.perRule[r]
	switch item {
	case WatchRules:
		w.firings = on
	case WatchActivations:
		w.activations = on
	default:
		return ir.ParsingErrorf("rules can watch %q or %q, not %q", WatchRules, WatchActivations, item)
	}
	e.watch.perRule[r] = w
	return nil
}

func (e *Environment) watchesFiring(r *rete.Rule) bool {
	return e.watch.rules || e.watch.perRule[r].firings
}

func (e *Environment) watchesActivation(r *rete.Rule) bool {
	return e.watch.activations || e.watch.perRule[r].activations
}

func (e *Environment) watchesFact(f *facts.Fact) bool {
	return e.watch.facts || f.Template().Watched()
}

func (e *Environment) traceFact(arrow string, f *facts.Fact) {
	e.printf(router.Stdout, "%s %-7s %s\n", arrow, f.ID(), f)
}

func (e *Environment) traceActivation(arrow string, a *agenda.Activation) {
	e.printf(router.Stdout, "%s Activation %s\n", arrow, a)
}

func (e *Environment) traceFiring(n int, a *agenda.Activation) {
	_, name := ir.SplitName(a.Rule().Name())
	e.printf(router.Stdout, "FIRE %4d %s: %s\n", n, name, a.Facts())
}

func (e *Environment) traceGlobal(g *module.Global, old ir.Value) {
	e.printf(router.Stdout, ":== ?*%s* ==> %s <== %s\n", g.Spec().Name, g.Value(), old)
}

func (e *Environment) traceFocus(arrow, mod string) {
	e.printf(router.Stdout, "%s Focus %s\n", arrow, mod)
}
