package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/prodsys/internal/ir"
)

// Warning reports a rule set that loads but may not behave as meant.
//
// Cycles are warnings, not errors, because they are often intended:
//   - counters that modify a fact until a test fails
//   - rules that retract what another rule's not-CE waits for
type Warning struct {
	Code    string   `json:"code,omitempty"` // set for single-rule findings such as E213
	Path    []string `json:"path"`           // e.g. ["count", "reset", "count"]
	Message string   `json:"message"`        // human-readable description
	Level   string   `json:"level"`          // "warning" or "info"
}

// Warnings reports rules with no actions followed by AnalyzeCycles.
// A rule without actions still fires and counts toward run limits.
func Warnings(rules []ir.RuleSpec) []Warning {
	warnings := []Warning{}
	for _, r := range rules {
		if len(r.Actions) == 0 {
			warnings = append(warnings, Warning{
				Code:    ErrEmptyRule,
				Path:    []string{r.Name},
				Message: fmt.Sprintf("Rule has no actions: %s", r.Name),
				Level:   "warning",
			})
		}
	}
	return append(warnings, AnalyzeCycles(rules)...)
}

// AnalyzeCycles builds the rule dependency graph and reports its strongly
// connected components.
//
// Rule A depends on rule B when A's actions assert or modify a fact of a
// template that B matches positively, or retract a fact of a template B
// matches in a not-CE. Each component with more than one rule, or a rule
// that feeds itself, becomes a warning. Rules are visited in the order
// given, so the result is deterministic.
func AnalyzeCycles(rules []ir.RuleSpec) []Warning {
	if len(rules) == 0 {
		return []Warning{}
	}
	graph := buildDependencyGraph(rules)
	var warnings []Warning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleSCCToWarning(scc, graph))
		}
	}
	return warnings
}

// dependencyGraph maps a rule name to the rules its actions can activate.
// order keeps the rule declaration order.
type dependencyGraph struct {
	order []string
	edges map[string][]string
}

type effects struct {
	asserts  []string
	retracts []string
}

func buildDependencyGraph(rules []ir.RuleSpec) dependencyGraph {
	g := dependencyGraph{edges: make(map[string][]string)}
	matchers := map[string][]string{}
	negators := map[string][]string{}
	for _, r := range rules {
		name := r.Name
		g.order = append(g.order, name)
		g.edges[name] = []string{}
		for _, c := range r.Conditions {
			switch c.Kind {
			case ir.CondPattern, ir.CondExists:
				matchers[c.Pattern.Template] = appendOnce(matchers[c.Pattern.Template], name)
			case ir.CondNot:
				negators[c.Pattern.Template] = appendOnce(negators[c.Pattern.Template], name)
			}
		}
	}
	for _, r := range rules {
		eff := ruleEffects(r)
		for _, t := range eff.asserts {
			for _, to := range matchers[t] {
				g.edges[r.Name] = appendOnce(g.edges[r.Name], to)
			}
		}
		for _, t := range eff.retracts {
			for _, to := range negators[t] {
				g.edges[r.Name] = appendOnce(g.edges[r.Name], to)
			}
		}
	}
	return g
}

// ruleEffects lists the templates a rule's actions assert into and
// retract from. modify counts as both.
func ruleEffects(r ir.RuleSpec) effects {
	bindings := map[string]string{}
	for _, c := range r.Conditions {
		if c.Binding != "" {
			bindings[c.Binding] = c.Pattern.Template
		}
	}
	var eff effects
	for _, a := range r.Actions {
		for _, f := range a.Facts() {
			eff.asserts = appendOnce(eff.asserts, f.Name)
		}
		walkCalls(a, func(x ir.Expr) {
			if len(x.Args) == 0 || x.Args[0].Kind != ir.ExprVar {
				return
			}
			tpl, ok := bindings[x.Args[0].Name]
			if !ok {
				return
			}
			switch x.Name {
			case "modify":
				eff.asserts = appendOnce(eff.asserts, tpl)
				eff.retracts = appendOnce(eff.retracts, tpl)
			case "duplicate":
				eff.asserts = appendOnce(eff.asserts, tpl)
			case "retract":
				for _, arg := range x.Args {
					if t, ok := bindings[arg.Name]; ok && arg.Kind == ir.ExprVar {
						eff.retracts = appendOnce(eff.retracts, t)
					}
				}
			}
		})
	}
	return eff
}

func walkCalls(x ir.Expr, fn func(ir.Expr)) {
	if x.Kind == ir.ExprCall {
		fn(x)
	}
	for _, a := range x.Args {
		walkCalls(a, fn)
	}
	for _, s := range x.Slots {
		for _, v := range s.Values {
			walkCalls(v, fn)
		}
	}
}

func appendOnce(list []string, s string) []string {
	if slices.Contains(list, s) {
		return list
	}
	return append(list, s)
}

func hasSelfLoop(node string, g dependencyGraph) bool {
	return slices.Contains(g.edges[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Single-node components without self-loops are not cycles.
func tarjanSCC(g dependencyGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			// Report members in declaration order.
			slices.SortFunc(scc, func(a, b string) int {
				return slices.Index(g.order, a) - slices.Index(g.order, b)
			})
			sccs = append(sccs, scc)
		}
	}

	for _, node := range g.order {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleSCCToWarning(scc []string, g dependencyGraph) Warning {
	if len(scc) == 1 {
		name := scc[0]
		return Warning{
			Path:    []string{name, name},
			Message: fmt.Sprintf("Rule can reactivate itself: %s → %s", name, name),
			Level:   "warning",
		}
	}
	path := reconstructCyclePath(scc, g)
	return Warning{
		Path:    path,
		Message: fmt.Sprintf("Rules can activate each other: %s", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath walks from the first member of the component
// through unvisited members until it can return to the start.
func reconstructCyclePath(scc []string, g dependencyGraph) []string {
	if len(scc) == 0 {
		return []string{}
	}
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, w := range g.edges[current] {
			if members[w] && !visited[w] {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		visited[next] = true
		path = append(path, next)
		current = next
	}
	return append(path, start)
}
