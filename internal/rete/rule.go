package rete

import (
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/template"
)

// Rule is a compiled defrule.
type Rule struct {
	spec      ir.RuleSpec
	name      string
	varIndex  map[string]int
	varNames  []string
	nodes     []NodeID // beta chain, terminal last
	alphas    []NodeID
	templates []*template.Template
	root      *Token

	activations int
	fired       int64
}

// Name returns the module-qualified rule name.
func (r *Rule) Name() string { return r.name }

// Module returns the name of the rule's module.
func (r *Rule) Module() string { return r.spec.Module }

// Spec returns the descriptor the rule was compiled from.
func (r *Rule) Spec() ir.RuleSpec { return r.spec }

// Complexity is the number of condition elements.
func (r *Rule) Complexity() int { return len(r.spec.Conditions) }

// AutoFocus reports whether activating the rule focuses its module.
func (r *Rule) AutoFocus() bool { return r.spec.AutoFocus }

// Salience returns the salience expression, or nil for the default.
func (r *Rule) Salience() *ir.Expr { return r.spec.Salience }

// Actions returns the right-hand side.
func (r *Rule) Actions() []ir.Expr { return r.spec.Actions }

// Variables lists the rule's variables in binding order.
func (r *Rule) Variables() []string { return r.varNames }

// Activations returns the number of live activations.
func (r *Rule) Activations() int { return r.activations }

// Fired returns how many times the rule has fired.
func (r *Rule) Fired() int64 { return r.fired }

// MarkFired counts one firing.
func (r *Rule) MarkFired() { r.fired++ }

// String renders the rule in construct syntax.
func (r *Rule) String() string {
	return ir.FormatRule(r.spec)
}

func (r *Rule) slot(name string) int {
	if i, ok := r.varIndex[name]; ok {
		return i
	}
	i := len(r.varNames)
	r.varIndex[name] = i
	r.varNames = append(r.varNames, name)
	return i
}
