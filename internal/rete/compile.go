package rete

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/module"
	"github.com/roach88/prodsys/internal/template"
)

// binders are functions whose first argument introduces a variable in a
// rule's actions.
var binders = map[string]bool{
	"bind":    true,
	"foreach": true,
	"progn$":  true,
}

// compiledCond is one condition element after validation.
type compiledCond struct {
	kind    nodeKind
	tpl     *template.Template
	implied string // relation whose implied template is created on wiring
	prog    *alphaProg
	plan    joinPlan
	test    ir.Expr
}

// compiler validates a rule and builds its conditions without touching
// the network, so a failing rule leaves no trace.
type compiler struct {
	n      *Network
	rule   *Rule
	from   *module.Module
	bound  map[string]bool
	multi  map[string]bool
	conds  []compiledCond
	locals map[string]int
	nlocal int
}

// AddRule compiles a rule and wires it into the network. Existing facts
// are matched immediately, so activations for them are created before
// AddRule returns. A rule with the same qualified name must be removed
// first.
func (n *Network) AddRule(spec ir.RuleSpec) (*Rule, error) {
	if n.draining {
		return nil, ir.Errorf(ir.KindNetworkConsistency, "cannot add rule %s while the network is propagating", spec.Name)
	}
	from := n.modules.Current()
	if spec.Module != "" {
		m, ok := n.modules.Find(spec.Module)
		if !ok {
			return nil, ir.NotFound(ir.ConstructModule, spec.Module)
		}
		from = m
	}
	mod, local := ir.SplitName(spec.Name)
	if mod != "" {
		m, ok := n.modules.Find(mod)
		if !ok {
			return nil, ir.NotFound(ir.ConstructModule, mod)
		}
		from = m
		spec.Name = local
	}
	if spec.Name == "" {
		return nil, ir.ParsingErrorf("rule requires a name")
	}
	spec.Module = from.Name()
	name := ir.QualifiedName(spec.Module, spec.Name)
	if _, ok := n.byName[name]; ok {
		return nil, ir.Duplicate(ir.ConstructRule, name)
	}

	r := &Rule{spec: spec, name: name, varIndex: make(map[string]int)}
	c := &compiler{n: n, rule: r, from: from, bound: map[string]bool{}, multi: map[string]bool{}}
	if err := c.compile(); err != nil {
		if e, ok := err.(*ir.Error); ok && e.Name == "" {
			return nil, e.WithConstruct(ir.ConstructRule, name)
		}
		return nil, err
	}
	if err := n.wire(r, c.conds); err != nil {
		return nil, err
	}
	n.logger.Debug("rule added", "rule", name, "conditions", len(c.conds), "variables", len(r.varNames))
	return r, nil
}

func (c *compiler) compile() error {
	spec := c.rule.spec
	if spec.Salience != nil {
		if vars := spec.Salience.Variables(); len(vars) > 0 {
			return ir.ParsingErrorf("salience cannot reference variable ?%s", vars[0])
		}
	}
	for i, cond := range spec.Conditions {
		var cc compiledCond
		var err error
		switch cond.Kind {
		case ir.CondPattern, ir.CondNot, ir.CondExists:
			cc, err = c.pattern(cond)
		case ir.CondTest:
			cc, err = c.testCond(cond)
		default:
			err = ir.ParsingErrorf("unknown condition kind %d", cond.Kind)
		}
		if err != nil {
			if e, ok := err.(*ir.Error); ok {
				e.Message = "condition " + itoa(i+1) + ": " + e.Message
				return e
			}
			return err
		}
		c.conds = append(c.conds, cc)
	}
	return c.actions()
}

func (c *compiler) testCond(cond ir.Condition) (compiledCond, error) {
	for _, v := range cond.Test.Variables() {
		if !c.bound[v] {
			return compiledCond{}, ir.ParsingErrorf("test references unbound variable ?%s", v)
		}
	}
	return compiledCond{kind: testNode, test: cond.Test}, nil
}

func (c *compiler) pattern(cond ir.Condition) (compiledCond, error) {
	p := cond.Pattern
	cc := compiledCond{kind: joinNode}
	switch cond.Kind {
	case ir.CondNot:
		cc.kind = notNode
	case ir.CondExists:
		cc.kind = existsNode
	}
	if cond.Binding != "" && cond.Kind != ir.CondPattern {
		return cc, ir.ParsingErrorf("fact address ?%s cannot bind a %s condition", cond.Binding, cond.Kind)
	}

	tpl, err := c.n.templates.FindFrom(c.from, p.Template)
	switch {
	case err == nil:
	case ir.IsKind(err, ir.KindNotFound) && len(p.Slots) == 0:
		cc.implied = p.Template
	case ir.IsKind(err, ir.KindNotFound):
		return cc, ir.Errorf(ir.KindUnknownTemplate, "template %s is not defined", p.Template)
	default:
		return cc, err
	}

	c.locals = map[string]int{}
	c.nlocal = 0
	prog := &alphaProg{tpl: tpl}
	var tests []pendingTest
	ordered := tpl == nil || tpl.Implied()
	if ordered {
		if len(p.Slots) > 0 {
			return cc, ir.Errorf(ir.KindSlotMismatch, "%s is an ordered relation, slot constraints given", p.Template)
		}
		elems, ts, err := c.elems(p.Fields, true)
		if err != nil {
			return cc, err
		}
		prog.fields = []fieldProg{{slot: -1, multi: true, elems: elems}}
		tests = ts
	} else {
		if len(p.Fields) > 0 {
			return cc, ir.Errorf(ir.KindSlotMismatch, "template %s requires slot constraints", tpl.Name())
		}
		slots := slices.Clone(p.Slots)
		seen := map[string]bool{}
		for _, sc := range slots {
			s, ok := tpl.Slot(sc.Slot)
			if !ok {
				return cc, ir.Errorf(ir.KindSlotMismatch, "template %s has no slot %s", tpl.Name(), sc.Slot)
			}
			if seen[sc.Slot] {
				return cc, ir.ParsingErrorf("slot %s constrained more than once", sc.Slot)
			}
			seen[sc.Slot] = true
			if !s.Multi() && (len(sc.Fields) != 1 || sc.Fields[0].Multi) {
				return cc, ir.Errorf(ir.KindSlotMismatch, "slot %s of %s holds a single value", sc.Slot, tpl.Name())
			}
		}
		slices.SortStableFunc(slots, func(a, b ir.SlotConstraint) int {
			sa, _ := tpl.Slot(a.Slot)
			sb, _ := tpl.Slot(b.Slot)
			return sa.Index() - sb.Index()
		})
		for _, sc := range slots {
			s, _ := tpl.Slot(sc.Slot)
			elems, ts, err := c.elems(sc.Fields, s.Multi())
			if err != nil {
				return cc, err
			}
			prog.fields = append(prog.fields, fieldProg{slot: s.Index(), multi: s.Multi(), elems: elems})
			tests = append(tests, ts...)
		}
	}
	prog.nlocals = c.nlocal
	cc.tpl = tpl
	cc.prog = prog

	// Resolve pattern-local variables against the rule's bindings.
	plan := joinPlan{factVar: -1}
	names := make([]string, c.nlocal)
	for name, i := range c.locals {
		names[i] = name
	}
	for i, name := range names {
		if name == "" {
			continue
		}
		slot := c.rule.slot(name)
		if c.bound[name] {
			plan.shared = append(plan.shared, varPair{local: i, rule: slot})
		} else {
			plan.assigns = append(plan.assigns, varPair{local: i, rule: slot})
		}
	}
	visible := func(v string) bool {
		_, local := c.locals[v]
		return c.bound[v] || local
	}
	for i := range tests {
		ft := &tests[i]
		for _, nv := range ft.notVarNames {
			if !visible(nv) {
				return cc, ir.ParsingErrorf("~?%s references an unbound variable", nv)
			}
			ft.notVars = append(ft.notVars, c.rule.slot(nv))
		}
		for _, e := range append(slices.Clone(ft.preds), ft.equals...) {
			for _, v := range e.Variables() {
				if !visible(v) {
					return cc, ir.ParsingErrorf("%s references unbound variable ?%s", e, v)
				}
			}
		}
		plan.tests = append(plan.tests, ft.fieldTest)
	}
	if cond.Binding != "" {
		if c.bound[cond.Binding] {
			return cc, ir.ParsingErrorf("fact address variable ?%s is already bound", cond.Binding)
		}
		plan.factVar = c.rule.slot(cond.Binding)
		c.bound[cond.Binding] = true
	}
	if cond.Kind == ir.CondPattern {
		for _, name := range names {
			if name != "" {
				c.bound[name] = true
			}
		}
	}
	cc.plan = plan
	return cc, nil
}

// pendingTest is a fieldTest whose variable references are not yet
// resolved to rule slots.
type pendingTest struct {
	fieldTest
	notVarNames []string
}

func (c *compiler) elems(cs []ir.Constraint, multislot bool) ([]elemProg, []pendingTest, error) {
	var elems []elemProg
	var tests []pendingTest
	for _, k := range cs {
		if k.Multi && !multislot {
			return nil, nil, ir.Errorf(ir.KindSlotMismatch, "multifield constraint %s on a single slot", k)
		}
		e := elemProg{multi: k.Multi, local: -1, literals: k.Literals, excluded: k.Excluded}
		joinTests := len(k.NotVars) > 0 || len(k.Predicates) > 0 || len(k.Equals) > 0
		switch {
		case k.Var != "":
			if m, ok := c.multi[k.Var]; ok && m != k.Multi {
				return nil, nil, ir.ParsingErrorf("variable %s used as both single and multifield", k.Var)
			}
			c.multi[k.Var] = k.Multi
			i, ok := c.locals[k.Var]
			if !ok {
				i = c.nlocal
				c.nlocal++
				c.locals[k.Var] = i
			}
			e.local = i
		case joinTests:
			// Capture the field so join-time tests can see it.
			e.local = c.nlocal
			c.nlocal++
		}
		if joinTests {
			tests = append(tests, pendingTest{
				fieldTest:   fieldTest{local: e.local, preds: k.Predicates, equals: k.Equals},
				notVarNames: k.NotVars,
			})
		}
		elems = append(elems, e)
	}
	return elems, tests, nil
}

func (c *compiler) actions() error {
	defined := maps.Clone(c.bound)
	for _, a := range c.rule.spec.Actions {
		if err := checkScope(a, defined); err != nil {
			return ir.ParsingErrorf("action %s %s", a, err)
		}
	}
	return nil
}

// checkScope reports the first variable e uses before it is bound. Binder
// forms add their variable to defined: bind after its value, foreach and
// progn$ (with the -index companion) before their body, and fact-set
// queries for their member variables.
func checkScope(e ir.Expr, defined map[string]bool) error {
	switch e.Kind {
	case ir.ExprVar, ir.ExprMultiVar:
		name, _, _ := strings.Cut(e.Name, ":")
		if !defined[name] {
			return fmt.Errorf("references unbound variable ?%s", e.Name)
		}
		return nil
	case ir.ExprCall:
	default:
		return checkArgs(e, e.Args, defined)
	}

	var first ir.Expr
	if len(e.Args) > 0 {
		first = e.Args[0]
	}
	isVar := first.Kind == ir.ExprVar || first.Kind == ir.ExprMultiVar
	switch {
	case binders[e.Name] && isVar && e.Name == "bind":
		if err := checkArgs(e, e.Args[1:], defined); err != nil {
			return err
		}
		defined[first.Name] = true
		return nil
	case binders[e.Name] && isVar:
		if len(e.Args) > 1 {
			if err := checkScope(e.Args[1], defined); err != nil {
				return err
			}
		}
		defined[first.Name] = true
		defined[first.Name+"-index"] = true
		if len(e.Args) > 2 {
			return checkArgs(e, e.Args[2:], defined)
		}
		return nil
	case len(e.Args) > 0 && first.IsGroup():
		for _, m := range first.Args {
			if m.IsGroup() && len(m.Args) > 0 && m.Args[0].Kind == ir.ExprVar {
				defined[m.Args[0].Name] = true
			}
		}
		return checkArgs(e, e.Args[1:], defined)
	}
	return checkArgs(e, e.Args, defined)
}

func checkArgs(e ir.Expr, args []ir.Expr, defined map[string]bool) error {
	for _, a := range args {
		if err := checkScope(a, defined); err != nil {
			return err
		}
	}
	for _, s := range e.Slots {
		for _, v := range s.Values {
			if err := checkScope(v, defined); err != nil {
				return err
			}
		}
	}
	return nil
}

// wire creates the rule's nodes and seeds them from existing facts.
func (n *Network) wire(r *Rule, conds []compiledCond) error {
	for i := range conds {
		cc := &conds[i]
		if cc.implied != "" {
			tpl, err := n.templates.ImpliedFrom(n.moduleOf(r), cc.implied)
			if err != nil {
				return err
			}
			cc.tpl = tpl
			cc.prog.tpl = tpl
		}
	}

	var prev *betaNode
	for i, cc := range conds {
		b := n.newNode(cc.kind, r, i)
		b.plan = cc.plan
		b.test = cc.test
		if cc.prog != nil {
			am := n.alphaFor(cc.prog)
			b.alpha = am.id
			am.successors = append(am.successors, b.id)
			for _, e := range am.live() {
				b.addRight(e)
			}
			r.alphas = append(r.alphas, am.id)
			if !slices.Contains(r.templates, cc.tpl) {
				r.templates = append(r.templates, cc.tpl)
				cc.tpl.RetainRule()
			}
		}
		if prev != nil {
			prev.next = b.id
		}
		r.nodes = append(r.nodes, b.id)
		prev = b
	}
	term := n.newNode(terminalNode, r, len(conds))
	if prev != nil {
		prev.next = term.id
	}
	r.nodes = append(r.nodes, term.id)

	n.rules = append(n.rules, r)
	n.byName[r.name] = r

	n.nextToken++
	r.root = &Token{
		id:     n.nextToken,
		rule:   r,
		origin: noNode,
		vals:   make([]ir.Value, len(r.varNames)),
		alive:  true,
	}
	n.guarded(func() { n.leftActivate(n.nodes[r.nodes[0]], r.root) })
	return nil
}

func (n *Network) moduleOf(r *Rule) *module.Module {
	if m, ok := n.modules.Find(r.spec.Module); ok {
		return m
	}
	return n.modules.Current()
}

func (n *Network) newNode(kind nodeKind, r *Rule, pos int) *betaNode {
	var id NodeID
	if k := len(n.freeNodes); k > 0 {
		id = n.freeNodes[k-1]
		n.freeNodes = n.freeNodes[:k-1]
	} else {
		id = NodeID(len(n.nodes))
		n.nodes = append(n.nodes, nil)
	}
	b := newBetaNode(id, kind, r, pos)
	n.nodes[id] = b
	return b
}

// alphaFor returns the shared memory for prog, creating and seeding it
// when no pattern with the same signature exists.
func (n *Network) alphaFor(prog *alphaProg) *alphaMemory {
	sig := prog.signature()
	if id, ok := n.alphaBySig[sig]; ok {
		am := n.alphas[id]
		am.refs++
		return am
	}
	var id NodeID
	if k := len(n.freeAlphas); k > 0 {
		id = n.freeAlphas[k-1]
		n.freeAlphas = n.freeAlphas[:k-1]
	} else {
		id = NodeID(len(n.alphas))
		n.alphas = append(n.alphas, nil)
	}
	am := newAlphaMemory(id, prog, sig)
	am.refs = 1
	n.alphas[id] = am
	n.alphaBySig[sig] = id
	n.dispatch[prog.tpl] = append(n.dispatch[prog.tpl], id)
	for f := range n.source.FactsOf(prog.tpl) {
		for _, locals := range prog.match(f) {
			am.add(f, locals)
		}
	}
	return am
}

// RemoveRule removes a rule, its activations and every node no other rule
// uses.
func (n *Network) RemoveRule(name string) error {
	if n.draining {
		return ir.Errorf(ir.KindNetworkConsistency, "cannot remove rule %s while the network is propagating", name)
	}
	r, err := n.Find(name)
	if err != nil {
		return err
	}
	n.teardown(r)
	n.rules = slices.DeleteFunc(n.rules, func(x *Rule) bool { return x == r })
	delete(n.byName, r.name)
	n.logger.Debug("rule removed", "rule", r.name)
	return nil
}

func (n *Network) teardown(r *Rule) {
	n.guarded(func() { n.removeToken(r.root) })
	for _, id := range r.nodes {
		b := n.nodes[id]
		if b.alpha != noNode {
			am := n.alphas[b.alpha]
			am.successors = slices.DeleteFunc(am.successors, func(x NodeID) bool { return x == id })
		}
		n.nodes[id] = nil
		n.freeNodes = append(n.freeNodes, id)
	}
	for _, aid := range r.alphas {
		am := n.alphas[aid]
		am.refs--
		if am.refs > 0 {
			continue
		}
		tpl := am.prog.tpl
		n.dispatch[tpl] = slices.DeleteFunc(n.dispatch[tpl], func(x NodeID) bool { return x == aid })
		if len(n.dispatch[tpl]) == 0 {
			delete(n.dispatch, tpl)
		}
		delete(n.alphaBySig, am.sig)
		n.alphas[aid] = nil
		n.freeAlphas = append(n.freeAlphas, aid)
	}
	for _, tpl := range r.templates {
		tpl.ReleaseRule()
	}
	r.nodes, r.alphas, r.templates, r.root = nil, nil, nil, nil
}

// Clear removes every rule.
func (n *Network) Clear() {
	for _, r := range slices.Clone(n.rules) {
		n.teardown(r)
	}
	n.rules = nil
	n.byName = make(map[string]*Rule)
	n.queue = newDeltaQueue()
}

// Find resolves a rule name from the current module.
func (n *Network) Find(name string) (*Rule, error) {
	q, err := n.modules.Resolve(ir.ConstructRule, name, func(q string) bool {
		_, ok := n.byName[q]
		return ok
	})
	if err != nil {
		return nil, err
	}
	return n.byName[q], nil
}

// Rules iterates over rules in definition order.
func (n *Network) Rules() iter.Seq[*Rule] {
	return func(yield func(*Rule) bool) {
		for _, r := range slices.Clone(n.rules) {
			if !yield(r) {
				return
			}
		}
	}
}

// Len returns the number of rules.
func (n *Network) Len() int {
	return len(n.rules)
}

func itoa(i int) string {
	return ir.Integer(i).String()
}
