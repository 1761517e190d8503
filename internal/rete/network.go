package rete

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/module"
	"github.com/roach88/prodsys/internal/template"
)

// Evaluator evaluates join-time expressions (predicate, return-value and
// test conditions) against a set of bindings.
type Evaluator interface {
	EvalWith(expr ir.Expr, b Bindings) (ir.Value, error)
}

// AgendaSink receives rule activations as tokens reach terminal nodes.
type AgendaSink interface {
	Activate(t *Token)
	Deactivate(t *Token)
}

// FactSource supplies existing facts when rules are added.
type FactSource interface {
	FactsOf(tpl *template.Template) iter.Seq[*facts.Fact]
}

// Option configures a Network.
type Option func(*Network)

// WithLogger sets the logger used for evaluation errors and tracing.
func WithLogger(l *slog.Logger) Option {
	return func(n *Network) {
		n.logger = l
	}
}

// WithErrorHandler receives errors raised while evaluating join-time
// expressions. The failing test is treated as false.
func WithErrorHandler(fn func(rule string, err error)) Option {
	return func(n *Network) {
		n.onError = fn
	}
}

// Network is a Rete match network.
//
// Fact changes arrive through Submit and are applied strictly in order:
// changes submitted while a change is propagating are queued and applied
// after it. Alpha memories are shared between rules; each rule owns its
// chain of beta nodes. Successors are visited in the order they were
// added, so propagation is deterministic.
//
// A Network is not safe for concurrent use.
type Network struct {
	templates *template.Registry
	modules   *module.Table
	source    FactSource
	eval      Evaluator
	sink      AgendaSink
	logger    *slog.Logger
	onError   func(rule string, err error)

	alphas     []*alphaMemory
	freeAlphas []NodeID
	alphaBySig map[string]NodeID
	dispatch   map[*template.Template][]NodeID

	nodes     []*betaNode
	freeNodes []NodeID

	rules  []*Rule
	byName map[string]*Rule

	queue     *deltaQueue
	draining  bool
	nextToken uint64
}

// New creates an empty network.
func New(templates *template.Registry, modules *module.Table, source FactSource, eval Evaluator, sink AgendaSink, opts ...Option) *Network {
	n := &Network{
		templates:  templates,
		modules:    modules,
		source:     source,
		eval:       eval,
		sink:       sink,
		logger:     slog.Default(),
		alphaBySig: make(map[string]NodeID),
		dispatch:   make(map[*template.Template][]NodeID),
		byName:     make(map[string]*Rule),
		queue:      newDeltaQueue(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Submit applies a fact change, or queues it when a change is already
// propagating. It implements facts.Sink.
func (n *Network) Submit(d facts.Delta) {
	n.queue.Enqueue(d)
	if n.draining {
		return
	}
	n.guarded(func() {})
}

// guarded runs fn with the network marked busy, then applies every change
// queued in the meantime.
func (n *Network) guarded(fn func()) {
	n.draining = true
	defer func() { n.draining = false }()
	fn()
	for {
		d, ok := n.queue.TryDequeue()
		if !ok {
			return
		}
		n.process(d)
	}
}

// Pending returns the number of queued fact changes.
func (n *Network) Pending() int {
	return n.queue.Len()
}

func (n *Network) process(d facts.Delta) {
	switch d.Op {
	case facts.OpAssert:
		if d.Fact.Retracted() {
			return
		}
		n.assertFact(d.Fact)
	case facts.OpRetract:
		n.retractFact(d.Fact)
	}
}

func (n *Network) assertFact(f *facts.Fact) {
	for _, id := range n.dispatch[f.Template()] {
		am := n.alphas[id]
		for _, locals := range am.prog.match(f) {
			e := am.add(f, locals)
			for _, sid := range am.successors {
				n.rightActivate(n.nodes[sid], e)
			}
		}
	}
}

func (n *Network) retractFact(f *facts.Fact) {
	type removal struct {
		am      *alphaMemory
		entries []*alphaEntry
	}
	var removed []removal
	// Detach the fact everywhere first so no propagation below can join
	// against it.
	for _, id := range n.dispatch[f.Template()] {
		am := n.alphas[id]
		es := am.remove(f.Index())
		if len(es) == 0 {
			continue
		}
		for _, e := range es {
			for _, sid := range am.successors {
				n.nodes[sid].removeRight(e)
			}
		}
		removed = append(removed, removal{am, es})
	}
	for _, r := range removed {
		for _, e := range r.entries {
			for _, sid := range r.am.successors {
				n.retractRight(n.nodes[sid], e)
			}
		}
	}
}

func (n *Network) rightActivate(b *betaNode, e *alphaEntry) {
	key := b.addRight(e)
	switch b.kind {
	case joinNode:
		for _, t := range slices.Clone(b.left[key]) {
			if vals, ok := n.join(b, t, e); ok {
				n.emit(b, t, e.fact, vals)
			}
		}
	case notNode, existsNode:
		for _, t := range slices.Clone(b.left[key]) {
			if _, ok := n.join(b, t, e); !ok {
				continue
			}
			b.blocked[e] = append(b.blocked[e], t)
			t.blockedBy = append(t.blockedBy, e)
			t.blockers++
			if t.blockers != 1 {
				continue
			}
			if b.kind == notNode {
				n.removeChildren(t)
			} else {
				n.emit(b, t, nil, t.vals)
			}
		}
	}
}

func (n *Network) retractRight(b *betaNode, e *alphaEntry) {
	switch b.kind {
	case joinNode:
		toks := b.outByFact[e.fact.Index()]
		delete(b.outByFact, e.fact.Index())
		for _, t := range toks {
			n.removeToken(t)
		}
	case notNode, existsNode:
		toks := b.blocked[e]
		delete(b.blocked, e)
		for _, t := range toks {
			if !t.alive {
				continue
			}
			t.blockedBy = slices.DeleteFunc(t.blockedBy, func(x *alphaEntry) bool { return x == e })
			t.blockers--
			if t.blockers != 0 {
				continue
			}
			if b.kind == notNode {
				n.emit(b, t, nil, t.vals)
			} else {
				n.removeChildren(t)
			}
		}
	}
}

func (n *Network) leftActivate(b *betaNode, t *Token) {
	b.addLeft(t)
	switch b.kind {
	case terminalNode:
		b.rule.activations++
		n.sink.Activate(t)
	case testNode:
		if n.passes(b, t) {
			n.emit(b, t, nil, t.vals)
		}
	case joinNode:
		for _, e := range slices.Clone(b.right[t.key]) {
			if vals, ok := n.join(b, t, e); ok {
				n.emit(b, t, e.fact, vals)
			}
		}
	case notNode, existsNode:
		for _, e := range b.right[t.key] {
			if _, ok := n.join(b, t, e); ok {
				b.blocked[e] = append(b.blocked[e], t)
				t.blockedBy = append(t.blockedBy, e)
				t.blockers++
			}
		}
		if (b.kind == notNode) == (t.blockers == 0) {
			n.emit(b, t, nil, t.vals)
		}
	}
}

// emit creates the child of parent produced by node b and passes it on.
func (n *Network) emit(b *betaNode, parent *Token, f *facts.Fact, vals []ir.Value) {
	n.nextToken++
	child := &Token{
		id:     n.nextToken,
		rule:   b.rule,
		parent: parent,
		origin: b.id,
		facts:  append(slices.Clip(parent.facts), f),
		vals:   vals,
		alive:  true,
	}
	parent.children = append(parent.children, child)
	if f != nil {
		b.outByFact[f.Index()] = append(b.outByFact[f.Index()], child)
	}
	n.leftActivate(n.nodes[b.next], child)
}

// join tests whether entry e extends token t at node b and returns the
// extended bindings.
func (n *Network) join(b *betaNode, t *Token, e *alphaEntry) ([]ir.Value, bool) {
	plan := &b.plan
	for _, s := range plan.shared {
		if !ir.Equal(t.vals[s.rule], e.locals[s.local]) {
			return nil, false
		}
	}
	vals := slices.Clone(t.vals)
	for _, a := range plan.assigns {
		vals[a.rule] = e.locals[a.local]
	}
	if plan.factVar >= 0 {
		vals[plan.factVar] = e.fact.Address()
	}
	if len(plan.tests) == 0 {
		return vals, true
	}
	fr := frame{rule: b.rule, vals: vals}
	for _, ft := range plan.tests {
		v := e.locals[ft.local]
		for _, r := range ft.notVars {
			if ir.Equal(v, vals[r]) {
				return nil, false
			}
		}
		for _, p := range ft.preds {
			res, err := n.eval.EvalWith(p, fr)
			if err != nil {
				n.reportError(b.rule, err)
				return nil, false
			}
			if !ir.Truthy(res) {
				return nil, false
			}
		}
		for _, q := range ft.equals {
			res, err := n.eval.EvalWith(q, fr)
			if err != nil {
				n.reportError(b.rule, err)
				return nil, false
			}
			if !ir.Equal(v, res) {
				return nil, false
			}
		}
	}
	return vals, true
}

func (n *Network) passes(b *betaNode, t *Token) bool {
	res, err := n.eval.EvalWith(b.test, frame{rule: b.rule, vals: t.vals})
	if err != nil {
		n.reportError(b.rule, err)
		return false
	}
	return ir.Truthy(res)
}

func (n *Network) reportError(r *Rule, err error) {
	n.logger.Warn("pattern evaluation failed", "rule", r.name, "error", err)
	if n.onError != nil {
		n.onError(r.name, fmt.Errorf("rule %s: %w", r.name, err))
	}
}

// removeToken removes t and its descendants from the network.
func (n *Network) removeToken(t *Token) {
	if !t.alive {
		return
	}
	t.alive = false
	for _, c := range t.children {
		n.removeToken(c)
	}
	t.children = nil
	b := n.nodes[t.node]
	b.removeLeft(t)
	if b.kind == terminalNode {
		b.rule.activations--
		n.sink.Deactivate(t)
	}
	if t.origin != noNode {
		o := n.nodes[t.origin]
		if f := t.facts[o.pos]; f != nil {
			idx := f.Index()
			o.outByFact[idx] = slices.DeleteFunc(o.outByFact[idx], func(x *Token) bool { return x == t })
			if len(o.outByFact[idx]) == 0 {
				delete(o.outByFact, idx)
			}
		}
	}
	if p := t.parent; p != nil && p.alive {
		p.children = slices.DeleteFunc(p.children, func(x *Token) bool { return x == t })
	}
}

func (n *Network) removeChildren(t *Token) {
	children := t.children
	t.children = nil
	for _, c := range children {
		n.removeToken(c)
	}
}
