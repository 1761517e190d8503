package rete

import (
	"slices"

	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
)

// NodeID addresses a node in a Network's arenas.
type NodeID int32

const noNode NodeID = -1

type nodeKind uint8

const (
	joinNode nodeKind = iota
	notNode
	existsNode
	testNode
	terminalNode
)

func (k nodeKind) String() string {
	switch k {
	case joinNode:
		return "join"
	case notNode:
		return "not"
	case existsNode:
		return "exists"
	case testNode:
		return "test"
	case terminalNode:
		return "terminal"
	}
	return "unknown"
}

// varPair links a pattern-local variable to a rule variable slot.
type varPair struct {
	local int
	rule  int
}

// fieldTest holds the join-time parts of one field constraint.
type fieldTest struct {
	local   int
	notVars []int
	preds   []ir.Expr
	equals  []ir.Expr
}

// joinPlan describes how an alpha entry combines with a token.
type joinPlan struct {
	shared  []varPair // equality with earlier bindings; the hash key
	assigns []varPair // first bindings made by this pattern
	factVar int       // rule slot of the ?f <- binding, or -1
	tests   []fieldTest
}

// betaNode is one step of a rule's join chain. Its left memory holds the
// tokens produced by the previous step; its right input is an alpha memory.
type betaNode struct {
	id    NodeID
	kind  nodeKind
	rule  *Rule
	pos   int // condition index
	alpha NodeID
	next  NodeID
	plan  joinPlan
	test  ir.Expr

	left      map[string][]*Token
	leftCount int
	right     map[string][]*alphaEntry

	// outByFact indexes a join node's output tokens by the fact they added.
	outByFact map[int64][]*Token
	// blocked lists, per alpha entry, the left tokens it matches in a
	// not or exists node.
	blocked map[*alphaEntry][]*Token
}

func newBetaNode(id NodeID, kind nodeKind, rule *Rule, pos int) *betaNode {
	return &betaNode{
		id:        id,
		kind:      kind,
		rule:      rule,
		pos:       pos,
		alpha:     noNode,
		next:      noNode,
		left:      make(map[string][]*Token),
		right:     make(map[string][]*alphaEntry),
		outByFact: make(map[int64][]*Token),
		blocked:   make(map[*alphaEntry][]*Token),
	}
}

func (b *betaNode) leftKey(t *Token) string {
	if len(b.plan.shared) == 0 {
		return ""
	}
	vals := make([]ir.Value, len(b.plan.shared))
	for i, s := range b.plan.shared {
		vals[i] = t.vals[s.rule]
	}
	return ir.KeyOf(vals...)
}

func (b *betaNode) rightKey(e *alphaEntry) string {
	if len(b.plan.shared) == 0 {
		return ""
	}
	vals := make([]ir.Value, len(b.plan.shared))
	for i, s := range b.plan.shared {
		vals[i] = e.locals[s.local]
	}
	return ir.KeyOf(vals...)
}

func (b *betaNode) addLeft(t *Token) {
	t.node = b.id
	t.key = b.leftKey(t)
	b.left[t.key] = append(b.left[t.key], t)
	b.leftCount++
}

func (b *betaNode) removeLeft(t *Token) {
	bucket := slices.DeleteFunc(b.left[t.key], func(x *Token) bool { return x == t })
	if len(bucket) == 0 {
		delete(b.left, t.key)
	} else {
		b.left[t.key] = bucket
	}
	b.leftCount--
	for _, e := range t.blockedBy {
		b.blocked[e] = slices.DeleteFunc(b.blocked[e], func(x *Token) bool { return x == t })
		if len(b.blocked[e]) == 0 {
			delete(b.blocked, e)
		}
	}
	t.blockedBy = nil
}

func (b *betaNode) addRight(e *alphaEntry) string {
	key := b.rightKey(e)
	b.right[key] = append(b.right[key], e)
	return key
}

func (b *betaNode) removeRight(e *alphaEntry) {
	key := b.rightKey(e)
	bucket := slices.DeleteFunc(b.right[key], func(x *alphaEntry) bool { return x == e })
	if len(bucket) == 0 {
		delete(b.right, key)
	} else {
		b.right[key] = bucket
	}
}

// tokens returns the left memory in arrival order.
func (b *betaNode) tokens() []*Token {
	out := make([]*Token, 0, b.leftCount)
	for _, bucket := range b.left {
		out = append(out, bucket...)
	}
	slices.SortFunc(out, func(x, y *Token) int {
		switch {
		case x.id < y.id:
			return -1
		case x.id > y.id:
			return 1
		}
		return 0
	})
	return out
}

// Token is a partial match: the facts matched by a prefix of a rule's
// conditions together with the variable bindings they produced. Tokens
// reaching a rule's terminal node are activations.
type Token struct {
	id        uint64
	rule      *Rule
	parent    *Token
	children  []*Token
	node      NodeID // node whose left memory holds the token
	origin    NodeID // node that produced the token
	key       string
	facts     []*facts.Fact
	vals      []ir.Value
	blockers  int
	blockedBy []*alphaEntry
	alive     bool
	payload   any
}

// ID is unique within the network.
func (t *Token) ID() uint64 { return t.id }

// Rule returns the rule the token belongs to.
func (t *Token) Rule() *Rule { return t.rule }

// Facts returns the matched facts, one per condition. Positions of not,
// exists and test conditions are nil.
func (t *Token) Facts() []*facts.Fact { return t.facts }

// Alive reports whether the token is still part of the network.
func (t *Token) Alive() bool { return t.alive }

// Lookup returns the value bound to variable name.
func (t *Token) Lookup(name string) (ir.Value, bool) {
	return frame{rule: t.rule, vals: t.vals}.Lookup(name)
}

// Timetags lists the timetags of the matched facts, 0 for positions
// without a fact.
func (t *Token) Timetags() []int64 {
	out := make([]int64, len(t.facts))
	for i, f := range t.facts {
		if f != nil {
			out[i] = f.Timetag()
		}
	}
	return out
}

// Payload returns the value stored by SetPayload.
func (t *Token) Payload() any { return t.payload }

// SetPayload attaches consumer data, typically an activation.
func (t *Token) SetPayload(v any) { t.payload = v }

// Bindings resolves variables for expression evaluation.
type Bindings interface {
	Lookup(name string) (ir.Value, bool)
}

// frame is a Bindings view over a rule's variable slots.
type frame struct {
	rule *Rule
	vals []ir.Value
}

func (f frame) Lookup(name string) (ir.Value, bool) {
	i, ok := f.rule.varIndex[name]
	if !ok || i >= len(f.vals) || f.vals[i] == nil {
		return nil, false
	}
	return f.vals[i], true
}
