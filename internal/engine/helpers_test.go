package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/rete"
	"github.com/roach88/prodsys/internal/router"
)

type harness struct {
	env *Environment
	out *router.BufferRouter
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	out := router.NewBufferRouter("capture", 10)
	opts = append([]Option{WithRouter(out), WithIDGenerator(NewFixedGenerator("test-env"))}, opts...)
	env, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(env.Close)
	return &harness{env: env, out: out}
}

func (h *harness) stdout() string { return h.out.String(router.Stdout) }

func (h *harness) stderr() string { return h.out.String(router.Stderr) }

func (h *harness) assert(t *testing.T, spec ir.FactSpec) *facts.Fact {
	t.Helper()
	f, err := h.env.Assert(spec)
	require.NoError(t, err)
	return f
}

func (h *harness) rule(t *testing.T, spec ir.RuleSpec) *rete.Rule {
	t.Helper()
	r, err := h.env.DefineRule(spec)
	require.NoError(t, err)
	return r
}

func (h *harness) person(t *testing.T) {
	t.Helper()
	_, err := h.env.DefineTemplate(ir.TemplateSpec{Name: "person", Slots: []ir.SlotSpec{
		{Name: "name", Types: ir.Types(ir.KindString)},
		{Name: "age", Types: ir.Types(ir.KindInteger)},
	}})
	require.NoError(t, err)
}

func pat(tpl string, fields ...ir.Constraint) ir.Condition {
	return ir.Condition{Kind: ir.CondPattern, Pattern: ir.Pattern{Template: tpl, Fields: fields}}
}

func slotPat(tpl string, slots ...ir.SlotConstraint) ir.Condition {
	return ir.Condition{Kind: ir.CondPattern, Pattern: ir.Pattern{Template: tpl, Slots: slots}}
}

func bound(name string, c ir.Condition) ir.Condition {
	c.Binding = name
	return c
}

func v(name string) ir.Constraint { return ir.Constraint{Var: name} }

func lit(val ir.Value) ir.Constraint { return ir.Constraint{Literals: []ir.Value{val}} }

func sc(slot string, fields ...ir.Constraint) ir.SlotConstraint {
	return ir.SlotConstraint{Slot: slot, Fields: fields}
}

func salience(n int64) *ir.Expr {
	x := ir.Const(ir.Integer(n))
	return &x
}

func printoutExpr(args ...ir.Expr) ir.Expr {
	return ir.Call("printout", append([]ir.Expr{ir.Atom("t")}, args...)...)
}

func str(s string) ir.Expr { return ir.Const(ir.String(s)) }

func num(n int64) ir.Expr { return ir.Const(ir.Integer(n)) }

var crlf = ir.Atom("crlf")
