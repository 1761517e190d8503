package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/ir"
)

func TestWatchTraceOrder(t *testing.T) {
	h := newHarness(t, WithWatch(WatchFacts, WatchRules, WatchActivations))
	h.rule(t, ir.RuleSpec{
		Name:       "r",
		Conditions: []ir.Condition{bound("f", pat("a", v("x")))},
		Actions:    []ir.Expr{ir.Call("retract", ir.Var("f"))},
	})
	h.assert(t, ir.Ordered("a", ir.Integer(1)))
	_, err := h.env.Run(0)
	require.NoError(t, err)

	want := "" +
		"==> f-1     (a 1)\n" +
		"==> Activation 0      r: f-1\n" +
		"FIRE    1 r: f-1\n" +
		"<== f-1     (a 1)\n"
	assert.Equal(t, want, h.stdout())
}

func TestWatchRetractRemovesActivation(t *testing.T) {
	h := newHarness(t, WithWatch(WatchActivations))
	h.rule(t, ir.RuleSpec{Name: "r", Conditions: []ir.Condition{pat("a", v("x"))}})
	f := h.assert(t, ir.Ordered("a", ir.Integer(1)))
	require.NoError(t, h.env.Retract(f))
	assert.Equal(t, "==> Activation 0      r: f-1\n<== Activation 0      r: f-1\n", h.stdout())
}

func TestWatchSingleRule(t *testing.T) {
	h := newHarness(t)
	h.rule(t, ir.RuleSpec{Name: "loud", Conditions: []ir.Condition{pat("go")}})
	h.rule(t, ir.RuleSpec{Name: "quiet", Conditions: []ir.Condition{pat("go")}})
	require.NoError(t, h.env.WatchRule("loud", WatchRules, true))

	h.assert(t, ir.Ordered("go"))
	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, h.stdout(), "loud: f-1")
	assert.NotContains(t, h.stdout(), "quiet")

	assert.Error(t, h.env.WatchRule("loud", WatchFacts, true))
}

func TestWatchGlobalsAndStatistics(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.DefineGlobal(ir.GlobalSpec{Name: "x", Value: num(1)})
	require.NoError(t, err)
	_, err = h.env.Call("watch", ir.Sym(WatchAll))
	require.NoError(t, err)
	assert.True(t, h.env.Watching(WatchGlobals))

	require.NoError(t, h.env.SetGlobal("x", ir.Integer(5)))
	_, err = h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, ":== ?*x* ==> 5 <== 1\n==> Focus MAIN\n<== Focus MAIN\n0 rules fired\n", h.stdout())

	_, err = h.env.Call("unwatch", ir.Sym(WatchAll))
	require.NoError(t, err)
	assert.False(t, h.env.Watching(WatchFacts))
	assert.Error(t, h.env.Watch("everything", true))
}

func TestTemplateWatch(t *testing.T) {
	h := newHarness(t)
	h.person(t)
	tpl, err := h.env.FindTemplate("person")
	require.NoError(t, err)
	tpl.SetWatch(true)

	h.assert(t, ir.Templated("person", ir.S("name", ir.String("Ann")), ir.S("age", ir.Integer(3))))
	h.assert(t, ir.Ordered("other"))
	assert.Equal(t, "==> f-1     (person (name \"Ann\") (age 3))\n", h.stdout())
}
