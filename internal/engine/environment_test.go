package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/prodsys/internal/agenda"
	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
)

func TestFactCountTracksAssertAndRetract(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env, err := New(WithOutput(discard{}, nil))
		require.NoError(rt, err)

		n := rapid.IntRange(0, 30).Draw(rt, "asserts")
		var live []*facts.Fact
		for i := range n {
			f, err := env.AssertValues("item", i)
			require.NoError(rt, err)
			live = append(live, f)
		}
		k := rapid.IntRange(0, n).Draw(rt, "retracts")
		for _, f := range live[:k] {
			require.NoError(rt, env.Retract(f))
		}
		assert.Equal(rt, n-k, env.FactCount())

		var last int64
		for f := range env.Facts() {
			assert.Greater(rt, f.Index(), last, "facts iterate in assertion order")
			last = f.Index()
		}
	})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestAssertDuplicate(t *testing.T) {
	h := newHarness(t)
	first := h.assert(t, ir.Ordered("color", ir.Sym("red")))

	_, err := h.env.Assert(ir.Ordered("color", ir.Sym("red")))
	var dup *facts.DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Same(t, first, dup.Existing)
	assert.ErrorIs(t, err, ir.ErrDuplicate)
	assert.Equal(t, 1, h.env.FactCount())

	assert.False(t, h.env.SetFactDuplication(true))
	second := h.assert(t, ir.Ordered("color", ir.Sym("red")))
	assert.NotEqual(t, first.Index(), second.Index())
	assert.Equal(t, 2, h.env.FactCount())
}

func TestRetractTwice(t *testing.T) {
	h := newHarness(t)
	f := h.assert(t, ir.Ordered("a", ir.Integer(1)))
	require.NoError(t, h.env.Retract(f))
	err := h.env.Retract(f)
	assert.True(t, ir.IsKind(err, ir.KindAlreadyRetracted), "got %v", err)
}

func TestFactIndicesAreNotReused(t *testing.T) {
	h := newHarness(t)
	a := h.assert(t, ir.Ordered("a", ir.Integer(1)))
	require.NoError(t, h.env.Retract(a))
	b := h.assert(t, ir.Ordered("a", ir.Integer(1)))
	assert.Greater(t, b.Index(), a.Index())
}

func TestSharedVariableJoinActivates(t *testing.T) {
	h := newHarness(t)
	h.rule(t, ir.RuleSpec{
		Name:       "pair",
		Conditions: []ir.Condition{pat("a", v("x")), pat("b", v("x"))},
		Actions:    []ir.Expr{printoutExpr(str("pair "), ir.Var("x"), crlf)},
	})
	h.assert(t, ir.Ordered("a", ir.Integer(1)))
	h.assert(t, ir.Ordered("a", ir.Integer(2)))
	h.assert(t, ir.Ordered("b", ir.Integer(2)))

	require.Equal(t, 1, h.env.AgendaSize())
	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "pair 2\n", h.stdout())
	assert.Equal(t, Idle, h.env.State())
}

func TestRunLimitOnMinors(t *testing.T) {
	h := newHarness(t)
	h.person(t)
	h.rule(t, ir.RuleSpec{
		Name: "minor",
		Conditions: []ir.Condition{
			slotPat("person", sc("name", v("n")), sc("age", ir.Constraint{
				Var:        "a",
				Predicates: []ir.Expr{ir.Call("<", ir.Var("a"), num(18))},
			})),
		},
		Actions: []ir.Expr{ir.Assert(ir.FactOf("minor", ir.Var("n")))},
	})
	for _, p := range []struct {
		name string
		age  int64
	}{{"Ann", 12}, {"Bob", 40}, {"Cy", 9}} {
		h.assert(t, ir.Templated("person", ir.S("name", ir.String(p.name)), ir.S("age", ir.Integer(p.age))))
	}
	require.Equal(t, 2, h.env.AgendaSize())

	n, err := h.env.Run(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.env.AgendaSize())

	// Depth fires the most recent activation first.
	minors, err := h.env.FactsOf("minor")
	require.NoError(t, err)
	var names []string
	for f := range minors {
		names = append(names, f.String())
	}
	assert.Equal(t, []string{`(minor "Cy")`}, names)

	n, err = h.env.Run(-1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 5, h.env.FactCount())
}

func TestSalienceOrdersFiring(t *testing.T) {
	h := newHarness(t)
	for _, r := range []struct {
		name string
		sal  int64
	}{{"low", 5}, {"high", 10}, {"plain", 0}} {
		h.rule(t, ir.RuleSpec{
			Name:       r.name,
			Salience:   salience(r.sal),
			Conditions: []ir.Condition{pat("go")},
			Actions:    []ir.Expr{printoutExpr(str(r.name), crlf)},
		})
	}
	h.assert(t, ir.Ordered("go"))
	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "high\nlow\nplain\n", h.stdout())
}

func TestSalienceOutOfRangeRejectsRule(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.DefineRule(ir.RuleSpec{
		Name:       "loud",
		Salience:   salience(20000),
		Conditions: []ir.Condition{pat("go")},
	})
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.KindRange), "got %v", err)
	_, err = h.env.FindRule("loud")
	assert.True(t, ir.IsKind(err, ir.KindNotFound))
}

func TestActionErrorStopsRun(t *testing.T) {
	h := newHarness(t)
	h.rule(t, ir.RuleSpec{
		Name:       "first",
		Salience:   salience(10),
		Conditions: []ir.Condition{pat("go")},
		Actions:    []ir.Expr{ir.Assert(ir.FactOf("done", ir.Atom("first")))},
	})
	h.rule(t, ir.RuleSpec{
		Name:       "broken",
		Conditions: []ir.Condition{pat("go")},
		Actions: []ir.Expr{
			ir.Assert(ir.FactOf("done", ir.Atom("broken"))),
			ir.Call("+", num(1), str("x")),
			ir.Assert(ir.FactOf("never")),
		},
	})
	h.rule(t, ir.RuleSpec{
		Name:       "last",
		Salience:   salience(-10),
		Conditions: []ir.Condition{pat("go")},
	})
	h.assert(t, ir.Ordered("go"))

	n, err := h.env.Run(0)
	require.Error(t, err)
	assert.Equal(t, 1, n)

	var rerr *RunError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 1, rerr.Fired)
	assert.Equal(t, "MAIN::broken", rerr.Rule)
	assert.Equal(t, 1, FiredBefore(err))
	assert.True(t, ir.IsKind(err, ir.KindTypeMismatch), "got %v", err)

	// No rollback: the broken rule's first assert stays.
	assert.Equal(t, 3, h.env.FactCount())
	assert.Equal(t, Halted, h.env.State())
	assert.Equal(t, 1, h.env.AgendaSize(), "last is still waiting")
	assert.Contains(t, h.stderr(), "MAIN::broken")
}

func TestHaltBetweenFirings(t *testing.T) {
	h := newHarness(t)
	h.rule(t, ir.RuleSpec{
		Name:       "stop",
		Salience:   salience(1),
		Conditions: []ir.Condition{pat("go")},
		Actions:    []ir.Expr{ir.Call("halt"), printoutExpr(str("after halt"), crlf)},
	})
	h.rule(t, ir.RuleSpec{
		Name:       "later",
		Conditions: []ir.Condition{pat("go")},
		Actions:    []ir.Expr{printoutExpr(str("later"), crlf)},
	})
	h.assert(t, ir.Ordered("go"))

	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Halted, h.env.State())
	assert.Equal(t, "after halt\n", h.stdout(), "the halting rule completes its actions")

	n, err = h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Idle, h.env.State())
	assert.Equal(t, "after halt\nlater\n", h.stdout())
}

func TestHaltOutsideRunIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.rule(t, ir.RuleSpec{Name: "r", Conditions: []ir.Condition{pat("go")}})
	h.assert(t, ir.Ordered("go"))
	h.env.Halt()
	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRetractDuringRunCancelsActivation(t *testing.T) {
	h := newHarness(t)
	h.rule(t, ir.RuleSpec{
		Name:       "cleanup",
		Salience:   salience(10),
		Conditions: []ir.Condition{pat("go"), bound("t", pat("target", v("x")))},
		Actions:    []ir.Expr{ir.Call("retract", ir.Var("t"))},
	})
	h.rule(t, ir.RuleSpec{
		Name:       "use",
		Conditions: []ir.Condition{pat("target", v("x"))},
		Actions:    []ir.Expr{printoutExpr(str("used"), crlf)},
	})
	h.assert(t, ir.Ordered("target", ir.Integer(1)))
	h.assert(t, ir.Ordered("go"))
	require.Equal(t, 2, h.env.AgendaSize())

	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, h.stdout())
}

func TestModifyLoop(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.DefineTemplate(ir.TemplateSpec{Name: "counter", Slots: []ir.SlotSpec{{Name: "n"}}})
	require.NoError(t, err)
	h.rule(t, ir.RuleSpec{
		Name: "count",
		Conditions: []ir.Condition{bound("c", slotPat("counter", sc("n", ir.Constraint{
			Var:        "n",
			Predicates: []ir.Expr{ir.Call("<", ir.Var("n"), num(3))},
		})))},
		Actions: []ir.Expr{ir.Modify("c", ir.SlotOf("n", ir.Call("+", ir.Var("n"), num(1))))},
	})
	f := h.assert(t, ir.Templated("counter", ir.S("n", ir.Integer(0))))
	before := f.Timetag()

	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, ok := h.env.FindFact(f.Index())
	require.True(t, ok, "modify keeps the fact index")
	val, err := got.Slot("n")
	require.NoError(t, err)
	assert.Equal(t, ir.Integer(3), val)
	assert.Greater(t, got.Timetag(), before)
}

func TestModifyOrderedFact(t *testing.T) {
	h := newHarness(t)
	f := h.assert(t, ir.Ordered("a", ir.Integer(1)))
	_, err := h.env.Modify(f, []ir.SlotValue{ir.S("implied", ir.Multi(ir.Integer(2)))})
	assert.ErrorIs(t, err, ir.ErrNotModifiable)
}

func TestRuleRedefinition(t *testing.T) {
	h := newHarness(t)
	spec := ir.RuleSpec{Name: "r", Conditions: []ir.Condition{pat("go")}}
	h.rule(t, spec)
	_, err := h.env.DefineRule(spec)
	assert.ErrorIs(t, err, ir.ErrDuplicate)

	h.assert(t, ir.Ordered("go"))
	require.Equal(t, 1, h.env.AgendaSize())
	require.NoError(t, h.env.UndefineRule("r"))
	assert.Equal(t, 0, h.env.AgendaSize(), "undefine drops pending activations")

	h.rule(t, spec)
	assert.Equal(t, 1, h.env.AgendaSize(), "a redefined rule matches existing facts")
}

func TestUnknownTemplateInRule(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.DefineRule(ir.RuleSpec{
		Name:       "r",
		Conditions: []ir.Condition{slotPat("ghost", sc("x", v("x")))},
	})
	assert.ErrorIs(t, err, ir.ErrUnknownTemplate)
}

func TestResetAssertsDeffacts(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.DefineDeffacts(ir.DeffactsSpec{Name: "startup", Facts: []ir.Expr{
		ir.FactOf("a", num(1)),
		ir.FactOf("a", num(2)),
		ir.FactOf("a", num(1)),
	}})
	require.NoError(t, err)
	h.rule(t, ir.RuleSpec{Name: "seen", Conditions: []ir.Condition{pat("a", v("x"))}})
	h.assert(t, ir.Ordered("stray"))

	require.NoError(t, h.env.Reset())
	assert.Equal(t, 2, h.env.FactCount(), "duplicates in deffacts are skipped")
	assert.Equal(t, 2, h.env.AgendaSize())
	assert.Equal(t, []string{"MAIN"}, h.env.FocusStack())

	require.NoError(t, h.env.Reset())
	assert.Equal(t, 2, h.env.FactCount())
	assert.Equal(t, 2, h.env.AgendaSize())
}

func TestResetReactivatesFactlessRules(t *testing.T) {
	h := newHarness(t)
	h.rule(t, ir.RuleSpec{Name: "start", Actions: []ir.Expr{printoutExpr(str("start"), crlf)}})
	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, h.env.Reset())
	n, err = h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "start\nstart\n", h.stdout())
}

func TestGlobals(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.DefineGlobal(ir.GlobalSpec{Name: "count", Value: num(1)})
	require.NoError(t, err)
	h.rule(t, ir.RuleSpec{
		Name:       "bump",
		Conditions: []ir.Condition{pat("go")},
		Actions: []ir.Expr{
			ir.Call("bind", ir.GlobalRef("count"), ir.Call("+", ir.GlobalRef("count"), num(1))),
		},
	})
	h.assert(t, ir.Ordered("go"))
	_, err = h.env.Run(0)
	require.NoError(t, err)

	got, err := h.env.GetGlobal("count")
	require.NoError(t, err)
	assert.Equal(t, ir.Integer(2), got)

	require.NoError(t, h.env.Reset())
	got, err = h.env.GetGlobal("count")
	require.NoError(t, err)
	assert.Equal(t, ir.Integer(1), got)
}

func TestSetCurrentModuleReturnsPrevious(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.DefineModule(ir.ModuleSpec{Name: "DETECT"})
	require.NoError(t, err)

	prev, err := h.env.SetCurrentModule("DETECT")
	require.NoError(t, err)
	assert.NotEmpty(t, prev)
	assert.Equal(t, "DETECT", h.env.CurrentModule())

	prev, err = h.env.SetCurrentModule("MAIN")
	require.NoError(t, err)
	assert.Equal(t, "DETECT", prev)

	_, err = h.env.SetCurrentModule("NOPE")
	assert.ErrorIs(t, err, ir.ErrNotFound)
}

func TestFocusSelectsModule(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.DefineModule(ir.ModuleSpec{Name: "REPORT"})
	require.NoError(t, err)
	h.rule(t, ir.RuleSpec{
		Name:    "say",
		Module:  "REPORT",
		Actions: []ir.Expr{printoutExpr(str("report"), crlf)},
	})
	_, err = h.env.SetCurrentModule("MAIN")
	require.NoError(t, err)
	h.rule(t, ir.RuleSpec{
		Name:    "hand-off",
		Module:  "MAIN",
		Actions: []ir.Expr{printoutExpr(str("main"), crlf), ir.Call("focus", ir.Atom("REPORT"))},
	})

	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "main\nreport\n", h.stdout())
	assert.Empty(t, h.env.FocusStack())
}

func TestStrategyOrder(t *testing.T) {
	for _, tc := range []struct {
		strategy agenda.Strategy
		want     string
	}{
		{agenda.Depth, "3\n2\n1\n"},
		{agenda.Breadth, "1\n2\n3\n"},
	} {
		t.Run(tc.strategy.String(), func(t *testing.T) {
			h := newHarness(t, WithStrategy(tc.strategy))
			h.rule(t, ir.RuleSpec{
				Name:       "show",
				Conditions: []ir.Condition{pat("n", v("x"))},
				Actions:    []ir.Expr{printoutExpr(ir.Var("x"), crlf)},
			})
			for i := 1; i <= 3; i++ {
				h.assert(t, ir.Ordered("n", ir.Integer(i)))
			}
			_, err := h.env.Run(0)
			require.NoError(t, err)
			assert.Equal(t, tc.want, h.stdout())
		})
	}
}

func TestEnvironmentsAreIndependent(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)
	a.assert(t, ir.Ordered("x", ir.Integer(1)))
	assert.Equal(t, 1, a.env.FactCount())
	assert.Equal(t, 0, b.env.FactCount())

	b.rule(t, ir.RuleSpec{Name: "r", Conditions: []ir.Condition{pat("x", v("v"))}})
	_, err := a.env.FindRule("r")
	assert.ErrorIs(t, err, ir.ErrNotFound)
}

func TestRunFromActionIsRejected(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.env.DefineFunction("nested-run", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		_, err := ctx.Env().Run(0)
		return nil, err
	}))
	h.rule(t, ir.RuleSpec{Name: "r", Actions: []ir.Expr{ir.Call("nested-run")}})
	_, err := h.env.Run(0)
	require.Error(t, err)
	assert.True(t, IsRunError(err))
}

func TestUserFunction(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.env.DefineFunction("double", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		n, ok := args[0].(ir.Integer)
		if !ok {
			return nil, errors.New("not an integer")
		}
		return n * 2, nil
	}))
	got, err := h.env.Call("double", ir.Integer(21))
	require.NoError(t, err)
	assert.Equal(t, ir.Integer(42), got)

	_, err = h.env.Call("double", ir.String("x"))
	assert.ErrorIs(t, err, ir.ErrProcessing)

	err = h.env.DefineFunction("+", 0, -1, func(*Context, []ir.Value) (ir.Value, error) { return nil, nil })
	assert.ErrorIs(t, err, ir.ErrDuplicate)
	assert.ErrorIs(t, h.env.UndefineFunction("+"), ir.ErrInUse)
	require.NoError(t, h.env.UndefineFunction("double"))
}

func TestClear(t *testing.T) {
	h := newHarness(t)
	h.person(t)
	h.rule(t, ir.RuleSpec{Name: "r", Conditions: []ir.Condition{slotPat("person")}})
	h.assert(t, ir.Templated("person", ir.S("name", ir.String("Ann"))))

	require.NoError(t, h.env.Clear())
	assert.Equal(t, 0, h.env.FactCount())
	assert.Equal(t, 0, h.env.AgendaSize())
	_, err := h.env.FindTemplate("person")
	assert.ErrorIs(t, err, ir.ErrNotFound)
	assert.Equal(t, "MAIN", h.env.CurrentModule())
}

func TestWriteFactsAndAgenda(t *testing.T) {
	h := newHarness(t)
	h.rule(t, ir.RuleSpec{Name: "r", Salience: salience(3), Conditions: []ir.Condition{pat("a", v("x"))}})
	h.assert(t, ir.Ordered("a", ir.Integer(1)))

	_, err := h.env.Call("facts")
	require.NoError(t, err)
	_, err = h.env.Call("agenda")
	require.NoError(t, err)
	want := fmt.Sprintf("%-7s %s\nFor a total of 1 fact.\n%-6d r: f-1\nFor a total of 1 activation.\n", "f-1", "(a 1)", 3)
	assert.Equal(t, want, h.stdout())
}
