package agenda

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/prodsys/internal/ir"
)

type counter struct{ n int64 }

func (c *counter) Next() int64 {
	c.n++
	return c.n
}

type rule struct {
	name       string
	module     string
	complexity int
	autoFocus  bool
}

func (r rule) Name() string    { return ir.QualifiedName(r.module, r.name) }
func (r rule) Module() string  { return r.module }
func (r rule) Complexity() int { return r.complexity }
func (r rule) AutoFocus() bool { return r.autoFocus }

func mainRule(name string, complexity int) rule {
	return rule{name: name, module: ir.MainModule, complexity: complexity}
}

func drain(ag *Agenda) []string {
	ag.Focus(ir.MainModule)
	var out []string
	for a := ag.Next(); a != nil; a = ag.Next() {
		out = append(out, a.String())
	}
	return out
}

func TestSalienceDominatesStrategy(t *testing.T) {
	for _, s := range []Strategy{Depth, Breadth, LEX, MEA, Complexity, Simplicity, Random} {
		t.Run(s.String(), func(t *testing.T) {
			ag := New(&counter{}, WithStrategy(s))
			ag.Add(mainRule("low", 1), 5, []int64{1}, "f-1", nil)
			ag.Add(mainRule("high", 1), 10, []int64{1}, "f-1", nil)
			got := drain(ag)
			assert.Equal(t, []string{"10     high: f-1", "5      low: f-1"}, got)
		})
	}
}

func TestDepthAndBreadth(t *testing.T) {
	ag := New(&counter{})
	ag.Add(mainRule("a", 1), 0, []int64{1}, "f-1", nil)
	ag.Add(mainRule("b", 1), 0, []int64{2}, "f-2", nil)
	ag.Add(mainRule("c", 1), 0, []int64{3}, "f-3", nil)
	assert.Equal(t, []string{"0      c: f-3", "0      b: f-2", "0      a: f-1"}, drain(ag))

	ag = New(&counter{}, WithStrategy(Breadth))
	ag.Add(mainRule("a", 1), 0, []int64{1}, "f-1", nil)
	ag.Add(mainRule("b", 1), 0, []int64{2}, "f-2", nil)
	assert.Equal(t, []string{"0      a: f-1", "0      b: f-2"}, drain(ag))
}

func TestLEXAndMEA(t *testing.T) {
	add := func(ag *Agenda) {
		// Created in this order, so depth would fire "late" first.
		ag.Add(mainRule("recent", 2), 0, []int64{1, 9}, "f-1,f-9", nil)
		ag.Add(mainRule("first-recent", 2), 0, []int64{8, 2}, "f-8,f-2", nil)
		ag.Add(mainRule("late", 2), 0, []int64{3, 4}, "f-3,f-4", nil)
	}

	lex := New(&counter{}, WithStrategy(LEX))
	add(lex)
	assert.Equal(t, []string{
		"0      recent: f-1,f-9",
		"0      first-recent: f-8,f-2",
		"0      late: f-3,f-4",
	}, drain(lex))

	mea := New(&counter{}, WithStrategy(MEA))
	add(mea)
	assert.Equal(t, []string{
		"0      first-recent: f-8,f-2",
		"0      late: f-3,f-4",
		"0      recent: f-1,f-9",
	}, drain(mea))
}

func TestLEXPrefersMoreFactsOnCommonPrefix(t *testing.T) {
	ag := New(&counter{}, WithStrategy(LEX))
	ag.Add(mainRule("two", 2), 0, []int64{5, 3}, "f-5,f-3", nil)
	ag.Add(mainRule("one", 1), 0, []int64{5}, "f-5", nil)
	assert.Equal(t, "0      two: f-5,f-3", ag.Peek().String())
}

func TestComplexityAndSimplicity(t *testing.T) {
	ag := New(&counter{}, WithStrategy(Complexity))
	ag.Add(mainRule("simple", 1), 0, []int64{1}, "f-1", nil)
	ag.Add(mainRule("complex", 3), 0, []int64{1, 2, 0}, "f-1,f-2,*", nil)
	assert.Equal(t, "complex", ag.Peek().Rule().(rule).name)

	ag.SetStrategy(Simplicity)
	assert.Equal(t, "simple", ag.Peek().Rule().(rule).name)
}

func TestRandomIsSeeded(t *testing.T) {
	order := func() []string {
		ag := New(&counter{}, WithStrategy(Random), WithSeed(42))
		for _, n := range []string{"a", "b", "c", "d", "e"} {
			ag.Add(mainRule(n, 1), 0, nil, "", nil)
		}
		return drain(ag)
	}
	assert.Equal(t, order(), order())
}

func TestRemoveAndSetSalience(t *testing.T) {
	ag := New(&counter{})
	a := ag.Add(mainRule("a", 1), 0, nil, "", nil)
	b := ag.Add(mainRule("b", 1), 0, nil, "", nil)
	require.Equal(t, 2, ag.Len())

	ag.SetSalience(a, 50)
	assert.Same(t, a, ag.Peek())

	assert.True(t, ag.Remove(a))
	assert.False(t, ag.Remove(a), "second removal is a no-op")
	assert.False(t, a.Listed())
	assert.Same(t, b, ag.Peek())
	assert.Equal(t, 1, ag.Len())
}

func TestRefreshRecomputesSalience(t *testing.T) {
	ag := New(&counter{})
	a := ag.Add(mainRule("a", 1), 0, nil, "", nil)
	ag.Add(mainRule("b", 1), 0, nil, "", nil)
	ag.Refresh(func(x *Activation) int {
		if x == a {
			return 100
		}
		return 0
	})
	assert.Same(t, a, ag.Peek())
}

func TestFocusStack(t *testing.T) {
	ag := New(&counter{})
	ag.Add(mainRule("m", 1), 0, nil, "", nil)
	ag.Add(rule{name: "x", module: "X", complexity: 1}, 0, nil, "", nil)

	assert.Nil(t, ag.Next(), "nothing fires without focus")

	ag.Focus(ir.MainModule)
	ag.Focus("X")
	ag.Focus("X")
	assert.Equal(t, []string{"X", ir.MainModule}, ag.FocusStack())

	a := ag.Next()
	require.NotNil(t, a)
	assert.Equal(t, "X", a.Rule().Module())
	a = ag.Next()
	require.NotNil(t, a)
	assert.Equal(t, ir.MainModule, a.Rule().Module())
	assert.Equal(t, []string{ir.MainModule}, ag.FocusStack())
	assert.Nil(t, ag.Next())
	assert.Empty(t, ag.FocusStack())
}

func TestAutoFocus(t *testing.T) {
	ag := New(&counter{})
	ag.Add(rule{name: "x", module: "X", complexity: 1, autoFocus: true}, 0, nil, "", nil)
	assert.Equal(t, "X", ag.CurrentFocus())
	assert.Equal(t, "X", ag.PopFocus())
	assert.Equal(t, "", ag.PopFocus())
}

func TestActivationsIteration(t *testing.T) {
	ag := New(&counter{})
	ag.Add(mainRule("a", 1), 0, nil, "", nil)
	ag.Add(rule{name: "x", module: "X", complexity: 1}, 0, nil, "", nil)
	ag.Add(mainRule("b", 1), 0, nil, "", nil)

	var names []string
	for a := range ag.Activations("") {
		names = append(names, a.Rule().Name())
	}
	assert.Equal(t, []string{"MAIN::b", "MAIN::a", "X::x"}, names)

	names = nil
	for a := range ag.Activations("X") {
		names = append(names, a.Rule().Name())
	}
	assert.Equal(t, []string{"X::x"}, names)

	ag.Clear()
	assert.Equal(t, 0, ag.Len())
	assert.Nil(t, ag.Peek())
}

func TestParseNames(t *testing.T) {
	s, err := ParseStrategy("MEA")
	require.NoError(t, err)
	assert.Equal(t, MEA, s)
	_, err = ParseStrategy("chaos")
	assert.ErrorIs(t, err, ir.ErrParsing)

	m, err := ParseSalienceMode("every-cycle")
	require.NoError(t, err)
	assert.Equal(t, EveryCycle, m)
	assert.Equal(t, "when-activated", WhenActivated.String())
}

// Whatever the insertion order, draining yields non-increasing salience
// and, within equal salience under breadth, increasing creation order.
func TestOrderingInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		strategy := Strategy(rapid.IntRange(0, int(Random)).Draw(rt, "strategy"))
		ag := New(&counter{}, WithStrategy(strategy))
		n := rapid.IntRange(0, 30).Draw(rt, "n")
		for i := 0; i < n; i++ {
			sal := rapid.IntRange(-3, 3).Draw(rt, "salience")
			tags := rapid.SliceOfN(rapid.Int64Range(0, 20), 0, 4).Draw(rt, "tags")
			ag.Add(mainRule("r", len(tags)), sal, tags, "", nil)
		}
		ag.Focus(ir.MainModule)
		var prev *Activation
		for a := ag.Next(); a != nil; a = ag.Next() {
			if prev != nil {
				if a.Salience() > prev.Salience() {
					rt.Fatalf("salience %d fired after %d", a.Salience(), prev.Salience())
				}
				if strategy == Breadth && a.Salience() == prev.Salience() && a.Seq() < prev.Seq() {
					rt.Fatalf("breadth fired seq %d after %d", a.Seq(), prev.Seq())
				}
			}
			prev = a
		}
		if ag.Len() != 0 {
			rt.Fatalf("agenda not drained: %d left", ag.Len())
		}
	})
}
