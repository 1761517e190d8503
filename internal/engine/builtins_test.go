package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/prodsys/internal/ir"
)

func call(name string, args ...ir.Expr) ir.Expr { return ir.Call(name, args...) }

func sym(s string) ir.Expr { return ir.Atom(s) }

func flt(f float64) ir.Expr { return ir.Const(ir.Float(f)) }

func TestBuiltinValues(t *testing.T) {
	tests := []struct {
		name string
		expr ir.Expr
		want ir.Value
	}{
		{"add ints", call("+", num(1), num(2), num(3)), ir.Integer(6)},
		{"add mixed", call("+", num(1), flt(0.5)), ir.Float(1.5)},
		{"unary minus", call("-", num(4)), ir.Integer(-4)},
		{"subtract", call("-", num(10), num(3), num(2)), ir.Integer(5)},
		{"divide is float", call("/", num(6), num(3)), ir.Float(2)},
		{"div", call("div", num(7), num(2)), ir.Integer(3)},
		{"mod", call("mod", num(7), num(3)), ir.Integer(1)},
		{"abs", call("abs", num(-3)), ir.Integer(3)},
		{"max", call("max", num(3), flt(7.5), num(1)), ir.Float(7.5)},
		{"round", call("round", flt(2.5)), ir.Integer(3)},
		{"chained less", call("<", num(1), num(2), num(3)), ir.True},
		{"chained less fails", call("<", num(1), num(3), num(2)), ir.False},
		{"numeric equality across kinds", call("=", num(2), flt(2)), ir.True},
		{"eq is kind sensitive", call("eq", num(2), flt(2)), ir.False},
		{"neq", call("neq", sym("a"), sym("b")), ir.True},
		{"not", call("not", sym("FALSE")), ir.True},
		{"and", call("and", sym("TRUE"), num(0)), ir.True},
		{"or", call("or", sym("FALSE"), sym("FALSE")), ir.False},
		{"integerp", call("integerp", num(1)), ir.True},
		{"lexemep", call("lexemep", str("x")), ir.True},
		{"str-cat", call("str-cat", str("a"), sym("b"), num(1)), ir.String("ab1")},
		{"sym-cat", call("sym-cat", str("a"), num(2)), ir.Sym("a2")},
		{"str-length", call("str-length", str("héllo")), ir.Integer(5)},
		{"upcase keeps type", call("upcase", sym("abc")), ir.Sym("ABC")},
		{"lowcase", call("lowcase", str("ABC")), ir.String("abc")},
		{"sub-string", call("sub-string", num(2), num(4), str("abcdef")), ir.String("bcd")},
		{"str-index", call("str-index", str("cd"), str("abcdef")), ir.Integer(3)},
		{"str-index missing", call("str-index", str("z"), str("abc")), ir.False},
		{"string-to-field", call("string-to-field", str("42 rest")), ir.Integer(42)},
		{"create$ flattens", call("create$", num(1), call("create$", num(2), num(3))), ir.Multi(ir.Integer(1), ir.Integer(2), ir.Integer(3))},
		{"length$", call("length$", call("create$", sym("a"), sym("b"))), ir.Integer(2)},
		{"nth$", call("nth$", num(2), call("create$", sym("a"), sym("b"))), ir.Sym("b")},
		{"nth$ out of range", call("nth$", num(9), call("create$", sym("a"))), ir.Nil},
		{"member$", call("member$", sym("b"), call("create$", sym("a"), sym("b"))), ir.Integer(2)},
		{"rest$", call("rest$", call("create$", num(1), num(2))), ir.Multi(ir.Integer(2))},
		{"implode$", call("implode$", call("create$", sym("a"), str("b"))), ir.String(`a "b"`)},
		{"if then", call("if", sym("TRUE"), sym("then"), num(1), sym("else"), num(2)), ir.Integer(1)},
		{"if else", call("if", sym("FALSE"), sym("then"), num(1), sym("else"), num(2)), ir.Integer(2)},
		{"progn", call("progn", num(1), num(2)), ir.Integer(2)},
	}
	h := newHarness(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.env.Eval(tt.expr)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got, cmp.Comparer(ir.Equal)); diff != "" {
				t.Errorf("%s mismatch (-want +got):\n%s", tt.expr, diff)
			}
		})
	}
}

func TestBuiltinErrors(t *testing.T) {
	tests := []struct {
		name string
		expr ir.Expr
		kind ir.ErrorKind
	}{
		{"divide by zero", call("/", num(1), num(0)), ir.KindProcessing},
		{"add a string", call("+", num(1), str("x")), ir.KindTypeMismatch},
		{"too few arguments", call("mod", num(1)), ir.KindProcessing},
		{"unknown function", call("no-such-fn"), ir.KindNotFound},
		{"unbound variable", ir.Var("x"), ir.KindProcessing},
		{"length$ of a symbol", call("length$", sym("a")), ir.KindTypeMismatch},
		{"fact-index of a missing fact", call("fact-index", num(99)), ir.KindNotFound},
	}
	h := newHarness(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.env.Eval(tt.expr)
			require.Error(t, err)
			assert.True(t, ir.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestAdditionMatchesGo(t *testing.T) {
	h := newHarness(t)
	rapid.Check(t, func(rt *rapid.T) {
		xs := rapid.SliceOfN(rapid.Int64Range(-1e9, 1e9), 1, 8).Draw(rt, "xs")
		args := make([]ir.Expr, len(xs))
		var sum int64
		for i, x := range xs {
			args[i] = num(x)
			sum += x
		}
		got, err := h.env.Eval(call("+", args...))
		require.NoError(rt, err)
		assert.Equal(rt, ir.Integer(sum), got)
	})
}

func TestControlForms(t *testing.T) {
	h := newHarness(t)
	h.rule(t, ir.RuleSpec{
		Name: "loop",
		Actions: []ir.Expr{
			call("bind", ir.Var("i"), num(0)),
			call("while", call("<", ir.Var("i"), num(5)), sym("do"),
				call("bind", ir.Var("i"), call("+", ir.Var("i"), num(1))),
				call("if", call("=", ir.Var("i"), num(4)), sym("then"), call("break")),
				printoutExpr(ir.Var("i"), str(" ")),
			),
			call("foreach", ir.Var("x"), call("create$", sym("a"), sym("b")), sym("do"),
				printoutExpr(ir.Var("x-index"), str(":"), ir.Var("x"), str(" ")),
			),
			printoutExpr(crlf),
		},
	})
	_, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, "1 2 3 1:a 2:b \n", h.stdout())
}

func TestAssertFromActionReturnsFalseOnDuplicate(t *testing.T) {
	h := newHarness(t)
	h.assert(t, ir.Ordered("seen", ir.Integer(1)))
	h.rule(t, ir.RuleSpec{
		Name: "again",
		Actions: []ir.Expr{
			printoutExpr(ir.Assert(ir.FactOf("seen", num(1))), crlf),
			printoutExpr(ir.Assert(ir.FactOf("seen", num(2))), crlf),
		},
	})
	n, err := h.env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "FALSE\n<Fact-2>\n", h.stdout())
}

func TestFactFunctions(t *testing.T) {
	h := newHarness(t)
	h.person(t)
	f := h.assert(t, ir.Templated("person", ir.S("name", ir.String("Ann")), ir.S("age", ir.Integer(30))))
	addr := ir.Const(f.Address())

	got, err := h.env.Eval(call("fact-slot-value", addr, sym("age")))
	require.NoError(t, err)
	assert.Equal(t, ir.Integer(30), got)

	got, err = h.env.Eval(call("fact-relation", addr))
	require.NoError(t, err)
	assert.Equal(t, ir.Sym("person"), got)

	got, err = h.env.Eval(call("fact-slot-names", addr))
	require.NoError(t, err)
	assert.Equal(t, ir.Multi(ir.Sym("name"), ir.Sym("age")), got)

	_, err = h.env.Eval(call("retract", num(f.Index())))
	require.NoError(t, err)
	got, err = h.env.Eval(call("fact-existp", addr))
	require.NoError(t, err)
	assert.Equal(t, ir.False, got)
}

func TestGensymAndRandomAreDeterministic(t *testing.T) {
	run := func() []ir.Value {
		h := newHarness(t, WithRandomSeed(7))
		var out []ir.Value
		for _, x := range []ir.Expr{call("gensym"), call("gensym"), call("random", num(1), num(100)), call("random", num(1), num(100))} {
			v, err := h.env.Eval(x)
			require.NoError(t, err)
			out = append(out, v)
		}
		return out
	}
	a, b := run(), run()
	assert.Equal(t, a, b)
	assert.Equal(t, ir.Sym("gen1"), a[0])
	assert.Equal(t, ir.Sym("gen2"), a[1])
}
