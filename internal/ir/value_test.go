package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolInterning(t *testing.T) {
	a := Sym("five")
	b := Sym("fi" + "ve")
	assert.Equal(t, a, b)
	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, String("five")), "symbol and string with same text differ")
	assert.Equal(t, "five", a.Text())
	assert.Equal(t, "", Symbol{}.Text())
}

func TestValueString(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"integer", Integer(-3), "-3"},
		{"float with fraction", Float(2.3), "2.3"},
		{"whole float keeps decimal point", Float(2), "2.0"},
		{"string is quoted", String(`say "hi"`), `"say \"hi\""`},
		{"symbol", Sym("five"), "five"},
		{"boolean", True, "TRUE"},
		{"instance name", Instance("joe"), "[joe]"},
		{"fact address", FactAddress{Index: 7}, "<Fact-7>"},
		{"multifield", Multi(Integer(1), Sym("a"), String("b")), `(1 a "b")`},
		{"empty multifield", Multi(), "()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.String())
		})
	}
}

func TestEqualIsKindSensitive(t *testing.T) {
	assert.False(t, Equal(Integer(1), Float(1)))
	assert.True(t, Equal(Multi(Integer(1), Multi(Sym("x"))), Multi(Integer(1), Multi(Sym("x")))))
	assert.False(t, Equal(Multi(Integer(1)), Multi(Integer(1), Integer(2))))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, Integer(0)))

	ext := NewExternalAddress(&struct{}{})
	assert.True(t, Equal(ext, ext))
	assert.False(t, Equal(ext, NewExternalAddress(&struct{}{})))
}

func TestCompare(t *testing.T) {
	c, err := Compare(Integer(3), Float(3.5))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(Integer(4), Integer(4))
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	c, err = Compare(Sym("b"), String("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	_, err = Compare(Integer(1), Sym("a"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTypeMismatch))
}

func TestParseAtom(t *testing.T) {
	tests := []struct {
		in   string
		want Value
	}{
		{"1", Integer(1)},
		{"-12", Integer(-12)},
		{"2.3", Float(2.3)},
		{"1e3", Float(1000)},
		{"1abc", Sym("1abc")},
		{".5", Float(0.5)},
		{`"4"`, String("4")},
		{`"a \"b\""`, String(`a "b"`)},
		{"five", Sym("five")},
		{"-", Sym("-")},
		{"TRUE", True},
		{"FALSE", False},
		{"[joe]", Instance("joe")},
		{"", String("")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseAtom(tt.in)
			assert.True(t, Equal(tt.want, got), "ParseAtom(%q) = %v (%s)", tt.in, got, got.Kind())
		})
	}
}

func TestKeyMatchesEqual(t *testing.T) {
	assert.NotEqual(t, Key(Sym("TRUE")), Key(True))
	assert.NotEqual(t, Key(String("1")), Key(Integer(1)))
	assert.NotEqual(t, Key(Multi(Sym("a"), Sym("b"))), Key(Multi(Sym("a b"))))
	assert.Equal(t, Key(Multi(Integer(1))), Key(Multi(Integer(1))))
	assert.NotEqual(t, KeyOf(Integer(1), Integer(2)), KeyOf(Integer(12)))
	assert.Equal(t, Key(Float(0)), Key(Float(math.Copysign(0, -1))))
	assert.True(t, Equal(Float(0), Float(math.Copysign(0, -1))))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(False))
	assert.True(t, Truthy(True))
	assert.True(t, Truthy(Nil))
	assert.True(t, Truthy(Integer(0)))
}

func TestFromGoToGo(t *testing.T) {
	v, err := FromGo([]any{1, 2.5, "x", true})
	require.NoError(t, err)
	assert.True(t, Equal(Multi(Integer(1), Float(2.5), String("x"), True), v))
	assert.Equal(t, []any{int64(1), 2.5, "x", true}, ToGo(v))

	_, err = FromGo(nil)
	assert.True(t, IsKind(err, KindTypeMismatch))

	type host struct{ n int }
	h := &host{n: 1}
	ext, err := FromGo(h)
	require.NoError(t, err)
	assert.Equal(t, KindExternalAddress, ext.Kind())
	assert.Same(t, h, ToGo(ext))
}

func TestTypeSet(t *testing.T) {
	num, err := ParseTypeName("NUMBER")
	require.NoError(t, err)
	assert.True(t, num.Allows(KindInteger))
	assert.True(t, num.Allows(KindFloat))
	assert.False(t, num.Allows(KindSymbol))
	assert.Equal(t, "INTEGER FLOAT", num.String())

	var unconstrained TypeSet
	assert.True(t, unconstrained.Allows(KindMultifield))
	assert.Equal(t, "?VARIABLE", unconstrained.String())

	_, err = ParseTypeName("WIDGET")
	assert.True(t, IsKind(err, KindParsing))
}
