package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unique"
)

// Kind identifies the variant carried by a Value.
type Kind uint8

const (
	KindInteger Kind = iota + 1
	KindFloat
	KindString
	KindSymbol
	KindBoolean
	KindExternalAddress
	KindFactAddress
	KindInstanceName
	KindMultifield
)

var kindNames = map[Kind]string{
	KindInteger:         "INTEGER",
	KindFloat:           "FLOAT",
	KindString:          "STRING",
	KindSymbol:          "SYMBOL",
	KindBoolean:         "BOOLEAN",
	KindExternalAddress: "EXTERNAL-ADDRESS",
	KindFactAddress:     "FACT-ADDRESS",
	KindInstanceName:    "INSTANCE-NAME",
	KindMultifield:      "MULTIFIELD",
}

// String returns the type name used in slot type constraints.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("KIND(%d)", uint8(k))
}

// Value is a sealed interface over the engine's tagged union.
// Only the types declared in this file implement it.
type Value interface {
	Kind() Kind
	String() string
	value()
}

// Integer is a 64-bit signed integer value.
type Integer int64

// Float is a 64-bit floating point value.
type Float float64

// String is a text value. It renders quoted.
type String string

// Boolean is TRUE or FALSE.
type Boolean bool

// Symbol is an interned identifier. Two symbols with the same text share
// one handle, so equality is a pointer comparison.
type Symbol struct {
	h unique.Handle[string]
}

// InstanceName is an interned instance name, rendered in brackets.
type InstanceName struct {
	h unique.Handle[string]
}

// ExternalAddress wraps an opaque host value. Equality is identity of the
// wrapper created by NewExternalAddress.
type ExternalAddress struct {
	box *externalBox
}

type externalBox struct {
	v any
}

// FactAddress refers to a fact by its index.
type FactAddress struct {
	Index int64
}

// Multifield is an ordered sequence of values.
type Multifield []Value

func (Integer) value()         {}
func (Float) value()           {}
func (String) value()          {}
func (Boolean) value()         {}
func (Symbol) value()          {}
func (InstanceName) value()    {}
func (ExternalAddress) value() {}
func (FactAddress) value()     {}
func (Multifield) value()      {}

func (Integer) Kind() Kind         { return KindInteger }
func (Float) Kind() Kind           { return KindFloat }
func (String) Kind() Kind          { return KindString }
func (Boolean) Kind() Kind         { return KindBoolean }
func (Symbol) Kind() Kind          { return KindSymbol }
func (InstanceName) Kind() Kind    { return KindInstanceName }
func (ExternalAddress) Kind() Kind { return KindExternalAddress }
func (FactAddress) Kind() Kind     { return KindFactAddress }
func (Multifield) Kind() Kind      { return KindMultifield }

// Common symbols.
var (
	Nil   = Sym("nil")
	True  = Boolean(true)
	False = Boolean(false)
)

// Sym interns text as a Symbol.
func Sym(text string) Symbol {
	return Symbol{h: unique.Make(text)}
}

// Instance interns text as an InstanceName.
func Instance(text string) InstanceName {
	return InstanceName{h: unique.Make(text)}
}

// NewExternalAddress wraps a host value.
func NewExternalAddress(v any) ExternalAddress {
	return ExternalAddress{box: &externalBox{v: v}}
}

// Multi builds a Multifield from values.
func Multi(vals ...Value) Multifield {
	if vals == nil {
		return Multifield{}
	}
	return Multifield(vals)
}

// Text returns the symbol name.
func (s Symbol) Text() string {
	if s.h == (unique.Handle[string]{}) {
		return ""
	}
	return s.h.Value()
}

// Text returns the instance name without brackets.
func (n InstanceName) Text() string {
	if n.h == (unique.Handle[string]{}) {
		return ""
	}
	return n.h.Value()
}

// Target returns the wrapped host value.
func (a ExternalAddress) Target() any {
	if a.box == nil {
		return nil
	}
	return a.box.v
}

func (v Integer) String() string { return strconv.FormatInt(int64(v), 10) }

func (v Float) String() string {
	f := float64(v)
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func (v String) String() string { return Quote(string(v)) }

func (v Boolean) String() string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (s Symbol) String() string       { return s.Text() }
func (n InstanceName) String() string { return "[" + n.Text() + "]" }

func (a ExternalAddress) String() string {
	return fmt.Sprintf("<Pointer-%p>", a.box)
}

func (a FactAddress) String() string {
	return "<Fact-" + strconv.FormatInt(a.Index, 10) + ">"
}

// String renders the multifield in parentheses, e.g. (1 2 three).
func (m Multifield) String() string {
	return "(" + m.Inner() + ")"
}

// Inner renders the elements separated by spaces without parentheses,
// the form used inside fact and slot text.
func (m Multifield) Inner() string {
	var b strings.Builder
	for i, v := range m {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(v.String())
	}
	return b.String()
}

// Quote renders text as a quoted string literal, escaping quotes and backslashes.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// Equal reports deep, kind-sensitive equality. Integer 1 and Float 1.0
// are different values.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	if am, ok := a.(Multifield); ok {
		bm := b.(Multifield)
		if len(am) != len(bm) {
			return false
		}
		for i := range am {
			if !Equal(am[i], bm[i]) {
				return false
			}
		}
		return true
	}
	return a == b
}

// EqualSlices reports element-wise equality.
func EqualSlices(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// IsNumber reports whether v is an Integer or a Float.
func IsNumber(v Value) bool {
	switch v.(type) {
	case Integer, Float:
		return true
	}
	return false
}

// IsLexeme reports whether v is a String or a Symbol.
func IsLexeme(v Value) bool {
	switch v.(type) {
	case String, Symbol:
		return true
	}
	return false
}

// Number returns the numeric value of an Integer or Float.
func Number(v Value) (float64, bool) {
	switch n := v.(type) {
	case Integer:
		return float64(n), true
	case Float:
		return float64(n), true
	}
	return 0, false
}

// Lexeme returns the text of a String, Symbol or InstanceName.
func Lexeme(v Value) (string, bool) {
	switch s := v.(type) {
	case String:
		return string(s), true
	case Symbol:
		return s.Text(), true
	case InstanceName:
		return s.Text(), true
	}
	return "", false
}

// Compare orders two numbers numerically or two lexemes by text.
// Any other combination is a type mismatch.
func Compare(a, b Value) (int, error) {
	ai, aInt := a.(Integer)
	bi, bInt := b.(Integer)
	if aInt && bInt {
		switch {
		case ai < bi:
			return -1, nil
		case ai > bi:
			return 1, nil
		}
		return 0, nil
	}
	if af, ok := Number(a); ok {
		bf, ok := Number(b)
		if !ok {
			return 0, TypeMismatchf("cannot compare %s with %s", a.Kind(), b.Kind())
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		}
		return 0, nil
	}
	as, ok := Lexeme(a)
	if !ok {
		return 0, TypeMismatchf("cannot compare %s values", a.Kind())
	}
	bs, ok := Lexeme(b)
	if !ok {
		return 0, TypeMismatchf("cannot compare %s with %s", a.Kind(), b.Kind())
	}
	return strings.Compare(as, bs), nil
}

// Truthy reports whether v counts as true in a condition. Only FALSE is false.
func Truthy(v Value) bool {
	if b, ok := v.(Boolean); ok {
		return bool(b)
	}
	return v != nil
}

// Key returns a string that is equal for two values whenever Equal holds
// for them. The converse fails only for NaN, which never equals itself.
// Used to index join memories and share alpha tests.
func Key(v Value) string {
	var b strings.Builder
	writeKey(&b, v)
	return b.String()
}

// KeyOf joins the keys of several values.
func KeyOf(vals ...Value) string {
	var b strings.Builder
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(0x1e)
		}
		writeKey(&b, v)
	}
	return b.String()
}

func writeKey(b *strings.Builder, v Value) {
	if v == nil {
		b.WriteByte(0)
		return
	}
	b.WriteByte(byte(v.Kind()))
	if m, ok := v.(Multifield); ok {
		b.WriteByte('(')
		for _, e := range m {
			writeKey(b, e)
			b.WriteByte(0x1f)
		}
		b.WriteByte(')')
		return
	}
	// -0.0 equals 0.0, so both hash alike. NaN keys still collide with
	// each other; joins re-check with Equal.
	if f, ok := v.(Float); ok && f == 0 {
		v = Float(0)
	}
	b.WriteString(v.String())
}

// ParseAtom lexes a single atom from its textual form: integers, floats,
// quoted strings, [instance-names], TRUE/FALSE, otherwise a symbol.
func ParseAtom(text string) Value {
	if text == "" {
		return String("")
	}
	if n := len(text); n >= 2 && text[0] == '"' && text[n-1] == '"' {
		return String(unquote(text[1 : n-1]))
	}
	if n := len(text); n >= 2 && text[0] == '[' && text[n-1] == ']' {
		return Instance(text[1 : n-1])
	}
	switch text {
	case "TRUE":
		return True
	case "FALSE":
		return False
	}
	if looksNumeric(text) {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Integer(i)
		}
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return Float(f)
		}
	}
	return Sym(text)
}

func looksNumeric(text string) bool {
	c := text[0]
	if c == '+' || c == '-' {
		if len(text) == 1 {
			return false
		}
		c = text[1]
	}
	return (c >= '0' && c <= '9') || c == '.'
}

func unquote(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

// FromGo converts a native Go value into a Value.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, TypeMismatchf("nil has no value representation")
	case Value:
		return val, nil
	case int:
		return Integer(val), nil
	case int8:
		return Integer(val), nil
	case int16:
		return Integer(val), nil
	case int32:
		return Integer(val), nil
	case int64:
		return Integer(val), nil
	case uint8:
		return Integer(val), nil
	case uint16:
		return Integer(val), nil
	case uint32:
		return Integer(val), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, TypeMismatchf("integer %d overflows", val)
		}
		return Integer(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, TypeMismatchf("integer %d overflows", val)
		}
		return Integer(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case string:
		return String(val), nil
	case bool:
		return Boolean(val), nil
	case []Value:
		return Multi(val...), nil
	case []string:
		m := make(Multifield, len(val))
		for i, s := range val {
			m[i] = String(s)
		}
		return m, nil
	case []any:
		m := make(Multifield, len(val))
		for i, elem := range val {
			ev, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			m[i] = ev
		}
		return m, nil
	default:
		return NewExternalAddress(v), nil
	}
}

// ToGo converts a Value into its natural Go representation.
func ToGo(v Value) any {
	switch val := v.(type) {
	case Integer:
		return int64(val)
	case Float:
		return float64(val)
	case String:
		return string(val)
	case Symbol:
		return val.Text()
	case InstanceName:
		return val.Text()
	case Boolean:
		return bool(val)
	case ExternalAddress:
		return val.Target()
	case FactAddress:
		return val.Index
	case Multifield:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = ToGo(e)
		}
		return out
	}
	return nil
}
