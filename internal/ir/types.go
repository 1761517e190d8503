package ir

import (
	"strings"
)

// Construct kinds, used in error messages and module import/export lists.
const (
	ConstructTemplate = "deftemplate"
	ConstructRule     = "defrule"
	ConstructGlobal   = "defglobal"
	ConstructFacts    = "deffacts"
	ConstructModule   = "defmodule"
	ConstructFunction = "deffunction"
	ConstructAll      = "?ALL"
)

// MainModule is the module that always exists.
const MainModule = "MAIN"

// TypeSet is a bitmask of allowed kinds. The zero set allows every kind.
type TypeSet uint16

// Types builds a TypeSet from kinds.
func Types(kinds ...Kind) TypeSet {
	var s TypeSet
	for _, k := range kinds {
		s |= 1 << k
	}
	return s
}

// Allows reports whether values of kind k satisfy the set.
func (s TypeSet) Allows(k Kind) bool {
	return s == 0 || s&(1<<k) != 0
}

// Kinds lists the kinds in the set in declaration order.
func (s TypeSet) Kinds() []Kind {
	var out []Kind
	for k := KindInteger; k <= KindMultifield; k++ {
		if s&(1<<k) != 0 {
			out = append(out, k)
		}
	}
	return out
}

// String renders the set as space-separated type names, or ?VARIABLE.
func (s TypeSet) String() string {
	if s == 0 {
		return "?VARIABLE"
	}
	kinds := s.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, " ")
}

// ParseTypeName maps a type name to a TypeSet. NUMBER and LEXEME are unions
// and ?VARIABLE means unconstrained.
func ParseTypeName(name string) (TypeSet, error) {
	switch name {
	case "NUMBER":
		return Types(KindInteger, KindFloat), nil
	case "LEXEME":
		return Types(KindString, KindSymbol), nil
	case "?VARIABLE":
		return 0, nil
	}
	for k, n := range kindNames {
		if n == name {
			return Types(k), nil
		}
	}
	return 0, ParsingErrorf("unknown type %q", name)
}

// DefaultMode selects how an omitted slot value is supplied.
type DefaultMode uint8

const (
	// DefaultDerived derives a value from the slot's type constraints.
	DefaultDerived DefaultMode = iota
	// DefaultNone makes the slot required.
	DefaultNone
	// DefaultStatic evaluates the default once, at definition time.
	DefaultStatic
	// DefaultDynamic evaluates the default on every assertion.
	DefaultDynamic
)

// DefaultSpec holds a slot's default policy. For multislots the expression
// results are concatenated.
type DefaultSpec struct {
	Mode  DefaultMode
	Exprs []Expr
}

// Range bounds numeric slot values. A nil bound is open.
type Range struct {
	Min Value
	Max Value
}

// Cardinality bounds the length of a multislot. Max < 0 is unbounded.
type Cardinality struct {
	Min int
	Max int
}

// SlotSpec describes one slot of a template.
type SlotSpec struct {
	Name        string `validate:"required"`
	Multi       bool
	Types       TypeSet
	Allowed     []Value
	Range       *Range
	Cardinality *Cardinality
	Default     DefaultSpec
}

// TemplateSpec describes a deftemplate.
type TemplateSpec struct {
	Name    string `validate:"required"`
	Module  string
	Comment string
	Slots   []SlotSpec `validate:"dive"`
}

// Constraint restricts one field of a pattern. An empty Constraint is a
// wildcard. All parts must hold for the field to match.
type Constraint struct {
	// Var binds the field, or tests it against an earlier binding.
	Var string
	// Multi marks a segment field ($?) matching zero or more values.
	Multi bool
	// Literals lists alternatives; the field must equal one of them.
	Literals []Value
	// Excluded values the field must differ from.
	Excluded []Value
	// NotVars names bound variables the field must differ from.
	NotVars []string
	// Predicates must evaluate to a true value.
	Predicates []Expr
	// Equals expressions whose result the field must equal.
	Equals []Expr
}

// IsWildcard reports whether c places no restriction on the field.
func (c Constraint) IsWildcard() bool {
	return c.Var == "" && len(c.Literals) == 0 && len(c.Excluded) == 0 &&
		len(c.NotVars) == 0 && len(c.Predicates) == 0 && len(c.Equals) == 0
}

// SlotConstraint constrains a named slot. Single slots take exactly one
// field constraint, multislots a sequence.
type SlotConstraint struct {
	Slot   string `validate:"required"`
	Fields []Constraint
}

// Pattern matches facts of one template. Ordered facts use Fields,
// templated facts use Slots.
type Pattern struct {
	Template string `validate:"required"`
	Fields   []Constraint
	Slots    []SlotConstraint
}

// ConditionKind selects the role of a condition element.
type ConditionKind uint8

const (
	CondPattern ConditionKind = iota
	CondNot
	CondExists
	CondTest
)

// String names the condition kind.
func (k ConditionKind) String() string {
	switch k {
	case CondPattern:
		return "pattern"
	case CondNot:
		return "not"
	case CondExists:
		return "exists"
	case CondTest:
		return "test"
	}
	return "unknown"
}

// Condition is one element of a rule's left-hand side.
type Condition struct {
	Kind    ConditionKind
	Binding string
	Pattern Pattern
	Test    Expr
}

// RuleSpec describes a defrule.
type RuleSpec struct {
	Name       string `validate:"required"`
	Module     string
	Comment    string
	Salience   *Expr
	AutoFocus  bool
	Conditions []Condition
	Actions    []Expr
}

// SlotValue is one named slot value of an asserted fact.
type SlotValue struct {
	Name  string
	Value Value
}

// FactSpec describes a fact to assert. Ordered facts use Values,
// templated facts use Slots.
type FactSpec struct {
	Template string `validate:"required"`
	Values   []Value
	Slots    []SlotValue
}

// Ordered builds an ordered FactSpec.
func Ordered(relation string, vals ...Value) FactSpec {
	return FactSpec{Template: relation, Values: vals}
}

// Templated builds a templated FactSpec from name/value pairs.
func Templated(template string, slots ...SlotValue) FactSpec {
	return FactSpec{Template: template, Slots: slots}
}

// S is shorthand for a SlotValue.
func S(name string, v Value) SlotValue {
	return SlotValue{Name: name, Value: v}
}

// PortSpec is one import or export declaration of a module. Construct is
// a construct kind or ?ALL; empty Names means every construct of that kind.
type PortSpec struct {
	Module    string
	Construct string
	Names     []string
}

// ModuleSpec describes a defmodule.
type ModuleSpec struct {
	Name    string `validate:"required"`
	Comment string
	Imports []PortSpec
	Exports []PortSpec
}

// GlobalSpec describes one defglobal variable.
type GlobalSpec struct {
	Name   string `validate:"required"`
	Module string
	Value  Expr
}

// DeffactsSpec describes a deffacts construct. Each fact is an
// ExprFact expression evaluated on reset.
type DeffactsSpec struct {
	Name    string `validate:"required"`
	Module  string
	Comment string
	Facts   []Expr
}

// QualifiedName joins a module and a construct name.
func QualifiedName(module, name string) string {
	if module == "" {
		module = MainModule
	}
	return module + "::" + name
}

// SplitName separates an optional module qualifier from a name.
func SplitName(name string) (module, local string) {
	if i := strings.Index(name, "::"); i >= 0 {
		return name[:i], name[i+2:]
	}
	return "", name
}
