package ir

import (
	"strings"
)

// ExprKind selects the form of an Expr.
type ExprKind uint8

const (
	// ExprConst is a literal value.
	ExprConst ExprKind = iota
	// ExprVar references a single-field variable (?x).
	ExprVar
	// ExprMultiVar references a multifield variable ($?x), spliced into calls.
	ExprMultiVar
	// ExprGlobal references a defglobal (?*x*).
	ExprGlobal
	// ExprCall applies a function to arguments.
	ExprCall
	// ExprFact is a fact literal used by assert and deffacts.
	ExprFact
)

// Expr is an expression tree evaluated by the engine.
//
// For ExprCall, Name is the function and Args the arguments; Slots carries
// slot updates for modify and duplicate. For ExprFact, Name is the template
// and either Args (ordered fields) or Slots (templated fields) is set.
type Expr struct {
	Kind  ExprKind
	Value Value
	Name  string
	Args  []Expr
	Slots []SlotExpr
}

// SlotExpr assigns expressions to a named slot.
type SlotExpr struct {
	Name   string
	Values []Expr
}

// Const wraps a value.
func Const(v Value) Expr {
	return Expr{Kind: ExprConst, Value: v}
}

// Atom wraps ParseAtom(text).
func Atom(text string) Expr {
	return Const(ParseAtom(text))
}

// Var references ?name.
func Var(name string) Expr {
	return Expr{Kind: ExprVar, Name: name}
}

// MultiVar references $?name.
func MultiVar(name string) Expr {
	return Expr{Kind: ExprMultiVar, Name: name}
}

// GlobalRef references ?*name*.
func GlobalRef(name string) Expr {
	return Expr{Kind: ExprGlobal, Name: name}
}

// Call applies function name to args.
func Call(name string, args ...Expr) Expr {
	return Expr{Kind: ExprCall, Name: name, Args: args}
}

// Group is an unnamed parenthesized list, such as the fact-set template
// list ((?f person) (?g job)) of the fact query functions. Groups are data
// for the function that receives them; they cannot be evaluated.
func Group(items ...Expr) Expr {
	return Expr{Kind: ExprCall, Args: items}
}

// IsGroup reports whether e was built by Group.
func (e Expr) IsGroup() bool {
	return e.Kind == ExprCall && e.Name == ""
}

// FactOf builds an ordered fact literal.
func FactOf(relation string, fields ...Expr) Expr {
	return Expr{Kind: ExprFact, Name: relation, Args: fields}
}

// TemplateFactOf builds a templated fact literal.
func TemplateFactOf(template string, slots ...SlotExpr) Expr {
	return Expr{Kind: ExprFact, Name: template, Slots: slots}
}

// SlotOf builds a SlotExpr.
func SlotOf(name string, vals ...Expr) SlotExpr {
	return SlotExpr{Name: name, Values: vals}
}

// Assert builds (assert fact...).
func Assert(facts ...Expr) Expr {
	return Call("assert", facts...)
}

// Modify builds (modify ?var (slot v)...).
func Modify(variable string, slots ...SlotExpr) Expr {
	return Expr{Kind: ExprCall, Name: "modify", Args: []Expr{Var(variable)}, Slots: slots}
}

// String renders the expression in construct syntax.
func (e Expr) String() string {
	var b strings.Builder
	e.write(&b)
	return b.String()
}

func (e Expr) write(b *strings.Builder) {
	switch e.Kind {
	case ExprConst:
		if e.Value == nil {
			b.WriteString("nil")
			return
		}
		if m, ok := e.Value.(Multifield); ok {
			b.WriteString(m.Inner())
			return
		}
		b.WriteString(e.Value.String())
	case ExprVar:
		b.WriteString("?" + e.Name)
	case ExprMultiVar:
		b.WriteString("$?" + e.Name)
	case ExprGlobal:
		b.WriteString("?*" + e.Name + "*")
	case ExprCall, ExprFact:
		b.WriteByte('(')
		b.WriteString(e.Name)
		for i, a := range e.Args {
			if i > 0 || e.Name != "" {
				b.WriteByte(' ')
			}
			a.write(b)
		}
		for _, s := range e.Slots {
			b.WriteString(" (")
			b.WriteString(s.Name)
			for _, v := range s.Values {
				b.WriteByte(' ')
				v.write(b)
			}
			b.WriteByte(')')
		}
		b.WriteByte(')')
	}
}

// Variables lists the variable names referenced by e, in first-use order.
func (e Expr) Variables() []string {
	var out []string
	seen := map[string]bool{}
	e.walk(func(x Expr) {
		if (x.Kind == ExprVar || x.Kind == ExprMultiVar) && !seen[x.Name] {
			seen[x.Name] = true
			out = append(out, x.Name)
		}
	})
	return out
}

// Calls lists every function name called in e, outermost first.
func (e Expr) Calls() []string {
	var out []string
	e.walk(func(x Expr) {
		if x.Kind == ExprCall && !x.IsGroup() {
			out = append(out, x.Name)
		}
	})
	return out
}

// Facts lists every fact literal in e.
func (e Expr) Facts() []Expr {
	var out []Expr
	e.walk(func(x Expr) {
		if x.Kind == ExprFact {
			out = append(out, x)
		}
	})
	return out
}

func (e Expr) walk(fn func(Expr)) {
	fn(e)
	for _, a := range e.Args {
		a.walk(fn)
	}
	for _, s := range e.Slots {
		for _, v := range s.Values {
			v.walk(fn)
		}
	}
}

// String renders the constraint in pattern syntax, e.g. ?x&~red&:(> ?x 3).
func (c Constraint) String() string {
	var parts []string
	prefix := "?"
	if c.Multi {
		prefix = "$?"
	}
	if c.Var != "" {
		parts = append(parts, prefix+c.Var)
	}
	if len(c.Literals) > 0 {
		lits := make([]string, len(c.Literals))
		for i, v := range c.Literals {
			lits[i] = v.String()
		}
		parts = append(parts, strings.Join(lits, "|"))
	}
	for _, v := range c.Excluded {
		parts = append(parts, "~"+v.String())
	}
	for _, n := range c.NotVars {
		parts = append(parts, "~?"+n)
	}
	for _, p := range c.Predicates {
		parts = append(parts, ":"+p.String())
	}
	for _, q := range c.Equals {
		parts = append(parts, "="+q.String())
	}
	if len(parts) == 0 {
		return prefix
	}
	if c.Var == "" && c.Multi {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "&")
}

// String renders the pattern, e.g. (person (name ?n) (age ?a&:(< ?a 18))).
func (p Pattern) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(p.Template)
	for _, f := range p.Fields {
		b.WriteByte(' ')
		b.WriteString(f.String())
	}
	for _, s := range p.Slots {
		b.WriteString(" (")
		b.WriteString(s.Slot)
		for _, f := range s.Fields {
			b.WriteByte(' ')
			b.WriteString(f.String())
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String()
}

// String renders the condition element.
func (c Condition) String() string {
	switch c.Kind {
	case CondNot:
		return "(not " + c.Pattern.String() + ")"
	case CondExists:
		return "(exists " + c.Pattern.String() + ")"
	case CondTest:
		return "(test " + c.Test.String() + ")"
	}
	if c.Binding != "" {
		return "?" + c.Binding + " <- " + c.Pattern.String()
	}
	return c.Pattern.String()
}
