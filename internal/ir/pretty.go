package ir

import (
	"strconv"
	"strings"
)

const ppIndent = "   "

// FormatTemplate renders a deftemplate in construct syntax.
func FormatTemplate(t TemplateSpec) string {
	var b strings.Builder
	b.WriteString("(deftemplate ")
	b.WriteString(QualifiedName(t.Module, t.Name))
	writeComment(&b, t.Comment)
	for _, s := range t.Slots {
		b.WriteString("\n" + ppIndent)
		b.WriteString(FormatSlot(s))
	}
	b.WriteByte(')')
	return b.String()
}

// FormatSlot renders one slot declaration with its attributes.
func FormatSlot(s SlotSpec) string {
	var b strings.Builder
	if s.Multi {
		b.WriteString("(multislot ")
	} else {
		b.WriteString("(slot ")
	}
	b.WriteString(s.Name)
	if s.Types != 0 {
		b.WriteString(" (type " + s.Types.String() + ")")
	}
	if len(s.Allowed) > 0 {
		b.WriteString(" (allowed-values")
		for _, v := range s.Allowed {
			b.WriteString(" " + v.String())
		}
		b.WriteByte(')')
	}
	if s.Range != nil {
		b.WriteString(" (range " + boundText(s.Range.Min) + " " + boundText(s.Range.Max) + ")")
	}
	if s.Cardinality != nil {
		max := "?VARIABLE"
		if s.Cardinality.Max >= 0 {
			max = strconv.Itoa(s.Cardinality.Max)
		}
		b.WriteString(" (cardinality " + strconv.Itoa(s.Cardinality.Min) + " " + max + ")")
	}
	switch s.Default.Mode {
	case DefaultNone:
		b.WriteString(" (default ?NONE)")
	case DefaultStatic:
		b.WriteString(" (default" + exprList(s.Default.Exprs) + ")")
	case DefaultDynamic:
		b.WriteString(" (default-dynamic" + exprList(s.Default.Exprs) + ")")
	}
	b.WriteByte(')')
	return b.String()
}

func boundText(v Value) string {
	if v == nil {
		return "?VARIABLE"
	}
	return v.String()
}

func exprList(exprs []Expr) string {
	var b strings.Builder
	for _, e := range exprs {
		b.WriteByte(' ')
		b.WriteString(e.String())
	}
	return b.String()
}

func writeComment(b *strings.Builder, comment string) {
	if comment == "" {
		return
	}
	b.WriteString("\n" + ppIndent)
	b.WriteString(Quote(comment))
}

// FormatRule renders a defrule in construct syntax.
func FormatRule(r RuleSpec) string {
	var b strings.Builder
	b.WriteString("(defrule ")
	b.WriteString(QualifiedName(r.Module, r.Name))
	writeComment(&b, r.Comment)
	if r.Salience != nil || r.AutoFocus {
		b.WriteString("\n" + ppIndent + "(declare")
		if r.Salience != nil {
			b.WriteString(" (salience " + r.Salience.String() + ")")
		}
		if r.AutoFocus {
			b.WriteString(" (auto-focus TRUE)")
		}
		b.WriteByte(')')
	}
	for _, c := range r.Conditions {
		b.WriteString("\n" + ppIndent)
		b.WriteString(c.String())
	}
	b.WriteString("\n" + ppIndent + "=>")
	for _, a := range r.Actions {
		b.WriteString("\n" + ppIndent)
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

// FormatGlobal renders a defglobal.
func FormatGlobal(g GlobalSpec) string {
	module := g.Module
	if module == "" {
		module = MainModule
	}
	return "(defglobal " + module + " ?*" + g.Name + "* = " + g.Value.String() + ")"
}

// FormatDeffacts renders a deffacts construct.
func FormatDeffacts(d DeffactsSpec) string {
	var b strings.Builder
	b.WriteString("(deffacts ")
	b.WriteString(QualifiedName(d.Module, d.Name))
	writeComment(&b, d.Comment)
	for _, f := range d.Facts {
		b.WriteString("\n" + ppIndent)
		b.WriteString(f.String())
	}
	b.WriteByte(')')
	return b.String()
}

// FormatModule renders a defmodule.
func FormatModule(m ModuleSpec) string {
	var b strings.Builder
	b.WriteString("(defmodule ")
	b.WriteString(m.Name)
	writeComment(&b, m.Comment)
	for _, e := range m.Exports {
		b.WriteString("\n" + ppIndent + "(export " + formatPort(e) + ")")
	}
	for _, i := range m.Imports {
		b.WriteString("\n" + ppIndent + "(import " + i.Module + " " + formatPort(i) + ")")
	}
	b.WriteByte(')')
	return b.String()
}

func formatPort(p PortSpec) string {
	if p.Construct == "" || p.Construct == ConstructAll {
		return ConstructAll
	}
	if len(p.Names) == 0 {
		return p.Construct + " " + ConstructAll
	}
	return p.Construct + " " + strings.Join(p.Names, " ")
}

// FormatFact renders fact values in fact syntax. Ordered facts pass nil
// slot names.
func FormatFact(relation string, slots []string, values []Value) string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(relation)
	if slots == nil {
		for _, v := range values {
			b.WriteByte(' ')
			if m, ok := v.(Multifield); ok {
				b.WriteString(m.Inner())
				continue
			}
			b.WriteString(v.String())
		}
		b.WriteByte(')')
		return b.String()
	}
	for i, name := range slots {
		b.WriteString(" (")
		b.WriteString(name)
		v := values[i]
		if m, ok := v.(Multifield); ok {
			if len(m) > 0 {
				b.WriteByte(' ')
				b.WriteString(m.Inner())
			}
		} else {
			b.WriteByte(' ')
			b.WriteString(v.String())
		}
		b.WriteByte(')')
	}
	b.WriteByte(')')
	return b.String()
}
