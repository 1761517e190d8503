package facts

import (
	"strconv"

	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/template"
)

// Fact is an element of working memory.
//
// Values holds positional fields for ordered facts and slot values in
// template order for templated facts. Callers must not modify it.
type Fact struct {
	index     int64
	timetag   int64
	tpl       *template.Template
	values    []ir.Value
	key       string
	retracted bool
}

// Index returns the fact index; f-<index> in fact listings.
func (f *Fact) Index() int64 { return f.index }

// Timetag returns the recency stamp, refreshed by modify.
func (f *Fact) Timetag() int64 { return f.timetag }

// Template returns the fact's template.
func (f *Fact) Template() *template.Template { return f.tpl }

// Values returns the fact's value vector.
func (f *Fact) Values() []ir.Value { return f.values }

// Retracted reports whether the fact has left working memory.
func (f *Fact) Retracted() bool { return f.retracted }

// Ordered reports whether the fact is an ordered (implied template) fact.
func (f *Fact) Ordered() bool { return f.tpl.Implied() }

// Address returns a FactAddress value referring to the fact.
func (f *Fact) Address() ir.FactAddress { return ir.FactAddress{Index: f.index} }

// ID returns the fact identifier, e.g. f-3.
func (f *Fact) ID() string { return "f-" + strconv.FormatInt(f.index, 10) }

// Slot returns a slot value. For ordered facts the implied slot yields
// every field as a multifield.
func (f *Fact) Slot(name string) (ir.Value, error) {
	if f.tpl.Implied() {
		if name == template.ImpliedSlot {
			return ir.Multi(f.values...), nil
		}
		return nil, ir.Errorf(ir.KindSlotMismatch, "ordered fact %s has no slot %s", f.ID(), name)
	}
	s, ok := f.tpl.Slot(name)
	if !ok {
		return nil, ir.Errorf(ir.KindSlotMismatch, "template %s has no slot %s", f.tpl.Name(), name)
	}
	return f.values[s.Index()], nil
}

// String renders the fact in fact syntax, e.g. (person (name "Ann") (age 12)).
func (f *Fact) String() string {
	return f.tpl.Format(f.values)
}
