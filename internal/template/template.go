package template

import (
	"github.com/roach88/prodsys/internal/ir"
)

// ImpliedSlot is the name of the single multislot of an implied template.
const ImpliedSlot = "implied"

// Slot is a validated slot of a template.
type Slot struct {
	spec   ir.SlotSpec
	index  int
	static ir.Value
}

// Name returns the slot name.
func (s *Slot) Name() string { return s.spec.Name }

// Index returns the slot position within the fact value vector.
func (s *Slot) Index() int { return s.index }

// Multi reports whether the slot is a multislot.
func (s *Slot) Multi() bool { return s.spec.Multi }

// Types returns the allowed value kinds; zero allows any.
func (s *Slot) Types() ir.TypeSet { return s.spec.Types }

// Range returns the numeric range, or nil.
func (s *Slot) Range() *ir.Range { return s.spec.Range }

// Cardinality returns the multislot length bounds, or nil.
func (s *Slot) Cardinality() *ir.Cardinality { return s.spec.Cardinality }

// Allowed returns the allowed values, or nil when unrestricted.
func (s *Slot) Allowed() []ir.Value { return s.spec.Allowed }

// DefaultMode returns the default policy.
func (s *Slot) DefaultMode() ir.DefaultMode { return s.spec.Default.Mode }

// Spec returns the slot descriptor.
func (s *Slot) Spec() ir.SlotSpec { return s.spec }

// Template is a registered deftemplate or implied template.
type Template struct {
	spec    ir.TemplateSpec
	name    string
	slots   []*Slot
	byName  map[string]*Slot
	implied bool
	watch   bool

	facts int
	rules int
}

// Name returns the qualified name, e.g. MAIN::person.
func (t *Template) Name() string { return t.name }

// Relation returns the unqualified name used in fact text.
func (t *Template) Relation() string { return t.spec.Name }

// Module returns the owning module name.
func (t *Template) Module() string { return t.spec.Module }

// Implied reports whether the template was created for ordered facts.
func (t *Template) Implied() bool { return t.implied }

// Spec returns the template descriptor.
func (t *Template) Spec() ir.TemplateSpec { return t.spec }

// Slots returns the slots in declaration order.
func (t *Template) Slots() []*Slot { return t.slots }

// Slot looks up a slot by name.
func (t *Template) Slot(name string) (*Slot, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// SlotNames returns slot names in order, or nil for implied templates.
func (t *Template) SlotNames() []string {
	if t.implied {
		return nil
	}
	out := make([]string, len(t.slots))
	for i, s := range t.slots {
		out[i] = s.spec.Name
	}
	return out
}

// Watched reports whether facts of this template are traced.
func (t *Template) Watched() bool { return t.watch }

// SetWatch toggles tracing of this template's facts.
func (t *Template) SetWatch(on bool) { t.watch = on }

// FactRefs returns the number of live facts of this template.
func (t *Template) FactRefs() int { return t.facts }

// RuleRefs returns the number of rules with patterns on this template.
func (t *Template) RuleRefs() int { return t.rules }

// RetainFact records a live fact of this template.
func (t *Template) RetainFact() { t.facts++ }

// ReleaseFact records the retraction of a fact of this template.
func (t *Template) ReleaseFact() {
	if t.facts > 0 {
		t.facts--
	}
}

// RetainRule records a rule pattern on this template.
func (t *Template) RetainRule() { t.rules++ }

// ReleaseRule records the removal of a rule pattern on this template.
func (t *Template) ReleaseRule() {
	if t.rules > 0 {
		t.rules--
	}
}

// String returns the pretty-printed deftemplate.
func (t *Template) String() string {
	if t.implied {
		return "(deftemplate " + t.name + ")"
	}
	return ir.FormatTemplate(t.spec)
}

// Format renders values of this template as fact text.
func (t *Template) Format(values []ir.Value) string {
	return ir.FormatFact(t.spec.Name, t.SlotNames(), values)
}
