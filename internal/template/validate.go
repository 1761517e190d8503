package template

import (
	"github.com/roach88/prodsys/internal/ir"
)

// check validates one slot value against the slot's constraints. Multislot
// values are checked element by element and against the cardinality.
func (s *Slot) check(v ir.Value) error {
	if m, ok := v.(ir.Multifield); ok {
		if !s.spec.Multi {
			if len(m) != 1 {
				return ir.Errorf(ir.KindCardinality, "slot %s holds a single value, got %d", s.spec.Name, len(m))
			}
			return s.checkField(m[0])
		}
		if c := s.spec.Cardinality; c != nil {
			if len(m) < c.Min || (c.Max >= 0 && len(m) > c.Max) {
				return ir.Errorf(ir.KindCardinality, "slot %s: %d values outside cardinality %d..%s",
					s.spec.Name, len(m), c.Min, maxText(c.Max))
			}
		}
		for _, e := range m {
			if err := s.checkField(e); err != nil {
				return err
			}
		}
		return nil
	}
	if s.spec.Multi {
		return s.check(ir.Multi(v))
	}
	return s.checkField(v)
}

func maxText(max int) string {
	if max < 0 {
		return "?VARIABLE"
	}
	return ir.Integer(max).String()
}

func (s *Slot) checkField(v ir.Value) error {
	if v == nil {
		return ir.TypeMismatchf("slot %s: missing value", s.spec.Name)
	}
	if _, ok := v.(ir.Multifield); ok {
		return ir.Errorf(ir.KindCardinality, "slot %s: nested multifield", s.spec.Name)
	}
	if !s.spec.Types.Allows(v.Kind()) {
		return ir.TypeMismatchf("slot %s: %s value %s not allowed, expected %s", s.spec.Name, v.Kind(), v, s.spec.Types)
	}
	if len(s.spec.Allowed) > 0 {
		found := false
		for _, a := range s.spec.Allowed {
			if ir.Equal(a, v) {
				found = true
				break
			}
		}
		if !found {
			return ir.Errorf(ir.KindAllowedValues, "slot %s: %s is not an allowed value", s.spec.Name, v)
		}
	}
	if r := s.spec.Range; r != nil && ir.IsNumber(v) {
		if r.Min != nil {
			if c, _ := ir.Compare(v, r.Min); c < 0 {
				return ir.Errorf(ir.KindRange, "slot %s: %s below minimum %s", s.spec.Name, v, r.Min)
			}
		}
		if r.Max != nil {
			if c, _ := ir.Compare(v, r.Max); c > 0 {
				return ir.Errorf(ir.KindRange, "slot %s: %s above maximum %s", s.spec.Name, v, r.Max)
			}
		}
	}
	return nil
}

// normalize shapes a value for storage: multislots always hold a
// Multifield, single slots a single value.
func (s *Slot) normalize(v ir.Value) ir.Value {
	m, isMulti := v.(ir.Multifield)
	switch {
	case s.spec.Multi && !isMulti:
		return ir.Multi(v)
	case !s.spec.Multi && isMulti && len(m) == 1:
		return m[0]
	}
	return v
}

// Validate checks slot values against the template without applying
// defaults.
func (t *Template) Validate(slots []ir.SlotValue) error {
	seen := make(map[string]bool, len(slots))
	for _, sv := range slots {
		s, ok := t.byName[sv.Name]
		if !ok {
			return ir.Errorf(ir.KindSlotMismatch, "template %s has no slot %s", t.name, sv.Name)
		}
		if seen[sv.Name] {
			return ir.ParsingErrorf("slot %s given more than once", sv.Name)
		}
		seen[sv.Name] = true
		if err := s.check(sv.Value); err != nil {
			return err
		}
	}
	return nil
}

// Build produces the complete value vector of a templated fact, in slot
// order, applying defaults for omitted slots.
func (t *Template) Build(slots []ir.SlotValue, eval Evaluator) ([]ir.Value, error) {
	if t.implied {
		return nil, ir.Errorf(ir.KindSlotMismatch, "%s is an ordered relation, slots given", t.name)
	}
	if err := t.Validate(slots); err != nil {
		return nil, err
	}
	values := make([]ir.Value, len(t.slots))
	for _, sv := range slots {
		s := t.byName[sv.Name]
		values[s.index] = s.normalize(sv.Value)
	}
	for _, s := range t.slots {
		if values[s.index] == nil && s.spec.Default.Mode == ir.DefaultNone {
			return nil, ir.Errorf(ir.KindCardinality, "slot %s requires a value", s.spec.Name)
		}
	}
	for _, s := range t.slots {
		if values[s.index] != nil {
			continue
		}
		v, err := s.defaultValue(eval)
		if err != nil {
			return nil, err
		}
		values[s.index] = v
	}
	return values, nil
}

// BuildOrdered produces the value vector of an ordered fact. Multifield
// arguments are spliced in place.
func (t *Template) BuildOrdered(vals []ir.Value) ([]ir.Value, error) {
	if !t.implied {
		return nil, ir.Errorf(ir.KindSlotMismatch, "%s is a deftemplate, ordered values given", t.name)
	}
	out := flatten(vals)
	for _, v := range out {
		if v == nil {
			return nil, ir.TypeMismatchf("%s: missing value", t.name)
		}
	}
	return out, nil
}

// Update returns a copy of current with the given slots replaced. The
// copy is fully validated before it is returned.
func (t *Template) Update(current []ir.Value, updates []ir.SlotValue) ([]ir.Value, error) {
	if t.implied {
		return nil, ir.Errorf(ir.KindNotModifiable, "ordered facts of %s cannot be modified", t.name)
	}
	if err := t.Validate(updates); err != nil {
		return nil, err
	}
	out := make([]ir.Value, len(current))
	copy(out, current)
	for _, sv := range updates {
		s := t.byName[sv.Name]
		out[s.index] = s.normalize(sv.Value)
	}
	return out, nil
}

func (s *Slot) defaultValue(eval Evaluator) (ir.Value, error) {
	switch s.spec.Default.Mode {
	case ir.DefaultNone:
		return nil, ir.Errorf(ir.KindCardinality, "slot %s requires a value", s.spec.Name)
	case ir.DefaultDynamic:
		if eval == nil {
			return nil, ir.ParsingErrorf("slot %s: no evaluator for default-dynamic", s.spec.Name)
		}
		var vals []ir.Value
		for _, e := range s.spec.Default.Exprs {
			v, err := eval.Eval(e)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		var v ir.Value
		if s.spec.Multi {
			v = flatten(vals)
		} else if len(vals) == 1 {
			v = s.normalize(vals[0])
		} else {
			return nil, ir.Errorf(ir.KindCardinality, "slot %s: default must be a single value", s.spec.Name)
		}
		if err := s.check(v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return s.static, nil
}

func flatten(vals []ir.Value) ir.Multifield {
	out := make(ir.Multifield, 0, len(vals))
	for _, v := range vals {
		if m, ok := v.(ir.Multifield); ok {
			out = append(out, m...)
			continue
		}
		out = append(out, v)
	}
	return out
}
