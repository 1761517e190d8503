package template

import (
	"iter"
	"slices"

	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/module"
)

// Evaluator evaluates default-value expressions. Static defaults are
// evaluated once at definition, dynamic defaults on every assertion.
type Evaluator interface {
	Eval(expr ir.Expr) (ir.Value, error)
}

// Registry holds the templates of one engine.
type Registry struct {
	modules *module.Table
	eval    Evaluator
	list    []*Template
	byName  map[string]*Template
}

// NewRegistry creates an empty registry scoped by the module table.
func NewRegistry(modules *module.Table, eval Evaluator) *Registry {
	return &Registry{
		modules: modules,
		eval:    eval,
		byName:  make(map[string]*Template),
	}
}

// Define validates a template descriptor and registers it.
//
// The template lives in spec.Module, or the current module when unset.
// Static defaults are evaluated and validated here, so a template with an
// invalid default is never registered.
func (r *Registry) Define(spec ir.TemplateSpec) (*Template, error) {
	if spec.Name == "" {
		return nil, ir.ParsingErrorf("deftemplate requires a name")
	}
	if spec.Module == "" {
		spec.Module = r.modules.Current().Name()
	} else if _, ok := r.modules.Find(spec.Module); !ok {
		return nil, ir.NotFound(ir.ConstructModule, spec.Module)
	}
	q := ir.QualifiedName(spec.Module, spec.Name)
	if existing, ok := r.byName[q]; ok {
		if !existing.implied || existing.facts > 0 || existing.rules > 0 {
			return nil, ir.Duplicate(ir.ConstructTemplate, q)
		}
	}

	t := &Template{
		spec:   spec,
		name:   q,
		byName: make(map[string]*Slot, len(spec.Slots)),
	}
	for i, ss := range spec.Slots {
		if _, dup := t.byName[ss.Name]; dup {
			return nil, ir.ParsingErrorf("slot %s defined more than once", ss.Name).WithConstruct(ir.ConstructTemplate, q)
		}
		s := &Slot{spec: ss, index: i}
		if err := r.prepareSlot(s); err != nil {
			if e, ok := err.(*ir.Error); ok {
				return nil, e.WithConstruct(ir.ConstructTemplate, q)
			}
			return nil, err
		}
		t.slots = append(t.slots, s)
		t.byName[ss.Name] = s
	}

	r.put(t)
	return t, nil
}

func (r *Registry) put(t *Template) {
	if old, ok := r.byName[t.name]; ok {
		i := slices.Index(r.list, old)
		r.list[i] = t
	} else {
		r.list = append(r.list, t)
	}
	r.byName[t.name] = t
}

// prepareSlot checks a slot's own constraints and computes its static or
// derived default.
func (r *Registry) prepareSlot(s *Slot) error {
	spec := s.spec
	if spec.Name == "" {
		return ir.ParsingErrorf("slot requires a name")
	}
	if spec.Cardinality != nil {
		if !spec.Multi {
			return ir.ParsingErrorf("slot %s: cardinality applies only to multislots", spec.Name)
		}
		c := spec.Cardinality
		if c.Min < 0 || (c.Max >= 0 && c.Max < c.Min) {
			return ir.ParsingErrorf("slot %s: invalid cardinality %d..%d", spec.Name, c.Min, c.Max)
		}
	}
	if spec.Range != nil {
		for _, b := range []ir.Value{spec.Range.Min, spec.Range.Max} {
			if b != nil && !ir.IsNumber(b) {
				return ir.ParsingErrorf("slot %s: range bounds must be numbers", spec.Name)
			}
		}
		if spec.Range.Min != nil && spec.Range.Max != nil {
			if c, _ := ir.Compare(spec.Range.Min, spec.Range.Max); c > 0 {
				return ir.ParsingErrorf("slot %s: range minimum exceeds maximum", spec.Name)
			}
		}
		if spec.Types != 0 && !spec.Types.Allows(ir.KindInteger) && !spec.Types.Allows(ir.KindFloat) {
			return ir.ParsingErrorf("slot %s: range requires a numeric type", spec.Name)
		}
	}
	for _, v := range spec.Allowed {
		if !spec.Types.Allows(v.Kind()) {
			return ir.ParsingErrorf("slot %s: allowed value %s conflicts with type %s", spec.Name, v, spec.Types)
		}
	}

	switch spec.Default.Mode {
	case ir.DefaultDerived:
		s.static = derivedDefault(spec)
	case ir.DefaultStatic:
		v, err := r.evalDefault(spec)
		if err != nil {
			return err
		}
		if err := s.check(v); err != nil {
			return err
		}
		s.static = v
	case ir.DefaultDynamic:
		if len(spec.Default.Exprs) == 0 {
			return ir.ParsingErrorf("slot %s: default-dynamic requires an expression", spec.Name)
		}
	}
	return nil
}

// evalDefault evaluates a slot's default expressions into one value.
func (r *Registry) evalDefault(spec ir.SlotSpec) (ir.Value, error) {
	var vals []ir.Value
	for _, e := range spec.Default.Exprs {
		if e.Kind == ir.ExprConst {
			vals = append(vals, e.Value)
			continue
		}
		if r.eval == nil {
			return nil, ir.ParsingErrorf("slot %s: no evaluator for default %s", spec.Name, e)
		}
		v, err := r.eval.Eval(e)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	if spec.Multi {
		return flatten(vals), nil
	}
	if len(vals) != 1 {
		return nil, ir.Errorf(ir.KindCardinality, "slot %s: default must be a single value", spec.Name)
	}
	if m, ok := vals[0].(ir.Multifield); ok {
		if len(m) != 1 {
			return nil, ir.Errorf(ir.KindCardinality, "slot %s: default must be a single value", spec.Name)
		}
		return m[0], nil
	}
	return vals[0], nil
}

// derivedDefault chooses a default from the slot's constraints.
func derivedDefault(spec ir.SlotSpec) ir.Value {
	single := derivedSingle(spec)
	if !spec.Multi {
		return single
	}
	n := 0
	if spec.Cardinality != nil {
		n = spec.Cardinality.Min
	}
	m := make(ir.Multifield, n)
	for i := range m {
		m[i] = single
	}
	return m
}

func derivedSingle(spec ir.SlotSpec) ir.Value {
	if len(spec.Allowed) > 0 {
		return spec.Allowed[0]
	}
	types := spec.Types
	switch {
	case types.Allows(ir.KindSymbol):
		return ir.Nil
	case types.Allows(ir.KindString):
		return ir.String("")
	case types.Allows(ir.KindInteger):
		if spec.Range != nil && spec.Range.Min != nil {
			if n, ok := ir.Number(spec.Range.Min); ok {
				return ir.Integer(int64(n))
			}
		}
		return ir.Integer(0)
	case types.Allows(ir.KindFloat):
		if spec.Range != nil && spec.Range.Min != nil {
			if n, ok := ir.Number(spec.Range.Min); ok {
				return ir.Float(n)
			}
		}
		return ir.Float(0)
	case types.Allows(ir.KindInstanceName):
		return ir.Instance("nil")
	case types.Allows(ir.KindBoolean):
		return ir.False
	case types.Allows(ir.KindFactAddress):
		return ir.FactAddress{}
	}
	return ir.NewExternalAddress(nil)
}

// Find resolves a template name from the current module.
func (r *Registry) Find(name string) (*Template, error) {
	q, err := r.modules.Resolve(ir.ConstructTemplate, name, r.exists)
	if err != nil {
		return nil, err
	}
	return r.byName[q], nil
}

// FindFrom resolves a template name from a given module.
func (r *Registry) FindFrom(from *module.Module, name string) (*Template, error) {
	q, err := r.modules.ResolveFrom(from, ir.ConstructTemplate, name, r.exists)
	if err != nil {
		return nil, err
	}
	return r.byName[q], nil
}

func (r *Registry) exists(q string) bool {
	_, ok := r.byName[q]
	return ok
}

// Implied returns the template for an ordered relation, creating an
// implied template in the current module when none is visible.
func (r *Registry) Implied(relation string) (*Template, error) {
	return r.ImpliedFrom(r.modules.Current(), relation)
}

// ImpliedFrom is Implied resolved from, and created in, a given module.
func (r *Registry) ImpliedFrom(from *module.Module, relation string) (*Template, error) {
	t, err := r.FindFrom(from, relation)
	if err == nil {
		return t, nil
	}
	if !ir.IsKind(err, ir.KindNotFound) {
		return nil, err
	}
	mod, local := ir.SplitName(relation)
	if mod == "" {
		mod = from.Name()
	}
	if local == "" {
		return nil, ir.ParsingErrorf("ordered fact requires a relation name")
	}
	t = &Template{
		spec: ir.TemplateSpec{
			Name:   local,
			Module: mod,
			Slots:  []ir.SlotSpec{{Name: ImpliedSlot, Multi: true}},
		},
		name:    ir.QualifiedName(mod, local),
		implied: true,
	}
	t.slots = []*Slot{{spec: t.spec.Slots[0], static: ir.Multi()}}
	t.byName = map[string]*Slot{ImpliedSlot: t.slots[0]}
	r.put(t)
	return t, nil
}

// Undefine removes a template that no fact or rule references.
func (r *Registry) Undefine(name string) error {
	t, err := r.Find(name)
	if err != nil {
		return err
	}
	if t.facts > 0 {
		return ir.InUse(ir.ConstructTemplate, t.name, "facts")
	}
	if t.rules > 0 {
		return ir.InUse(ir.ConstructTemplate, t.name, "rules")
	}
	r.list = slices.DeleteFunc(r.list, func(x *Template) bool { return x == t })
	delete(r.byName, t.name)
	return nil
}

// Templates iterates templates in definition order.
func (r *Registry) Templates() iter.Seq[*Template] {
	return func(yield func(*Template) bool) {
		for _, t := range r.list {
			if !yield(t) {
				return
			}
		}
	}
}

// Clear removes every template.
func (r *Registry) Clear() {
	r.list = nil
	r.byName = make(map[string]*Template)
}
