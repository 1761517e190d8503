package engine

import (
	"iter"
	"slices"

	"github.com/roach88/prodsys/internal/agenda"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/module"
	"github.com/roach88/prodsys/internal/rete"
	"github.com/roach88/prodsys/internal/template"
)

// DefineModule adds a module and makes it current.
func (e *Environment) DefineModule(spec ir.ModuleSpec) (*module.Module, error) {
	m, err := e.modules.Define(spec)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("module defined", "module", m.Name())
	return m, nil
}

// SetCurrentModule makes a module current and returns the name of the
// previously current module.
func (e *Environment) SetCurrentModule(name string) (string, error) {
	prev, err := e.modules.SetCurrent(name)
	if err != nil {
		return "", err
	}
	return prev.Name(), nil
}

// CurrentModule returns the name of the current module.
func (e *Environment) CurrentModule() string {
	return e.modules.Current().Name()
}

// FindModule looks up a module.
func (e *Environment) FindModule(name string) (*module.Module, error) {
	m, ok := e.modules.Find(name)
	if !ok {
		return nil, ir.NotFound(ir.ConstructModule, name)
	}
	return m, nil
}

// Modules iterates modules in definition order.
func (e *Environment) Modules() iter.Seq[*module.Module] {
	return e.modules.Modules()
}

// DefineTemplate registers a deftemplate.
func (e *Environment) DefineTemplate(spec ir.TemplateSpec) (*template.Template, error) {
	t, err := e.templates.Define(spec)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("template defined", "template", t.Name())
	return t, nil
}

// UndefineTemplate removes a template no fact or rule refers to.
func (e *Environment) UndefineTemplate(name string) error {
	return e.templates.Undefine(name)
}

// FindTemplate resolves a template from the current module.
func (e *Environment) FindTemplate(name string) (*template.Template, error) {
	return e.templates.Find(name)
}

// Templates iterates templates in definition order.
func (e *Environment) Templates() iter.Seq[*template.Template] {
	return e.templates.Templates()
}

// DefineRule compiles a rule into the network. The rule is activated at
// once for every existing match. Defining a rule under a name already in
// use fails with a DuplicateError.
//
// Under when-defined salience evaluation the salience expression is
// evaluated here, and a failing or out of range salience rejects the rule.
func (e *Environment) DefineRule(spec ir.RuleSpec) (*rete.Rule, error) {
	var salience int
	if e.salienceMode == agenda.WhenDefined {
		v, err := e.evalSalience(spec.Salience)
		if err != nil {
			return nil, ir.Processing("salience", err).WithConstruct(ir.ConstructRule, spec.Name)
		}
		salience = v
	}
	r, err := e.network.AddRule(spec)
	if err != nil {
		return nil, err
	}
	if e.salienceMode == agenda.WhenDefined {
		e.salience[r] = salience
	}
	e.logger.Debug("rule defined", "rule", r.Name(), "conditions", r.Complexity(), "activations", r.Activations())
	return r, nil
}

// UndefineRule removes a rule, its network nodes and its activations.
func (e *Environment) UndefineRule(name string) error {
	r, err := e.network.Find(name)
	if err != nil {
		return err
	}
	if err := e.network.RemoveRule(r.Name()); err != nil {
		return err
	}
	delete(e.salience, r)
	delete(e.watch.perRule, r)
	e.logger.Debug("rule removed", "rule", r.Name())
	return nil
}

// FindRule resolves a rule from the current module.
func (e *Environment) FindRule(name string) (*rete.Rule, error) {
	return e.network.Find(name)
}

// Rules iterates rules in definition order.
func (e *Environment) Rules() iter.Seq[*rete.Rule] {
	return e.network.Rules()
}

// Matches reports the partial matches of a rule.
func (e *Environment) Matches(name string) (rete.Stats, error) {
	return e.network.Matches(name)
}

// DefineGlobal evaluates a global's initial value and defines it.
// Redefining a global replaces its value.
func (e *Environment) DefineGlobal(spec ir.GlobalSpec) (*module.Global, error) {
	v, err := e.Eval(spec.Value)
	if err != nil {
		return nil, ir.Processing(spec.Name, err).WithConstruct(ir.ConstructGlobal, spec.Name)
	}
	return e.globals.Define(spec, v)
}

// FindGlobal resolves a global from the current module.
func (e *Environment) FindGlobal(name string) (*module.Global, error) {
	return e.globals.Find(name)
}

// GetGlobal returns a global's value.
func (e *Environment) GetGlobal(name string) (ir.Value, error) {
	g, err := e.globals.Find(name)
	if err != nil {
		return nil, err
	}
	return g.Value(), nil
}

// SetGlobal assigns a global.
func (e *Environment) SetGlobal(name string, v ir.Value) error {
	g, err := e.globals.Find(name)
	if err != nil {
		return err
	}
	e.setGlobal(g, v)
	return nil
}

func (e *Environment) setGlobal(g *module.Global, v ir.Value) {
	old := g.Value()
	g.Set(v)
	if g.Watched() {
		e.traceGlobal(g, old)
	}
	e.notify(TraceEvent{Type: EventGlobal, Text: g.Name(), Values: []ir.Value{v}})
}

// UndefineGlobal removes a global.
func (e *Environment) UndefineGlobal(name string) error {
	return e.globals.Undefine(name)
}

// Globals iterates globals in definition order.
func (e *Environment) Globals() iter.Seq[*module.Global] {
	return e.globals.All()
}

// Deffacts is a named set of facts asserted on every reset.
type Deffacts struct {
	spec ir.DeffactsSpec
	name string
}

// Name returns the qualified name.
func (d *Deffacts) Name() string { return d.name }

// Module returns the owning module.
func (d *Deffacts) Module() string { return d.spec.Module }

// Spec returns the descriptor.
func (d *Deffacts) Spec() ir.DeffactsSpec { return d.spec }

// String renders the deffacts in construct syntax.
func (d *Deffacts) String() string { return ir.FormatDeffacts(d.spec) }

type deffactsTable struct {
	list   []*Deffacts
	byName map[string]*Deffacts
}

func newDeffactsTable() *deffactsTable {
	return &deffactsTable{byName: make(map[string]*Deffacts)}
}

func (t *deffactsTable) clear() {
	t.list = nil
	clear(t.byName)
}

// DefineDeffacts registers facts to assert on reset. The facts are not
// asserted until the next Reset.
func (e *Environment) DefineDeffacts(spec ir.DeffactsSpec) (*Deffacts, error) {
	if spec.Name == "" {
		return nil, ir.ParsingErrorf("deffacts requires a name")
	}
	if spec.Module == "" {
		spec.Module = e.modules.Current().Name()
	} else if _, ok := e.modules.Find(spec.Module); !ok {
		return nil, ir.NotFound(ir.ConstructModule, spec.Module)
	}
	q := ir.QualifiedName(spec.Module, spec.Name)
	if _, ok := e.deffacts.byName[q]; ok {
		return nil, ir.Duplicate(ir.ConstructFacts, q)
	}
	for i, f := range spec.Facts {
		if f.Kind != ir.ExprFact {
			return nil, ir.ParsingErrorf("fact %d is not a fact literal: %s", i+1, f).WithConstruct(ir.ConstructFacts, q)
		}
	}
	d := &Deffacts{spec: spec, name: q}
	e.deffacts.list = append(e.deffacts.list, d)
	e.deffacts.byName[q] = d
	return d, nil
}

// FindDeffacts resolves a deffacts from the current module.
func (e *Environment) FindDeffacts(name string) (*Deffacts, error) {
	q, err := e.modules.Resolve(ir.ConstructFacts, name, func(q string) bool {
		_, ok := e.deffacts.byName[q]
		return ok
	})
	if err != nil {
		return nil, err
	}
	return e.deffacts.byName[q], nil
}

// UndefineDeffacts removes a deffacts. Facts it asserted stay.
func (e *Environment) UndefineDeffacts(name string) error {
	d, err := e.FindDeffacts(name)
	if err != nil {
		return err
	}
	delete(e.deffacts.byName, d.name)
	e.deffacts.list = slices.DeleteFunc(e.deffacts.list, func(x *Deffacts) bool { return x == d })
	return nil
}

// DeffactsList iterates deffacts in definition order.
func (e *Environment) DeffactsList() iter.Seq[*Deffacts] {
	return func(yield func(*Deffacts) bool) {
		for _, d := range slices.Clone(e.deffacts.list) {
			if !yield(d) {
				return
			}
		}
	}
}

// assertDeffacts asserts a deffacts' facts from its own module. Facts
// already present are skipped.
func (e *Environment) assertDeffacts(d *Deffacts) error {
	prev, err := e.modules.SetCurrent(d.spec.Module)
	if err != nil {
		return err
	}
	defer e.modules.SetCurrent(prev.Name())
	ctx := &Context{env: e}
	for _, x := range d.spec.Facts {
		spec, err := ctx.factSpec(x)
		if err != nil {
			return ir.Processing(d.name, err).WithConstruct(ir.ConstructFacts, d.name)
		}
		if _, err := e.assertQuiet(spec); err != nil {
			return ir.Processing(d.name, err).WithConstruct(ir.ConstructFacts, d.name)
		}
	}
	return nil
}

// PrettyPrint renders a construct in construct syntax. kind is one of the
// ir.Construct* names.
func (e *Environment) PrettyPrint(kind, name string) (string, error) {
	switch kind {
	case ir.ConstructRule:
		r, err := e.FindRule(name)
		if err != nil {
			return "", err
		}
		return r.String(), nil
	case ir.ConstructTemplate:
		t, err := e.FindTemplate(name)
		if err != nil {
			return "", err
		}
		return t.String(), nil
	case ir.ConstructGlobal:
		g, err := e.FindGlobal(name)
		if err != nil {
			return "", err
		}
		return g.String(), nil
	case ir.ConstructFacts:
		d, err := e.FindDeffacts(name)
		if err != nil {
			return "", err
		}
		return d.String(), nil
	case ir.ConstructModule:
		m, err := e.FindModule(name)
		if err != nil {
			return "", err
		}
		return m.String(), nil
	}
	return "", ir.ParsingErrorf("unknown construct kind %q", kind)
}
