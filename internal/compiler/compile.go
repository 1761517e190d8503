package compiler

import (
	"fmt"
	"maps"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/prodsys/internal/ir"
)

// Program holds every construct decoded from one CUE value, each kind in
// declaration order.
type Program struct {
	Modules   []ir.ModuleSpec
	Templates []ir.TemplateSpec
	Globals   []ir.GlobalSpec
	Deffacts  []ir.DeffactsSpec
	Rules     []ir.RuleSpec
}

// Len returns the number of constructs in the program.
func (p *Program) Len() int {
	return len(p.Modules) + len(p.Templates) + len(p.Globals) + len(p.Deffacts) + len(p.Rules)
}

// Top-level sections of a CUE program.
const (
	sectionModule   = "module"
	sectionTemplate = "template"
	sectionGlobal   = "global"
	sectionFacts    = "facts"
	sectionRule     = "rule"
)

// CompileString compiles CUE source text. filename is used in positions.
func CompileString(src, filename string) (*Program, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	return Compile(v)
}

// Compile decodes every construct of a CUE value:
//
//	module: REPORT: {import: [{module: "MAIN", construct: "deftemplate"}]}
//	template: person: {slots: {name: {type: "STRING"}, age: {type: "INTEGER", default: 0}}}
//	global: threshold: 18
//	facts: people: ["(person (name \"Ann\") (age 12))"]
//	rule: minor: {
//		salience: 10
//		when: ["(person (name ?n) (age ?a&:(< ?a ?*threshold*)))"]
//		then: ["(printout t ?n \" is a minor\" crlf)"]
//	}
//
// Strings in expression position are construct source text, so "red" is
// the symbol red and "\"red\"" the string "red".
func Compile(v cue.Value) (*Program, error) {
	return compileValue(v, nil)
}

// compileValue compiles v knowing that the relations in templates are
// defined elsewhere, such as in another file of the same program.
func compileValue(v cue.Value, templates map[string]bool) (*Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	prog := &Program{}
	p := &parser{templates: maps.Clone(templates)}
	if p.templates == nil {
		p.templates = map[string]bool{}
	}

	if err := eachField(v, sectionModule, func(name string, f cue.Value) error {
		m, err := compileModule(name, f)
		prog.Modules = append(prog.Modules, m)
		return err
	}); err != nil {
		return nil, err
	}
	if err := eachField(v, sectionTemplate, func(name string, f cue.Value) error {
		t, err := p.compileTemplate(name, f)
		prog.Templates = append(prog.Templates, t)
		p.templates[t.Name] = true
		return err
	}); err != nil {
		return nil, err
	}
	if err := eachField(v, sectionGlobal, func(name string, f cue.Value) error {
		g, err := p.compileGlobal(name, f)
		prog.Globals = append(prog.Globals, g)
		return err
	}); err != nil {
		return nil, err
	}
	if err := eachField(v, sectionFacts, func(name string, f cue.Value) error {
		d, err := p.compileDeffacts(name, f)
		prog.Deffacts = append(prog.Deffacts, d)
		return err
	}); err != nil {
		return nil, err
	}
	if err := eachField(v, sectionRule, func(name string, f cue.Value) error {
		r, err := p.compileRule(name, f)
		prog.Rules = append(prog.Rules, r)
		return err
	}); err != nil {
		return nil, err
	}
	return prog, nil
}

func eachField(v cue.Value, section string, fn func(name string, f cue.Value) error) error {
	sv := v.LookupPath(cue.ParsePath(section))
	if !sv.Exists() {
		return nil
	}
	if err := sv.Err(); err != nil {
		return located(section, sv, formatCUEError(err))
	}
	it, err := sv.Fields()
	if err != nil {
		return &CompileError{Field: section, Message: "must be a struct of named constructs", Pos: sv.Pos()}
	}
	for it.Next() {
		name := it.Selector().Unquoted()
		if err := fn(name, it.Value()); err != nil {
			return located(section+"."+name, it.Value(), err)
		}
	}
	return nil
}

// located attaches a field path and position to a decoding error.
func located(field string, v cue.Value, err error) error {
	var ce *CompileError
	if errors.As(err, &ce) {
		if !strings.HasPrefix(ce.Field, field) {
			ce.Field = field + "." + ce.Field
		}
		return ce
	}
	return &CompileError{Field: field, Message: err.Error(), Pos: v.Pos(), Err: err}
}

// splitModule separates MOD::name, preferring an explicit module field.
func splitModule(name string, v cue.Value) (string, string, error) {
	mod, local := ir.SplitName(name)
	explicit, err := optString(v, "module")
	if err != nil {
		return "", "", err
	}
	if explicit != "" {
		if mod != "" && mod != explicit {
			return "", "", &CompileError{Field: "module", Message: fmt.Sprintf("name is qualified with %s", mod), Pos: v.Pos()}
		}
		mod = explicit
	}
	return mod, local, nil
}

func compileModule(name string, v cue.Value) (ir.ModuleSpec, error) {
	spec := ir.ModuleSpec{Name: name}
	var err error
	if spec.Comment, err = optString(v, "comment"); err != nil {
		return spec, err
	}
	if spec.Imports, err = ports(v, "import", true); err != nil {
		return spec, err
	}
	if spec.Exports, err = ports(v, "export", false); err != nil {
		return spec, err
	}
	return spec, nil
}

func ports(v cue.Value, field string, imports bool) ([]ir.PortSpec, error) {
	lv := v.LookupPath(cue.ParsePath(field))
	if !lv.Exists() {
		return nil, nil
	}
	it, err := lv.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list", Pos: lv.Pos()}
	}
	var out []ir.PortSpec
	for it.Next() {
		pv := it.Value()
		var p ir.PortSpec
		if p.Module, err = optString(pv, "module"); err != nil {
			return nil, err
		}
		if imports && p.Module == "" {
			return nil, &CompileError{Field: field + ".module", Message: "import requires a module", Pos: pv.Pos()}
		}
		if p.Construct, err = optString(pv, "construct"); err != nil {
			return nil, err
		}
		if p.Construct == "" {
			p.Construct = ir.ConstructAll
		}
		if p.Names, err = stringList(pv, "names"); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (p *parser) compileTemplate(name string, v cue.Value) (ir.TemplateSpec, error) {
	mod, local, err := splitModule(name, v)
	if err != nil {
		return ir.TemplateSpec{}, err
	}
	spec := ir.TemplateSpec{Name: local, Module: mod}
	if spec.Comment, err = optString(v, "comment"); err != nil {
		return spec, err
	}
	sv := v.LookupPath(cue.ParsePath("slots"))
	if !sv.Exists() {
		return spec, nil
	}
	it, err := sv.Fields()
	if err != nil {
		return spec, &CompileError{Field: "slots", Message: "must be a struct of slots", Pos: sv.Pos()}
	}
	for it.Next() {
		s, err := p.compileSlot(it.Selector().Unquoted(), it.Value())
		if err != nil {
			return spec, located("slots."+it.Selector().Unquoted(), it.Value(), err)
		}
		spec.Slots = append(spec.Slots, s)
	}
	return spec, nil
}

func (p *parser) compileSlot(name string, v cue.Value) (ir.SlotSpec, error) {
	s := ir.SlotSpec{Name: name}
	var err error
	if s.Multi, err = optBool(v, "multi"); err != nil {
		return s, err
	}
	types, err := stringOrList(v, "type")
	if err != nil {
		return s, err
	}
	for _, t := range types {
		ts, err := ir.ParseTypeName(t)
		if err != nil {
			return s, &CompileError{Field: "type", Message: err.Error(), Pos: v.Pos(), Err: err}
		}
		s.Types |= ts
	}
	if av := v.LookupPath(cue.ParsePath("allowed")); av.Exists() {
		if s.Allowed, err = values(av); err != nil {
			return s, err
		}
	}
	if rv := v.LookupPath(cue.ParsePath("range")); rv.Exists() {
		bounds, err := values(rv)
		if err != nil {
			return s, err
		}
		if len(bounds) != 2 {
			return s, &CompileError{Field: "range", Message: "range takes [min, max]", Pos: rv.Pos()}
		}
		s.Range = &ir.Range{Min: openBound(bounds[0]), Max: openBound(bounds[1])}
	}
	if cv := v.LookupPath(cue.ParsePath("cardinality")); cv.Exists() {
		bounds, err := values(cv)
		if err != nil {
			return s, err
		}
		if len(bounds) != 2 {
			return s, &CompileError{Field: "cardinality", Message: "cardinality takes [min, max]", Pos: cv.Pos()}
		}
		s.Cardinality = &ir.Cardinality{Min: 0, Max: -1}
		if n, ok := bounds[0].(ir.Integer); ok {
			s.Cardinality.Min = int(n)
		}
		if n, ok := bounds[1].(ir.Integer); ok {
			s.Cardinality.Max = int(n)
		}
	}
	if dv := v.LookupPath(cue.ParsePath("default")); dv.Exists() {
		if str, err := dv.String(); err == nil && strings.TrimSpace(str) == "?NONE" {
			s.Default.Mode = ir.DefaultNone
		} else if err == nil && strings.TrimSpace(str) == "?DERIVE" {
			s.Default.Mode = ir.DefaultDerived
		} else {
			s.Default.Mode = ir.DefaultStatic
			if s.Default.Exprs, err = p.exprs(dv); err != nil {
				return s, err
			}
		}
	}
	if dv := v.LookupPath(cue.ParsePath("default_dynamic")); dv.Exists() {
		if s.Default.Mode != ir.DefaultDerived {
			return s, &CompileError{Field: "default_dynamic", Message: "default and default_dynamic are exclusive", Pos: dv.Pos()}
		}
		s.Default.Mode = ir.DefaultDynamic
		if s.Default.Exprs, err = p.exprs(dv); err != nil {
			return s, err
		}
	}
	return s, nil
}

// openBound maps the ?VARIABLE and * placeholders to an open bound.
func openBound(v ir.Value) ir.Value {
	if s, ok := v.(ir.Symbol); ok && (s.Text() == "?VARIABLE" || s.Text() == "*") {
		return nil
	}
	return v
}

func (p *parser) compileGlobal(name string, v cue.Value) (ir.GlobalSpec, error) {
	name = strings.TrimSuffix(strings.TrimPrefix(name, "*"), "*")
	spec := ir.GlobalSpec{Name: name}
	body := v
	if v.IncompleteKind() == cue.StructKind && v.LookupPath(cue.ParsePath("value")).Exists() {
		var err error
		if spec.Module, err = optString(v, "module"); err != nil {
			return spec, err
		}
		body = v.LookupPath(cue.ParsePath("value"))
	}
	x, err := p.exprValue(body)
	if err != nil {
		return spec, err
	}
	spec.Value = x
	return spec, nil
}

func (p *parser) compileDeffacts(name string, v cue.Value) (ir.DeffactsSpec, error) {
	spec := ir.DeffactsSpec{Name: name}
	list := v
	if v.IncompleteKind() == cue.StructKind {
		mod, local, err := splitModule(name, v)
		if err != nil {
			return spec, err
		}
		spec.Name, spec.Module = local, mod
		if spec.Comment, err = optString(v, "comment"); err != nil {
			return spec, err
		}
		list = v.LookupPath(cue.ParsePath("facts"))
	} else {
		spec.Module, spec.Name = ir.SplitName(name)
	}
	it, err := list.List()
	if err != nil {
		return spec, &CompileError{Field: "facts", Message: "must be a list of facts", Pos: list.Pos()}
	}
	for it.Next() {
		src, err := it.Value().String()
		if err != nil {
			return spec, &CompileError{Field: "facts", Message: "facts are written as (relation ...)", Pos: it.Value().Pos()}
		}
		f, err := p.fact(src)
		if err != nil {
			return spec, located("facts", it.Value(), err)
		}
		spec.Facts = append(spec.Facts, f)
	}
	return spec, nil
}

func (p *parser) compileRule(name string, v cue.Value) (ir.RuleSpec, error) {
	mod, local, err := splitModule(name, v)
	if err != nil {
		return ir.RuleSpec{}, err
	}
	spec := ir.RuleSpec{Name: local, Module: mod}
	if spec.Comment, err = optString(v, "comment"); err != nil {
		return spec, err
	}
	if spec.AutoFocus, err = optBool(v, "auto_focus"); err != nil {
		return spec, err
	}
	if sv := v.LookupPath(cue.ParsePath("salience")); sv.Exists() {
		x, err := p.exprValue(sv)
		if err != nil {
			return spec, located("salience", sv, err)
		}
		spec.Salience = &x
	}
	if wv := v.LookupPath(cue.ParsePath("when")); wv.Exists() {
		it, err := wv.List()
		if err != nil {
			return spec, &CompileError{Field: "when", Message: "must be a list of conditions", Pos: wv.Pos()}
		}
		for i := 0; it.Next(); i++ {
			src, err := it.Value().String()
			if err != nil {
				return spec, &CompileError{Field: fmt.Sprintf("when[%d]", i), Message: "conditions are written as patterns", Pos: it.Value().Pos()}
			}
			c, err := p.condition(src)
			if err != nil {
				return spec, located(fmt.Sprintf("when[%d]", i), it.Value(), err)
			}
			spec.Conditions = append(spec.Conditions, c)
		}
	}
	if tv := v.LookupPath(cue.ParsePath("then")); tv.Exists() {
		it, err := tv.List()
		if err != nil {
			return spec, &CompileError{Field: "then", Message: "must be a list of actions", Pos: tv.Pos()}
		}
		for i := 0; it.Next(); i++ {
			x, err := p.exprValue(it.Value())
			if err != nil {
				return spec, located(fmt.Sprintf("then[%d]", i), it.Value(), err)
			}
			spec.Actions = append(spec.Actions, x)
		}
	}
	return spec, nil
}

// exprs decodes a value or a list of values as expressions.
func (p *parser) exprs(v cue.Value) ([]ir.Expr, error) {
	if v.IncompleteKind() != cue.ListKind {
		x, err := p.exprValue(v)
		if err != nil {
			return nil, err
		}
		return []ir.Expr{x}, nil
	}
	it, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []ir.Expr
	for it.Next() {
		x, err := p.exprValue(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

// exprValue decodes one expression. Numbers and booleans are constants,
// strings are source text and structs are one of the call forms
// {call, args}, {assert: fact} or {modify|duplicate: target, slots}.
func (p *parser) exprValue(v cue.Value) (ir.Expr, error) {
	if err := v.Err(); err != nil {
		return ir.Expr{}, formatCUEError(err)
	}
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return ir.Expr{}, formatCUEError(err)
		}
		return ir.Const(ir.Integer(n)), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return ir.Expr{}, formatCUEError(err)
		}
		return ir.Const(ir.Float(f)), nil
	case cue.BoolKind:
		b, _ := v.Bool()
		return ir.Const(ir.Boolean(b)), nil
	case cue.StringKind:
		s, _ := v.String()
		return p.expr(s)
	case cue.ListKind:
		xs, err := p.exprs(v)
		if err != nil {
			return ir.Expr{}, err
		}
		return ir.Call("create$", xs...), nil
	case cue.StructKind:
		return p.callForm(v)
	}
	return ir.Expr{}, &CompileError{Field: "expr", Message: fmt.Sprintf("unsupported value of kind %v", v.Kind()), Pos: v.Pos()}
}

func (p *parser) callForm(v cue.Value) (ir.Expr, error) {
	if fv := v.LookupPath(cue.ParsePath("call")); fv.Exists() {
		name, err := fv.String()
		if err != nil {
			return ir.Expr{}, &CompileError{Field: "call", Message: "function name must be a string", Pos: fv.Pos()}
		}
		out := ir.Call(name)
		if av := v.LookupPath(cue.ParsePath("args")); av.Exists() {
			if out.Args, err = p.exprs(av); err != nil {
				return ir.Expr{}, err
			}
		}
		return out, nil
	}
	if fv := v.LookupPath(cue.ParsePath("assert")); fv.Exists() {
		f, err := p.factValue(fv)
		if err != nil {
			return ir.Expr{}, err
		}
		return ir.Assert(f), nil
	}
	for _, form := range []string{"modify", "duplicate"} {
		fv := v.LookupPath(cue.ParsePath(form))
		if !fv.Exists() {
			continue
		}
		target, err := p.exprValue(fv)
		if err != nil {
			return ir.Expr{}, err
		}
		out := ir.Expr{Kind: ir.ExprCall, Name: form, Args: []ir.Expr{target}}
		if out.Slots, err = p.slotValues(v.LookupPath(cue.ParsePath("slots"))); err != nil {
			return ir.Expr{}, err
		}
		return out, nil
	}
	return ir.Expr{}, &CompileError{Field: "expr", Message: "struct expressions take call, assert, modify or duplicate", Pos: v.Pos()}
}

// factValue decodes a fact given as source text or as
// {template, slots} / {relation, fields}.
func (p *parser) factValue(v cue.Value) (ir.Expr, error) {
	if s, err := v.String(); err == nil {
		return p.fact(s)
	}
	if tv := v.LookupPath(cue.ParsePath("template")); tv.Exists() {
		name, err := tv.String()
		if err != nil {
			return ir.Expr{}, &CompileError{Field: "template", Message: "must be a string", Pos: tv.Pos()}
		}
		slots, err := p.slotValues(v.LookupPath(cue.ParsePath("slots")))
		if err != nil {
			return ir.Expr{}, err
		}
		return ir.TemplateFactOf(name, slots...), nil
	}
	rv := v.LookupPath(cue.ParsePath("relation"))
	name, err := rv.String()
	if err != nil {
		return ir.Expr{}, &CompileError{Field: "assert", Message: "fact needs a template or relation", Pos: v.Pos()}
	}
	out := ir.FactOf(name)
	if fv := v.LookupPath(cue.ParsePath("fields")); fv.Exists() {
		if out.Args, err = p.exprs(fv); err != nil {
			return ir.Expr{}, err
		}
	}
	return out, nil
}

func (p *parser) slotValues(v cue.Value) ([]ir.SlotExpr, error) {
	if !v.Exists() {
		return nil, nil
	}
	it, err := v.Fields()
	if err != nil {
		return nil, &CompileError{Field: "slots", Message: "must be a struct", Pos: v.Pos()}
	}
	var out []ir.SlotExpr
	for it.Next() {
		vals, err := p.exprs(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, ir.SlotOf(it.Selector().Unquoted(), vals...))
	}
	return out, nil
}

// values decodes a list of constants.
func values(v cue.Value) ([]ir.Value, error) {
	it, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: "values", Message: "must be a list", Pos: v.Pos()}
	}
	var out []ir.Value
	for it.Next() {
		x, err := constant(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}

func constant(v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		return ir.Integer(n), formatCUEError(err)
	case cue.FloatKind:
		f, err := v.Float64()
		return ir.Float(f), formatCUEError(err)
	case cue.BoolKind:
		b, _ := v.Bool()
		return ir.Boolean(b), nil
	case cue.StringKind:
		s, _ := v.String()
		return ir.ParseAtom(s), nil
	}
	return nil, &CompileError{Field: "value", Message: "expected a constant", Pos: v.Pos()}
}

func optString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: "must be a string", Pos: fv.Pos()}
	}
	return s, nil
}

func optBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, &CompileError{Field: field, Message: "must be a boolean", Pos: fv.Pos()}
	}
	return b, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	var out []string
	if err := fv.Decode(&out); err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: fv.Pos()}
	}
	return out, nil
}

func stringOrList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	if s, err := fv.String(); err == nil {
		return strings.Fields(s), nil
	}
	return stringList(v, field)
}

// CompileError is a decoding error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
	Err     error
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap exposes the underlying error, usually an *ir.Error of kind
// PARSING.
func (e *CompileError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ir.ErrParsing
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return &CompileError{Field: "cue", Message: first.Error()}
}
