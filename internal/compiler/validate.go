package compiler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/prodsys/internal/agenda"
	"github.com/roach88/prodsys/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrUnsupportedType = "E200" // unsupported descriptor type

	// Structural errors (E201-E209)
	ErrRequiredField   = "E201" // required field empty
	ErrInvalidName     = "E202" // construct name is not a symbol
	ErrDuplicateName   = "E203" // construct defined twice
	ErrDuplicateSlot   = "E204" // slot declared twice
	ErrUnknownModule   = "E205" // module not declared
	ErrInvalidBounds   = "E206" // range or cardinality min above max
	ErrInvalidPort     = "E207" // import/export names an unknown construct kind
	ErrDefaultMismatch = "E208" // static default outside the slot's constraints

	// Rule errors (E210-E219)
	ErrUnboundVariable  = "E210" // action uses a variable no pattern binds
	ErrNegatedVariable  = "E211" // action uses a variable bound only inside not/exists
	ErrSalienceRange    = "E212" // constant salience outside [-10000, 10000]
	ErrEmptyRule        = "E213" // rule has no actions; reported by Warnings, not Validate
	ErrUnknownTemplate  = "E214" // slot pattern or fact names an undeclared template
	ErrUnknownSlot      = "E215" // slot pattern or fact names a slot the template lacks
	ErrBindingVariable  = "E216" // fact-address variable reused as a field variable
	ErrUnboundPredicate = "E217" // predicate or test uses a variable bound later
)

// ValidationError is one problem found in a descriptor.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("symbol", validateSymbol)
}

// validateSymbol accepts names usable as construct names: no whitespace,
// parentheses, quotes or leading variable markers.
func validateSymbol(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" || strings.ContainsAny(s, " \t\r\n()\";&|~<") {
		return false
	}
	return s[0] != '?' && s[0] != '$'
}

// Validate checks a descriptor and returns every problem found.
// Supports *Program and the individual construct descriptors.
func Validate(v any) []ValidationError {
	switch d := v.(type) {
	case *Program:
		return validateProgram(d)
	case Program:
		return validateProgram(&d)
	case ir.TemplateSpec:
		return validateTemplate("template."+d.Name, d)
	case *ir.TemplateSpec:
		return validateTemplate("template."+d.Name, *d)
	case ir.RuleSpec:
		return validateRule("rule."+d.Name, d, nil)
	case *ir.RuleSpec:
		return validateRule("rule."+d.Name, *d, nil)
	case ir.ModuleSpec:
		return validateModule("module."+d.Name, d)
	case ir.DeffactsSpec:
		return structural("facts."+d.Name, d)
	case ir.GlobalSpec:
		return structural("global."+d.Name, d)
	}
	return []ValidationError{{
		Field:   "",
		Message: fmt.Sprintf("unsupported descriptor type %T", v),
		Code:    ErrUnsupportedType,
	}}
}

// structural runs the struct tag checks and the construct name check.
func structural(field string, d any) []ValidationError {
	var out []ValidationError
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []ValidationError{{Field: field, Message: err.Error(), Code: ErrRequiredField}}
		}
		for _, fe := range verrs {
			out = append(out, ValidationError{
				Field:   field + "." + strings.ToLower(fe.Field()),
				Message: fmt.Sprintf("failed %q check", fe.Tag()),
				Code:    ErrRequiredField,
			})
		}
		return out
	}
	name := nameOf(d)
	if _, local := ir.SplitName(name); validate.Var(local, "symbol") != nil {
		out = append(out, ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%q is not a valid name", name),
			Code:    ErrInvalidName,
		})
	}
	return out
}

func nameOf(d any) string {
	switch d := d.(type) {
	case ir.TemplateSpec:
		return d.Name
	case ir.RuleSpec:
		return d.Name
	case ir.ModuleSpec:
		return d.Name
	case ir.DeffactsSpec:
		return d.Name
	case ir.GlobalSpec:
		return d.Name
	}
	return ""
}

func validateModule(field string, m ir.ModuleSpec) []ValidationError {
	errs := structural(field, m)
	kinds := []string{ir.ConstructAll, ir.ConstructTemplate, ir.ConstructGlobal, ir.ConstructFunction}
	check := func(port string, ps []ir.PortSpec) {
		for i, p := range ps {
			if !slices.Contains(kinds, p.Construct) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.%s[%d]", field, port, i),
					Message: fmt.Sprintf("%q cannot be imported or exported", p.Construct),
					Code:    ErrInvalidPort,
				})
			}
		}
	}
	check("import", m.Imports)
	check("export", m.Exports)
	return errs
}

func validateTemplate(field string, t ir.TemplateSpec) []ValidationError {
	errs := structural(field, t)
	seen := map[string]bool{}
	for _, s := range t.Slots {
		sf := field + ".slots." + s.Name
		if seen[s.Name] {
			errs = append(errs, ValidationError{Field: sf, Message: "slot declared more than once", Code: ErrDuplicateSlot})
		}
		seen[s.Name] = true
		if r := s.Range; r != nil && r.Min != nil && r.Max != nil {
			if c, err := ir.Compare(r.Min, r.Max); err != nil || c > 0 {
				errs = append(errs, ValidationError{Field: sf + ".range", Message: fmt.Sprintf("minimum %v above maximum %v", r.Min, r.Max), Code: ErrInvalidBounds})
			}
		}
		if c := s.Cardinality; c != nil && c.Max >= 0 && c.Min > c.Max {
			errs = append(errs, ValidationError{Field: sf + ".cardinality", Message: fmt.Sprintf("minimum %d above maximum %d", c.Min, c.Max), Code: ErrInvalidBounds})
		}
		if s.Default.Mode == ir.DefaultStatic {
			errs = append(errs, checkStaticDefault(sf, s)...)
		}
	}
	return errs
}

// checkStaticDefault checks constant defaults against the slot's type and
// allowed values. Defaults computed by calls are checked at definition.
func checkStaticDefault(field string, s ir.SlotSpec) []ValidationError {
	var errs []ValidationError
	for _, x := range s.Default.Exprs {
		if x.Kind != ir.ExprConst || x.Value == nil {
			continue
		}
		v := x.Value
		switch {
		case !s.Types.Allows(v.Kind()):
			errs = append(errs, ValidationError{Field: field + ".default", Message: fmt.Sprintf("%v is not of type %v", v, s.Types), Code: ErrDefaultMismatch})
		case len(s.Allowed) > 0 && !slices.ContainsFunc(s.Allowed, func(a ir.Value) bool { return ir.Equal(a, v) }):
			errs = append(errs, ValidationError{Field: field + ".default", Message: fmt.Sprintf("%v is not an allowed value", v), Code: ErrDefaultMismatch})
		}
	}
	return errs
}

// validateRule checks a rule. templates, when set, is the program's
// template table for slot checks.
func validateRule(field string, r ir.RuleSpec, templates map[string]ir.TemplateSpec) []ValidationError {
	errs := structural(field, r)
	if r.Salience != nil && r.Salience.Kind == ir.ExprConst {
		if n, ok := r.Salience.Value.(ir.Integer); !ok || n < agenda.MinSalience || n > agenda.MaxSalience {
			errs = append(errs, ValidationError{
				Field:   field + ".salience",
				Message: fmt.Sprintf("salience %v must be an integer in [%d, %d]", r.Salience.Value, agenda.MinSalience, agenda.MaxSalience),
				Code:    ErrSalienceRange,
			})
		}
	}

	bound := map[string]bool{}
	negated := map[string]bool{}
	for i, c := range r.Conditions {
		cf := fmt.Sprintf("%s.when[%d]", field, i)
		switch c.Kind {
		case ir.CondTest:
			for _, v := range c.Test.Variables() {
				if !bound[v] {
					errs = append(errs, ValidationError{Field: cf, Message: fmt.Sprintf("test uses ?%s before it is bound", v), Code: ErrUnboundPredicate})
				}
			}
			continue
		}
		if err := validate.Struct(c.Pattern); err != nil {
			errs = append(errs, ValidationError{Field: cf, Message: "pattern needs a template", Code: ErrRequiredField})
		}
		errs = append(errs, checkPatternSlots(cf, c.Pattern, templates)...)
		local := map[string]bool{}
		if c.Binding != "" {
			if bound[c.Binding] {
				errs = append(errs, ValidationError{Field: cf, Message: fmt.Sprintf("?%s is already bound", c.Binding), Code: ErrBindingVariable})
			}
		}
		for _, con := range patternConstraints(c.Pattern) {
			for _, x := range slices.Concat(con.Predicates, con.Equals) {
				for _, v := range x.Variables() {
					if !bound[v] && !local[v] && v != con.Var {
						errs = append(errs, ValidationError{Field: cf, Message: fmt.Sprintf("predicate uses ?%s before it is bound", v), Code: ErrUnboundPredicate})
					}
				}
			}
			if con.Var != "" {
				if con.Var == c.Binding {
					errs = append(errs, ValidationError{Field: cf, Message: fmt.Sprintf("?%s binds both a fact and a field", con.Var), Code: ErrBindingVariable})
				}
				local[con.Var] = true
			}
		}
		for v := range local {
			if c.Kind == ir.CondPattern {
				bound[v] = true
			} else if !bound[v] {
				negated[v] = true
			}
		}
		if c.Kind == ir.CondPattern && c.Binding != "" {
			bound[c.Binding] = true
		}
	}

	assigned := actionLocals(r.Actions)
	for i, a := range r.Actions {
		af := fmt.Sprintf("%s.then[%d]", field, i)
		for _, v := range a.Variables() {
			v, _, _ = strings.Cut(v, ":")
			switch {
			case bound[v] || assigned[v]:
			case negated[v]:
				errs = append(errs, ValidationError{Field: af, Message: fmt.Sprintf("?%s is bound only inside a negated pattern", v), Code: ErrNegatedVariable})
			default:
				errs = append(errs, ValidationError{Field: af, Message: fmt.Sprintf("?%s is not bound", v), Code: ErrUnboundVariable})
			}
		}
	}
	return errs
}

// actionLocals collects the variables actions introduce themselves: bind
// targets, loop variables with their -index companions and fact-set
// query variables.
func actionLocals(actions []ir.Expr) map[string]bool {
	out := map[string]bool{}
	for _, a := range actions {
		var visit func(x ir.Expr)
		visit = func(x ir.Expr) {
			if x.Kind == ir.ExprCall && len(x.Args) > 0 {
				first := x.Args[0]
				if first.IsGroup() {
					for _, m := range first.Args {
						if m.IsGroup() && len(m.Args) > 0 && m.Args[0].Kind == ir.ExprVar {
							out[m.Args[0].Name] = true
						}
					}
				}
				if first.Kind == ir.ExprVar || first.Kind == ir.ExprMultiVar {
					switch x.Name {
					case "bind":
						out[first.Name] = true
					case "foreach", "progn$":
						out[first.Name] = true
						out[first.Name+"-index"] = true
					}
				}
			}
			for _, y := range x.Args {
				visit(y)
			}
			for _, s := range x.Slots {
				for _, y := range s.Values {
					visit(y)
				}
			}
		}
		visit(a)
	}
	return out
}

func patternConstraints(p ir.Pattern) []ir.Constraint {
	out := slices.Clone(p.Fields)
	for _, s := range p.Slots {
		out = append(out, s.Fields...)
	}
	return out
}

func checkPatternSlots(field string, p ir.Pattern, templates map[string]ir.TemplateSpec) []ValidationError {
	if templates == nil || len(p.Slots) == 0 {
		return nil
	}
	t, ok := templates[p.Template]
	if !ok {
		return []ValidationError{{Field: field, Message: fmt.Sprintf("template %s is not declared", p.Template), Code: ErrUnknownTemplate}}
	}
	var errs []ValidationError
	for _, s := range p.Slots {
		if !hasSlot(t, s.Slot) {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("template %s has no slot %s", t.Name, s.Slot), Code: ErrUnknownSlot})
		}
	}
	return errs
}

func hasSlot(t ir.TemplateSpec, name string) bool {
	return slices.ContainsFunc(t.Slots, func(s ir.SlotSpec) bool { return s.Name == name })
}

// checkFacts checks templated fact literals against the program's
// templates.
func checkFacts(field string, facts []ir.Expr, templates map[string]ir.TemplateSpec) []ValidationError {
	var errs []ValidationError
	for _, f := range facts {
		if len(f.Slots) == 0 {
			continue
		}
		t, ok := templates[f.Name]
		if !ok {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("template %s is not declared", f.Name), Code: ErrUnknownTemplate})
			continue
		}
		for _, s := range f.Slots {
			if !hasSlot(t, s.Name) {
				errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("template %s has no slot %s", t.Name, s.Name), Code: ErrUnknownSlot})
			}
		}
	}
	return errs
}

func validateProgram(p *Program) []ValidationError {
	var errs []ValidationError
	modules := map[string]bool{ir.MainModule: true}
	for _, m := range p.Modules {
		f := "module." + m.Name
		errs = append(errs, validateModule(f, m)...)
		if modules[m.Name] && m.Name != ir.MainModule {
			errs = append(errs, ValidationError{Field: f, Message: "module declared more than once", Code: ErrDuplicateName})
		}
		for _, imp := range m.Imports {
			if !modules[imp.Module] {
				errs = append(errs, ValidationError{Field: f, Message: fmt.Sprintf("imports from undeclared module %s", imp.Module), Code: ErrUnknownModule})
			}
		}
		modules[m.Name] = true
	}
	checkModule := func(field, mod string) {
		if mod != "" && !modules[mod] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("module %s is not declared", mod), Code: ErrUnknownModule})
		}
	}

	templates := map[string]ir.TemplateSpec{}
	for _, t := range p.Templates {
		f := "template." + t.Name
		errs = append(errs, validateTemplate(f, t)...)
		checkModule(f, t.Module)
		if _, dup := templates[t.Name]; dup {
			errs = append(errs, ValidationError{Field: f, Message: "template declared more than once", Code: ErrDuplicateName})
		}
		templates[t.Name] = t
	}
	for _, g := range p.Globals {
		f := "global." + g.Name
		errs = append(errs, structural(f, g)...)
		checkModule(f, g.Module)
	}
	seen := map[string]bool{}
	for _, d := range p.Deffacts {
		f := "facts." + d.Name
		errs = append(errs, structural(f, d)...)
		checkModule(f, d.Module)
		if seen[d.Name] {
			errs = append(errs, ValidationError{Field: f, Message: "deffacts declared more than once", Code: ErrDuplicateName})
		}
		seen[d.Name] = true
		errs = append(errs, checkFacts(f, d.Facts, templates)...)
	}
	seen = map[string]bool{}
	for _, r := range p.Rules {
		f := "rule." + r.Name
		errs = append(errs, validateRule(f, r, templates)...)
		checkModule(f, r.Module)
		if seen[ir.QualifiedName(r.Module, r.Name)] {
			errs = append(errs, ValidationError{Field: f, Message: "rule declared more than once", Code: ErrDuplicateName})
		}
		seen[ir.QualifiedName(r.Module, r.Name)] = true
		for i, a := range r.Actions {
			errs = append(errs, checkFacts(fmt.Sprintf("%s.then[%d]", f, i), a.Facts(), templates)...)
		}
	}
	return errs
}
