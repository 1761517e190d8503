package compiler

import (
	"fmt"

	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/ir"
)

// Install defines every construct of a program in env: modules first,
// then templates, globals, deffacts and rules. Each construct is defined
// with its own module current; MAIN is current afterwards. Install stops
// at the first failure and leaves what was already defined in place.
func Install(env *engine.Environment, prog *Program) error {
	for _, m := range prog.Modules {
		if _, err := env.DefineModule(m); err != nil {
			return fmt.Errorf("module %s: %w", m.Name, err)
		}
	}
	defer func() { _, _ = env.SetCurrentModule(ir.MainModule) }()

	in := func(mod string, fn func() error) error {
		if mod == "" {
			mod = ir.MainModule
		}
		if _, err := env.SetCurrentModule(mod); err != nil {
			return err
		}
		return fn()
	}
	for _, t := range prog.Templates {
		if err := in(t.Module, func() error {
			_, err := env.DefineTemplate(t)
			return err
		}); err != nil {
			return fmt.Errorf("template %s: %w", t.Name, err)
		}
	}
	for _, g := range prog.Globals {
		if err := in(g.Module, func() error {
			_, err := env.DefineGlobal(g)
			return err
		}); err != nil {
			return fmt.Errorf("global %s: %w", g.Name, err)
		}
	}
	for _, d := range prog.Deffacts {
		if err := in(d.Module, func() error {
			_, err := env.DefineDeffacts(d)
			return err
		}); err != nil {
			return fmt.Errorf("deffacts %s: %w", d.Name, err)
		}
	}
	for _, r := range prog.Rules {
		if err := in(r.Module, func() error {
			_, err := env.DefineRule(r)
			return err
		}); err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
	}
	return nil
}

// Load compiles CUE source and installs it in env after validation.
// Validation problems are returned joined as one error.
func Load(env *engine.Environment, src, filename string) (*Program, error) {
	prog, err := CompileString(src, filename)
	if err != nil {
		return nil, err
	}
	if errs := Validate(prog); len(errs) > 0 {
		return prog, ValidationErrors(errs)
	}
	return prog, Install(env, prog)
}

// Eval parses one expression and evaluates it in env, as the command
// line does for (eval "...").
func Eval(env *engine.Environment, src string) (ir.Value, error) {
	p := &parser{templates: map[string]bool{}}
	for t := range env.Templates() {
		if !t.Implied() {
			p.templates[t.Relation()] = true
		}
	}
	x, err := p.expr(src)
	if err != nil {
		return nil, err
	}
	return env.Eval(x)
}

// ValidationErrors reports several validation problems as one error.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return v[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", v[0].Error(), len(v)-1)
}

// Unwrap lets errors.Is match the PARSING kind.
func (v ValidationErrors) Unwrap() error { return ir.ErrParsing }
