package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/ir"
)

// CompileFiles compiles each CUE file on its own and merges the programs
// in argument order. Templates defined in any file shape the fact
// literals of every file.
func CompileFiles(paths ...string) (*Program, error) {
	ctx := cuecontext.New()
	values := make([]cue.Value, len(paths))
	templates := map[string]bool{}
	for i, path := range paths {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		values[i] = ctx.CompileBytes(src, cue.Filename(path))
		// Errors surface when the file is compiled below.
		_ = eachField(values[i], sectionTemplate, func(name string, _ cue.Value) error {
			_, local := ir.SplitName(name)
			templates[local] = true
			return nil
		})
	}

	merged := &Program{}
	for _, v := range values {
		prog, err := compileValue(v, templates)
		if err != nil {
			return nil, err
		}
		merged.Merge(prog)
	}
	return merged, nil
}

// Merge appends the constructs of other to p, keeping declaration order
// within each kind.
func (p *Program) Merge(other *Program) {
	p.Modules = append(p.Modules, other.Modules...)
	p.Templates = append(p.Templates, other.Templates...)
	p.Globals = append(p.Globals, other.Globals...)
	p.Deffacts = append(p.Deffacts, other.Deffacts...)
	p.Rules = append(p.Rules, other.Rules...)
}

// Constructs renders every construct in construct syntax: modules,
// templates, globals, deffacts, then rules.
func (p *Program) Constructs() []string {
	out := make([]string, 0, p.Len())
	for _, m := range p.Modules {
		out = append(out, ir.FormatModule(m))
	}
	for _, t := range p.Templates {
		out = append(out, ir.FormatTemplate(t))
	}
	for _, g := range p.Globals {
		out = append(out, ir.FormatGlobal(g))
	}
	for _, d := range p.Deffacts {
		out = append(out, ir.FormatDeffacts(d))
	}
	for _, r := range p.Rules {
		out = append(out, ir.FormatRule(r))
	}
	return out
}

// Hash identifies the program by its construct text.
func (p *Program) Hash() string {
	return ir.RuleSetHash(p.Constructs())
}

// LoadProgram validates prog and installs it in env.
func LoadProgram(env *engine.Environment, prog *Program) error {
	if errs := Validate(prog); len(errs) > 0 {
		return ValidationErrors(errs)
	}
	return Install(env, prog)
}
