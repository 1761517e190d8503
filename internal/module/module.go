package module

import (
	"iter"
	"slices"
	"strings"

	"github.com/roach88/prodsys/internal/ir"
)

// Module is a named namespace for constructs.
type Module struct {
	spec    ir.ModuleSpec
	imports []importEntry
	// explicit is false for the MAIN module created by NewTable until a
	// defmodule for MAIN replaces it.
	explicit bool
}

// importEntry is one resolved row of the visibility table.
type importEntry struct {
	from *Module
	port ir.PortSpec
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.spec.Name
}

// Spec returns the descriptor the module was defined from.
func (m *Module) Spec() ir.ModuleSpec {
	return m.spec
}

// String returns the pretty-printed defmodule.
func (m *Module) String() string {
	return ir.FormatModule(m.spec)
}

// Exports reports whether the module exports the named construct.
func (m *Module) Exports(construct, name string) bool {
	for _, p := range m.spec.Exports {
		if covers(p, construct, name) {
			return true
		}
	}
	return false
}

// exportsKind reports whether the module exports any construct of a kind.
func (m *Module) exportsKind(construct string) bool {
	for _, p := range m.spec.Exports {
		if p.Construct == "" || p.Construct == ir.ConstructAll || p.Construct == construct {
			return true
		}
	}
	return false
}

func covers(p ir.PortSpec, construct, name string) bool {
	if p.Construct == "" || p.Construct == ir.ConstructAll {
		return true
	}
	if p.Construct != construct {
		return false
	}
	return len(p.Names) == 0 || slices.Contains(p.Names, name)
}

// Table holds every module of an engine and tracks the current one.
type Table struct {
	modules []*Module
	byName  map[string]*Module
	current *Module
}

// NewTable creates a table containing only MAIN, which is current.
func NewTable() *Table {
	t := &Table{}
	t.Clear()
	return t
}

// Clear drops every module and recreates MAIN.
func (t *Table) Clear() {
	main := &Module{spec: ir.ModuleSpec{Name: ir.MainModule}}
	t.modules = []*Module{main}
	t.byName = map[string]*Module{ir.MainModule: main}
	t.current = main
}

// Define validates and adds a module, which becomes current.
//
// Every import must name a defined module that exports the imported
// constructs. MAIN may be defined once to declare its ports.
func (t *Table) Define(spec ir.ModuleSpec) (*Module, error) {
	if spec.Name == "" || strings.Contains(spec.Name, "::") {
		return nil, ir.ParsingErrorf("invalid module name %q", spec.Name)
	}
	existing, ok := t.byName[spec.Name]
	if ok && (existing.explicit || spec.Name != ir.MainModule) {
		return nil, ir.Duplicate(ir.ConstructModule, spec.Name)
	}

	imports := make([]importEntry, 0, len(spec.Imports))
	for _, p := range spec.Imports {
		from, ok := t.byName[p.Module]
		if !ok {
			return nil, ir.ParsingErrorf("module %s imports from undefined module %s", spec.Name, p.Module)
		}
		if from.Name() == spec.Name {
			return nil, ir.ParsingErrorf("module %s cannot import from itself", spec.Name)
		}
		if err := checkExported(from, p); err != nil {
			return nil, err
		}
		imports = append(imports, importEntry{from: from, port: p})
	}

	if ok {
		existing.spec = spec
		existing.imports = imports
		existing.explicit = true
		t.current = existing
		return existing, nil
	}

	m := &Module{spec: spec, imports: imports, explicit: true}
	t.modules = append(t.modules, m)
	t.byName[spec.Name] = m
	t.current = m
	return m, nil
}

func checkExported(from *Module, p ir.PortSpec) error {
	construct := p.Construct
	if construct == "" || construct == ir.ConstructAll {
		if len(from.spec.Exports) == 0 {
			return ir.ParsingErrorf("module %s exports no constructs", from.Name())
		}
		return nil
	}
	if len(p.Names) == 0 {
		if !from.exportsKind(construct) {
			return ir.ParsingErrorf("module %s does not export %s constructs", from.Name(), construct)
		}
		return nil
	}
	for _, n := range p.Names {
		if !from.Exports(construct, n) {
			return ir.ParsingErrorf("module %s does not export %s %s", from.Name(), construct, n)
		}
	}
	return nil
}

// Find looks up a module by name.
func (t *Table) Find(name string) (*Module, bool) {
	m, ok := t.byName[name]
	return m, ok
}

// Current returns the current module.
func (t *Table) Current() *Module {
	return t.current
}

// SetCurrent makes the named module current and returns the previous one.
func (t *Table) SetCurrent(name string) (*Module, error) {
	m, ok := t.byName[name]
	if !ok {
		return nil, ir.NotFound(ir.ConstructModule, name)
	}
	prev := t.current
	t.current = m
	return prev, nil
}

// Modules iterates modules in definition order.
func (t *Table) Modules() iter.Seq[*Module] {
	return func(yield func(*Module) bool) {
		for _, m := range t.modules {
			if !yield(m) {
				return
			}
		}
	}
}

// Qualify returns name qualified with the current module unless it is
// already qualified.
func (t *Table) Qualify(name string) string {
	if mod, _ := ir.SplitName(name); mod != "" {
		return name
	}
	return ir.QualifiedName(t.current.Name(), name)
}

// Resolve finds the qualified name a construct reference denotes from the
// current module. exists reports whether a qualified name is defined.
//
// A qualified reference (MOD::name) is taken as is. Otherwise the current
// module is searched first and then each import in declaration order.
func (t *Table) Resolve(construct, name string, exists func(qualified string) bool) (string, error) {
	return t.ResolveFrom(t.current, construct, name, exists)
}

// ResolveFrom is Resolve with an explicit starting module.
func (t *Table) ResolveFrom(from *Module, construct, name string, exists func(qualified string) bool) (string, error) {
	mod, local := ir.SplitName(name)
	if mod != "" {
		if _, ok := t.byName[mod]; !ok {
			return "", ir.NotFound(ir.ConstructModule, mod)
		}
		if exists(name) {
			return name, nil
		}
		return "", ir.NotFound(construct, name)
	}
	if q := ir.QualifiedName(from.Name(), local); exists(q) {
		return q, nil
	}
	for _, e := range from.imports {
		if !covers(e.port, construct, local) || !e.from.Exports(construct, local) {
			continue
		}
		if q := ir.QualifiedName(e.from.Name(), local); exists(q) {
			return q, nil
		}
	}
	return "", ir.NotFound(construct, local)
}

// Visible reports whether a construct defined under a qualified name can
// be seen from module from.
func (t *Table) Visible(from *Module, construct, qualified string) bool {
	mod, local := ir.SplitName(qualified)
	if mod == "" || mod == from.Name() {
		return true
	}
	for _, e := range from.imports {
		if e.from.Name() == mod && covers(e.port, construct, local) && e.from.Exports(construct, local) {
			return true
		}
	}
	return false
}
