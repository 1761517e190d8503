package module

import (
	"iter"

	"github.com/roach88/prodsys/internal/ir"
)

// Global is a defglobal variable.
type Global struct {
	spec  ir.GlobalSpec
	value ir.Value
	watch bool
}

// Name returns the qualified name, e.g. MAIN::limit.
func (g *Global) Name() string {
	return ir.QualifiedName(g.spec.Module, g.spec.Name)
}

// Module returns the owning module name.
func (g *Global) Module() string {
	return g.spec.Module
}

// Spec returns the descriptor the global was defined from.
func (g *Global) Spec() ir.GlobalSpec {
	return g.spec
}

// Value returns the current value.
func (g *Global) Value() ir.Value {
	return g.value
}

// Set replaces the current value.
func (g *Global) Set(v ir.Value) {
	g.value = v
}

// Watched reports whether changes to the global are traced.
func (g *Global) Watched() bool {
	return g.watch
}

// SetWatch toggles tracing of the global.
func (g *Global) SetWatch(on bool) {
	g.watch = on
}

// String returns the pretty-printed defglobal.
func (g *Global) String() string {
	return ir.FormatGlobal(g.spec)
}

// Globals is the defglobal registry of one engine.
type Globals struct {
	table  *Table
	list   []*Global
	byName map[string]*Global
	watch  bool
}

// NewGlobals creates an empty registry scoped by table.
func NewGlobals(table *Table) *Globals {
	return &Globals{table: table, byName: make(map[string]*Global)}
}

// Define adds a global in its module (the current module when unset) with
// an already evaluated initial value. Redefining a global replaces it.
func (gs *Globals) Define(spec ir.GlobalSpec, value ir.Value) (*Global, error) {
	if spec.Name == "" {
		return nil, ir.ParsingErrorf("defglobal requires a name")
	}
	if spec.Module == "" {
		spec.Module = gs.table.Current().Name()
	} else if _, ok := gs.table.Find(spec.Module); !ok {
		return nil, ir.NotFound(ir.ConstructModule, spec.Module)
	}
	q := ir.QualifiedName(spec.Module, spec.Name)
	if g, ok := gs.byName[q]; ok {
		g.spec = spec
		g.value = value
		return g, nil
	}
	g := &Global{spec: spec, value: value, watch: gs.watch}
	gs.list = append(gs.list, g)
	gs.byName[q] = g
	return g, nil
}

// Find resolves a global name from the current module.
func (gs *Globals) Find(name string) (*Global, error) {
	q, err := gs.table.Resolve(ir.ConstructGlobal, name, func(q string) bool {
		_, ok := gs.byName[q]
		return ok
	})
	if err != nil {
		return nil, err
	}
	return gs.byName[q], nil
}

// Undefine removes a global.
func (gs *Globals) Undefine(name string) error {
	g, err := gs.Find(name)
	if err != nil {
		return err
	}
	delete(gs.byName, g.Name())
	for i, x := range gs.list {
		if x == g {
			gs.list = append(gs.list[:i], gs.list[i+1:]...)
			break
		}
	}
	return nil
}

// Reset re-evaluates every global's initial expression.
func (gs *Globals) Reset(eval func(ir.Expr) (ir.Value, error)) error {
	for _, g := range gs.list {
		v, err := eval(g.spec.Value)
		if err != nil {
			return err
		}
		g.value = v
	}
	return nil
}

// Clear removes every global.
func (gs *Globals) Clear() {
	gs.list = nil
	gs.byName = make(map[string]*Global)
}

// SetWatch sets the watch flag on every current and future global.
func (gs *Globals) SetWatch(on bool) {
	gs.watch = on
	for _, g := range gs.list {
		g.watch = on
	}
}

// All iterates globals in definition order.
func (gs *Globals) All() iter.Seq[*Global] {
	return func(yield func(*Global) bool) {
		for _, g := range gs.list {
			if !yield(g) {
				return
			}
		}
	}
}
