package engine

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/rete"
)

// Func implements a function callable from rule actions and expressions.
// Arguments arrive evaluated, with multifield variables spliced in.
type Func func(ctx *Context, args []ir.Value) (ir.Value, error)

// specialForm receives its call unevaluated.
type specialForm func(ctx *Context, call ir.Expr) (ir.Value, error)

// Function is a registered function.
type Function struct {
	name    string
	min     int
	max     int
	fn      Func
	special specialForm
	builtin bool
}

// Name returns the function name.
func (f *Function) Name() string { return f.name }

// Arity returns the argument count bounds; max < 0 is unbounded.
func (f *Function) Arity() (min, max int) { return f.min, f.max }

// Builtin reports whether the function is part of the builtin library.
func (f *Function) Builtin() bool { return f.builtin }

func (f *Function) checkArity(n int) error {
	if n < f.min {
		return ir.Errorf(ir.KindProcessing, "function %s expected at least %d argument(s), got %d", f.name, f.min, n)
	}
	if f.max >= 0 && n > f.max {
		return ir.Errorf(ir.KindProcessing, "function %s expected at most %d argument(s), got %d", f.name, f.max, n)
	}
	return nil
}

type functionTable struct {
	list   []*Function
	byName map[string]*Function
}

func newFunctionTable() *functionTable {
	return &functionTable{byName: make(map[string]*Function)}
}

func (t *functionTable) add(f *Function) {
	if old, ok := t.byName[f.name]; ok {
		i := slices.Index(t.list, old)
		t.list[i] = f
	} else {
		t.list = append(t.list, f)
	}
	t.byName[f.name] = f
}

func (t *functionTable) builtin(name string, min, max int, fn Func) {
	t.add(&Function{name: name, min: min, max: max, fn: fn, builtin: true})
}

func (t *functionTable) form(name string, min, max int, fn specialForm) {
	t.add(&Function{name: name, min: min, max: max, special: fn, builtin: true})
}

func (t *functionTable) remove(name string) {
	f, ok := t.byName[name]
	if !ok {
		return
	}
	delete(t.byName, name)
	t.list = slices.DeleteFunc(t.list, func(x *Function) bool { return x == f })
}

// DefineFunction registers a user function callable as (name args...).
// Builtin functions cannot be replaced; a user function may be redefined.
func (e *Environment) DefineFunction(name string, min, max int, fn Func) error {
	if name == "" || fn == nil {
		return ir.ParsingErrorf("function requires a name and an implementation")
	}
	if old, ok := e.funcs.byName[name]; ok && old.builtin {
		return ir.Duplicate(ir.ConstructFunction, name)
	}
	e.funcs.add(&Function{name: name, min: min, max: max, fn: fn})
	return nil
}

// UndefineFunction removes a user function.
func (e *Environment) UndefineFunction(name string) error {
	f, ok := e.funcs.byName[name]
	if !ok {
		return ir.NotFound(ir.ConstructFunction, name)
	}
	if f.builtin {
		return ir.InUse(ir.ConstructFunction, name, "the builtin library")
	}
	e.funcs.remove(name)
	return nil
}

// FindFunction looks up a function by name.
func (e *Environment) FindFunction(name string) (*Function, bool) {
	f, ok := e.funcs.byName[name]
	return f, ok
}

// Functions iterates builtin and user functions in registration order.
func (e *Environment) Functions() iter.Seq[*Function] {
	return func(yield func(*Function) bool) {
		for _, f := range slices.Clone(e.funcs.list) {
			if !yield(f) {
				return
			}
		}
	}
}

// Context is the evaluation context of an expression: the environment,
// the variables of the rule being fired (if any) and the variables bound
// by the actions themselves.
type Context struct {
	env      *Environment
	rule     *rete.Rule
	bindings rete.Bindings
	locals   map[string]ir.Value
}

// Env returns the environment.
func (c *Context) Env() *Environment { return c.env }

// Rule returns the qualified name of the firing rule, or "".
func (c *Context) Rule() string {
	if c.rule == nil {
		return ""
	}
	return c.rule.Name()
}

// Lookup resolves a variable: action bindings first, then the match.
func (c *Context) Lookup(name string) (ir.Value, bool) {
	if v, ok := c.locals[name]; ok {
		return v, true
	}
	if c.bindings != nil {
		return c.bindings.Lookup(name)
	}
	return nil, false
}

// Bind sets an action variable.
func (c *Context) Bind(name string, v ir.Value) {
	if c.locals == nil {
		c.locals = make(map[string]ir.Value)
	}
	c.locals[name] = v
}

func (c *Context) unbind(name string) {
	delete(c.locals, name)
}

// Eval evaluates an expression in this context.
func (c *Context) Eval(x ir.Expr) (ir.Value, error) {
	switch x.Kind {
	case ir.ExprConst:
		if x.Value == nil {
			return ir.Nil, nil
		}
		return x.Value, nil
	case ir.ExprVar, ir.ExprMultiVar:
		v, ok := c.Lookup(x.Name)
		if ok {
			return v, nil
		}
		if v, found, err := c.factSlotRef(x.Name); found {
			return v, err
		}
		return nil, ir.Errorf(ir.KindProcessing, "variable ?%s is unbound", x.Name)
	case ir.ExprGlobal:
		g, err := c.env.globals.Find(x.Name)
		if err != nil {
			return nil, err
		}
		return g.Value(), nil
	case ir.ExprCall:
		return c.call(x)
	case ir.ExprFact:
		return nil, ir.Errorf(ir.KindProcessing, "fact %s can only appear in assert", x)
	}
	return nil, ir.Errorf(ir.KindNetworkConsistency, "unknown expression kind %d", x.Kind)
}

func (c *Context) call(x ir.Expr) (ir.Value, error) {
	f, ok := c.env.funcs.byName[x.Name]
	if !ok {
		return nil, ir.NotFound(ir.ConstructFunction, x.Name)
	}
	if f.special != nil {
		if err := f.checkArity(len(x.Args)); err != nil {
			return nil, err
		}
		return f.special(c, x)
	}
	args, err := c.evalArgs(x.Args)
	if err != nil {
		return nil, err
	}
	if err := f.checkArity(len(args)); err != nil {
		return nil, err
	}
	v, err := f.fn(c, args)
	if err != nil {
		var ie *ir.Error
		if errors.As(err, &ie) || errors.Is(err, errBreak) {
			return nil, err
		}
		return nil, ir.Processing(x.Name, err)
	}
	if v == nil {
		return ir.Nil, nil
	}
	return v, nil
}

// evalArgs evaluates call arguments, splicing multifield variables.
func (c *Context) evalArgs(exprs []ir.Expr) ([]ir.Value, error) {
	out := make([]ir.Value, 0, len(exprs))
	for _, a := range exprs {
		v, err := c.Eval(a)
		if err != nil {
			return nil, err
		}
		if m, ok := v.(ir.Multifield); ok && a.Kind == ir.ExprMultiVar {
			out = append(out, m...)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Eval evaluates an expression outside any rule. It implements the
// template registry's evaluator for default values.
func (e *Environment) Eval(x ir.Expr) (ir.Value, error) {
	ctx := &Context{env: e}
	return ctx.Eval(x)
}

// EvalWith evaluates an expression against match bindings. It implements
// the network's evaluator for predicate, return-value and test conditions.
func (e *Environment) EvalWith(x ir.Expr, b rete.Bindings) (ir.Value, error) {
	ctx := &Context{env: e, bindings: b}
	if t, ok := b.(*rete.Token); ok {
		ctx.rule = t.Rule()
	}
	return ctx.Eval(x)
}

// Call invokes a function by name with already evaluated arguments.
func (e *Environment) Call(name string, args ...ir.Value) (ir.Value, error) {
	exprs := make([]ir.Expr, len(args))
	for i, a := range args {
		exprs[i] = ir.Const(a)
	}
	return e.Eval(ir.Call(name, exprs...))
}

// factSpec evaluates a fact literal into a descriptor.
func (c *Context) factSpec(x ir.Expr) (ir.FactSpec, error) {
	if x.Kind != ir.ExprFact {
		return ir.FactSpec{}, ir.Errorf(ir.KindProcessing, "expected a fact, got %s", x)
	}
	spec := ir.FactSpec{Template: x.Name}
	if len(x.Args) > 0 {
		vals, err := c.evalArgs(x.Args)
		if err != nil {
			return ir.FactSpec{}, err
		}
		spec.Values = vals
	}
	for _, s := range x.Slots {
		v, err := c.slotValue(s)
		if err != nil {
			return ir.FactSpec{}, fmt.Errorf("slot %s: %w", s.Name, err)
		}
		spec.Slots = append(spec.Slots, ir.SlotValue{Name: s.Name, Value: v})
	}
	return spec, nil
}

// slotValue evaluates the expressions of one slot. Several values, or a
// spliced multifield variable, yield a multifield.
func (c *Context) slotValue(s ir.SlotExpr) (ir.Value, error) {
	vals, err := c.evalArgs(s.Values)
	if err != nil {
		return nil, err
	}
	if len(s.Values) == 1 && s.Values[0].Kind != ir.ExprMultiVar {
		return vals[0], nil
	}
	return ir.Multi(vals...), nil
}

func (c *Context) slotUpdates(slots []ir.SlotExpr) ([]ir.SlotValue, error) {
	out := make([]ir.SlotValue, 0, len(slots))
	for _, s := range slots {
		v, err := c.slotValue(s)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", s.Name, err)
		}
		out = append(out, ir.SlotValue{Name: s.Name, Value: v})
	}
	return out, nil
}
