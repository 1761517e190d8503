// Package script defines engine functions written in JavaScript.
//
// A script is a function expression, such as
//
//	function (a, b) { return a * b }
//
// registered under a name with Define. Rule actions then call it like
// any other function: (area ?w ?h). Each definition gets its own goja
// runtime.
//
// Inside a script:
//
//	sym(text)            makes a symbol (plain strings are STRING values)
//	print(args...)       writes to the stdout router
//	assert(rel, vals...) asserts an ordered fact and returns its index
//
// Arguments arrive as plain JavaScript values: numbers, strings (symbols
// lose their type), booleans and arrays for multifields. A number without
// a fraction comes back as an INTEGER; undefined and null come back as
// the symbol nil.
package script

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/router"
)

// ErrTimeout is returned when a script runs longer than its timeout.
var ErrTimeout = errors.New("script timeout")

// Option configures a script function.
type Option func(*config)

type config struct {
	min, max int
	timeout  time.Duration
}

// WithArity bounds the argument count; max -1 means unbounded.
func WithArity(min, max int) Option {
	return func(c *config) { c.min, c.max = min, max }
}

// WithTimeout interrupts a call that runs longer than d.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// function is one compiled script and the runtime it lives in.
type function struct {
	name    string
	vm      *goja.Runtime
	fn      goja.Callable
	timeout time.Duration
	ctx     *engine.Context
}

// Define compiles source and registers it in env as name.
func Define(env *engine.Environment, name, source string, opts ...Option) error {
	cfg := config{min: 0, max: -1}
	for _, opt := range opts {
		opt(&cfg)
	}

	prog, err := goja.Compile(name, "("+strings.TrimSpace(source)+"\n)", true)
	if err != nil {
		return ir.Errorf(ir.KindParsing, "script %s: %v", name, err)
	}
	vm := goja.New()
	v, err := vm.RunProgram(prog)
	if err != nil {
		return ir.Errorf(ir.KindParsing, "script %s: %v", name, err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return ir.Errorf(ir.KindParsing, "script %s: source is not a function expression", name)
	}

	f := &function{name: name, vm: vm, fn: fn, timeout: cfg.timeout}
	f.install()
	if err := env.DefineFunction(name, cfg.min, cfg.max, f.call); err != nil {
		return fmt.Errorf("script %s: %w", name, err)
	}
	env.Logger().Debug("script function defined", "function", name, "env", env.ID())
	return nil
}

// install adds the helper functions to the runtime.
func (f *function) install() {
	f.vm.Set("sym", func(text string) ir.Value {
		return ir.Sym(text)
	})
	f.vm.Set("print", func(call goja.FunctionCall) goja.Value {
		var b strings.Builder
		for _, a := range call.Arguments {
			b.WriteString(a.String())
		}
		if err := f.ctx.Env().Print(router.Stdout, b.String()); err != nil {
			panic(f.vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	f.vm.Set("assert", func(call goja.FunctionCall) goja.Value {
		rel := call.Argument(0).String()
		vals := make([]any, 0, len(call.Arguments))
		for _, a := range call.Arguments[1:] {
			v, err := fromJS(a)
			if err != nil {
				panic(f.vm.NewGoError(err))
			}
			vals = append(vals, v)
		}
		fact, err := f.ctx.Env().AssertValues(rel, vals...)
		if err != nil {
			panic(f.vm.NewGoError(err))
		}
		return f.vm.ToValue(fact.Index())
	})
}

func (f *function) call(ctx *engine.Context, args []ir.Value) (ir.Value, error) {
	prev := f.ctx
	f.ctx = ctx
	defer func() { f.ctx = prev }()

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = f.vm.ToValue(toJS(a))
	}

	if f.timeout > 0 {
		timer := time.AfterFunc(f.timeout, func() { f.vm.Interrupt(ErrTimeout) })
		defer func() {
			timer.Stop()
			f.vm.ClearInterrupt()
		}()
	}

	res, err := f.fn(goja.Undefined(), jsArgs...)
	if err != nil {
		var intr *goja.InterruptedError
		if errors.As(err, &intr) {
			return nil, ir.Processing(f.name, ErrTimeout)
		}
		return nil, ir.Processing(f.name, err)
	}
	v, err := fromJS(res)
	if err != nil {
		return nil, ir.Processing(f.name, err)
	}
	return v, nil
}

// toJS converts an engine value to a value goja exports naturally.
func toJS(v ir.Value) any {
	return ir.ToGo(v)
}

// fromJS converts a script result to an engine value.
func fromJS(v goja.Value) (ir.Value, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ir.Sym("nil"), nil
	}
	x := v.Export()
	if f, ok := x.(float64); ok && f == float64(int64(f)) {
		x = int64(f)
	}
	return ir.FromGo(x)
}
