package engine

import (
	"errors"

	"github.com/roach88/prodsys/internal/ir"
)

// errBreak unwinds the innermost loop. Outside a loop it ends the
// current rule's actions without error.
var errBreak = errors.New("break")

func registerControl(t *functionTable) {
	t.form("bind", 1, -1, bindForm)
	t.form("if", 2, -1, ifForm)
	t.form("while", 1, -1, whileForm)
	t.form("progn", 0, -1, func(ctx *Context, call ir.Expr) (ir.Value, error) {
		return ctx.sequence(call.Args)
	})
	t.form("foreach", 2, -1, foreachForm)
	t.form("progn$", 2, -1, foreachForm)
	t.form("and", 1, -1, func(ctx *Context, call ir.Expr) (ir.Value, error) {
		for _, a := range call.Args {
			v, err := ctx.Eval(a)
			if err != nil {
				return nil, err
			}
			if !ir.Truthy(v) {
				return ir.False, nil
			}
		}
		return ir.True, nil
	})
	t.form("or", 1, -1, func(ctx *Context, call ir.Expr) (ir.Value, error) {
		for _, a := range call.Args {
			v, err := ctx.Eval(a)
			if err != nil {
				return nil, err
			}
			if ir.Truthy(v) {
				return ir.True, nil
			}
		}
		return ir.False, nil
	})
	t.builtin("break", 0, 0, func(*Context, []ir.Value) (ir.Value, error) {
		return nil, errBreak
	})
}

func isMarker(x ir.Expr, word string) bool {
	if x.Kind != ir.ExprConst {
		return false
	}
	s, ok := x.Value.(ir.Symbol)
	return ok && s.Text() == word
}

// sequence evaluates expressions in order and returns the last value.
func (c *Context) sequence(body []ir.Expr) (ir.Value, error) {
	var last ir.Value = ir.False
	for _, x := range body {
		v, err := c.Eval(x)
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}

// bindForm sets a local variable or a global. Several values bind a
// multifield; no value unbinds a local or restores a global's initial value.
func bindForm(ctx *Context, call ir.Expr) (ir.Value, error) {
	target := call.Args[0]
	vals, err := ctx.evalArgs(call.Args[1:])
	if err != nil {
		return nil, err
	}
	var v ir.Value
	switch {
	case len(vals) == 1 && call.Args[1].Kind != ir.ExprMultiVar:
		v = vals[0]
	case len(call.Args) > 1:
		v = ir.Multi(vals...)
	}
	switch target.Kind {
	case ir.ExprVar, ir.ExprMultiVar:
		if v == nil {
			ctx.unbind(target.Name)
			return ir.False, nil
		}
		ctx.Bind(target.Name, v)
		return v, nil
	case ir.ExprGlobal:
		g, err := ctx.env.globals.Find(target.Name)
		if err != nil {
			return nil, err
		}
		if v == nil {
			if v, err = ctx.env.Eval(g.Spec().Value); err != nil {
				return nil, err
			}
		}
		ctx.env.setGlobal(g, v)
		return v, nil
	}
	return nil, ir.Errorf(ir.KindProcessing, "bind expected a variable, got %s", target)
}

// ifForm evaluates (if cond then a... else b...).
func ifForm(ctx *Context, call ir.Expr) (ir.Value, error) {
	cond, err := ctx.Eval(call.Args[0])
	if err != nil {
		return nil, err
	}
	rest := call.Args[1:]
	if len(rest) > 0 && isMarker(rest[0], "then") {
		rest = rest[1:]
	}
	thenPart, elsePart := rest, []ir.Expr(nil)
	for i, x := range rest {
		if isMarker(x, "else") {
			thenPart, elsePart = rest[:i], rest[i+1:]
			break
		}
	}
	if ir.Truthy(cond) {
		return ctx.sequence(thenPart)
	}
	return ctx.sequence(elsePart)
}

// whileForm evaluates (while cond do body...).
func whileForm(ctx *Context, call ir.Expr) (ir.Value, error) {
	body := call.Args[1:]
	if len(body) > 0 && isMarker(body[0], "do") {
		body = body[1:]
	}
	for {
		cond, err := ctx.Eval(call.Args[0])
		if err != nil {
			return nil, err
		}
		if !ir.Truthy(cond) {
			return ir.False, nil
		}
		if _, err := ctx.sequence(body); err != nil {
			if errors.Is(err, errBreak) {
				return ir.False, nil
			}
			return nil, err
		}
	}
}

// foreachForm evaluates (foreach ?x multifield do body...), binding ?x
// and ?x-index on each iteration.
func foreachForm(ctx *Context, call ir.Expr) (ir.Value, error) {
	target := call.Args[0]
	if target.Kind != ir.ExprVar {
		return nil, ir.Errorf(ir.KindProcessing, "%s expected a loop variable, got %s", call.Name, target)
	}
	list, err := ctx.Eval(call.Args[1])
	if err != nil {
		return nil, err
	}
	items, ok := list.(ir.Multifield)
	if !ok {
		items = ir.Multi(list)
	}
	body := call.Args[2:]
	if len(body) > 0 && isMarker(body[0], "do") {
		body = body[1:]
	}
	index := target.Name + "-index"
	defer func() {
		ctx.unbind(target.Name)
		ctx.unbind(index)
	}()
	var last ir.Value = ir.False
	for i, item := range items {
		ctx.Bind(target.Name, item)
		ctx.Bind(index, ir.Integer(i+1))
		v, err := ctx.sequence(body)
		if errors.Is(err, errBreak) {
			break
		}
		if err != nil {
			return nil, err
		}
		last = v
	}
	return last, nil
}
