package engine

import (
	"errors"

	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
)

func registerFactFunctions(t *functionTable) {
	t.form("assert", 1, -1, assertForm)
	t.form("modify", 1, 1, modifyForm)
	t.form("duplicate", 1, 1, duplicateForm)
	t.builtin("retract", 1, -1, retractFn)
	t.builtin("fact-index", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		f, err := ctx.env.factArg("fact-index", args[0])
		if err != nil {
			return nil, err
		}
		return ir.Integer(f.Index()), nil
	})
	t.builtin("fact-existp", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		_, err := ctx.env.factArg("fact-existp", args[0])
		if ir.IsKind(err, ir.KindTypeMismatch) {
			return nil, err
		}
		return boolValue(err == nil), nil
	})
	t.builtin("fact-relation", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		f, err := ctx.env.factArg("fact-relation", args[0])
		if err != nil {
			return ir.False, nil
		}
		return ir.Sym(f.Template().Relation()), nil
	})
	t.builtin("fact-slot-value", 2, 2, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		f, err := ctx.env.factArg("fact-slot-value", args[0])
		if err != nil {
			return nil, err
		}
		name, err := lexemeArg("fact-slot-value", 1, args[1])
		if err != nil {
			return nil, err
		}
		return f.Slot(name)
	})
	t.builtin("fact-slot-names", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		f, err := ctx.env.factArg("fact-slot-names", args[0])
		if err != nil {
			return nil, err
		}
		names := f.Template().SlotNames()
		out := make([]ir.Value, len(names))
		for i, n := range names {
			out[i] = ir.Sym(n)
		}
		return ir.Multi(out...), nil
	})
}

// assertForm asserts each fact literal and returns the address of the
// last one. A fact rejected as a duplicate yields FALSE.
func assertForm(ctx *Context, call ir.Expr) (ir.Value, error) {
	var last ir.Value = ir.False
	for _, x := range call.Args {
		spec, err := ctx.factSpec(x)
		if err != nil {
			return nil, err
		}
		f, err := ctx.env.assertQuiet(spec)
		if err != nil {
			return nil, err
		}
		if f == nil {
			last = ir.False
			continue
		}
		last = f.Address()
	}
	return last, nil
}

func modifyForm(ctx *Context, call ir.Expr) (ir.Value, error) {
	f, updates, err := slotCall(ctx, "modify", call)
	if err != nil {
		return nil, err
	}
	out, err := ctx.env.Modify(f, updates)
	var dup *facts.DuplicateError
	if errors.As(err, &dup) {
		return ir.False, nil
	}
	if err != nil {
		return nil, err
	}
	return out.Address(), nil
}

func duplicateForm(ctx *Context, call ir.Expr) (ir.Value, error) {
	f, updates, err := slotCall(ctx, "duplicate", call)
	if err != nil {
		return nil, err
	}
	out, err := ctx.env.Duplicate(f, updates)
	var dup *facts.DuplicateError
	if errors.As(err, &dup) {
		return ir.False, nil
	}
	if err != nil {
		return nil, err
	}
	return out.Address(), nil
}

// slotCall resolves the fact and slot updates of modify and duplicate.
func slotCall(ctx *Context, fn string, call ir.Expr) (*facts.Fact, []ir.SlotValue, error) {
	v, err := ctx.Eval(call.Args[0])
	if err != nil {
		return nil, nil, err
	}
	f, err := ctx.env.factArg(fn, v)
	if err != nil {
		return nil, nil, err
	}
	updates, err := ctx.slotUpdates(call.Slots)
	if err != nil {
		return nil, nil, err
	}
	return f, updates, nil
}

// retractFn retracts facts by address or index; * retracts every fact.
func retractFn(ctx *Context, args []ir.Value) (ir.Value, error) {
	for _, a := range args {
		if s, ok := a.(ir.Symbol); ok && s.Text() == "*" {
			if _, err := ctx.env.RetractAll(""); err != nil {
				return nil, err
			}
			continue
		}
		f, err := ctx.env.factArg("retract", a)
		if err != nil {
			return nil, err
		}
		if err := ctx.env.Retract(f); err != nil {
			return nil, err
		}
	}
	return ir.Nil, nil
}
