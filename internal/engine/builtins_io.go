package engine

import (
	"strconv"
	"strings"

	"github.com/roach88/prodsys/internal/agenda"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/router"
)

func registerAgendaFunctions(t *functionTable) {
	t.builtin("halt", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		ctx.env.Halt()
		return ir.Nil, nil
	})
	t.builtin("focus", 1, -1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		names := make([]string, len(args))
		for i, a := range args {
			s, err := lexemeArg("focus", i, a)
			if err != nil {
				return nil, err
			}
			names[i] = s
		}
		if err := ctx.env.Focus(names...); err != nil {
			return nil, err
		}
		return ir.True, nil
	})
	t.builtin("pop-focus", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		if mod := ctx.env.PopFocus(); mod != "" {
			return ir.Sym(mod), nil
		}
		return ir.False, nil
	})
	t.builtin("get-focus", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		if mod := ctx.env.agenda.CurrentFocus(); mod != "" {
			return ir.Sym(mod), nil
		}
		return ir.False, nil
	})
	t.builtin("get-focus-stack", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		return symbols(ctx.env.FocusStack()), nil
	})
	t.builtin("clear-focus-stack", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		ctx.env.agenda.ClearFocus()
		return ir.Nil, nil
	})
	t.builtin("refresh", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		name, err := lexemeArg("refresh", 0, args[0])
		if err != nil {
			return nil, err
		}
		if err := ctx.env.Refresh(name); err != nil {
			return nil, err
		}
		return ir.True, nil
	})
	t.builtin("refresh-agenda", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		ctx.env.RefreshAgenda()
		return ir.Nil, nil
	})
	t.builtin("set-strategy", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		name, err := lexemeArg("set-strategy", 0, args[0])
		if err != nil {
			return nil, err
		}
		s, err := agenda.ParseStrategy(name)
		if err != nil {
			return nil, err
		}
		return ir.Sym(ctx.env.SetStrategy(s).String()), nil
	})
	t.builtin("get-strategy", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		return ir.Sym(ctx.env.Strategy().String()), nil
	})
	t.builtin("set-salience-evaluation", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		name, err := lexemeArg("set-salience-evaluation", 0, args[0])
		if err != nil {
			return nil, err
		}
		m, err := agenda.ParseSalienceMode(name)
		if err != nil {
			return nil, err
		}
		return ir.Sym(ctx.env.SetSalienceEvaluation(m).String()), nil
	})
	t.builtin("get-salience-evaluation", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		return ir.Sym(ctx.env.SalienceEvaluation().String()), nil
	})
	t.builtin("set-fact-duplication", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		return boolValue(ctx.env.SetFactDuplication(ir.Truthy(args[0]))), nil
	})
	t.builtin("get-fact-duplication", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		return boolValue(ctx.env.FactDuplication()), nil
	})
	t.builtin("set-current-module", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		name, err := lexemeArg("set-current-module", 0, args[0])
		if err != nil {
			return nil, err
		}
		prev, err := ctx.env.SetCurrentModule(name)
		if err != nil {
			return nil, err
		}
		return ir.Sym(prev), nil
	})
	t.builtin("get-current-module", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		return ir.Sym(ctx.env.CurrentModule()), nil
	})
}

func registerIO(t *functionTable) {
	t.builtin("printout", 1, -1, printout)
	t.builtin("gensym", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		ctx.env.gensym++
		return ir.Sym("gen" + strconv.FormatInt(ctx.env.gensym, 10)), nil
	})
	t.builtin("setgen", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		n, err := intArg("setgen", 0, args[0])
		if err != nil {
			return nil, err
		}
		if n < 1 {
			return nil, ir.Errorf(ir.KindRange, "function setgen expected a positive integer, got %d", n)
		}
		ctx.env.gensym = n - 1
		return ir.Integer(n), nil
	})
	t.builtin("random", 0, 2, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		if len(args) == 0 {
			return ir.Integer(ctx.env.rng.Int32()), nil
		}
		if len(args) != 2 {
			return nil, ir.Errorf(ir.KindProcessing, "function random expected 0 or 2 arguments, got %d", len(args))
		}
		lo, err := intArg("random", 0, args[0])
		if err != nil {
			return nil, err
		}
		hi, err := intArg("random", 1, args[1])
		if err != nil {
			return nil, err
		}
		if hi < lo {
			return nil, ir.Errorf(ir.KindRange, "function random: %d is less than %d", hi, lo)
		}
		return ir.Integer(lo + ctx.env.rng.Int64N(hi-lo+1)), nil
	})
	t.builtin("facts", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		return ir.Nil, ctx.env.WriteFacts(ctx.env.writer(router.Stdout))
	})
	t.builtin("agenda", 0, 0, func(ctx *Context, _ []ir.Value) (ir.Value, error) {
		return ir.Nil, ctx.env.WriteAgenda(ctx.env.writer(router.Stdout))
	})
	t.builtin("matches", 1, 1, func(ctx *Context, args []ir.Value) (ir.Value, error) {
		name, err := lexemeArg("matches", 0, args[0])
		if err != nil {
			return nil, err
		}
		st, err := ctx.env.Matches(name)
		if err != nil {
			return nil, err
		}
		return ir.Nil, st.Write(ctx.env.writer(router.Stdout))
	})
	t.builtin("watch", 1, -1, watchFn(true))
	t.builtin("unwatch", 1, -1, watchFn(false))
	t.builtin("ppdefrule", 1, 1, ppFn(ir.ConstructRule))
	t.builtin("ppdeftemplate", 1, 1, ppFn(ir.ConstructTemplate))
	t.builtin("ppdeffacts", 1, 1, ppFn(ir.ConstructFacts))
}

// printout writes its arguments to a logical name. The symbols crlf,
// tab, vtab and ff print as control characters; strings print unquoted.
func printout(ctx *Context, args []ir.Value) (ir.Value, error) {
	logical, err := lexemeArg("printout", 0, args[0])
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, a := range args[1:] {
		if s, ok := a.(ir.Symbol); ok {
			switch s.Text() {
			case "crlf":
				b.WriteByte('\n')
				continue
			case "tab":
				b.WriteByte('\t')
				continue
			case "vtab":
				b.WriteByte('\v')
				continue
			case "ff":
				b.WriteByte('\f')
				continue
			}
		}
		b.WriteString(text(a))
	}
	if err := ctx.env.Print(logical, b.String()); err != nil {
		return nil, err
	}
	return ir.Nil, nil
}

// watchFn handles (watch item [rule...]). Naming rules after rules or
// activations limits the change to those rules.
func watchFn(on bool) Func {
	fn := "unwatch"
	if on {
		fn = "watch"
	}
	return func(ctx *Context, args []ir.Value) (ir.Value, error) {
		item, err := lexemeArg(fn, 0, args[0])
		if err != nil {
			return nil, err
		}
		if len(args) == 1 {
			return ir.Nil, ctx.env.Watch(item, on)
		}
		for i, a := range args[1:] {
			name, err := lexemeArg(fn, i+1, a)
			if err != nil {
				return nil, err
			}
			if err := ctx.env.WatchRule(name, item, on); err != nil {
				return nil, err
			}
		}
		return ir.Nil, nil
	}
}

func ppFn(kind string) Func {
	return func(ctx *Context, args []ir.Value) (ir.Value, error) {
		name, err := lexemeArg("pp"+kind, 0, args[0])
		if err != nil {
			return nil, err
		}
		s, err := ctx.env.PrettyPrint(kind, name)
		if err != nil {
			return nil, err
		}
		return ir.Nil, ctx.env.Print(router.Stdout, s+"\n")
	}
}

func symbols(names []string) ir.Multifield {
	out := make([]ir.Value, len(names))
	for i, n := range names {
		out[i] = ir.Sym(n)
	}
	return ir.Multi(out...)
}

// routerWriter adapts a logical name to io.Writer.
type routerWriter struct {
	set     *router.Set
	logical string
}

func (w routerWriter) Write(p []byte) (int, error) {
	if err := w.set.Write(w.logical, string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (e *Environment) writer(logical string) routerWriter {
	return routerWriter{set: e.routers, logical: logical}
}
