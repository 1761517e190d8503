package engine

import (
	"errors"
	"strings"

	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/query"
)

func registerQueryFunctions(t *functionTable) {
	t.form("any-factp", 1, 2, func(ctx *Context, call ir.Expr) (ir.Value, error) {
		found := false
		err := ctx.eachFactSet(call, func([]ir.Value) (bool, error) {
			found = true
			return false, nil
		})
		if err != nil {
			return nil, err
		}
		return boolValue(found), nil
	})
	t.form("find-fact", 1, 2, func(ctx *Context, call ir.Expr) (ir.Value, error) {
		var out []ir.Value
		err := ctx.eachFactSet(call, func(set []ir.Value) (bool, error) {
			out = set
			return false, nil
		})
		if err != nil {
			return nil, err
		}
		return ir.Multi(out...), nil
	})
	t.form("find-all-facts", 1, 2, func(ctx *Context, call ir.Expr) (ir.Value, error) {
		var out []ir.Value
		err := ctx.eachFactSet(call, func(set []ir.Value) (bool, error) {
			out = append(out, set...)
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		return ir.Multi(out...), nil
	})
	t.form("do-for-fact", 2, -1, doForFacts(false))
	t.form("do-for-all-facts", 2, -1, doForFacts(true))
	t.form("delayed-do-for-all-facts", 2, -1, delayedDoForAllFacts)
}

// factSetMembers reads the ((?f person) ...) template list of a query call.
func factSetMembers(call ir.Expr) ([]query.Select, error) {
	set := call.Args[0]
	if !set.IsGroup() || len(set.Args) == 0 {
		return nil, ir.Errorf(ir.KindProcessing, "function %s expected a fact-set template list", call.Name)
	}
	out := make([]query.Select, 0, len(set.Args))
	for _, m := range set.Args {
		if !m.IsGroup() || len(m.Args) != 2 || m.Args[0].Kind != ir.ExprVar || m.Args[1].Kind != ir.ExprConst {
			return nil, ir.Errorf(ir.KindProcessing, "function %s expected (?variable template), got %s", call.Name, m)
		}
		name, ok := ir.Lexeme(m.Args[1].Value)
		if !ok {
			return nil, ir.Errorf(ir.KindProcessing, "function %s expected a template name, got %s", call.Name, m.Args[1])
		}
		out = append(out, query.Select{Template: name, As: m.Args[0].Name})
	}
	return out, nil
}

// eachFactSet runs the fact-set query of call. The query test, when
// present, sees each member variable bound to its fact. fn receives the
// addresses of every satisfying fact-set, in order.
func (c *Context) eachFactSet(call ir.Expr, fn func([]ir.Value) (bool, error)) error {
	members, err := factSetMembers(call)
	if err != nil {
		return err
	}
	var test *ir.Expr
	if len(call.Args) > 1 {
		test = &call.Args[1]
	}
	restore := c.shadow(members)
	defer restore()
	return query.Each(c.env, query.Chain(members...), nil, func(row query.Row) (bool, error) {
		set := row.Addresses()
		c.bindMembers(members, set)
		if test != nil {
			v, err := c.Eval(*test)
			if err != nil {
				return false, err
			}
			if !ir.Truthy(v) {
				return true, nil
			}
		}
		return fn(set)
	})
}

func (c *Context) bindMembers(members []query.Select, set []ir.Value) {
	for i, m := range members {
		c.Bind(m.As, set[i])
	}
}

// shadow saves the action variables the member variables hide and returns
// a function restoring them.
func (c *Context) shadow(members []query.Select) func() {
	saved := make(map[string]ir.Value)
	for _, m := range members {
		if v, ok := c.locals[m.As]; ok {
			saved[m.As] = v
		}
	}
	return func() {
		for _, m := range members {
			if v, ok := saved[m.As]; ok {
				c.Bind(m.As, v)
			} else {
				c.unbind(m.As)
			}
		}
	}
}

// doForFacts evaluates the actions of (do-for-fact set test actions...)
// for the first or every satisfying fact-set. Facts retracted by the
// actions drop out of later fact-sets.
func doForFacts(all bool) specialForm {
	return func(ctx *Context, call ir.Expr) (ir.Value, error) {
		var last ir.Value = ir.False
		members, err := factSetMembers(call)
		if err != nil {
			return nil, err
		}
		body := call.Args[2:]
		err = ctx.eachFactSet(call, func(set []ir.Value) (bool, error) {
			for _, a := range set {
				if _, ok := ctx.env.FindFact(a.(ir.FactAddress).Index); !ok {
					return true, nil
				}
			}
			ctx.bindMembers(members, set)
			v, err := ctx.sequence(body)
			if errors.Is(err, errBreak) {
				return false, nil
			}
			if err != nil {
				return false, err
			}
			last = v
			return all, nil
		})
		if err != nil {
			return nil, err
		}
		return last, nil
	}
}

// delayedDoForAllFacts finds every fact-set first and only then evaluates
// the actions, so facts the actions assert or retract do not change the
// sets visited.
func delayedDoForAllFacts(ctx *Context, call ir.Expr) (ir.Value, error) {
	members, err := factSetMembers(call)
	if err != nil {
		return nil, err
	}
	var sets [][]ir.Value
	err = ctx.eachFactSet(call, func(set []ir.Value) (bool, error) {
		sets = append(sets, set)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	restore := ctx.shadow(members)
	defer restore()
	var last ir.Value = ir.False
	for _, set := range sets {
		ctx.bindMembers(members, set)
		v, err := ctx.sequence(call.Args[2:])
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

// factSlotRef resolves ?f:slot, where ?f holds a fact address.
func (c *Context) factSlotRef(name string) (ir.Value, bool, error) {
	base, slot, ok := strings.Cut(name, ":")
	if !ok || base == "" || slot == "" {
		return nil, false, nil
	}
	v, ok := c.Lookup(base)
	if !ok {
		return nil, false, nil
	}
	f, err := c.env.factArg("slot reference", v)
	if err != nil {
		return nil, true, err
	}
	val, err := f.Slot(slot)
	return val, true, err
}
