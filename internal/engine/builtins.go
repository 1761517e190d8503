package engine

import (
	"math"

	"github.com/roach88/prodsys/internal/ir"
)

// registerBuiltins installs the builtin function library.
func registerBuiltins(t *functionTable) {
	registerMath(t)
	registerPredicates(t)
	registerStrings(t)
	registerMultifields(t)
	registerFactFunctions(t)
	registerQueryFunctions(t)
	registerControl(t)
	registerAgendaFunctions(t)
	registerIO(t)
}

func boolValue(b bool) ir.Value {
	if b {
		return ir.True
	}
	return ir.False
}

func numberArg(fn string, i int, v ir.Value) (ir.Value, error) {
	if !ir.IsNumber(v) {
		return nil, ir.TypeMismatchf("function %s expected argument #%d to be a number, got %s", fn, i+1, kindName(v))
	}
	return v, nil
}

func intArg(fn string, i int, v ir.Value) (int64, error) {
	switch n := v.(type) {
	case ir.Integer:
		return int64(n), nil
	case ir.Float:
		return int64(n), nil
	}
	return 0, ir.TypeMismatchf("function %s expected argument #%d to be an integer, got %s", fn, i+1, kindName(v))
}

func floatArg(fn string, i int, v ir.Value) (float64, error) {
	f, ok := ir.Number(v)
	if !ok {
		return 0, ir.TypeMismatchf("function %s expected argument #%d to be a number, got %s", fn, i+1, kindName(v))
	}
	return f, nil
}

func lexemeArg(fn string, i int, v ir.Value) (string, error) {
	s, ok := ir.Lexeme(v)
	if !ok {
		return "", ir.TypeMismatchf("function %s expected argument #%d to be a string or symbol, got %s", fn, i+1, kindName(v))
	}
	return s, nil
}

func multiArg(fn string, i int, v ir.Value) (ir.Multifield, error) {
	m, ok := v.(ir.Multifield)
	if !ok {
		return nil, ir.TypeMismatchf("function %s expected argument #%d to be a multifield, got %s", fn, i+1, kindName(v))
	}
	return m, nil
}

func kindName(v ir.Value) string {
	if v == nil {
		return "nothing"
	}
	return v.Kind().String()
}

func registerMath(t *functionTable) {
	t.builtin("+", 1, -1, arith("+", func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b }))
	t.builtin("-", 1, -1, arith("-", func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b }))
	t.builtin("*", 1, -1, arith("*", func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b }))
	t.builtin("/", 2, -1, divide)
	t.builtin("div", 2, -1, intDivide)
	t.builtin("mod", 2, 2, modulo)
	t.builtin("abs", 1, 1, absolute)
	t.builtin("min", 1, -1, extremum("min", -1))
	t.builtin("max", 1, -1, extremum("max", 1))
	t.builtin("integer", 1, 1, toInteger)
	t.builtin("float", 1, 1, toFloat)
	t.builtin("round", 1, 1, round)
	t.builtin("sqrt", 1, 1, floatFn("sqrt", math.Sqrt))
	t.builtin("**", 2, 2, power)

	t.builtin("=", 2, -1, numCompare("=", func(c int) bool { return c == 0 }))
	t.builtin(">", 2, -1, numCompare(">", func(c int) bool { return c > 0 }))
	t.builtin(">=", 2, -1, numCompare(">=", func(c int) bool { return c >= 0 }))
	t.builtin("<", 2, -1, numCompare("<", func(c int) bool { return c < 0 }))
	t.builtin("<=", 2, -1, numCompare("<=", func(c int) bool { return c <= 0 }))
	t.builtin("<>", 2, -1, notEqualNumbers)
	t.builtin("eq", 2, -1, equalValues(true))
	t.builtin("neq", 2, -1, equalValues(false))
	t.builtin("not", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		return boolValue(!ir.Truthy(args[0])), nil
	})
}

func arith(name string, ints func(a, b int64) int64, floats func(a, b float64) float64) Func {
	return func(_ *Context, args []ir.Value) (ir.Value, error) {
		for i, a := range args {
			if _, err := numberArg(name, i, a); err != nil {
				return nil, err
			}
		}
		if len(args) == 1 {
			if name == "-" {
				return negate(args[0]), nil
			}
			return args[0], nil
		}
		acc := args[0]
		for _, a := range args[1:] {
			x, xi := acc.(ir.Integer)
			y, yi := a.(ir.Integer)
			if xi && yi {
				acc = ir.Integer(ints(int64(x), int64(y)))
				continue
			}
			fx, _ := ir.Number(acc)
			fy, _ := ir.Number(a)
			acc = ir.Float(floats(fx, fy))
		}
		return acc, nil
	}
}

func negate(v ir.Value) ir.Value {
	if i, ok := v.(ir.Integer); ok {
		return -i
	}
	f, _ := ir.Number(v)
	return ir.Float(-f)
}

func divide(_ *Context, args []ir.Value) (ir.Value, error) {
	acc, err := floatArg("/", 0, args[0])
	if err != nil {
		return nil, err
	}
	for i, a := range args[1:] {
		d, err := floatArg("/", i+1, a)
		if err != nil {
			return nil, err
		}
		if d == 0 {
			return nil, ir.Errorf(ir.KindProcessing, "function / attempted to divide by zero")
		}
		acc /= d
	}
	return ir.Float(acc), nil
}

func intDivide(_ *Context, args []ir.Value) (ir.Value, error) {
	acc, err := intArg("div", 0, args[0])
	if err != nil {
		return nil, err
	}
	for i, a := range args[1:] {
		d, err := intArg("div", i+1, a)
		if err != nil {
			return nil, err
		}
		if d == 0 {
			return nil, ir.Errorf(ir.KindProcessing, "function div attempted to divide by zero")
		}
		acc /= d
	}
	return ir.Integer(acc), nil
}

func modulo(_ *Context, args []ir.Value) (ir.Value, error) {
	x, xi := args[0].(ir.Integer)
	y, yi := args[1].(ir.Integer)
	if xi && yi {
		if y == 0 {
			return nil, ir.Errorf(ir.KindProcessing, "function mod attempted to divide by zero")
		}
		return x % y, nil
	}
	fx, err := floatArg("mod", 0, args[0])
	if err != nil {
		return nil, err
	}
	fy, err := floatArg("mod", 1, args[1])
	if err != nil {
		return nil, err
	}
	if fy == 0 {
		return nil, ir.Errorf(ir.KindProcessing, "function mod attempted to divide by zero")
	}
	return ir.Float(math.Mod(fx, fy)), nil
}

func absolute(_ *Context, args []ir.Value) (ir.Value, error) {
	switch n := args[0].(type) {
	case ir.Integer:
		if n < 0 {
			return -n, nil
		}
		return n, nil
	case ir.Float:
		return ir.Float(math.Abs(float64(n))), nil
	}
	return nil, ir.TypeMismatchf("function abs expected a number, got %s", kindName(args[0]))
}

func extremum(name string, sign int) Func {
	return func(_ *Context, args []ir.Value) (ir.Value, error) {
		best := args[0]
		if _, err := numberArg(name, 0, best); err != nil {
			return nil, err
		}
		for i, a := range args[1:] {
			if _, err := numberArg(name, i+1, a); err != nil {
				return nil, err
			}
			c, err := ir.Compare(a, best)
			if err != nil {
				return nil, err
			}
			if c*sign > 0 {
				best = a
			}
		}
		return best, nil
	}
}

func toInteger(_ *Context, args []ir.Value) (ir.Value, error) {
	n, err := intArg("integer", 0, args[0])
	if err != nil {
		return nil, err
	}
	return ir.Integer(n), nil
}

func toFloat(_ *Context, args []ir.Value) (ir.Value, error) {
	f, err := floatArg("float", 0, args[0])
	if err != nil {
		return nil, err
	}
	return ir.Float(f), nil
}

func round(_ *Context, args []ir.Value) (ir.Value, error) {
	f, err := floatArg("round", 0, args[0])
	if err != nil {
		return nil, err
	}
	return ir.Integer(int64(math.Round(f))), nil
}

func floatFn(name string, fn func(float64) float64) Func {
	return func(_ *Context, args []ir.Value) (ir.Value, error) {
		f, err := floatArg(name, 0, args[0])
		if err != nil {
			return nil, err
		}
		return ir.Float(fn(f)), nil
	}
}

func power(_ *Context, args []ir.Value) (ir.Value, error) {
	x, err := floatArg("**", 0, args[0])
	if err != nil {
		return nil, err
	}
	y, err := floatArg("**", 1, args[1])
	if err != nil {
		return nil, err
	}
	return ir.Float(math.Pow(x, y)), nil
}

// numCompare holds when ok holds for every adjacent pair of arguments.
func numCompare(name string, ok func(int) bool) Func {
	return func(_ *Context, args []ir.Value) (ir.Value, error) {
		for i, a := range args {
			if _, err := numberArg(name, i, a); err != nil {
				return nil, err
			}
		}
		for i := 1; i < len(args); i++ {
			c, err := ir.Compare(args[i-1], args[i])
			if err != nil {
				return nil, err
			}
			if !ok(c) {
				return ir.False, nil
			}
		}
		return ir.True, nil
	}
}

// notEqualNumbers holds when the first argument differs from every other.
func notEqualNumbers(_ *Context, args []ir.Value) (ir.Value, error) {
	for i, a := range args {
		if _, err := numberArg("<>", i, a); err != nil {
			return nil, err
		}
	}
	for _, a := range args[1:] {
		c, err := ir.Compare(args[0], a)
		if err != nil {
			return nil, err
		}
		if c == 0 {
			return ir.False, nil
		}
	}
	return ir.True, nil
}

// equalValues compares the first argument with every other by type and
// value: eq holds when all are equal, neq when none is.
func equalValues(want bool) Func {
	return func(_ *Context, args []ir.Value) (ir.Value, error) {
		for _, a := range args[1:] {
			if ir.Equal(args[0], a) != want {
				return ir.False, nil
			}
		}
		return ir.True, nil
	}
}

func registerPredicates(t *functionTable) {
	kindPred := func(ok func(ir.Value) bool) Func {
		return func(_ *Context, args []ir.Value) (ir.Value, error) {
			return boolValue(ok(args[0])), nil
		}
	}
	is := func(k ir.Kind) func(ir.Value) bool {
		return func(v ir.Value) bool { return v != nil && v.Kind() == k }
	}
	t.builtin("numberp", 1, 1, kindPred(ir.IsNumber))
	t.builtin("integerp", 1, 1, kindPred(is(ir.KindInteger)))
	t.builtin("floatp", 1, 1, kindPred(is(ir.KindFloat)))
	t.builtin("stringp", 1, 1, kindPred(is(ir.KindString)))
	t.builtin("symbolp", 1, 1, kindPred(is(ir.KindSymbol)))
	t.builtin("booleanp", 1, 1, kindPred(is(ir.KindBoolean)))
	t.builtin("lexemep", 1, 1, kindPred(ir.IsLexeme))
	t.builtin("multifieldp", 1, 1, kindPred(is(ir.KindMultifield)))
	t.builtin("fact-addressp", 1, 1, kindPred(is(ir.KindFactAddress)))
	t.builtin("evenp", 1, 1, parity("evenp", 0))
	t.builtin("oddp", 1, 1, parity("oddp", 1))
	t.builtin("type", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		return ir.Sym(kindName(args[0])), nil
	})
}

func parity(name string, rem int64) Func {
	return func(_ *Context, args []ir.Value) (ir.Value, error) {
		n, ok := args[0].(ir.Integer)
		if !ok {
			return nil, ir.TypeMismatchf("function %s expected an integer, got %s", name, kindName(args[0]))
		}
		r := int64(n) % 2
		if r < 0 {
			r = -r
		}
		return boolValue(r == rem), nil
	}
}
