package engine

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/prodsys/internal/ir"
)

var (
	upper = cases.Upper(language.Und)
	lower = cases.Lower(language.Und)
)

func registerStrings(t *functionTable) {
	t.builtin("str-cat", 0, -1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		return ir.String(concat(args)), nil
	})
	t.builtin("sym-cat", 0, -1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		return ir.Sym(concat(args)), nil
	})
	t.builtin("str-length", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		s, err := lexemeArg("str-length", 0, args[0])
		if err != nil {
			return nil, err
		}
		return ir.Integer(utf8.RuneCountInString(s)), nil
	})
	t.builtin("upcase", 1, 1, recase("upcase", upper))
	t.builtin("lowcase", 1, 1, recase("lowcase", lower))
	t.builtin("sub-string", 3, 3, subString)
	t.builtin("str-index", 2, 2, strIndex)
	t.builtin("str-compare", 2, 2, func(_ *Context, args []ir.Value) (ir.Value, error) {
		a, err := lexemeArg("str-compare", 0, args[0])
		if err != nil {
			return nil, err
		}
		b, err := lexemeArg("str-compare", 1, args[1])
		if err != nil {
			return nil, err
		}
		return ir.Integer(strings.Compare(a, b)), nil
	})
	t.builtin("string-to-field", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		s, err := lexemeArg("string-to-field", 0, args[0])
		if err != nil {
			return nil, err
		}
		fields := splitAtoms(s)
		if len(fields) == 0 {
			return ir.Sym("EOF"), nil
		}
		return ir.ParseAtom(fields[0]), nil
	})
}

// text renders a value the way str-cat and printout show it: strings
// without quotes.
func text(v ir.Value) string {
	switch x := v.(type) {
	case ir.String:
		return string(x)
	case ir.Symbol:
		return x.Text()
	case ir.Multifield:
		return x.Inner()
	case nil:
		return ""
	}
	return v.String()
}

func concat(args []ir.Value) string {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(text(a))
	}
	return b.String()
}

func recase(name string, c cases.Caser) Func {
	return func(_ *Context, args []ir.Value) (ir.Value, error) {
		switch v := args[0].(type) {
		case ir.String:
			return ir.String(c.String(string(v))), nil
		case ir.Symbol:
			return ir.Sym(c.String(v.Text())), nil
		}
		return nil, ir.TypeMismatchf("function %s expected a string or symbol, got %s", name, kindName(args[0]))
	}
}

// subString returns runes start through end, 1-based and inclusive.
func subString(_ *Context, args []ir.Value) (ir.Value, error) {
	start, err := intArg("sub-string", 0, args[0])
	if err != nil {
		return nil, err
	}
	end, err := intArg("sub-string", 1, args[1])
	if err != nil {
		return nil, err
	}
	s, err := lexemeArg("sub-string", 2, args[2])
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	if start < 1 {
		start = 1
	}
	if end > int64(len(runes)) {
		end = int64(len(runes))
	}
	if start > end {
		return ir.String(""), nil
	}
	return ir.String(string(runes[start-1 : end])), nil
}

func strIndex(_ *Context, args []ir.Value) (ir.Value, error) {
	needle, err := lexemeArg("str-index", 0, args[0])
	if err != nil {
		return nil, err
	}
	hay, err := lexemeArg("str-index", 1, args[1])
	if err != nil {
		return nil, err
	}
	i := strings.Index(hay, needle)
	if i < 0 {
		return ir.False, nil
	}
	return ir.Integer(utf8.RuneCountInString(hay[:i]) + 1), nil
}

// splitAtoms splits text on white space, keeping quoted strings whole.
func splitAtoms(s string) []string {
	var out []string
	var cur strings.Builder
	quoted, escaped := false, false
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
			cur.WriteRune(r)
		case quoted && r == '\\':
			escaped = true
			cur.WriteRune(r)
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case !quoted && (r == ' ' || r == '\t' || r == '\n' || r == '\r'):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}

func registerMultifields(t *functionTable) {
	t.builtin("create$", 0, -1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		return flattenValues(args), nil
	})
	t.builtin("length$", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		m, err := multiArg("length$", 0, args[0])
		if err != nil {
			return nil, err
		}
		return ir.Integer(len(m)), nil
	})
	t.builtin("nth$", 2, 2, func(_ *Context, args []ir.Value) (ir.Value, error) {
		i, err := intArg("nth$", 0, args[0])
		if err != nil {
			return nil, err
		}
		m, err := multiArg("nth$", 1, args[1])
		if err != nil {
			return nil, err
		}
		if i < 1 || i > int64(len(m)) {
			return ir.Nil, nil
		}
		return m[i-1], nil
	})
	t.builtin("first$", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		m, err := multiArg("first$", 0, args[0])
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			return ir.Multi(), nil
		}
		return ir.Multi(m[0]), nil
	})
	t.builtin("rest$", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		m, err := multiArg("rest$", 0, args[0])
		if err != nil {
			return nil, err
		}
		if len(m) == 0 {
			return ir.Multi(), nil
		}
		return ir.Multi(m[1:]...), nil
	})
	t.builtin("member$", 2, 2, func(_ *Context, args []ir.Value) (ir.Value, error) {
		m, err := multiArg("member$", 1, args[1])
		if err != nil {
			return nil, err
		}
		for i, v := range m {
			if ir.Equal(v, args[0]) {
				return ir.Integer(i + 1), nil
			}
		}
		return ir.False, nil
	})
	t.builtin("subseq$", 3, 3, func(_ *Context, args []ir.Value) (ir.Value, error) {
		m, lo, hi, err := span("subseq$", args)
		if err != nil {
			return nil, err
		}
		return ir.Multi(append([]ir.Value(nil), m[lo:hi]...)...), nil
	})
	t.builtin("delete$", 3, 3, func(_ *Context, args []ir.Value) (ir.Value, error) {
		m, lo, hi, err := span("delete$", args)
		if err != nil {
			return nil, err
		}
		out := append([]ir.Value(nil), m[:lo]...)
		return ir.Multi(append(out, m[hi:]...)...), nil
	})
	t.builtin("insert$", 3, -1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		m, err := multiArg("insert$", 0, args[0])
		if err != nil {
			return nil, err
		}
		i, err := intArg("insert$", 1, args[1])
		if err != nil {
			return nil, err
		}
		if i < 1 || i > int64(len(m))+1 {
			return nil, ir.Errorf(ir.KindRange, "function insert$ index %d out of range 1..%d", i, len(m)+1)
		}
		out := append([]ir.Value(nil), m[:i-1]...)
		out = append(out, flattenValues(args[2:])...)
		return ir.Multi(append(out, m[i-1:]...)...), nil
	})
	t.builtin("implode$", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		m, err := multiArg("implode$", 0, args[0])
		if err != nil {
			return nil, err
		}
		return ir.String(m.Inner()), nil
	})
	t.builtin("explode$", 1, 1, func(_ *Context, args []ir.Value) (ir.Value, error) {
		s, err := lexemeArg("explode$", 0, args[0])
		if err != nil {
			return nil, err
		}
		fields := splitAtoms(s)
		out := make(ir.Multifield, len(fields))
		for i, f := range fields {
			out[i] = ir.ParseAtom(f)
		}
		return out, nil
	})
}

// span reads (multifield start end) arguments as a clamped slice range.
func span(name string, args []ir.Value) (ir.Multifield, int, int, error) {
	m, err := multiArg(name, 0, args[0])
	if err != nil {
		return nil, 0, 0, err
	}
	start, err := intArg(name, 1, args[1])
	if err != nil {
		return nil, 0, 0, err
	}
	end, err := intArg(name, 2, args[2])
	if err != nil {
		return nil, 0, 0, err
	}
	start = max(start, 1)
	end = min(end, int64(len(m)))
	if start > end {
		return m, 0, 0, nil
	}
	return m, int(start - 1), int(end), nil
}

func flattenValues(vals []ir.Value) ir.Multifield {
	out := make(ir.Multifield, 0, len(vals))
	for _, v := range vals {
		if m, ok := v.(ir.Multifield); ok {
			out = append(out, m...)
			continue
		}
		out = append(out, v)
	}
	return out
}
