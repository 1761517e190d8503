package compiler

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/roach88/prodsys/internal/ir"
)

// nodeKind distinguishes the three shapes the reader produces.
type nodeKind uint8

const (
	atomNode nodeKind = iota
	stringNode
	listNode
)

// node is one element of construct source text. glued marks a node that
// directly follows its predecessor with no whitespace between them, which
// is how a constraint like ?x&:(> ?x 1) is reassembled from its parts.
type node struct {
	kind  nodeKind
	text  string
	items []node
	glued bool
	pos   int
}

func (n node) String() string {
	switch n.kind {
	case stringNode:
		return ir.Quote(n.text)
	case listNode:
		parts := make([]string, len(n.items))
		for i, it := range n.items {
			parts[i] = it.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	}
	return n.text
}

// head returns the leading atom of a list, or "".
func (n node) head() string {
	if n.kind != listNode || len(n.items) == 0 || n.items[0].kind != atomNode {
		return ""
	}
	return n.items[0].text
}

// SyntaxError reports malformed construct source text.
type SyntaxError struct {
	Source  string
	Offset  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at offset %d in %q", e.Message, e.Offset, e.Source)
}

type reader struct {
	src string
	pos int
}

// read parses src into its top-level nodes.
func read(src string) ([]node, error) {
	r := &reader{src: src}
	nodes, err := r.sequence(false)
	if err != nil {
		return nil, ir.ParsingErrorf("%v", err)
	}
	return nodes, nil
}

func (r *reader) fail(format string, args ...any) error {
	return &SyntaxError{Source: r.src, Offset: r.pos, Message: fmt.Sprintf(format, args...)}
}

func (r *reader) sequence(inList bool) ([]node, error) {
	var out []node
	for {
		spaced := r.skipSpace()
		if r.pos >= len(r.src) {
			if inList {
				return nil, r.fail("unterminated list")
			}
			return out, nil
		}
		c := r.src[r.pos]
		if c == ')' {
			if !inList {
				return nil, r.fail("unexpected )")
			}
			r.pos++
			return out, nil
		}
		n, err := r.element()
		if err != nil {
			return nil, err
		}
		n.glued = len(out) > 0 && !spaced
		out = append(out, n)
	}
}

func (r *reader) skipSpace() bool {
	start := r.pos
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if c == ';' {
			for r.pos < len(r.src) && r.src[r.pos] != '\n' {
				r.pos++
			}
			continue
		}
		if !unicode.IsSpace(rune(c)) {
			break
		}
		r.pos++
	}
	return r.pos > start
}

func (r *reader) element() (node, error) {
	start := r.pos
	switch r.src[r.pos] {
	case '(':
		r.pos++
		items, err := r.sequence(true)
		if err != nil {
			return node{}, err
		}
		return node{kind: listNode, items: items, pos: start}, nil
	case '"':
		return r.str()
	}
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if c == '(' || c == ')' || c == '"' || c == ';' || unicode.IsSpace(rune(c)) {
			break
		}
		r.pos++
	}
	return node{kind: atomNode, text: r.src[start:r.pos], pos: start}, nil
}

func (r *reader) str() (node, error) {
	start := r.pos
	r.pos++
	var b strings.Builder
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		switch c {
		case '\\':
			if r.pos+1 < len(r.src) {
				b.WriteByte(r.src[r.pos+1])
				r.pos += 2
				continue
			}
		case '"':
			r.pos++
			return node{kind: stringNode, text: b.String(), pos: start}, nil
		}
		b.WriteByte(c)
		r.pos++
	}
	r.pos = start
	return node{}, r.fail("unterminated string")
}

// parser turns nodes into descriptors. templates, when set, holds the
// relations defined as templates, so that fact literals can tell slots
// from calls.
type parser struct {
	templates map[string]bool
}

// ParseExpr parses the text of a single expression.
func ParseExpr(src string) (ir.Expr, error) {
	return (&parser{}).expr(src)
}

func (p *parser) expr(src string) (ir.Expr, error) {
	nodes, err := read(src)
	if err != nil {
		return ir.Expr{}, err
	}
	if len(nodes) != 1 {
		return ir.Expr{}, ir.ParsingErrorf("expected one expression in %q, found %d", src, len(nodes))
	}
	return p.exprNode(nodes[0])
}

func (p *parser) exprNode(n node) (ir.Expr, error) {
	switch n.kind {
	case stringNode:
		return ir.Const(ir.String(n.text)), nil
	case atomNode:
		return atomExpr(n.text)
	}
	name := n.head()
	if name == "" {
		return ir.Expr{}, ir.ParsingErrorf("expected a function name in %s", n)
	}
	args := n.items[1:]
	switch name {
	case "assert":
		out := ir.Call(name)
		for _, a := range args {
			f, err := p.factNode(a)
			if err != nil {
				return ir.Expr{}, err
			}
			out.Args = append(out.Args, f)
		}
		return out, nil
	case "modify", "duplicate":
		if len(args) == 0 {
			return ir.Expr{}, ir.ParsingErrorf("%s requires a fact", name)
		}
		target, err := p.exprNode(args[0])
		if err != nil {
			return ir.Expr{}, err
		}
		out := ir.Expr{Kind: ir.ExprCall, Name: name, Args: []ir.Expr{target}}
		for _, s := range args[1:] {
			se, err := p.slotNode(s)
			if err != nil {
				return ir.Expr{}, err
			}
			out.Slots = append(out.Slots, se)
		}
		return out, nil
	case "find-fact", "find-all-facts", "any-factp", "do-for-fact", "do-for-all-facts", "delayed-do-for-all-facts":
		if len(args) == 0 {
			return ir.Expr{}, ir.ParsingErrorf("%s requires a fact-set template list", name)
		}
		set, err := factSet(args[0])
		if err != nil {
			return ir.Expr{}, fmt.Errorf("%s: %w", name, err)
		}
		out := ir.Call(name, set)
		for _, a := range args[1:] {
			x, err := p.exprNode(a)
			if err != nil {
				return ir.Expr{}, err
			}
			out.Args = append(out.Args, x)
		}
		return out, nil
	}
	out := ir.Call(name)
	for _, a := range args {
		x, err := p.exprNode(a)
		if err != nil {
			return ir.Expr{}, err
		}
		out.Args = append(out.Args, x)
	}
	return out, nil
}

// factSet parses ((?f person) (?g job)) into a group of (?var template)
// groups.
func factSet(n node) (ir.Expr, error) {
	if n.kind != listNode || len(n.items) == 0 {
		return ir.Expr{}, ir.ParsingErrorf("expected a fact-set template list, got %s", n)
	}
	set := ir.Group()
	for _, m := range n.items {
		if m.kind != listNode || len(m.items) != 2 || m.items[0].kind != atomNode || m.items[1].kind != atomNode {
			return ir.Expr{}, ir.ParsingErrorf("expected (?variable template) in fact-set, got %s", m)
		}
		v, err := atomExpr(m.items[0].text)
		if err != nil || v.Kind != ir.ExprVar {
			return ir.Expr{}, ir.ParsingErrorf("fact-set member %s must start with a single-field variable", m)
		}
		set.Args = append(set.Args, ir.Group(v, ir.Atom(m.items[1].text)))
	}
	return set, nil
}

func atomExpr(text string) (ir.Expr, error) {
	switch {
	case strings.HasPrefix(text, "?*") && strings.HasSuffix(text, "*") && len(text) > 3:
		return ir.GlobalRef(text[2 : len(text)-1]), nil
	case strings.HasPrefix(text, "$?"):
		if len(text) == 2 {
			return ir.Expr{}, ir.ParsingErrorf("wildcard $? is only allowed in patterns")
		}
		return ir.MultiVar(text[2:]), nil
	case strings.HasPrefix(text, "?"):
		if len(text) == 1 {
			return ir.Expr{}, ir.ParsingErrorf("wildcard ? is only allowed in patterns")
		}
		return ir.Var(text[1:]), nil
	}
	return ir.Atom(text), nil
}

// ParseFact parses a fact literal such as (point (x 1) (y 2)) or (a 1 2).
func ParseFact(src string) (ir.Expr, error) {
	return (&parser{}).fact(src)
}

func (p *parser) fact(src string) (ir.Expr, error) {
	nodes, err := read(src)
	if err != nil {
		return ir.Expr{}, err
	}
	if len(nodes) != 1 {
		return ir.Expr{}, ir.ParsingErrorf("expected one fact in %q, found %d", src, len(nodes))
	}
	return p.factNode(nodes[0])
}

func (p *parser) factNode(n node) (ir.Expr, error) {
	name := n.head()
	if name == "" {
		return ir.Expr{}, ir.ParsingErrorf("expected a fact, found %s", n)
	}
	args := n.items[1:]
	if p.templated(name, args) {
		out := ir.TemplateFactOf(name)
		for _, a := range args {
			se, err := p.slotNode(a)
			if err != nil {
				return ir.Expr{}, err
			}
			out.Slots = append(out.Slots, se)
		}
		return out, nil
	}
	out := ir.FactOf(name)
	for _, a := range args {
		x, err := p.exprNode(a)
		if err != nil {
			return ir.Expr{}, err
		}
		out.Args = append(out.Args, x)
	}
	return out, nil
}

// templated decides whether a fact literal lists slots. When the parser
// knows the defined templates, only their relations do and every other
// relation is an ordered fact whose list fields are calls. A parser
// without that knowledge reads a literal whose fields are all lists as
// slots.
func (p *parser) templated(name string, args []node) bool {
	if p.templates != nil {
		_, local := ir.SplitName(name)
		return p.templates[local]
	}
	if len(args) == 0 {
		return false
	}
	for _, a := range args {
		if a.head() == "" {
			return false
		}
	}
	return true
}

func (p *parser) slotNode(n node) (ir.SlotExpr, error) {
	name := n.head()
	if name == "" {
		return ir.SlotExpr{}, ir.ParsingErrorf("expected (slot value...), found %s", n)
	}
	se := ir.SlotOf(name)
	for _, v := range n.items[1:] {
		x, err := p.exprNode(v)
		if err != nil {
			return ir.SlotExpr{}, err
		}
		se.Values = append(se.Values, x)
	}
	return se, nil
}

// ParseCondition parses one conditional element: a pattern, a
// ?f <- pattern binding, (not ...), (exists ...) or (test ...).
func ParseCondition(src string) (ir.Condition, error) {
	return (&parser{}).condition(src)
}

func (p *parser) condition(src string) (ir.Condition, error) {
	nodes, err := read(src)
	if err != nil {
		return ir.Condition{}, err
	}
	switch {
	case len(nodes) == 3 && nodes[1].kind == atomNode && nodes[1].text == "<-":
		v := nodes[0]
		if v.kind != atomNode || !strings.HasPrefix(v.text, "?") || len(v.text) < 2 {
			return ir.Condition{}, ir.ParsingErrorf("expected a variable before <- in %q", src)
		}
		pat, err := p.pattern(nodes[2])
		if err != nil {
			return ir.Condition{}, err
		}
		return ir.Condition{Kind: ir.CondPattern, Binding: v.text[1:], Pattern: pat}, nil
	case len(nodes) != 1:
		return ir.Condition{}, ir.ParsingErrorf("expected one conditional element in %q", src)
	}
	n := nodes[0]
	switch n.head() {
	case "not", "exists":
		if len(n.items) != 2 {
			return ir.Condition{}, ir.ParsingErrorf("%s takes exactly one pattern", n.head())
		}
		pat, err := p.pattern(n.items[1])
		if err != nil {
			return ir.Condition{}, err
		}
		kind := ir.CondNot
		if n.head() == "exists" {
			kind = ir.CondExists
		}
		return ir.Condition{Kind: kind, Pattern: pat}, nil
	case "test":
		if len(n.items) != 2 {
			return ir.Condition{}, ir.ParsingErrorf("test takes exactly one expression")
		}
		x, err := p.exprNode(n.items[1])
		if err != nil {
			return ir.Condition{}, err
		}
		return ir.Condition{Kind: ir.CondTest, Test: x}, nil
	case "and", "or", "forall", "logical":
		return ir.Condition{}, ir.ParsingErrorf("conditional element %s is not supported", n.head())
	}
	pat, err := p.pattern(n)
	if err != nil {
		return ir.Condition{}, err
	}
	return ir.Condition{Kind: ir.CondPattern, Pattern: pat}, nil
}

func (p *parser) pattern(n node) (ir.Pattern, error) {
	name := n.head()
	if name == "" {
		return ir.Pattern{}, ir.ParsingErrorf("expected a pattern, found %s", n)
	}
	pat := ir.Pattern{Template: name}
	groups := glue(n.items[1:])
	slots := len(groups) > 0
	for _, g := range groups {
		if len(g) != 1 || g[0].head() == "" {
			slots = false
		}
	}
	if slots {
		for _, g := range groups {
			sc := ir.SlotConstraint{Slot: g[0].head()}
			for _, fg := range glue(g[0].items[1:]) {
				c, err := p.constraint(fg)
				if err != nil {
					return ir.Pattern{}, fmt.Errorf("slot %s: %w", sc.Slot, err)
				}
				sc.Fields = append(sc.Fields, c)
			}
			pat.Slots = append(pat.Slots, sc)
		}
		return pat, nil
	}
	for _, g := range groups {
		c, err := p.constraint(g)
		if err != nil {
			return ir.Pattern{}, err
		}
		pat.Fields = append(pat.Fields, c)
	}
	return pat, nil
}

// glue groups consecutive nodes not separated by whitespace.
func glue(nodes []node) [][]node {
	var out [][]node
	for _, n := range nodes {
		if n.glued && len(out) > 0 {
			out[len(out)-1] = append(out[len(out)-1], n)
			continue
		}
		out = append(out, []node{n})
	}
	return out
}

// piece is one lexical part of a field constraint.
type piece struct {
	sep  byte // '&', '|', or one of the prefixes '~', ':', '='
	text string
	str  bool
	list *node
}

func (pc piece) operand() bool { return pc.sep == 0 }

func splitConstraint(g []node) ([]piece, error) {
	var out []piece
	termStart := true
	for i := range g {
		n := g[i]
		switch n.kind {
		case stringNode:
			out = append(out, piece{text: n.text, str: true})
			termStart = false
		case listNode:
			out = append(out, piece{list: &g[i]})
			termStart = false
		case atomNode:
			var cur strings.Builder
			flush := func() {
				if cur.Len() > 0 {
					out = append(out, piece{text: cur.String()})
					cur.Reset()
				}
			}
			for j := 0; j < len(n.text); j++ {
				c := n.text[j]
				switch {
				case c == '&' || c == '|':
					flush()
					out = append(out, piece{sep: c})
					termStart = true
				case termStart && (c == '~' || c == ':' || c == '='):
					out = append(out, piece{sep: c})
				default:
					cur.WriteByte(c)
					termStart = false
				}
			}
			flush()
		}
	}
	if len(out) == 0 {
		return nil, ir.ParsingErrorf("empty constraint")
	}
	return out, nil
}

func (p *parser) constraint(g []node) (ir.Constraint, error) {
	pieces, err := splitConstraint(g)
	if err != nil {
		return ir.Constraint{}, err
	}
	var c ir.Constraint
	for _, term := range splitOn(pieces, '&') {
		if err := p.term(&c, term); err != nil {
			return ir.Constraint{}, err
		}
	}
	return c, nil
}

func splitOn(pieces []piece, sep byte) [][]piece {
	var out [][]piece
	var cur []piece
	for _, pc := range pieces {
		if pc.sep == sep {
			out = append(out, cur)
			cur = nil
			continue
		}
		cur = append(cur, pc)
	}
	return append(out, cur)
}

func (p *parser) term(c *ir.Constraint, term []piece) error {
	if len(term) == 0 {
		return ir.ParsingErrorf("empty term in constraint")
	}
	switch term[0].sep {
	case ':', '=':
		if len(term) != 2 || term[1].list == nil {
			return ir.ParsingErrorf("%c must be followed by a function call", term[0].sep)
		}
		x, err := p.exprNode(*term[1].list)
		if err != nil {
			return err
		}
		if term[0].sep == ':' {
			c.Predicates = append(c.Predicates, x)
		} else {
			c.Equals = append(c.Equals, x)
		}
		return nil
	case '~':
		for _, alt := range splitOn(term[1:], '|') {
			if len(alt) != 1 || !alt[0].operand() || alt[0].list != nil {
				return ir.ParsingErrorf("~ must be followed by a value or variable")
			}
			if v, ok := variable(alt[0]); ok {
				c.NotVars = append(c.NotVars, v)
				continue
			}
			c.Excluded = append(c.Excluded, literal(alt[0]))
		}
		return nil
	}
	alts := splitOn(term, '|')
	if len(alts) == 1 && len(alts[0]) == 1 {
		pc := alts[0][0]
		switch {
		case !pc.str && (pc.text == "?" || pc.text == "$?"):
			c.Multi = c.Multi || pc.text == "$?"
			return nil
		case !pc.str && strings.HasPrefix(pc.text, "?*"):
			x, err := atomExpr(pc.text)
			if err != nil {
				return err
			}
			c.Equals = append(c.Equals, x)
			return nil
		}
		if v, ok := variable(pc); ok {
			multi := strings.HasPrefix(pc.text, "$")
			if c.Var == "" {
				c.Var = v
				c.Multi = c.Multi || multi
				return nil
			}
			ref := ir.Var(v)
			if multi {
				ref = ir.MultiVar(v)
			}
			c.Equals = append(c.Equals, ref)
			return nil
		}
	}
	for _, alt := range alts {
		if len(alt) != 1 || !alt[0].operand() || alt[0].list != nil {
			return ir.ParsingErrorf("expected a literal value in constraint")
		}
		if _, ok := variable(alt[0]); ok {
			return ir.ParsingErrorf("variables cannot be alternatives in a constraint")
		}
		c.Literals = append(c.Literals, literal(alt[0]))
	}
	return nil
}

func variable(pc piece) (string, bool) {
	if pc.str {
		return "", false
	}
	t := strings.TrimPrefix(pc.text, "$")
	if len(t) < 2 || t[0] != '?' || strings.HasPrefix(t, "?*") {
		return "", false
	}
	return t[1:], true
}

func literal(pc piece) ir.Value {
	if pc.str {
		return ir.String(pc.text)
	}
	return ir.ParseAtom(pc.text)
}
