package rete

import (
	"strconv"
	"strings"

	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/template"
)

// elemProg tests one field (or one segment of a multifield) of a fact.
type elemProg struct {
	multi    bool
	local    int // pattern-local variable receiving the field, -1 for none
	literals []ir.Value
	excluded []ir.Value
}

// fieldProg matches one slot of a fact. Ordered facts have a single
// fieldProg with slot -1 covering the whole value vector.
type fieldProg struct {
	slot  int
	multi bool
	elems []elemProg
}

// alphaProg is the compiled single-fact part of a pattern: constant tests
// and equality between repeated variables. Variables are numbered by first
// occurrence so structurally equal patterns compile to equal programs.
type alphaProg struct {
	tpl     *template.Template
	fields  []fieldProg
	nlocals int
}

// signature is the sharing key of the program.
func (p *alphaProg) signature() string {
	var b strings.Builder
	b.WriteString(p.tpl.Name())
	for _, f := range p.fields {
		b.WriteString("|s")
		b.WriteString(strconv.Itoa(f.slot))
		if f.multi {
			b.WriteByte('*')
		}
		b.WriteByte(':')
		for _, e := range f.elems {
			if e.multi {
				b.WriteByte('$')
			}
			if e.local >= 0 {
				b.WriteString("?" + strconv.Itoa(e.local))
			} else {
				b.WriteByte('_')
			}
			if len(e.literals) > 0 {
				b.WriteString("=" + ir.KeyOf(e.literals...))
			}
			if len(e.excluded) > 0 {
				b.WriteString("~" + ir.KeyOf(e.excluded...))
			}
			b.WriteByte(',')
		}
	}
	return b.String()
}

// match returns one binding vector per way the fact satisfies the program.
// Multifield segments can make a fact match more than once.
func (p *alphaProg) match(f *facts.Fact) [][]ir.Value {
	var out [][]ir.Value
	locals := make([]ir.Value, p.nlocals)
	p.matchField(f.Values(), 0, locals, func() {
		out = append(out, append([]ir.Value(nil), locals...))
	})
	return out
}

func (p *alphaProg) matchField(values []ir.Value, i int, locals []ir.Value, emit func()) {
	if i == len(p.fields) {
		emit()
		return
	}
	fp := p.fields[i]
	next := func() { p.matchField(values, i+1, locals, emit) }
	if fp.slot < 0 {
		matchSeq(values, fp.elems, 0, locals, next)
		return
	}
	v := values[fp.slot]
	if !fp.multi {
		bindElem(fp.elems[0], v, locals, next)
		return
	}
	m, _ := v.(ir.Multifield)
	matchSeq(m, fp.elems, 0, locals, next)
}

// matchSeq matches a sequence of field constraints against vals, with
// backtracking over segment lengths.
func matchSeq(vals []ir.Value, elems []elemProg, pos int, locals []ir.Value, emit func()) {
	if len(elems) == 0 {
		if pos == len(vals) {
			emit()
		}
		return
	}
	e, rest := elems[0], elems[1:]
	if !e.multi {
		if pos >= len(vals) {
			return
		}
		bindElem(e, vals[pos], locals, func() { matchSeq(vals, rest, pos+1, locals, emit) })
		return
	}
	need := 0
	for _, r := range rest {
		if !r.multi {
			need++
		}
	}
	for end := pos; end <= len(vals)-need; end++ {
		seg := make(ir.Multifield, end-pos)
		copy(seg, vals[pos:end])
		bindElem(e, seg, locals, func() { matchSeq(vals, rest, end, locals, emit) })
	}
}

// bindElem checks v against e and, when it passes, binds e's variable for
// the duration of emit.
func bindElem(e elemProg, v ir.Value, locals []ir.Value, emit func()) {
	if len(e.literals) > 0 && !containsValue(e.literals, v) {
		return
	}
	if containsValue(e.excluded, v) {
		return
	}
	if e.local < 0 {
		emit()
		return
	}
	if prev := locals[e.local]; prev != nil {
		if ir.Equal(prev, v) {
			emit()
		}
		return
	}
	locals[e.local] = v
	emit()
	locals[e.local] = nil
}

func containsValue(vals []ir.Value, v ir.Value) bool {
	for _, x := range vals {
		if ir.Equal(x, v) {
			return true
		}
	}
	return false
}

// alphaEntry is one way a fact satisfies an alpha memory.
type alphaEntry struct {
	fact   *facts.Fact
	locals []ir.Value
	alive  bool
}

// alphaMemory holds the facts passing one alpha program. Memories are
// shared by every pattern with the same signature.
type alphaMemory struct {
	id         NodeID
	prog       *alphaProg
	sig        string
	refs       int
	entries    map[int64][]*alphaEntry
	list       []*alphaEntry
	count      int
	successors []NodeID
}

func newAlphaMemory(id NodeID, prog *alphaProg, sig string) *alphaMemory {
	return &alphaMemory{id: id, prog: prog, sig: sig, entries: make(map[int64][]*alphaEntry)}
}

func (m *alphaMemory) add(f *facts.Fact, locals []ir.Value) *alphaEntry {
	e := &alphaEntry{fact: f, locals: locals, alive: true}
	m.entries[f.Index()] = append(m.entries[f.Index()], e)
	m.list = append(m.list, e)
	m.count++
	return e
}

func (m *alphaMemory) remove(index int64) []*alphaEntry {
	es := m.entries[index]
	delete(m.entries, index)
	m.count -= len(es)
	for _, e := range es {
		e.alive = false
	}
	if len(m.list) > 32 && m.count < len(m.list)/2 {
		live := make([]*alphaEntry, 0, m.count)
		for _, e := range m.list {
			if e.alive {
				live = append(live, e)
			}
		}
		m.list = live
	}
	return es
}

// live returns the current entries in insertion order.
func (m *alphaMemory) live() []*alphaEntry {
	out := make([]*alphaEntry, 0, m.count)
	for _, e := range m.list {
		if e.alive {
			out = append(out, e)
		}
	}
	return out
}
