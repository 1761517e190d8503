package facts

import (
	"fmt"
	"iter"

	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/template"
)

// Op is the kind of a working memory delta.
type Op uint8

const (
	OpAssert Op = iota + 1
	OpRetract
)

// String names the op.
func (o Op) String() string {
	if o == OpAssert {
		return "assert"
	}
	return "retract"
}

// Delta is one change to working memory. A modify is emitted as a retract
// followed by an assert of the same fact.
type Delta struct {
	Op   Op
	Fact *Fact
}

// Sink consumes deltas. The pattern network implements it.
type Sink interface {
	Submit(Delta)
}

// Sequencer hands out increasing timetags. The engine clock implements it.
type Sequencer interface {
	Next() int64
}

// DuplicateError reports an assertion that matches a live fact while
// duplication is disabled.
type DuplicateError struct {
	Existing *Fact
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: fact %s already exists: %s", ir.KindDuplicate, e.Existing.ID(), e.Existing)
}

// Is matches ir.ErrDuplicate.
func (e *DuplicateError) Is(target error) bool {
	t, ok := target.(*ir.Error)
	return ok && t.Kind == ir.KindDuplicate
}

// Store is the working memory of one engine. It is not safe for
// concurrent use.
type Store struct {
	templates   *template.Registry
	clock       Sequencer
	sink        Sink
	duplication bool

	nextIndex int64
	byIndex   map[int64]*Fact
	byKey     map[string]*Fact
	order     []*Fact
	dead      int
}

// NewStore creates an empty store.
func NewStore(templates *template.Registry, clock Sequencer) *Store {
	return &Store{
		templates: templates,
		clock:     clock,
		byIndex:   make(map[int64]*Fact),
		byKey:     make(map[string]*Fact),
	}
}

// SetSink installs the delta consumer.
func (s *Store) SetSink(sink Sink) {
	s.sink = sink
}

// SetDuplication allows (true) or forbids (false) duplicate facts.
func (s *Store) SetDuplication(on bool) {
	s.duplication = on
}

// Duplication reports whether duplicate facts are allowed.
func (s *Store) Duplication() bool {
	return s.duplication
}

// Assert adds a fact described by spec. Ordered relations without a
// deftemplate get an implied template. eval supplies dynamic defaults.
func (s *Store) Assert(spec ir.FactSpec, eval template.Evaluator) (*Fact, error) {
	tpl, err := s.templates.Find(spec.Template)
	if err != nil {
		if !ir.IsKind(err, ir.KindNotFound) || len(spec.Slots) > 0 {
			return nil, err
		}
		tpl, err = s.templates.Implied(spec.Template)
		if err != nil {
			return nil, err
		}
	}
	var values []ir.Value
	if tpl.Implied() {
		if len(spec.Slots) > 0 {
			return nil, ir.Errorf(ir.KindSlotMismatch, "%s is an ordered relation, slots given", tpl.Name())
		}
		values, err = tpl.BuildOrdered(spec.Values)
	} else {
		if len(spec.Values) > 0 {
			return nil, ir.Errorf(ir.KindSlotMismatch, "%s is a deftemplate, ordered values given", tpl.Name())
		}
		values, err = tpl.Build(spec.Slots, eval)
	}
	if err != nil {
		return nil, err
	}
	return s.AssertValues(tpl, values)
}

// AssertValues adds a fact from an already validated value vector.
func (s *Store) AssertValues(tpl *template.Template, values []ir.Value) (*Fact, error) {
	key, err := ir.FactKey(tpl.Name(), values)
	if err != nil {
		return nil, err
	}
	if !s.duplication {
		if existing, ok := s.byKey[key]; ok {
			return nil, &DuplicateError{Existing: existing}
		}
	}

	s.nextIndex++
	f := &Fact{
		index:   s.nextIndex,
		timetag: s.clock.Next(),
		tpl:     tpl,
		values:  values,
		key:     key,
	}
	s.byIndex[f.index] = f
	if _, taken := s.byKey[key]; !taken {
		s.byKey[key] = f
	}
	s.order = append(s.order, f)
	tpl.RetainFact()

	s.emit(OpAssert, f)
	return f, nil
}

// Retract removes a live fact. The retract delta is emitted before the
// fact is removed.
func (s *Store) Retract(f *Fact) error {
	if err := s.checkLive(f); err != nil {
		return err
	}
	s.emit(OpRetract, f)

	delete(s.byIndex, f.index)
	s.unindexKey(f)
	f.retracted = true
	f.tpl.ReleaseFact()
	s.dead++
	s.compact()
	return nil
}

// Modify replaces slot values of a templated fact, keeping its index.
// The update is validated completely before working memory changes.
func (s *Store) Modify(f *Fact, updates []ir.SlotValue) (*Fact, error) {
	if err := s.checkLive(f); err != nil {
		return nil, err
	}
	values, err := f.tpl.Update(f.values, updates)
	if err != nil {
		return nil, err
	}
	key, err := ir.FactKey(f.tpl.Name(), values)
	if err != nil {
		return nil, err
	}
	if !s.duplication {
		if existing, ok := s.byKey[key]; ok && existing != f {
			return nil, &DuplicateError{Existing: existing}
		}
	}

	s.emit(OpRetract, f)
	s.unindexKey(f)
	f.values = values
	f.key = key
	f.timetag = s.clock.Next()
	if _, taken := s.byKey[key]; !taken {
		s.byKey[key] = f
	}
	s.emit(OpAssert, f)
	return f, nil
}

// Duplicate asserts a copy of a templated fact with some slots replaced.
func (s *Store) Duplicate(f *Fact, updates []ir.SlotValue) (*Fact, error) {
	if err := s.checkLive(f); err != nil {
		return nil, err
	}
	values, err := f.tpl.Update(f.values, updates)
	if err != nil {
		return nil, err
	}
	return s.AssertValues(f.tpl, values)
}

// RetractAll retracts every live fact accepted by match (all when nil) and
// returns the number retracted.
func (s *Store) RetractAll(match func(*Fact) bool) (int, error) {
	var victims []*Fact
	for f := range s.Facts() {
		if match == nil || match(f) {
			victims = append(victims, f)
		}
	}
	n := 0
	for _, f := range victims {
		if f.retracted {
			continue
		}
		if err := s.Retract(f); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Find returns the live fact with the given index.
func (s *Store) Find(index int64) (*Fact, bool) {
	f, ok := s.byIndex[index]
	return f, ok
}

// Len returns the number of live facts.
func (s *Store) Len() int {
	return len(s.byIndex)
}

// NextIndex returns the index the next assertion will receive.
func (s *Store) NextIndex() int64 {
	return s.nextIndex + 1
}

// Facts iterates live facts in assertion order. Each range restarts from
// the beginning; facts asserted during iteration are not visited and facts
// retracted during iteration are skipped.
func (s *Store) Facts() iter.Seq[*Fact] {
	return func(yield func(*Fact) bool) {
		order := s.order
		for _, f := range order {
			if f.retracted {
				continue
			}
			if !yield(f) {
				return
			}
		}
	}
}

// FactsOf iterates live facts of one template in assertion order.
func (s *Store) FactsOf(tpl *template.Template) iter.Seq[*Fact] {
	return func(yield func(*Fact) bool) {
		for f := range s.Facts() {
			if f.tpl != tpl {
				continue
			}
			if !yield(f) {
				return
			}
		}
	}
}

func (s *Store) checkLive(f *Fact) error {
	if f == nil {
		return ir.Errorf(ir.KindNotFound, "no fact given")
	}
	if f.retracted {
		return ir.Errorf(ir.KindAlreadyRetracted, "fact %s is retracted", f.ID())
	}
	if s.byIndex[f.index] != f {
		return ir.Errorf(ir.KindNotFound, "fact %s is not in this working memory", f.ID())
	}
	return nil
}

func (s *Store) unindexKey(f *Fact) {
	if s.byKey[f.key] != f {
		return
	}
	delete(s.byKey, f.key)
	// with duplication enabled another live fact may carry the same key
	if s.duplication {
		for g := range s.Facts() {
			if g != f && g.key == f.key {
				s.byKey[f.key] = g
				return
			}
		}
	}
}

func (s *Store) emit(op Op, f *Fact) {
	if s.sink != nil {
		s.sink.Submit(Delta{Op: op, Fact: f})
	}
}

// compact drops retracted facts from the order slice once they dominate it.
// A fresh slice is allocated so iterators holding the old one stay valid.
func (s *Store) compact() {
	if s.dead < 64 || s.dead*2 < len(s.order) {
		return
	}
	live := make([]*Fact, 0, len(s.order)-s.dead)
	for _, f := range s.order {
		if !f.retracted {
			live = append(live, f)
		}
	}
	s.order = live
	s.dead = 0
}
