package engine

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/template"
)

// Assert adds a fact. Ordered facts on relations without a deftemplate
// get an implied template. With fact duplication disabled, asserting a
// fact equal to a live one fails with a DuplicateError.
//
// Validation is complete before anything changes: a failing assert leaves
// working memory, the network and the agenda untouched.
func (e *Environment) Assert(spec ir.FactSpec) (*facts.Fact, error) {
	f, err := e.store.Assert(spec, e)
	if err != nil {
		return nil, fmt.Errorf("assert %s: %w", spec.Template, err)
	}
	return f, nil
}

// AssertValues asserts an ordered fact from Go values, e.g.
// AssertValues("point", 1, 2).
func (e *Environment) AssertValues(relation string, vals ...any) (*facts.Fact, error) {
	spec := ir.FactSpec{Template: relation}
	for i, v := range vals {
		iv, err := ir.FromGo(v)
		if err != nil {
			return nil, fmt.Errorf("assert %s: field %d: %w", relation, i+1, err)
		}
		spec.Values = append(spec.Values, iv)
	}
	return e.Assert(spec)
}

// Retract removes a live fact. Retracting a fact twice fails with an
// AlreadyRetracted error.
func (e *Environment) Retract(f *facts.Fact) error {
	if err := e.store.Retract(f); err != nil {
		return fmt.Errorf("retract: %w", err)
	}
	return nil
}

// RetractIndex retracts the live fact with the given index.
func (e *Environment) RetractIndex(index int64) error {
	f, ok := e.store.Find(index)
	if !ok {
		return ir.Errorf(ir.KindNotFound, "fact f-%d does not exist", index)
	}
	return e.Retract(f)
}

// Modify replaces slot values of a templated fact. The fact keeps its
// index and gets a new timetag; the network sees a retract followed by an
// assert. Ordered facts cannot be modified.
func (e *Environment) Modify(f *facts.Fact, updates []ir.SlotValue) (*facts.Fact, error) {
	if f != nil && !f.Retracted() && f.Ordered() {
		return nil, ir.Errorf(ir.KindNotModifiable, "fact %s is an ordered fact and cannot be modified", f.ID())
	}
	e.modifying = true
	out, err := e.store.Modify(f, updates)
	e.modifying = false
	if err != nil {
		return nil, fmt.Errorf("modify: %w", err)
	}
	e.notify(TraceEvent{Type: EventModify, Fact: out.Index(), Template: out.Template().Name(), Text: out.String(), Values: out.Values()})
	return out, nil
}

// Duplicate asserts a copy of a templated fact with some slots replaced.
func (e *Environment) Duplicate(f *facts.Fact, updates []ir.SlotValue) (*facts.Fact, error) {
	out, err := e.store.Duplicate(f, updates)
	if err != nil {
		return nil, fmt.Errorf("duplicate: %w", err)
	}
	return out, nil
}

// RetractAll retracts every fact of a template, or every fact when name
// is empty. It returns the number of facts retracted.
func (e *Environment) RetractAll(name string) (int, error) {
	if name == "" {
		return e.store.RetractAll(nil)
	}
	tpl, err := e.templates.Find(name)
	if err != nil {
		return 0, err
	}
	return e.store.RetractAll(func(f *facts.Fact) bool { return f.Template() == tpl })
}

// FindFact returns the live fact with the given index.
func (e *Environment) FindFact(index int64) (*facts.Fact, bool) {
	return e.store.Find(index)
}

// Facts iterates live facts in assertion order.
func (e *Environment) Facts() iter.Seq[*facts.Fact] {
	return e.store.Facts()
}

// FactsOf iterates live facts of one template in assertion order.
func (e *Environment) FactsOf(name string) (iter.Seq[*facts.Fact], error) {
	tpl, err := e.templates.Find(name)
	if err != nil {
		return nil, err
	}
	return e.store.FactsOf(tpl), nil
}

// VisibleFacts iterates the live facts whose templates are visible from
// a module, in assertion order.
func (e *Environment) VisibleFacts(moduleName string) (iter.Seq[*facts.Fact], error) {
	from, ok := e.modules.Find(moduleName)
	if !ok {
		return nil, ir.NotFound(ir.ConstructModule, moduleName)
	}
	return func(yield func(*facts.Fact) bool) {
		for f := range e.store.Facts() {
			if !e.modules.Visible(from, ir.ConstructTemplate, f.Template().Name()) {
				continue
			}
			if !yield(f) {
				return
			}
		}
	}, nil
}

// FactCount returns the number of live facts.
func (e *Environment) FactCount() int {
	return e.store.Len()
}

// SetFactDuplication allows or forbids duplicate facts and returns the
// previous setting.
func (e *Environment) SetFactDuplication(on bool) bool {
	prev := e.store.Duplication()
	e.store.SetDuplication(on)
	return prev
}

// FactDuplication reports whether duplicate facts are allowed.
func (e *Environment) FactDuplication() bool {
	return e.store.Duplication()
}

// WriteFacts lists the live facts visible from the current module.
func (e *Environment) WriteFacts(w io.Writer) error {
	seq, err := e.VisibleFacts(e.modules.Current().Name())
	if err != nil {
		return err
	}
	n := 0
	for f := range seq {
		if _, err := fmt.Fprintf(w, "%-7s %s\n", f.ID(), f); err != nil {
			return err
		}
		n++
	}
	_, err = fmt.Fprintf(w, "For a total of %d %s.\n", n, plural(n, "fact", "facts"))
	return err
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// factArg resolves a fact address or fact index argument.
func (e *Environment) factArg(fn string, v ir.Value) (*facts.Fact, error) {
	var index int64
	switch x := v.(type) {
	case ir.FactAddress:
		index = x.Index
	case ir.Integer:
		index = int64(x)
	default:
		return nil, ir.TypeMismatchf("function %s expected a fact address or index, got %s", fn, kindName(v))
	}
	f, ok := e.store.Find(index)
	if !ok {
		return nil, ir.Errorf(ir.KindNotFound, "function %s: fact f-%d does not exist", fn, index)
	}
	return f, nil
}

// assertQuiet asserts from a rule action or deffacts; a duplicate fact is
// not an error and yields nil.
func (e *Environment) assertQuiet(spec ir.FactSpec) (*facts.Fact, error) {
	f, err := e.store.Assert(spec, e)
	var dup *facts.DuplicateError
	if errors.As(err, &dup) {
		return nil, nil
	}
	return f, err
}

var _ template.Evaluator = (*Environment)(nil)
