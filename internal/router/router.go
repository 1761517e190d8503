package router

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/roach88/prodsys/internal/ir"
)

// Standard logical names.
const (
	Stdout = "stdout"
	Stderr = "stderr"
	Stdwrn = "stdwrn"
	Stdin  = "stdin"
	// T is the printout alias for stdout.
	T = "t"
)

// ErrPass is returned by Write when the router has observed the text and
// the next router accepting the name should receive it too.
var ErrPass = errors.New("router: pass to next router")

// Router is a named output sink for one or more logical names.
type Router interface {
	Name() string
	// Priority orders routers; higher priorities are offered text first.
	Priority() int
	// Query reports whether the router handles a logical name.
	Query(logical string) bool
	Write(logical, text string) error
}

// Reader is implemented by routers that supply input.
type Reader interface {
	Read(logical string) (string, error)
	Unread(logical, text string) error
}

// Exiter is implemented by routers that release resources when the
// environment exits.
type Exiter interface {
	Exit(code int)
}

type entry struct {
	r      Router
	active bool
	order  int
}

// Set dispatches logical names to the highest priority active router that
// accepts them. Routers of equal priority are tried in the order added.
type Set struct {
	entries []*entry
	added   int
}

// NewSet creates a set holding the given routers, all active.
func NewSet(routers ...Router) *Set {
	s := &Set{}
	for _, r := range routers {
		_ = s.Add(r)
	}
	return s
}

// Add registers an active router. Names must be unique.
func (s *Set) Add(r Router) error {
	if s.find(r.Name()) != nil {
		return ir.Duplicate("router", r.Name())
	}
	s.added++
	s.entries = append(s.entries, &entry{r: r, active: true, order: s.added})
	slices.SortStableFunc(s.entries, func(a, b *entry) int {
		if a.r.Priority() != b.r.Priority() {
			return b.r.Priority() - a.r.Priority()
		}
		return a.order - b.order
	})
	return nil
}

// Remove unregisters a router.
func (s *Set) Remove(name string) error {
	e := s.find(name)
	if e == nil {
		return ir.NotFound("router", name)
	}
	s.entries = slices.DeleteFunc(s.entries, func(x *entry) bool { return x == e })
	return nil
}

// Activate re-enables a router.
func (s *Set) Activate(name string) error {
	return s.setActive(name, true)
}

// Deactivate stops dispatching to a router without removing it.
func (s *Set) Deactivate(name string) error {
	return s.setActive(name, false)
}

func (s *Set) setActive(name string, on bool) error {
	e := s.find(name)
	if e == nil {
		return ir.NotFound("router", name)
	}
	e.active = on
	return nil
}

func (s *Set) find(name string) *entry {
	for _, e := range s.entries {
		if e.r.Name() == name {
			return e
		}
	}
	return nil
}

// Find returns a registered router by name.
func (s *Set) Find(name string) (Router, bool) {
	if e := s.find(name); e != nil {
		return e.r, true
	}
	return nil, false
}

// Routers iterates over routers in dispatch order.
func (s *Set) Routers() iter.Seq[Router] {
	return func(yield func(Router) bool) {
		for _, e := range slices.Clone(s.entries) {
			if !yield(e.r) {
				return
			}
		}
	}
}

// Canonical maps the printout alias t to stdout.
func Canonical(logical string) string {
	if logical == T {
		return Stdout
	}
	return logical
}

// Query reports whether any active router accepts a logical name.
func (s *Set) Query(logical string) bool {
	logical = Canonical(logical)
	for _, e := range s.entries {
		if e.active && e.r.Query(logical) {
			return true
		}
	}
	return false
}

// Write sends text to the first active router accepting the logical name.
func (s *Set) Write(logical, text string) error {
	logical = Canonical(logical)
	for _, e := range s.entries {
		if !e.active || !e.r.Query(logical) {
			continue
		}
		err := e.r.Write(logical, text)
		if errors.Is(err, ErrPass) {
			continue
		}
		return err
	}
	if logical == Stdout || logical == Stderr || logical == Stdwrn {
		// Standard names with no router are discarded.
		return nil
	}
	return ir.NotFound("router", logical)
}

// Writef formats and writes.
func (s *Set) Writef(logical, format string, args ...any) error {
	return s.Write(logical, fmt.Sprintf(format, args...))
}

// Read reads from the first active reader accepting the logical name.
func (s *Set) Read(logical string) (string, error) {
	logical = Canonical(logical)
	for _, e := range s.entries {
		if !e.active || !e.r.Query(logical) {
			continue
		}
		if rd, ok := e.r.(Reader); ok {
			return rd.Read(logical)
		}
	}
	return "", ir.NotFound("router", logical)
}

// Unread pushes text back to the first active reader accepting the name.
func (s *Set) Unread(logical, text string) error {
	logical = Canonical(logical)
	for _, e := range s.entries {
		if !e.active || !e.r.Query(logical) {
			continue
		}
		if rd, ok := e.r.(Reader); ok {
			return rd.Unread(logical, text)
		}
	}
	return ir.NotFound("router", logical)
}

// Exit notifies every router implementing Exiter.
func (s *Set) Exit(code int) {
	for _, e := range s.entries {
		if x, ok := e.r.(Exiter); ok {
			x.Exit(code)
		}
	}
}
