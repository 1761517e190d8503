package agenda

import (
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"

	"github.com/roach88/prodsys/internal/ir"
)

// DefaultSalience is the salience of rules that declare none.
const (
	DefaultSalience = 0
	MinSalience     = -10000
	MaxSalience     = 10000
)

// Rule is the view of a rule the agenda needs.
type Rule interface {
	Name() string
	Module() string
	Complexity() int
	AutoFocus() bool
}

// Sequencer supplies activation creation numbers.
type Sequencer interface {
	Next() int64
}

// Activation is a rule instantiation waiting to fire.
type Activation struct {
	rule     Rule
	salience int
	seq      int64
	timetags []int64
	recency  []int64
	first    int64
	random   uint64
	facts    string
	payload  any
	listed   bool
}

// Rule returns the activated rule.
func (a *Activation) Rule() Rule { return a.rule }

// Salience returns the activation's current salience.
func (a *Activation) Salience() int { return a.salience }

// Seq is the creation sequence number, unique per agenda clock.
func (a *Activation) Seq() int64 { return a.seq }

// Timetags returns the timetags of the matched facts by condition, 0 where
// a condition matched no fact.
func (a *Activation) Timetags() []int64 { return a.timetags }

// Facts returns the matched fact list as text, e.g. f-1,f-2.
func (a *Activation) Facts() string { return a.facts }

// Payload returns the match the activation was created from.
func (a *Activation) Payload() any { return a.payload }

// Listed reports whether the activation is still on the agenda.
func (a *Activation) Listed() bool { return a.listed }

// String renders the activation as the agenda command lists it.
func (a *Activation) String() string {
	_, name := ir.SplitName(a.rule.Name())
	return fmt.Sprintf("%-6d %s: %s", a.salience, name, a.facts)
}

// Option configures an Agenda.
type Option func(*Agenda)

// WithStrategy sets the initial conflict resolution strategy.
func WithStrategy(s Strategy) Option {
	return func(ag *Agenda) {
		ag.strategy = s
	}
}

// WithSeed seeds the random strategy.
func WithSeed(seed uint64) Option {
	return func(ag *Agenda) {
		ag.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// Agenda keeps one ordered activation list per module and the focus stack
// selecting which list fires next.
//
// An Agenda is not safe for concurrent use.
type Agenda struct {
	strategy Strategy
	seq      Sequencer
	rng      *rand.Rand
	lists    map[string][]*Activation
	modules  []string
	focus    []string
	count    int
}

// New creates an empty agenda drawing sequence numbers from seq.
func New(seq Sequencer, opts ...Option) *Agenda {
	ag := &Agenda{
		seq:   seq,
		lists: make(map[string][]*Activation),
	}
	for _, opt := range opts {
		opt(ag)
	}
	if ag.rng == nil {
		ag.rng = rand.New(rand.NewPCG(1, 2))
	}
	return ag
}

// Strategy returns the current strategy.
func (ag *Agenda) Strategy() Strategy { return ag.strategy }

// SetStrategy changes the strategy and reorders every list. It returns
// the previous strategy.
func (ag *Agenda) SetStrategy(s Strategy) Strategy {
	prev := ag.strategy
	ag.strategy = s
	if prev != s {
		ag.Reorder()
	}
	return prev
}

// Add creates an activation and inserts it in its module's list. Rules
// with auto-focus push their module onto the focus stack.
func (ag *Agenda) Add(rule Rule, salience int, timetags []int64, facts string, payload any) *Activation {
	a := &Activation{
		rule:     rule,
		salience: salience,
		seq:      ag.seq.Next(),
		timetags: timetags,
		recency:  recencyOf(timetags),
		random:   ag.rng.Uint64(),
		facts:    facts,
		payload:  payload,
	}
	if len(timetags) > 0 {
		a.first = timetags[0]
	}
	ag.insert(a)
	if rule.AutoFocus() {
		ag.Focus(rule.Module())
	}
	return a
}

func (ag *Agenda) insert(a *Activation) {
	mod := a.rule.Module()
	list, ok := ag.lists[mod]
	if !ok {
		ag.modules = append(ag.modules, mod)
	}
	i, _ := slices.BinarySearchFunc(list, a, ag.strategy.compare)
	ag.lists[mod] = slices.Insert(list, i, a)
	a.listed = true
	ag.count++
}

// Remove takes an activation off the agenda. Removing an activation that
// already fired or was removed is a no-op.
func (ag *Agenda) Remove(a *Activation) bool {
	if a == nil || !a.listed {
		return false
	}
	mod := a.rule.Module()
	list := ag.lists[mod]
	i, found := slices.BinarySearchFunc(list, a, ag.strategy.compare)
	if !found || list[i] != a {
		i = slices.Index(list, a)
	}
	if i < 0 {
		return false
	}
	ag.lists[mod] = slices.Delete(list, i, i+1)
	a.listed = false
	ag.count--
	return true
}

// SetSalience changes an activation's salience and repositions it.
func (ag *Agenda) SetSalience(a *Activation, salience int) {
	if !a.listed {
		a.salience = salience
		return
	}
	ag.Remove(a)
	a.salience = salience
	ag.insert(a)
}

// Refresh recomputes the salience of every listed activation and
// reorders the lists.
func (ag *Agenda) Refresh(salience func(*Activation) int) {
	for _, list := range ag.lists {
		for _, a := range list {
			a.salience = salience(a)
		}
	}
	ag.Reorder()
}

// Reorder sorts every list under the current strategy.
func (ag *Agenda) Reorder() {
	for _, list := range ag.lists {
		slices.SortStableFunc(list, ag.strategy.compare)
	}
}

// Next removes and returns the activation to fire, following the focus
// stack. Modules whose lists are empty are popped. It returns nil when the
// focus stack empties.
func (ag *Agenda) Next() *Activation {
	for len(ag.focus) > 0 {
		mod := ag.focus[len(ag.focus)-1]
		list := ag.lists[mod]
		if len(list) == 0 {
			ag.focus = ag.focus[:len(ag.focus)-1]
			continue
		}
		a := list[0]
		ag.lists[mod] = slices.Delete(list, 0, 1)
		a.listed = false
		ag.count--
		return a
	}
	return nil
}

// Peek returns the activation Next would return without removing it or
// popping the focus stack. With an empty stack it looks at MAIN, which a
// run focuses first.
func (ag *Agenda) Peek() *Activation {
	stack := ag.focus
	if len(stack) == 0 {
		stack = []string{ir.MainModule}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if list := ag.lists[stack[i]]; len(list) > 0 {
			return list[0]
		}
	}
	return nil
}

// Clear removes every activation.
func (ag *Agenda) Clear() {
	for _, list := range ag.lists {
		for _, a := range list {
			a.listed = false
		}
	}
	ag.lists = make(map[string][]*Activation)
	ag.modules = nil
	ag.count = 0
}

// Len returns the number of listed activations.
func (ag *Agenda) Len() int { return ag.count }

// Activations iterates over a module's list in firing order. The empty
// module name iterates every module in first-use order.
func (ag *Agenda) Activations(module string) iter.Seq[*Activation] {
	return func(yield func(*Activation) bool) {
		mods := ag.modules
		if module != "" {
			mods = []string{module}
		}
		for _, m := range slices.Clone(mods) {
			for _, a := range slices.Clone(ag.lists[m]) {
				if !yield(a) {
					return
				}
			}
		}
	}
}

// Focus pushes a module onto the focus stack unless it is already on top.
func (ag *Agenda) Focus(module string) {
	if n := len(ag.focus); n > 0 && ag.focus[n-1] == module {
		return
	}
	ag.focus = append(ag.focus, module)
}

// PopFocus pops and returns the focused module, or "" when the stack is
// empty.
func (ag *Agenda) PopFocus() string {
	n := len(ag.focus)
	if n == 0 {
		return ""
	}
	mod := ag.focus[n-1]
	ag.focus = ag.focus[:n-1]
	return mod
}

// CurrentFocus returns the focused module, or "".
func (ag *Agenda) CurrentFocus() string {
	if n := len(ag.focus); n > 0 {
		return ag.focus[n-1]
	}
	return ""
}

// ClearFocus empties the focus stack.
func (ag *Agenda) ClearFocus() {
	ag.focus = nil
}

// FocusStack returns the stack, top first.
func (ag *Agenda) FocusStack() []string {
	out := slices.Clone(ag.focus)
	slices.Reverse(out)
	return out
}
