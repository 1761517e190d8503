package agenda

import (
	"cmp"
	"slices"
	"strings"

	"github.com/roach88/prodsys/internal/ir"
)

// Strategy orders activations of equal salience.
type Strategy uint8

const (
	// Depth fires the most recently created activation first.
	Depth Strategy = iota
	// Breadth fires activations in creation order.
	Breadth
	// LEX compares the recency of the matched facts, most recent first.
	LEX
	// MEA compares the recency of the fact matching the first pattern,
	// then falls back to LEX.
	MEA
	// Complexity prefers rules with more condition elements.
	Complexity
	// Simplicity prefers rules with fewer condition elements.
	Simplicity
	// Random orders activations by a random key drawn at creation.
	Random
)

var strategyNames = [...]string{
	Depth:      "depth",
	Breadth:    "breadth",
	LEX:        "lex",
	MEA:        "mea",
	Complexity: "complexity",
	Simplicity: "simplicity",
	Random:     "random",
}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return "unknown"
}

// ParseStrategy maps a strategy name, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	for s, n := range strategyNames {
		if strings.EqualFold(n, name) {
			return Strategy(s), nil
		}
	}
	return Depth, ir.ParsingErrorf("unknown conflict resolution strategy %q", name)
}

// SalienceMode selects when salience expressions are evaluated.
type SalienceMode uint8

const (
	// WhenDefined evaluates salience once, when the rule is defined.
	WhenDefined SalienceMode = iota
	// WhenActivated evaluates salience when each activation is created.
	WhenActivated
	// EveryCycle re-evaluates every activation's salience before each
	// selection.
	EveryCycle
)

var salienceModeNames = [...]string{
	WhenDefined:   "when-defined",
	WhenActivated: "when-activated",
	EveryCycle:    "every-cycle",
}

func (m SalienceMode) String() string {
	if int(m) < len(salienceModeNames) {
		return salienceModeNames[m]
	}
	return "unknown"
}

// ParseSalienceMode maps a salience evaluation mode name.
func ParseSalienceMode(name string) (SalienceMode, error) {
	for m, n := range salienceModeNames {
		if strings.EqualFold(n, name) {
			return SalienceMode(m), nil
		}
	}
	return WhenDefined, ir.ParsingErrorf("unknown salience evaluation mode %q", name)
}

// compare orders a before b when it returns a negative number. Salience
// dominates, then the strategy, then the creation sequence: newest first
// for every strategy but breadth.
func (s Strategy) compare(a, b *Activation) int {
	if c := cmp.Compare(b.salience, a.salience); c != 0 {
		return c
	}
	var c int
	switch s {
	case LEX:
		c = compareRecency(a.recency, b.recency)
	case MEA:
		c = cmp.Compare(b.first, a.first)
		if c == 0 {
			c = compareRecency(a.recency, b.recency)
		}
	case Complexity:
		c = cmp.Compare(b.rule.Complexity(), a.rule.Complexity())
	case Simplicity:
		c = cmp.Compare(a.rule.Complexity(), b.rule.Complexity())
	case Random:
		c = cmp.Compare(a.random, b.random)
	case Breadth:
		return cmp.Compare(a.seq, b.seq)
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(b.seq, a.seq)
}

// compareRecency compares descending timetag lists pairwise; the first
// larger timetag wins, and a longer list wins a common prefix.
func compareRecency(a, b []int64) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := cmp.Compare(b[i], a[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(b), len(a))
}

// recencyOf returns the non-zero timetags sorted newest first.
func recencyOf(timetags []int64) []int64 {
	out := make([]int64, 0, len(timetags))
	for _, t := range timetags {
		if t != 0 {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(x, y int64) int { return cmp.Compare(y, x) })
	return out
}
