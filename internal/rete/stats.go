package rete

import (
	"fmt"
	"io"
	"strings"
)

// ConditionStats describes the matches of one condition element.
type ConditionStats struct {
	Condition string
	Kind      string
	// Facts lists the facts matching the pattern alone; nil for tests.
	Facts []string
	// Partial lists the partial matches of conditions 1 through this one.
	Partial []string
}

// Stats is a snapshot of a rule's matches.
type Stats struct {
	Rule        string
	Conditions  []ConditionStats
	Activations []string
}

// Matches reports, for each condition of a rule, the facts that match it
// and the partial matches that have reached it.
func (n *Network) Matches(name string) (Stats, error) {
	r, err := n.Find(name)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Rule: r.name}
	for i, cond := range r.spec.Conditions {
		b := n.nodes[r.nodes[i]]
		cs := ConditionStats{Condition: cond.String(), Kind: b.kind.String()}
		if b.alpha != noNode {
			cs.Facts = []string{}
			seen := map[int64]bool{}
			for _, e := range n.alphas[b.alpha].live() {
				if !seen[e.fact.Index()] {
					seen[e.fact.Index()] = true
					cs.Facts = append(cs.Facts, e.fact.ID())
				}
			}
		}
		for _, t := range n.nodes[b.next].tokens() {
			cs.Partial = append(cs.Partial, t.FactIDs())
		}
		st.Conditions = append(st.Conditions, cs)
	}
	for _, t := range n.Activations(r) {
		st.Activations = append(st.Activations, t.FactIDs())
	}
	return st, nil
}

// Activations returns the tokens at a rule's terminal node in creation
// order.
func (n *Network) Activations(r *Rule) []*Token {
	if len(r.nodes) == 0 {
		return nil
	}
	return n.nodes[r.nodes[len(r.nodes)-1]].tokens()
}

// FactIDs renders the matched facts as f-1,f-2 with * for positions
// without a fact.
func (t *Token) FactIDs() string {
	ids := make([]string, len(t.facts))
	for i, f := range t.facts {
		if f == nil {
			ids[i] = "*"
			continue
		}
		ids[i] = f.ID()
	}
	return strings.Join(ids, ",")
}

// Write renders the snapshot in the layout of the matches command.
func (s Stats) Write(w io.Writer) error {
	var b strings.Builder
	for i, c := range s.Conditions {
		if c.Facts != nil {
			fmt.Fprintf(&b, "Matches for Pattern %d\n", i+1)
			writeList(&b, c.Facts)
		}
	}
	for i, c := range s.Conditions {
		if i == 0 {
			continue
		}
		fmt.Fprintf(&b, "Partial matches for CEs 1 - %d\n", i+1)
		writeList(&b, c.Partial)
	}
	b.WriteString("Activations\n")
	writeList(&b, s.Activations)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeList(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString(" None\n")
		return
	}
	for _, it := range items {
		b.WriteString(it)
		b.WriteByte('\n')
	}
}
