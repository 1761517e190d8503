// Package rete implements the pattern-matching network of the engine.
//
// Facts enter through Submit as deltas from the fact store. Each delta is
// dispatched by template to the alpha memories, which hold the facts that
// pass a pattern's constant tests. Alpha memories are shared by every rule
// whose pattern compiles to the same program.
//
// Each rule owns a chain of beta nodes, one per condition element:
//
//	join     combines a partial match with a fact from an alpha memory
//	not      passes a partial match while no fact in its alpha memory matches
//	exists   passes a partial match once while at least one fact matches
//	test     evaluates an expression over the partial match's bindings
//
// Partial matches (tokens) form a tree rooted at the rule's root token, so
// retracting a fact removes exactly the matches built from it. Tokens that
// reach the terminal node are reported to the AgendaSink as activations.
//
// Propagation is depth first and deterministic: alpha memories are visited
// in creation order, successors in the order their rules were added, and
// memories in arrival order. Deltas submitted during propagation are
// queued and applied once the current delta has been fully propagated.
package rete
