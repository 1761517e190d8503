// Package facts implements working memory: fact assertion, retraction and
// modification, the duplicate index, and the delta stream consumed by the
// pattern network.
//
// Invariants:
//   - Fact indices strictly increase and are never reused, even after
//     retraction or reset.
//   - Every mutation emits its deltas to the Sink before the store forgets
//     the old state, so the network can invalidate dependent matches.
//   - With duplication disabled no two live facts share template and values.
package facts
