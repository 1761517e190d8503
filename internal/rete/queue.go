package rete

import (
	"github.com/roach88/prodsys/internal/facts"
)

// deltaQueue is a FIFO of pending fact changes.
//
// The queue is unbounded so that changes made while the network is
// propagating (by functions called from predicates) are applied after the
// current change completes, in the order they were made. Access is
// single-threaded; the owning environment serializes callers.
type deltaQueue struct {
	deltas []facts.Delta
}

func newDeltaQueue() *deltaQueue {
	return &deltaQueue{deltas: make([]facts.Delta, 0, 16)}
}

// Enqueue adds a delta to the back of the queue.
func (q *deltaQueue) Enqueue(d facts.Delta) {
	q.deltas = append(q.deltas, d)
}

// TryDequeue removes and returns the front delta.
// Returns (facts.Delta{}, false) if the queue is empty.
func (q *deltaQueue) TryDequeue() (facts.Delta, bool) {
	if len(q.deltas) == 0 {
		return facts.Delta{}, false
	}
	d := q.deltas[0]

	// Drop the fact pointer so retracted facts can be collected.
	q.deltas[0] = facts.Delta{}

	if len(q.deltas) == 1 {
		q.deltas = q.deltas[:0]
	} else {
		q.deltas = q.deltas[1:]
	}
	return d, true
}

// Len returns the number of pending deltas.
func (q *deltaQueue) Len() int {
	return len(q.deltas)
}
