package engine

import "sync/atomic"

// Clock hands out increasing sequence numbers. Timetags, activation numbers
// and event numbers come from clocks rather than wall time, so replaying the
// same constructs and facts reproduces the same ordering.
//
// A Clock may be read from any goroutine; the environment owning it is the
// only writer.
type Clock struct {
	n atomic.Int64
}

// NewClock returns a clock whose first tick is 1.
func NewClock() *Clock { return new(Clock) }

// NewClockAt returns a clock whose first tick is start+1, for continuing a
// journaled event sequence.
func NewClockAt(start int64) *Clock {
	c := new(Clock)
	c.n.Store(start)
	return c
}

// Next advances the clock.
func (c *Clock) Next() int64 { return c.n.Add(1) }

// Current is the most recent tick, 0 before the first.
func (c *Clock) Current() int64 { return c.n.Load() }
