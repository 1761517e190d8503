package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/prodsys/internal/engine"
)

// EventRecorder is an engine observer that keeps every trace event.
//
// Unlike a journal it can be reset between scenario steps, so the same
// recorder captures each step separately.
//
// Thread-safety: all methods are safe for concurrent use.
type EventRecorder struct {
	mu     sync.Mutex
	events []engine.TraceEvent
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Observe implements engine.Observer.
func (r *EventRecorder) Observe(ev engine.TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []engine.TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.TraceEvent(nil), r.events...)
}

// Of returns the recorded events of the given types, in order.
func (r *EventRecorder) Of(types ...engine.EventType) []engine.TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []engine.TraceEvent
	for _, ev := range r.events {
		for _, t := range types {
			if ev.Type == t {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

// Fired returns the names of the rules fired, in firing order.
func (r *EventRecorder) Fired() []string {
	var out []string
	for _, ev := range r.Of(engine.EventFire) {
		out = append(out, ev.Rule)
	}
	return out
}

// Reset forgets every recorded event.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// String renders the events one per line, for golden files.
func (r *EventRecorder) String() string {
	var b strings.Builder
	for _, ev := range r.Events() {
		b.WriteString(FormatEvent(ev))
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatEvent renders one event as "seq type detail".
func FormatEvent(ev engine.TraceEvent) string {
	var detail string
	switch ev.Type {
	case engine.EventAssert, engine.EventRetract, engine.EventModify:
		detail = fmt.Sprintf("f-%d %s", ev.Fact, ev.Text)
	case engine.EventActivate, engine.EventDeactivate:
		detail = fmt.Sprintf("%d %s: %s", ev.Salience, ev.Rule, ev.Text)
	case engine.EventFire:
		detail = fmt.Sprintf("%d %s: %s", ev.Count, ev.Rule, ev.Text)
	case engine.EventRunStart, engine.EventRunEnd:
		detail = fmt.Sprintf("%d", ev.Count)
	case engine.EventGlobal, engine.EventFocus:
		detail = ev.Text
	default:
		detail = strings.TrimSpace(ev.Rule + " " + ev.Text)
	}
	if ev.Err != nil {
		detail += " error: " + ev.Err.Error()
	}
	return strings.TrimRight(fmt.Sprintf("%d %s %s", ev.Seq, ev.Type, detail), " ")
}
