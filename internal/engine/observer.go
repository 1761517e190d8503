package engine

import "github.com/roach88/prodsys/internal/ir"

// EventType names a traced engine event.
type EventType string

const (
	EventAssert     EventType = "assert"
	EventRetract    EventType = "retract"
	EventModify     EventType = "modify"
	EventActivate   EventType = "activate"
	EventDeactivate EventType = "deactivate"
	EventFire       EventType = "fire"
	EventHalt       EventType = "halt"
	EventRunStart   EventType = "run-start"
	EventRunEnd     EventType = "run-end"
	EventGlobal     EventType = "global"
	EventFocus      EventType = "focus"
	EventError      EventType = "error"
)

// TraceEvent describes one change inside an environment. Fields that do
// not apply to the event type are zero.
type TraceEvent struct {
	// Seq orders events of one environment.
	Seq int64
	// Env is the environment ID.
	Env  string
	Type EventType
	// Rule is the qualified rule name for activation and firing events.
	Rule string
	// Fact is the fact index for fact events.
	Fact int64
	// Template is the qualified template name for fact events.
	Template string
	// Text is the printed form of the fact, activation or global.
	Text string
	// Values holds the fact's value vector or the new global value.
	Values []ir.Value
	// Salience of an activation.
	Salience int
	// Count is the fired count for run-end, and the firing number for fire.
	Count int
	// Err is set on error events and on run-end after a failed action.
	Err error
}

// Observer receives trace events synchronously, on the goroutine running
// the environment.
type Observer interface {
	Observe(TraceEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(TraceEvent)

// Observe calls f.
func (f ObserverFunc) Observe(ev TraceEvent) {
	f(ev)
}

func (e *Environment) notify(ev TraceEvent) {
	if len(e.observers) == 0 {
		return
	}
	ev.Seq = e.events.Next()
	ev.Env = e.id
	for _, o := range e.observers {
		o.Observe(ev)
	}
}
