package harness

import "github.com/roach88/prodsys/internal/engine"

// Result is the outcome of a test scenario execution.
type Result struct {
	// Name is the scenario name.
	Name string `json:"name"`

	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Fired is the total number of rules fired.
	Fired int `json:"fired"`

	// Output is everything printed to stdout.
	Output string `json:"output"`

	// Trace contains every engine event in order. Used for trace
	// assertions and golden comparison.
	Trace []engine.TraceEvent `json:"-"`

	// RunID is the journal run the trace was recorded under.
	RunID string `json:"run_id"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult(name string) *Result {
	return &Result{
		Name:   name,
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// FiredRules returns the qualified names of the rules fired, in order.
func (r *Result) FiredRules() []string {
	var out []string
	for _, ev := range r.Trace {
		if ev.Type == engine.EventFire {
			out = append(out, ev.Rule)
		}
	}
	return out
}
