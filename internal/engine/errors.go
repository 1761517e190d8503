package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/prodsys/internal/ir"
)

// RunError is returned by Run when a rule action fails.
//
// The run stops at the failing action. Working memory and the agenda keep
// whatever the completed actions produced; nothing is rolled back.
type RunError struct {
	// Fired is the number of rules that fired completely before the failure.
	Fired int

	// Rule is the qualified name of the rule whose action failed.
	Rule string

	// Action is the failing action in construct syntax.
	Action string

	// Err is the cause, a ProcessingError wrapping the action's error.
	Err error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("run stopped after %d rules: rule %s: action %s: %v", e.Fired, e.Rule, e.Action, e.Err)
	}
	return fmt.Sprintf("run stopped after %d rules: rule %s: %v", e.Fired, e.Rule, e.Err)
}

// Unwrap returns the cause.
func (e *RunError) Unwrap() error {
	return e.Err
}

// IsRunError reports whether err is or wraps a *RunError.
func IsRunError(err error) bool {
	var re *RunError
	return errors.As(err, &re)
}

// FiredBefore returns the fired count carried by a RunError in err's
// chain, or -1 when there is none.
func FiredBefore(err error) int {
	var re *RunError
	if errors.As(err, &re) {
		return re.Fired
	}
	return -1
}

func newRunError(fired int, rule string, action ir.Expr, err error) *RunError {
	var cause error = err
	if !ir.IsKind(err, ir.KindProcessing) {
		cause = ir.Processing(rule, err)
	}
	return &RunError{
		Fired:  fired,
		Rule:   rule,
		Action: action.String(),
		Err:    cause,
	}
}
