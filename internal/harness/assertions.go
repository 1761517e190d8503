package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/prodsys/internal/compiler"
	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/journal"
	"github.com/roach88/prodsys/internal/query"
	"github.com/roach88/prodsys/internal/querysql"
	"github.com/roach88/prodsys/internal/template"
	"github.com/roach88/prodsys/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string              // Assertion type for categorization
	Expected string              // Human-readable expected outcome
	Actual   string              // Human-readable actual outcome
	Trace    []engine.TraceEvent // Trace for context; firings are printed
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	var fired []engine.TraceEvent
	for _, ev := range e.Trace {
		if ev.Type == engine.EventFire {
			fired = append(fired, ev)
		}
	}
	if len(fired) > 0 {
		fmt.Fprintf(&buf, "\nFired rules:\n")
		for _, ev := range fired {
			fmt.Fprintf(&buf, "  %s\n", testutil.FormatEvent(ev))
		}
	}
	return buf.String()
}

// AssertionContext provides what the state assertions read.
type AssertionContext struct {
	Ctx     context.Context
	Env     *engine.Environment
	Journal *journal.Journal
	RunID   string
}

// EvaluateAssertions evaluates all assertions against the result and
// returns a message for each failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string
	for i, assertion := range assertions {
		var err error
		switch assertion.Type {
		case AssertFiredCount:
			err = assertFiredCount(result, assertion)
		case AssertFiredOrder:
			err = assertFiredOrder(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFactPresent, AssertFactAbsent, AssertFactCount:
			if actx == nil || actx.Env == nil {
				err = fmt.Errorf("assertion[%d]: %s requires an environment", i, assertion.Type)
			} else {
				err = assertFacts(actx, result.Trace, assertion)
			}
		case AssertAgendaSize:
			if actx == nil || actx.Env == nil {
				err = fmt.Errorf("assertion[%d]: agenda_size requires an environment", i)
			} else {
				err = assertAgendaSize(actx.Env, result.Trace, assertion)
			}
		case AssertOutput:
			err = assertOutput(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func assertFiredCount(result *Result, a Assertion) error {
	if result.Fired == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFiredCount,
		Expected: fmt.Sprintf("%d rules fired", a.Count),
		Actual:   fmt.Sprintf("%d rules fired", result.Fired),
		Trace:    result.Trace,
	}
}

// assertFiredOrder checks that the rules fired in the given relative
// order. Other firings may come in between.
func assertFiredOrder(result *Result, a Assertion) error {
	fired := result.FiredRules()
	pos := 0
	for _, name := range fired {
		if pos < len(a.Rules) && name == qualify(a.Rules[pos]) {
			pos++
		}
	}
	if pos == len(a.Rules) {
		return nil
	}
	return &AssertionError{
		Type:     AssertFiredOrder,
		Expected: fmt.Sprintf("rules fired in order: %v", a.Rules),
		Actual:   fmt.Sprintf("%s not fired after %v; fired %v", a.Rules[pos], a.Rules[:pos], fired),
		Trace:    result.Trace,
	}
}

func assertTraceCount(trace []engine.TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if string(ev.Type) != a.Event {
			continue
		}
		if a.Rule != "" && ev.Rule != qualify(a.Rule) {
			continue
		}
		count++
	}
	if count == a.Count {
		return nil
	}
	what := a.Event
	if a.Rule != "" {
		what += " " + a.Rule
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d %s events", a.Count, what),
		Actual:   fmt.Sprintf("%d events", count),
		Trace:    trace,
	}
}

func assertAgendaSize(env *engine.Environment, trace []engine.TraceEvent, a Assertion) error {
	if got := env.AgendaSize(); got != a.Count {
		return &AssertionError{
			Type:     AssertAgendaSize,
			Expected: fmt.Sprintf("%d activations", a.Count),
			Actual:   fmt.Sprintf("%d activations", got),
			Trace:    trace,
		}
	}
	return nil
}

func assertOutput(result *Result, a Assertion) error {
	if a.Text != nil && result.Output != *a.Text {
		return &AssertionError{
			Type:     AssertOutput,
			Expected: fmt.Sprintf("output %q", *a.Text),
			Actual:   fmt.Sprintf("output %q", result.Output),
		}
	}
	if a.Contains != "" && !strings.Contains(result.Output, a.Contains) {
		return &AssertionError{
			Type:     AssertOutput,
			Expected: fmt.Sprintf("output containing %q", a.Contains),
			Actual:   fmt.Sprintf("output %q", result.Output),
		}
	}
	return nil
}

// assertFacts counts the facts matching the assertion's template and
// filter: in working memory, or in the journal when AtSeq is set.
func assertFacts(actx *AssertionContext, trace []engine.TraceEvent, a Assertion) error {
	sel, err := factSelect(a)
	if err != nil {
		return fmt.Errorf("%s: %w", a.Type, err)
	}

	var count int
	if a.AtSeq > 0 {
		count, err = countJournalFacts(actx, sel, a.AtSeq)
	} else {
		count, err = countLiveFacts(actx.Env, sel)
	}
	if err != nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("query %s", describeFacts(a)),
			Actual:   fmt.Sprintf("query error: %v", err),
			Trace:    trace,
		}
	}

	var ok bool
	var want string
	switch a.Type {
	case AssertFactPresent:
		ok, want = count > 0, "a fact "+describeFacts(a)
	case AssertFactAbsent:
		ok, want = count == 0, "no fact "+describeFacts(a)
	default:
		ok, want = count == a.Count, fmt.Sprintf("%d facts %s", a.Count, describeFacts(a))
	}
	if ok {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: want,
		Actual:   fmt.Sprintf("%d matching facts", count),
		Trace:    trace,
	}
}

func countLiveFacts(env *engine.Environment, sel query.Select) (int, error) {
	if _, err := env.FindTemplate(sel.Template); err != nil {
		if ir.IsKind(err, ir.KindNotFound) {
			return 0, nil
		}
		return 0, err
	}
	rows, err := query.Eval(env, sel, nil)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func countJournalFacts(actx *AssertionContext, sel query.Select, atSeq int64) (int, error) {
	if actx.Journal == nil {
		return 0, fmt.Errorf("at_seq requires a journal")
	}
	if v := query.Validate(sel); !v.IsPortable {
		return 0, fmt.Errorf("query cannot run against the journal: %s", strings.Join(v.Warnings, "; "))
	}
	c := querysql.NewSQLCompiler(actx.RunID)
	c.AtSeq = atSeq
	rows, err := c.Exec(actx.Ctx, actx.Journal, sel)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// factSelect builds the query for a fact assertion. Where keys are
// sorted so the query is deterministic.
func factSelect(a Assertion) (query.Select, error) {
	sel := query.Select{Template: qualify(a.Template)}
	if len(a.Values) > 0 {
		v, err := scenarioValue(a.Values)
		if err != nil {
			return sel, fmt.Errorf("values: %w", err)
		}
		sel.Filter = query.Equals{Slot: template.ImpliedSlot, Value: v}
		return sel, nil
	}
	if len(a.Where) == 0 {
		return sel, nil
	}
	keys := make([]string, 0, len(a.Where))
	for k := range a.Where {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	preds := make([]query.Predicate, 0, len(keys))
	for _, k := range keys {
		v, err := scenarioValue(a.Where[k])
		if err != nil {
			return sel, fmt.Errorf("where %s: %w", k, err)
		}
		preds = append(preds, query.Equals{Slot: k, Value: v})
	}
	sel.Filter = query.And{Predicates: preds}
	return sel, nil
}

// scenarioValue converts a YAML value. Strings are source text for a
// constant; lists become multifields.
func scenarioValue(v any) (ir.Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null has no value representation")
	case string:
		x, err := compiler.ParseExpr(val)
		if err != nil {
			return nil, err
		}
		if x.Kind != ir.ExprConst {
			return nil, fmt.Errorf("%q is not a constant", val)
		}
		return x.Value, nil
	case []any:
		m := make(ir.Multifield, 0, len(val))
		for i, elem := range val {
			ev, err := scenarioValue(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			m = append(m, ev)
		}
		return m, nil
	default:
		return ir.FromGo(val)
	}
}

func describeFacts(a Assertion) string {
	var parts []string
	keys := make([]string, 0, len(a.Where))
	for k := range a.Where {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a.Where[k]))
	}
	if len(a.Values) > 0 {
		parts = append(parts, fmt.Sprintf("values=%v", a.Values))
	}
	desc := "of " + a.Template
	if len(parts) > 0 {
		desc += " where " + strings.Join(parts, " AND ")
	}
	if a.AtSeq > 0 {
		desc += fmt.Sprintf(" at seq %d", a.AtSeq)
	}
	return desc
}

// qualify puts unqualified construct names in MAIN.
func qualify(name string) string {
	if strings.Contains(name, "::") {
		return name
	}
	return ir.QualifiedName(ir.MainModule, name)
}
