package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/journal"
	"github.com/roach88/prodsys/internal/template"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string   // default: the latest run
	Types    []string // event types to include
	Rule     string
	Fact     int64
	From     int64
	To       int64
	Facts    bool  // list live facts instead of the timeline
	At       int64 // with --facts: state after this event, 0 for the end
}

// TraceEvent is one timeline entry.
type TraceEvent struct {
	Seq      int64    `json:"seq"`
	Type     string   `json:"type"`
	Rule     string   `json:"rule,omitempty"`
	Fact     int64    `json:"fact,omitempty"`
	Template string   `json:"template,omitempty"`
	Text     string   `json:"text,omitempty"`
	Values   []string `json:"values,omitempty"`
	Salience int      `json:"salience,omitempty"`
	Count    int      `json:"count,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// TraceFact is one live fact version.
type TraceFact struct {
	Index       int64  `json:"index"`
	Fact        string `json:"fact"`
	AssertedSeq int64  `json:"asserted_seq"`
}

// TraceRun describes the traced run.
type TraceRun struct {
	ID          string `json:"id"`
	Label       string `json:"label,omitempty"`
	RuleSetHash string `json:"ruleset_hash,omitempty"`
	Fired       int    `json:"fired"`
	LastSeq     int64  `json:"last_seq"`
	Ended       bool   `json:"ended"`
	Error       string `json:"error,omitempty"`
}

// TraceResult is the output of the trace command.
type TraceResult struct {
	Run      TraceRun       `json:"run"`
	Timeline []TraceEvent   `json:"timeline,omitempty"`
	Facts    []TraceFact    `json:"facts,omitempty"`
	Stats    map[string]int `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded events of a run",
		Long: `Read a run back from the journal and print its event timeline.

Filters narrow the timeline by event type, rule, fact index or sequence
range. With --facts the command lists the facts live at the end of the
run, or right after event --at.

Examples:
  prodsys trace --db ./prodsys.db
  prodsys trace --db ./prodsys.db --type fire --rule MAIN::ship
  prodsys trace --db ./prodsys.db --fact 3 --format json
  prodsys trace --db ./prodsys.db --facts --at 40`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to trace (default: latest)")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "event types to show (assert, fire, ...)")
	cmd.Flags().StringVar(&opts.Rule, "rule", "", "only events of this rule")
	cmd.Flags().Int64Var(&opts.Fact, "fact", 0, "only events of this fact index")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "first event sequence to show")
	cmd.Flags().Int64Var(&opts.To, "to", 0, "last event sequence to show")
	cmd.Flags().BoolVar(&opts.Facts, "facts", false, "list live facts instead of events")
	cmd.Flags().Int64Var(&opts.At, "at", 0, "with --facts, the event after which facts are listed")

	return cmd
}

var eventTypes = []engine.EventType{
	engine.EventAssert, engine.EventRetract, engine.EventModify,
	engine.EventActivate, engine.EventDeactivate, engine.EventFire,
	engine.EventHalt, engine.EventRunStart, engine.EventRunEnd,
	engine.EventGlobal, engine.EventFocus, engine.EventError,
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	filter := journal.EventFilter{Rule: opts.Rule, Fact: opts.Fact, FromSeq: opts.From, ToSeq: opts.To}
	for _, t := range opts.Types {
		et := engine.EventType(t)
		if !slices.Contains(eventTypes, et) {
			return NewExitError(ExitCommandError, fmt.Sprintf("unknown event type: %s", t))
		}
		filter.Types = append(filter.Types, et)
	}
	if filter.Rule != "" && !strings.Contains(filter.Rule, "::") {
		filter.Rule = ir.QualifiedName("", filter.Rule)
	}

	j, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	run, err := selectRun(ctx, j, opts.RunID)
	if err != nil {
		return err
	}

	result := TraceResult{
		Run: TraceRun{
			ID:          run.ID,
			Label:       run.Label,
			RuleSetHash: run.RuleSetHash,
			Fired:       run.Fired,
			LastSeq:     run.LastSeq,
			Ended:       run.Ended,
			Error:       run.Error,
		},
		Stats: map[string]int{},
	}

	stats, err := j.Stats(ctx, run.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stats", err)
	}
	for t, n := range stats {
		result.Stats[string(t)] = n
	}

	if opts.Facts {
		recs, err := j.LiveFacts(ctx, run.ID, opts.At)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read facts", err)
		}
		result.Facts = make([]TraceFact, len(recs))
		for i, rec := range recs {
			result.Facts[i] = TraceFact{Index: rec.Index, Fact: formatRecord(rec), AssertedSeq: rec.AssertedSeq}
		}
	} else {
		events, err := j.Events(ctx, run.ID, filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read events", err)
		}
		result.Timeline = buildTimeline(events)
	}

	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Response(CLIResponse{Status: "ok", Data: result, TraceID: run.ID})
	}
	outputTraceText(cmd.OutOrStdout(), result, opts)
	return nil
}

func buildTimeline(events []journal.Event) []TraceEvent {
	timeline := make([]TraceEvent, len(events))
	for i, ev := range events {
		te := TraceEvent{
			Seq:      ev.Seq,
			Type:     string(ev.Type),
			Rule:     ev.Rule,
			Fact:     ev.Fact,
			Template: ev.Template,
			Text:     ev.Text,
			Salience: ev.Salience,
			Count:    ev.Count,
			Error:    ev.Error,
		}
		for _, v := range ev.Values {
			te.Values = append(te.Values, v.String())
		}
		timeline[i] = te
	}
	return timeline
}

// formatRecord renders a stored fact version in fact syntax. The journal
// keeps qualified template names; facts print with the local name.
func formatRecord(rec journal.FactRecord) string {
	_, relation := ir.SplitName(rec.Template)
	if len(rec.Slots) == 1 && rec.Slots[0].Name == template.ImpliedSlot {
		if m, ok := rec.Slots[0].Value.(ir.Multifield); ok {
			return ir.FormatFact(relation, nil, m)
		}
	}
	names := make([]string, len(rec.Slots))
	values := make([]ir.Value, len(rec.Slots))
	for i, s := range rec.Slots {
		names[i] = s.Name
		values[i] = s.Value
	}
	return ir.FormatFact(relation, names, values)
}

// describeEvent formats the detail column of a timeline line.
func describeEvent(ev TraceEvent) string {
	var detail string
	switch engine.EventType(ev.Type) {
	case engine.EventAssert, engine.EventRetract, engine.EventModify:
		detail = fmt.Sprintf("f-%d %s", ev.Fact, ev.Text)
	case engine.EventActivate, engine.EventDeactivate:
		detail = fmt.Sprintf("%d %s: %s", ev.Salience, ev.Rule, ev.Text)
	case engine.EventFire:
		detail = fmt.Sprintf("%d %s: %s", ev.Count, ev.Rule, ev.Text)
	case engine.EventRunStart, engine.EventRunEnd:
		detail = fmt.Sprintf("%d", ev.Count)
	default:
		detail = strings.TrimSpace(ev.Rule + " " + ev.Text)
	}
	if ev.Error != "" {
		detail += " error: " + ev.Error
	}
	return detail
}

func outputTraceText(w io.Writer, result TraceResult, opts *TraceOptions) {
	run := result.Run
	fmt.Fprintf(w, "=== Run %s ===\n", run.ID)
	if run.Label != "" {
		fmt.Fprintf(w, "Label: %s\n", run.Label)
	}
	if opts.Verbose && run.RuleSetHash != "" {
		fmt.Fprintf(w, "Hash: %s\n", run.RuleSetHash)
	}
	fmt.Fprintf(w, "Fired: %d\n", run.Fired)
	status := "running"
	if run.Ended {
		status = "ended"
	}
	if run.Error != "" {
		status = "failed: " + run.Error
	}
	fmt.Fprintf(w, "Status: %s\n\n", status)

	if opts.Facts {
		if opts.At > 0 {
			fmt.Fprintf(w, "=== Facts after event %d ===\n", opts.At)
		} else {
			fmt.Fprintln(w, "=== Facts ===")
		}
		if len(result.Facts) == 0 {
			fmt.Fprintln(w, "  (no facts)")
		}
		for _, f := range result.Facts {
			fmt.Fprintf(w, "  f-%-4d %s\n", f.Index, f.Fact)
		}
	} else {
		fmt.Fprintln(w, "=== Timeline ===")
		if len(result.Timeline) == 0 {
			fmt.Fprintln(w, "  (no events)")
		}
		for _, ev := range result.Timeline {
			line := fmt.Sprintf("  [%d] %-10s %s", ev.Seq, ev.Type, describeEvent(ev))
			fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	total := 0
	for _, t := range eventTypes {
		n := result.Stats[string(t)]
		total += n
		if n > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", string(t)+":", n)
		}
	}
	fmt.Fprintf(w, "  %-12s %d\n", "total:", total)
}
