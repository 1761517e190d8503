package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // default: the latest run
	AtSeq    int64  // restore the state after this event instead of the start
	Verify   bool   // compare firings with the recorded run
	Record   bool   // record the replay as a new run
}

// ReplayResult holds the outcome of a replay.
type ReplayResult struct {
	RunID         string   `json:"run_id"`
	ReplayRunID   string   `json:"replay_run_id,omitempty"`
	AtSeq         int64    `json:"at_seq"`
	Restored      int      `json:"restored"`
	Fired         []string `json:"fired"`
	Recorded      []string `json:"recorded,omitempty"`
	Deterministic *bool    `json:"deterministic,omitempty"`
	HashMatches   bool     `json:"hash_matches"`
	Output        string   `json:"output,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <specs>",
		Short: "Re-run a recorded run from the journal",
		Long: `Restore the facts of a recorded run into a new environment and run it again.

By default the replay starts from the facts the run began with. With --at
it starts from the facts live after that event instead. --verify checks
that the replay fires the same rules in the same order as the recording.

Exit codes:
  0 - Replay completed (and matched, with --verify)
  1 - The replay diverged from the recorded run
  2 - Command error (journal not found, unknown run, etc.)

Examples:
  prodsys replay ./specs --db ./prodsys.db --verify
  prodsys replay ./specs --db ./prodsys.db --run 0190... --at 42
  prodsys replay ./specs --db ./prodsys.db --record --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to replay (default: latest)")
	cmd.Flags().Int64Var(&opts.AtSeq, "at", 0, "start from the facts live after this event")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify the replay fires the recorded rules in order")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "record the replay as a new run")
	cmd.MarkFlagsMutuallyExclusive("at", "verify")

	return cmd
}

func runReplay(opts *ReplayOptions, specsPath string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	j, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	run, err := selectRun(ctx, j, opts.RunID)
	if err != nil {
		return err
	}

	var output strings.Builder
	var out io.Writer = cmd.OutOrStdout()
	if opts.Format == "json" {
		out = &output
	}
	s, err := openSession(opts.RootOptions, specsPath, out, nil)
	if err != nil {
		return err
	}
	defer s.close()

	result := ReplayResult{
		RunID:       run.ID,
		AtSeq:       opts.AtSeq,
		Fired:       []string{},
		HashMatches: run.RuleSetHash == s.prog.Hash(),
	}
	if !result.HashMatches {
		s.env.Logger().Warn("specs differ from the recorded run", "run", run.ID,
			"recorded", run.RuleSetHash, "current", s.prog.Hash())
	}

	// Reset initializes globals and focus as the recorded run did. Facts
	// the snapshot already holds are skipped by the restore.
	if err := s.env.Reset(); err != nil {
		return WrapExitError(ExitFailure, "reset failed", err)
	}
	if opts.AtSeq > 0 {
		if err := retractAll(s.env); err != nil {
			return WrapExitError(ExitFailure, "failed to clear facts", err)
		}
		result.Restored, err = j.Restore(ctx, run.ID, opts.AtSeq, s.env)
	} else {
		result.Restored, err = j.RestoreSnapshot(ctx, run.ID, s.env)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to restore facts", err)
	}

	if opts.Record {
		rec, err := j.Record(ctx, s.env,
			journal.WithLabel("replay of "+run.ID),
			journal.WithRuleSetHash(s.prog.Hash()),
		)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start journal run", err)
		}
		defer rec.Close()
		result.ReplayRunID = rec.RunID()
	}

	s.env.AddObserver(engine.ObserverFunc(func(ev engine.TraceEvent) {
		if ev.Type == engine.EventFire {
			result.Fired = append(result.Fired, ev.Rule)
		}
	}))
	limit := opts.Engine.RunLimit
	if opts.Verify && run.Fired > 0 {
		// The recording may have stopped at its run limit.
		limit = run.Fired
	}
	if _, err := runUntilDone(ctx, s.env, limit); err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}
	result.Output = output.String()

	if opts.Verify {
		events, err := j.Events(ctx, run.ID, journal.EventFilter{Types: []engine.EventType{engine.EventFire}})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read recorded firings", err)
		}
		result.Recorded = make([]string, len(events))
		for i, ev := range events {
			result.Recorded[i] = ev.Rule
		}
		same := divergence(result.Recorded, result.Fired) < 0
		result.Deterministic = &same
	}

	if opts.Format == "json" {
		return outputReplayJSON(newFormatter(opts.RootOptions, cmd), result)
	}
	return outputReplayText(cmd.OutOrStdout(), result)
}

func retractAll(env *engine.Environment) error {
	var all []*facts.Fact
	for f := range env.Facts() {
		all = append(all, f)
	}
	for _, f := range all {
		if err := env.Retract(f); err != nil {
			return err
		}
	}
	return nil
}

// openJournal opens an existing journal file.
func openJournal(path string) (*journal.Journal, error) {
	if path == "" {
		return nil, NewExitError(ExitCommandError, "--db is required")
	}
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
		}
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

// selectRun returns the run with the given ID, or the latest run.
func selectRun(ctx context.Context, j *journal.Journal, id string) (journal.Run, error) {
	if id != "" {
		run, _, err := j.ReadRun(ctx, id)
		if errors.Is(err, journal.ErrRunNotFound) {
			return journal.Run{}, NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", id))
		}
		if err != nil {
			return journal.Run{}, WrapExitError(ExitCommandError, "failed to read run", err)
		}
		return run, nil
	}
	runs, err := j.Runs(ctx)
	if err != nil {
		return journal.Run{}, WrapExitError(ExitCommandError, "failed to list runs", err)
	}
	if len(runs) == 0 {
		return journal.Run{}, NewExitError(ExitCommandError, "journal has no runs")
	}
	return runs[len(runs)-1], nil
}

// divergence returns the index of the first firing where the sequences
// differ, or -1 when they are equal.
func divergence(recorded, replayed []string) int {
	for i := range max(len(recorded), len(replayed)) {
		if i >= len(recorded) || i >= len(replayed) || recorded[i] != replayed[i] {
			return i
		}
	}
	return -1
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{Status: "ok", Data: result, TraceID: result.ReplayRunID}
	diverged := result.Deterministic != nil && !*result.Deterministic
	if diverged {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_DETERMINISM",
			Message: "replay diverged from the recorded run",
		}
	}
	if err := formatter.Response(response); err != nil {
		return err
	}
	if diverged {
		return NewExitError(ExitFailure, "replay diverged from the recorded run")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(w io.Writer, result ReplayResult) error {
	fmt.Fprintf(w, "Replay of run %s\n", result.RunID)
	if result.AtSeq > 0 {
		fmt.Fprintf(w, "  From event: %d\n", result.AtSeq)
	}
	fmt.Fprintf(w, "  Restored: %d fact(s)\n", result.Restored)
	fmt.Fprintf(w, "  Fired: %d rule(s)\n", len(result.Fired))
	if result.ReplayRunID != "" {
		fmt.Fprintf(w, "  Recorded as: %s\n", result.ReplayRunID)
	}
	if !result.HashMatches {
		fmt.Fprintln(w, "  Warning: specs differ from the recorded run")
	}
	if result.Deterministic == nil {
		return nil
	}

	fmt.Fprintln(w)
	if *result.Deterministic {
		fmt.Fprintln(w, "✓ Replay matches the recorded run")
		return nil
	}
	i := divergence(result.Recorded, result.Fired)
	fmt.Fprintf(w, "✗ Replay diverged at firing %d: recorded %s, replayed %s\n",
		i+1, firingAt(result.Recorded, i), firingAt(result.Fired, i))
	return NewExitError(ExitFailure, "replay diverged from the recorded run")
}

func firingAt(rules []string, i int) string {
	if i < len(rules) {
		return rules[i]
	}
	return "nothing"
}
