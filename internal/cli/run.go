package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/prodsys/internal/compiler"
	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/journal"
	"github.com/roach88/prodsys/internal/metrics"
	"github.com/roach88/prodsys/internal/script"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string   // journal path; empty disables recording
	Label    string   // run label stored in the journal
	Limit    int      // bound to run_limit; read through RootOptions.Engine
	Facts    []string // facts asserted after reset
	Scripts  []string // name=file.js function definitions
	Metrics  string   // file for Prometheus text output, "-" for stderr

	// IDGenerator overrides the environment ID generator (for testing).
	IDGenerator engine.IDGenerator
}

// RunSummary is the JSON payload of a run.
type RunSummary struct {
	RunID  string `json:"run_id,omitempty"`
	Fired  int    `json:"fired"`
	Facts  int    `json:"facts"`
	Agenda int    `json:"agenda"`
	State  string `json:"state"`
	Output string `json:"output,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <specs>",
		Short: "Load specs, reset and run the engine",
		Long: `Load CUE constructs into a new environment, reset it and fire rules
until the agenda is empty, the run limit is reached or a rule halts.

With --db every trace event and fact version is recorded in a SQLite
journal that trace and replay can read back. Interrupting the command
halts the run before the next rule fires.

Examples:
  prodsys run ./specs
  prodsys run ./specs --db ./prodsys.db --label nightly
  prodsys run ./specs --fact "(order (id 7))" --limit 100
  prodsys run ./specs --script area=./area.js --metrics -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite journal")
	cmd.Flags().StringVar(&opts.Label, "label", "", "label stored with the recorded run")
	cmd.Flags().IntVar(&opts.Limit, "limit", -1, "maximum rules to fire (negative is unlimited)")
	cmd.Flags().StringArrayVar(&opts.Facts, "fact", nil, "fact to assert after reset (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Scripts, "script", nil, "JavaScript function as name=file.js (repeatable)")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write Prometheus metrics to this file (- for stderr)")

	return cmd
}

// session is an environment with its specs loaded and optional journal.
type session struct {
	env      *engine.Environment
	prog     *compiler.Program
	journal  *journal.Journal
	recorder *journal.Recorder
}

func (s *session) close() {
	if s.recorder != nil {
		if err := s.recorder.Close(); err != nil {
			s.env.Logger().Error("closing journal run", "error", err)
		}
	}
	s.env.Close()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.env.Logger().Error("closing journal", "error", err)
		}
	}
}

// openSession compiles specs and installs them in a new environment that
// writes rule output to out.
func openSession(opts *RootOptions, specsPath string, out io.Writer, scripts []string, extra ...engine.Option) (*session, error) {
	loadResult, loadErrors := LoadSpecs(specsPath, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return nil, WrapExitError(ExitCommandError, "failed to compile specs", loadErrors[0])
	}

	extra = append(extra, engine.WithOutput(out, out))
	env, err := opts.newEnvironment(extra...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create environment", err)
	}
	s := &session{env: env, prog: loadResult.Program}

	for _, def := range scripts {
		if err := defineScript(env, def); err != nil {
			env.Close()
			return nil, WrapExitError(ExitCommandError, "failed to define script", err)
		}
	}
	if err := compiler.Install(env, loadResult.Program); err != nil {
		env.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load specs", err)
	}
	env.Logger().Info("specs loaded", "path", specsPath, "files", loadResult.FileCount,
		"templates", len(s.prog.Templates), "rules", len(s.prog.Rules))
	return s, nil
}

// record opens the journal at path and starts recording the session.
func (s *session) record(ctx context.Context, path, label string) error {
	j, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	s.journal = j
	rec, err := j.Record(ctx, s.env, journal.WithLabel(label), journal.WithRuleSetHash(s.prog.Hash()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start journal run", err)
	}
	s.recorder = rec
	s.env.Logger().Info("recording run", "run", rec.RunID(), "db", path)
	return nil
}

// defineScript registers a name=file.js definition.
func defineScript(env *engine.Environment, def string) error {
	name, path, ok := strings.Cut(def, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("script %q: want name=file.js", def)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("script %s: %w", name, err)
	}
	return script.Define(env, name, string(src))
}

func runEngine(opts *RunOptions, specsPath string, cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Rule output is buffered for JSON so it does not corrupt the response.
	var output strings.Builder
	var out io.Writer = cmd.OutOrStdout()
	if opts.Format == "json" {
		out = &output
	}

	var extra []engine.Option
	if opts.IDGenerator != nil {
		extra = append(extra, engine.WithIDGenerator(opts.IDGenerator))
	}
	var collector *metrics.Collector
	if opts.Metrics != "" {
		collector = metrics.NewCollector()
		extra = append(extra, engine.WithObserver(collector))
	}

	s, err := openSession(opts.RootOptions, specsPath, out, opts.Scripts, extra...)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.env.Reset(); err != nil {
		return WrapExitError(ExitFailure, "reset failed", err)
	}
	for _, src := range opts.Facts {
		if _, err := compiler.Eval(s.env, "(assert "+src+")"); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to assert %s", src), err)
		}
	}
	if opts.Database != "" {
		label := opts.Label
		if label == "" {
			label = filepath.Base(specsPath)
		}
		if err := s.record(commandContext(cmd), opts.Database, label); err != nil {
			return err
		}
	}

	fired, runErr := runUntilDone(ctx, s.env, opts.Engine.RunLimit)

	summary := RunSummary{
		Fired:  fired,
		Facts:  s.env.FactCount(),
		Agenda: s.env.AgendaSize(),
		State:  s.env.State().String(),
		Output: output.String(),
	}
	if s.recorder != nil {
		summary.RunID = s.recorder.RunID()
		if err := s.recorder.Err(); err != nil {
			return WrapExitError(ExitCommandError, "journal write failed", err)
		}
	}
	if err := writeMetrics(collector, opts.Metrics, cmd.ErrOrStderr()); err != nil {
		return WrapExitError(ExitCommandError, "failed to write metrics", err)
	}

	if runErr != nil {
		formatter := newFormatter(opts.RootOptions, cmd)
		_ = formatter.Error("E_RUN", runErr.Error(), summary)
		return WrapExitError(ExitFailure, "run failed", runErr)
	}
	if opts.Format == "json" {
		return newFormatter(opts.RootOptions, cmd).Response(CLIResponse{Status: "ok", Data: summary, TraceID: summary.RunID})
	}
	s.env.Logger().Info("run finished", "fired", fired, "facts", summary.Facts, "state", summary.State)
	return nil
}

// runUntilDone runs env, halting it before the next firing once ctx is
// cancelled. The halt is requested from an observer, which runs on the
// engine's goroutine.
func runUntilDone(ctx context.Context, env *engine.Environment, limit int) (int, error) {
	env.AddObserver(engine.ObserverFunc(func(engine.TraceEvent) {
		if ctx.Err() != nil {
			env.Halt()
		}
	}))
	fired, err := env.Run(limit)
	if ctx.Err() != nil {
		env.Logger().Info("run interrupted", "fired", fired, "reason", context.Cause(ctx))
	}
	return fired, err
}

func writeMetrics(c *metrics.Collector, path string, stderr io.Writer) error {
	if c == nil {
		return nil
	}
	if path == "-" {
		return c.WriteText(stderr)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := c.WriteText(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
