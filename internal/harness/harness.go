package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/prodsys/internal/compiler"
	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/journal"
	"github.com/roach88/prodsys/internal/router"
	"github.com/roach88/prodsys/internal/testutil"
)

// Harness is the test execution engine for one scenario.
type Harness struct {
	env     *engine.Environment
	out     *router.BufferRouter
	journal *journal.Journal
	events  *testutil.EventRecorder
	logger  *slog.Logger
	output  strings.Builder
}

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger for the harness and its environment. The
// default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh environment recorded into a fresh
// in-memory journal. Failed expectations and assertions are reported in
// the result; an error means the scenario could not be set up.
//
// Execution flow:
// 1. Load and validate the scenario's programs
// 2. Reset and assert the scenario facts
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		out:    router.NewBufferRouter("harness", 10),
		events: testutil.NewEventRecorder(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()
	h.journal = j

	envOpts, err := scenario.Config.Options()
	if err != nil {
		return nil, err
	}
	envOpts = append(envOpts,
		engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.Name)),
		engine.WithRouter(h.out),
		engine.WithLogger(h.logger),
		engine.WithObserver(h.events),
	)
	env, err := engine.New(envOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}
	defer env.Close()
	h.env = env

	prog, err := compiler.CompileFiles(scenario.Specs...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile specs: %w", err)
	}
	if err := compiler.LoadProgram(env, prog); err != nil {
		return nil, fmt.Errorf("failed to load specs: %w", err)
	}

	rec, err := j.Record(ctx, env,
		journal.WithRunID(scenario.Name),
		journal.WithLabel(scenario.Description),
		journal.WithRuleSetHash(prog.Hash()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start journal run: %w", err)
	}

	if err := h.setup(scenario.Facts); err != nil {
		rec.Close()
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	result := NewResult(scenario.Name)
	result.RunID = rec.RunID()
	flow := scenario.Flow
	if len(flow) == 0 {
		limit := scenario.Config.RunLimit
		flow = []FlowStep{{Run: &limit}}
	}
	h.executeFlow(flow, result)

	if err := rec.Close(); err != nil {
		return nil, fmt.Errorf("failed to record journal: %w", err)
	}

	result.Trace = h.events.Events()
	result.Output = h.output.String()
	actx := &AssertionContext{
		Ctx:     ctx,
		Env:     env,
		Journal: j,
		RunID:   result.RunID,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished", "scenario", scenario.Name, "pass", result.Pass, "fired", result.Fired)
	return result, nil
}

// setup resets the environment and asserts the scenario facts.
func (h *Harness) setup(facts []string) error {
	if err := h.env.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	for i, src := range facts {
		if err := h.assert(src); err != nil {
			return fmt.Errorf("facts[%d]: %w", i, err)
		}
	}
	h.collectOutput()
	return nil
}

func (h *Harness) assert(src string) error {
	if _, err := compiler.ParseFact(src); err != nil {
		return err
	}
	_, err := compiler.Eval(h.env, "(assert "+src+")")
	return err
}

// collectOutput moves buffered stdout text into the scenario output and
// returns it.
func (h *Harness) collectOutput() string {
	text := h.out.String(router.Stdout)
	h.out.Reset()
	h.output.WriteString(text)
	return text
}

// executeFlow runs every step and validates its expect clause. The flow
// stops at the first step that fails unexpectedly.
func (h *Harness) executeFlow(flow []FlowStep, result *Result) {
	for i, step := range flow {
		fired, err := h.executeStep(step)
		result.Fired += fired
		output := h.collectOutput()

		if step.Expect != nil && step.Expect.Error != "" {
			switch {
			case err == nil:
				result.AddError(fmt.Sprintf("flow[%d]: expected error containing %q, got none", i, step.Expect.Error))
			case !strings.Contains(err.Error(), step.Expect.Error):
				result.AddError(fmt.Sprintf("flow[%d]: expected error containing %q, got %q", i, step.Expect.Error, err))
			}
		} else if err != nil {
			result.AddError(fmt.Sprintf("flow[%d]: %v", i, err))
			h.logger.Warn("flow step failed", "step", i, "error", err)
			return
		}

		if step.Expect != nil {
			h.checkExpect(i, step.Expect, fired, output, result)
		}
		h.logger.Info("flow step completed", "step", i, "fired", fired)
	}
}

func (h *Harness) executeStep(step FlowStep) (int, error) {
	for _, src := range step.Assert {
		if err := h.assert(src); err != nil {
			return 0, fmt.Errorf("assert %s: %w", src, err)
		}
	}
	for _, index := range step.Retract {
		if err := h.env.RetractIndex(index); err != nil {
			return 0, fmt.Errorf("retract %d: %w", index, err)
		}
	}
	for _, src := range step.Eval {
		if _, err := compiler.Eval(h.env, src); err != nil {
			return 0, fmt.Errorf("eval %s: %w", src, err)
		}
	}
	if step.Run == nil {
		return 0, nil
	}
	return h.env.Run(*step.Run)
}

func (h *Harness) checkExpect(i int, want *ExpectClause, fired int, output string, result *Result) {
	if want.Fired != nil && *want.Fired != fired {
		result.AddError(fmt.Sprintf("flow[%d]: expected %d rules fired, got %d", i, *want.Fired, fired))
	}
	if want.Output != nil && *want.Output != output {
		result.AddError(fmt.Sprintf("flow[%d]: expected output %q, got %q", i, *want.Output, output))
	}
	if want.Agenda != nil {
		if got := h.env.AgendaSize(); got != *want.Agenda {
			result.AddError(fmt.Sprintf("flow[%d]: expected agenda size %d, got %d", i, *want.Agenda, got))
		}
	}
}

// RunAll executes scenarios concurrently, at most parallel at a time
// (parallel <= 0 means one per scenario). Results keep the order of
// scenarios. The first setup error cancels the remaining scenarios.
func RunAll(ctx context.Context, scenarios []*Scenario, parallel int, opts ...Option) ([]*Result, error) {
	results := make([]*Result, len(scenarios))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, s := range scenarios {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := Run(ctx, s, opts...)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", s.Name, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
