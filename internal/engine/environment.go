package engine

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/roach88/prodsys/internal/agenda"
	"github.com/roach88/prodsys/internal/facts"
	"github.com/roach88/prodsys/internal/ir"
	"github.com/roach88/prodsys/internal/module"
	"github.com/roach88/prodsys/internal/rete"
	"github.com/roach88/prodsys/internal/router"
	"github.com/roach88/prodsys/internal/template"
)

// State is the run state of an environment.
type State uint8

const (
	// Idle is the state before the first run and after a run that ended
	// because the agenda emptied or the limit was reached.
	Idle State = iota
	// Running while Run is executing.
	Running
	// Halted after a run stopped by halt or by a failing action. The next
	// Run or Reset leaves it.
	Halted
)

// String names the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Halted:
		return "halted"
	}
	return "unknown"
}

// StdioRouterName is the name of the router created for the process's
// standard streams.
const StdioRouterName = "stdio"

// Option configures an Environment.
type Option func(*Environment)

// WithStrategy sets the conflict resolution strategy.
//
// Default: depth.
func WithStrategy(s agenda.Strategy) Option {
	return func(e *Environment) {
		e.strategy = s
	}
}

// WithSalienceEvaluation sets when rule salience is evaluated.
//
// Default: when-defined.
func WithSalienceEvaluation(m agenda.SalienceMode) Option {
	return func(e *Environment) {
		e.salienceMode = m
	}
}

// WithFactDuplication allows identical facts to coexist.
func WithFactDuplication(on bool) Option {
	return func(e *Environment) {
		e.duplication = on
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Environment) {
		e.logger = l
	}
}

// WithRouter adds an output router next to the standard stream router.
func WithRouter(r router.Router) Option {
	return func(e *Environment) {
		e.extraRouters = append(e.extraRouters, r)
	}
}

// WithOutput replaces the standard stream router's writers. Passing nil
// for errw sends error output to out as well.
func WithOutput(out, errw io.Writer) Option {
	return func(e *Environment) {
		if errw == nil {
			errw = out
		}
		e.stdout, e.stderr = out, errw
	}
}

// WithObserver registers an observer for trace events.
func WithObserver(o Observer) Option {
	return func(e *Environment) {
		e.observers = append(e.observers, o)
	}
}

// WithRandomSeed seeds the random strategy and the random function.
func WithRandomSeed(seed uint64) Option {
	return func(e *Environment) {
		e.seed = seed
	}
}

// WithClock sets the clock supplying timetags and activation numbers.
func WithClock(c *Clock) Option {
	return func(e *Environment) {
		e.clock = c
	}
}

// WithIDGenerator sets the generator naming the environment.
//
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Environment) {
		e.ids = g
	}
}

// WithWatch turns on watch items, e.g. "facts", "rules", "activations".
func WithWatch(items ...string) Option {
	return func(e *Environment) {
		e.initialWatch = append(e.initialWatch, items...)
	}
}

// Environment is one independent production system: its modules,
// templates, rules, globals, working memory, match network and agenda.
//
// Environments share no state, so several may run on different
// goroutines. A single Environment is not safe for concurrent use; calls
// into it, including from observers and user functions, must be
// serialized by the caller.
type Environment struct {
	id           string
	logger       *slog.Logger
	clock        *Clock
	events       *Clock
	ids          IDGenerator
	seed         uint64
	strategy     agenda.Strategy
	salienceMode agenda.SalienceMode
	duplication  bool
	stdout       io.Writer
	stderr       io.Writer
	extraRouters []router.Router
	initialWatch []string
	observers    []Observer

	modules   *module.Table
	globals   *module.Globals
	templates *template.Registry
	store     *facts.Store
	network   *rete.Network
	agenda    *agenda.Agenda
	routers   *router.Set
	funcs     *functionTable
	deffacts  *deffactsTable

	salience  map[*rete.Rule]int
	watch     watchSet
	state     State
	halt      bool
	modifying bool
	gensym    int64
	rng       *rand.Rand
}

// New creates an empty environment containing only the MAIN module.
func New(opts ...Option) (*Environment, error) {
	e := &Environment{
		logger:       slog.Default(),
		ids:          UUIDv7Generator{},
		seed:         1,
		strategy:     agenda.Depth,
		salienceMode: agenda.WhenDefined,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		salience:     make(map[*rete.Rule]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = NewClock()
	}
	e.events = NewClock()
	e.id = e.ids.Generate()
	e.rng = rand.New(rand.NewPCG(e.seed, e.seed+1))

	e.modules = module.NewTable()
	e.globals = module.NewGlobals(e.modules)
	e.templates = template.NewRegistry(e.modules, e)
	e.store = facts.NewStore(e.templates, e.clock)
	e.store.SetDuplication(e.duplication)
	e.agenda = agenda.New(e.clock, agenda.WithStrategy(e.strategy), agenda.WithSeed(e.seed))
	e.network = rete.New(e.templates, e.modules, e.store, e, (*agendaSink)(e),
		rete.WithLogger(e.logger),
		rete.WithErrorHandler(e.patternError),
	)
	e.store.SetSink((*factSink)(e))
	e.funcs = newFunctionTable()
	registerBuiltins(e.funcs)
	e.deffacts = newDeffactsTable()

	e.routers = router.NewSet(router.NewWriterRouter(StdioRouterName, 0, e.stdout, e.stderr))
	for _, r := range e.extraRouters {
		if err := e.routers.Add(r); err != nil {
			return nil, fmt.Errorf("add router: %w", err)
		}
	}
	for _, item := range e.initialWatch {
		if err := e.Watch(item, true); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("environment created",
		"env", e.id,
		"strategy", e.strategy,
		"salience_evaluation", e.salienceMode,
	)
	return e, nil
}

// ID returns the environment's identifier.
func (e *Environment) ID() string { return e.id }

// Logger returns the environment's logger.
func (e *Environment) Logger() *slog.Logger { return e.logger }

// State returns the run state.
func (e *Environment) State() State { return e.state }

// Routers returns the output router set.
func (e *Environment) Routers() *router.Set { return e.routers }

// Agenda returns the agenda. Use it for inspection; changes to salience
// and strategy should go through the environment so watch output and
// salience evaluation stay consistent.
func (e *Environment) Agenda() *agenda.Agenda { return e.agenda }

// Network returns the match network.
func (e *Environment) Network() *rete.Network { return e.network }

// Store returns working memory.
func (e *Environment) Store() *facts.Store { return e.store }

// AddObserver registers an observer.
func (e *Environment) AddObserver(o Observer) {
	e.observers = append(e.observers, o)
}

// Print writes text to a logical router name.
func (e *Environment) Print(logical, text string) error {
	return e.routers.Write(logical, text)
}

func (e *Environment) printf(logical, format string, args ...any) {
	if err := e.routers.Writef(logical, format, args...); err != nil {
		e.logger.Warn("router write failed", "router", logical, "error", err)
	}
}

// patternError reports a failing join-time expression. The pattern is
// treated as not matching.
func (e *Environment) patternError(rule string, err error) {
	e.printf(router.Stderr, "[%s] %v\n", ir.KindOf(err), err)
	e.notify(TraceEvent{Type: EventError, Rule: rule, Err: err})
}

// Close flushes routers that buffer output.
func (e *Environment) Close() {
	e.routers.Exit(0)
}
