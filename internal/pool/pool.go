// Package pool shares a bounded set of environments between goroutines.
//
// An environment is single-threaded. A pool hands each one to a single
// caller at a time and resets it on release, so every Acquire sees the
// loaded constructs and the deffacts state, never another caller's facts.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/prodsys/internal/engine"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool closed")

// Factory builds a ready environment: constructs loaded and reset.
type Factory func() (*engine.Environment, error)

// Pool is a bounded pool of environments.
type Pool struct {
	factory Factory
	sem     *semaphore.Weighted
	logger  *slog.Logger

	mu     sync.Mutex
	idle   []*engine.Environment
	out    map[*engine.Environment]bool
	closed bool
}

// Option configures a pool.
type Option func(*Pool)

// WithLogger sets the logger for discarded environments.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a pool of at most size environments. Environments are
// built lazily.
func New(size int, factory Factory, opts ...Option) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	if factory == nil {
		return nil, fmt.Errorf("pool requires a factory")
	}
	p := &Pool{
		factory: factory,
		sem:     semaphore.NewWeighted(int64(size)),
		logger:  slog.Default(),
		out:     make(map[*engine.Environment]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Acquire takes an environment, waiting while all are in use. The caller
// must Release it.
func (p *Pool) Acquire(ctx context.Context) (*engine.Environment, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrClosed
	}
	if n := len(p.idle); n > 0 {
		env := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.out[env] = true
		p.mu.Unlock()
		return env, nil
	}
	p.mu.Unlock()

	env, err := p.factory()
	if err != nil {
		p.sem.Release(1)
		return nil, fmt.Errorf("build environment: %w", err)
	}
	p.mu.Lock()
	p.out[env] = true
	p.mu.Unlock()
	return env, nil
}

// Release resets env and returns it to the pool. An environment that
// fails to reset is closed and replaced on a later Acquire.
func (p *Pool) Release(env *engine.Environment) {
	p.mu.Lock()
	if !p.out[env] {
		p.mu.Unlock()
		p.logger.Warn("release of environment not acquired from pool", "env", env.ID())
		return
	}
	delete(p.out, env)
	closed := p.closed
	p.mu.Unlock()
	defer p.sem.Release(1)

	if closed {
		env.Close()
		return
	}
	if err := env.Reset(); err != nil {
		p.logger.Warn("discarding environment after failed reset", "env", env.ID(), "error", err)
		env.Close()
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, env)
	p.mu.Unlock()
}

// Do runs fn with an acquired environment and releases it afterwards.
func (p *Pool) Do(ctx context.Context, fn func(*engine.Environment) error) error {
	env, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(env)
	return fn(env)
}

// Idle returns the number of environments waiting in the pool.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close closes the idle environments. Environments still acquired are
// closed when released.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, env := range idle {
		env.Close()
	}
}
