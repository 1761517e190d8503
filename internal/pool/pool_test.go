package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/prodsys/internal/compiler"
	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const jobProgram = `
facts: seed: ["(ready)"]
rule: work: {
	when: ["(ready)", "(job ?n)"]
	then: ["(assert (done ?n))"]
}
`

func jobFactory(built *atomic.Int32) Factory {
	return func() (*engine.Environment, error) {
		env, err := engine.New(engine.WithIDGenerator(testutil.NewFixedIDGenerator("pooled")))
		if err != nil {
			return nil, err
		}
		if _, err := compiler.Load(env, jobProgram, "jobs.cue"); err != nil {
			env.Close()
			return nil, err
		}
		if err := env.Reset(); err != nil {
			env.Close()
			return nil, err
		}
		if built != nil {
			built.Add(1)
		}
		return env, nil
	}
}

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := New(0, jobFactory(nil))
	assert.Error(t, err)
	_, err = New(1, nil)
	assert.Error(t, err)
}

func TestReleaseResets(t *testing.T) {
	p, err := New(1, jobFactory(nil))
	require.NoError(t, err)
	defer p.Close()
	ctx := t.Context()

	env, err := p.Acquire(ctx)
	require.NoError(t, err)
	baseline := env.FactCount()
	_, err = env.AssertValues("job", 1)
	require.NoError(t, err)
	fired, err := env.Run(0)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Equal(t, baseline+2, env.FactCount())
	p.Release(env)
	assert.Equal(t, 1, p.Idle())

	again, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, env, again)
	assert.Equal(t, baseline, again.FactCount())
	p.Release(again)
}

func TestConcurrentUseIsBounded(t *testing.T) {
	const size = 3
	var built atomic.Int32
	p, err := New(size, jobFactory(&built))
	require.NoError(t, err)
	defer p.Close()

	var inUse, peak atomic.Int32
	g, ctx := errgroup.WithContext(t.Context())
	for i := range 20 {
		g.Go(func() error {
			return p.Do(ctx, func(env *engine.Environment) error {
				n := inUse.Add(1)
				defer inUse.Add(-1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				if _, err := env.AssertValues("job", i); err != nil {
					return err
				}
				fired, err := env.Run(0)
				if err != nil {
					return err
				}
				if fired != 1 {
					return errors.New("leftover activations from a previous caller")
				}
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.LessOrEqual(t, built.Load(), int32(size))
	assert.Equal(t, int(built.Load()), p.Idle())
}

func TestAcquireWaitsForRelease(t *testing.T) {
	p, err := New(1, jobFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	env, err := p.Acquire(t.Context())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan *engine.Environment)
	go func() {
		e, err := p.Acquire(t.Context())
		if err != nil {
			close(got)
			return
		}
		got <- e
	}()
	p.Release(env)
	e := <-got
	require.NotNil(t, e)
	p.Release(e)
}

func TestFactoryErrorFreesSlot(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("boom")
	p, err := New(1, func() (*engine.Environment, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return jobFactory(nil)()
	})
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Acquire(t.Context())
	assert.ErrorIs(t, err, boom)

	env, err := p.Acquire(t.Context())
	require.NoError(t, err)
	p.Release(env)
}

func TestClose(t *testing.T) {
	p, err := New(2, jobFactory(nil))
	require.NoError(t, err)

	held, err := p.Acquire(t.Context())
	require.NoError(t, err)
	p.Close()

	_, err = p.Acquire(t.Context())
	assert.ErrorIs(t, err, ErrClosed)

	p.Release(held)
	assert.Zero(t, p.Idle())
}

func TestReleaseForeignEnvironment(t *testing.T) {
	p, err := New(1, jobFactory(nil))
	require.NoError(t, err)
	defer p.Close()

	foreign, err := jobFactory(nil)()
	require.NoError(t, err)
	defer foreign.Close()

	p.Release(foreign)
	assert.Zero(t, p.Idle())

	env, err := p.Acquire(t.Context())
	require.NoError(t, err)
	p.Release(env)
}
