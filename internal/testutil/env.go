package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/compiler"
	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/router"
)

// NewEnv builds an environment named id with src, a CUE program, loaded.
// Output written to the standard routers is captured by the returned
// buffer. The environment is closed when the test ends.
func NewEnv(t testing.TB, id, src string, opts ...engine.Option) (*engine.Environment, *router.BufferRouter) {
	t.Helper()
	out := router.NewBufferRouter("capture", 10)
	opts = append([]engine.Option{
		engine.WithIDGenerator(NewFixedIDGenerator(id)),
		engine.WithRouter(out),
	}, opts...)
	env, err := engine.New(opts...)
	require.NoError(t, err)
	t.Cleanup(env.Close)
	if src != "" {
		_, err = compiler.Load(env, src, "test.cue")
		require.NoError(t, err)
	}
	return env, out
}
