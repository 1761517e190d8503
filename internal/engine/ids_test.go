package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.NotEqual(t, a, b)

	u, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())
	assert.Less(t, a, b, "v7 ids sort by creation time")
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("env-a", "env-b")
	assert.Equal(t, "env-a", g.Generate())
	assert.Equal(t, "env-b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestEnvironment_ID(t *testing.T) {
	env, err := New(WithIDGenerator(NewFixedGenerator("env-1")))
	require.NoError(t, err)
	assert.Equal(t, "env-1", env.ID())
}
