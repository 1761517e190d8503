package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/compiler"
	"github.com/roach88/prodsys/internal/engine"
	"github.com/roach88/prodsys/internal/router"
)

const stockProgram = `
template: item: slots: {
	name: {type: "SYMBOL"}
	qty: {type: "INTEGER", default: 0}
}
facts: stock: [
	"(item (name apple) (qty 2))",
	"(item (name pear) (qty 0))",
]
rule: restock: {
	when: ["?i <- (item (name ?n) (qty 0))"]
	then: ["(modify ?i (qty 5))", "(assert (restocked ?n))"]
}
rule: drop: {
	when: ["?r <- (restocked ?n)"]
	then: ["(retract ?r)"]
}
`

// openTestJournal opens a journal in a temporary directory.
func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

// newStockEnv builds an environment with stockProgram loaded. The facts
// are asserted when reset is true.
func newStockEnv(t *testing.T, id string, reset bool) *engine.Environment {
	t.Helper()
	env, err := engine.New(
		engine.WithIDGenerator(engine.NewFixedGenerator(id)),
		engine.WithRouter(router.NewBufferRouter("capture", 10)),
	)
	require.NoError(t, err)
	t.Cleanup(env.Close)
	_, err = compiler.Load(env, stockProgram, "stock.cue")
	require.NoError(t, err)
	if reset {
		require.NoError(t, env.Reset())
	}
	return env
}
