package metrics

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/engine"
	prodtest "github.com/roach88/prodsys/internal/testutil"
)

const pingProgram = `
facts: start: ["(ping 0)"]
rule: ping: {
	when: ["?p <- (ping ?n&:(< ?n 3))"]
	then: ["(retract ?p)", "(assert (ping (+ ?n 1)))"]
}
`

func TestCollectorCountsRun(t *testing.T) {
	c := NewCollector()
	env, _ := prodtest.NewEnv(t, "ping", pingProgram, engine.WithObserver(c))
	require.NoError(t, env.Reset())
	fired, err := env.Run(0)
	require.NoError(t, err)
	require.Equal(t, 3, fired)

	assert.Equal(t, 4.0, testutil.ToFloat64(c.factOps.WithLabelValues("assert")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.factOps.WithLabelValues("retract")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.liveFacts))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.fired.WithLabelValues("MAIN::ping")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activations.WithLabelValues("activate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runErrors))
	assert.Equal(t, 1, testutil.CollectAndCount(c.firedPerRun))
}

func TestCollectorSharedAcrossEnvironments(t *testing.T) {
	c := NewCollector()
	for _, id := range []string{"a", "b"} {
		env, _ := prodtest.NewEnv(t, id, pingProgram, engine.WithObserver(c))
		require.NoError(t, env.Reset())
		_, err := env.Run(0)
		require.NoError(t, err)
	}
	assert.Equal(t, 6.0, testutil.ToFloat64(c.fired.WithLabelValues("MAIN::ping")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.runs))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.liveFacts))
}

func TestCollectorErrors(t *testing.T) {
	c := NewCollector()
	c.Observe(engine.TraceEvent{Type: engine.EventError, Err: errors.New("join failed")})
	c.Observe(engine.TraceEvent{Type: engine.EventRunEnd, Count: 2, Err: errors.New("action failed")})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs))
}

func TestWriteText(t *testing.T) {
	c := NewCollector()
	c.Observe(engine.TraceEvent{Type: engine.EventFire, Rule: "MAIN::r"})

	var buf bytes.Buffer
	require.NoError(t, c.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "# TYPE prodsys_rules_fired_total counter")
	assert.Contains(t, out, `prodsys_rules_fired_total{rule="MAIN::r"} 1`)
	assert.Contains(t, out, "prodsys_facts_live 0")
}
