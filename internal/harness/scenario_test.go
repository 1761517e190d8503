package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ResolvesSpecs(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/restock.yaml")
	require.NoError(t, err)

	assert.Equal(t, "restock", s.Name)
	assert.Equal(t, []string{filepath.Join("testdata", "specs", "stock.cue")}, s.Specs)
	assert.Equal(t, []string{"(item (name kiwi))"}, s.Facts)
	assert.Equal(t, "depth", s.Config.Strategy, "defaults are kept")
	assert.Equal(t, -1, s.Config.RunLimit)
	require.Len(t, s.Assertions, 9)
	assert.Equal(t, int64(11), s.Assertions[6].AtSeq)
}

func TestLoadScenario_Flow(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/steps.yaml")
	require.NoError(t, err)

	assert.Equal(t, "breadth", s.Config.Strategy)
	require.Len(t, s.Flow, 5)
	assert.Nil(t, s.Flow[0].Run)
	require.NotNil(t, s.Flow[1].Run)
	assert.Equal(t, 1, *s.Flow[1].Run)
	require.NotNil(t, s.Flow[1].Expect.Output)
	assert.Equal(t, "hello ann\n", *s.Flow[1].Expect.Output)
	assert.Equal(t, []int64{2}, s.Flow[2].Retract)
}

func TestLoadScenario_RejectsUnknownFields(t *testing.T) {
	_, err := LoadScenario("testdata/broken/typo.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadScenario_MissingSpec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: s
description: d
specs: [missing.cue]
assertions: [{type: fired_count}]
`), 0o644))
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec file not found")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", `{description: d, specs: [a], assertions: [{type: fired_count}]}`, "name is required"},
		{"missing description", `{name: n, specs: [a], assertions: [{type: fired_count}]}`, "description is required"},
		{"missing specs", `{name: n, description: d, assertions: [{type: fired_count}]}`, "specs list is required"},
		{"nothing to do", `{name: n, description: d, specs: [a]}`, "flow step or an assertion"},
		{"empty step", `{name: n, description: d, specs: [a], flow: [{}]}`, "flow[0]: step does nothing"},
		{"fired without run", `{name: n, description: d, specs: [a], flow: [{assert: ["(a)"], expect: {fired: 1}}]}`, "fired requires run"},
		{"bad strategy", `{name: n, description: d, specs: [a], config: {strategy: sideways}, assertions: [{type: fired_count}]}`, "strategy"},
		{"bad watch", `{name: n, description: d, specs: [a], config: {watch: [nothing]}, assertions: [{type: fired_count}]}`, "watch"},
		{"missing type", `{name: n, description: d, specs: [a], assertions: [{count: 1}]}`, "type is required"},
		{"unknown type", `{name: n, description: d, specs: [a], assertions: [{type: final_state}]}`, "unknown assertion type"},
		{"negative count", `{name: n, description: d, specs: [a], assertions: [{type: fired_count, count: -1}]}`, "non-negative"},
		{"order without rules", `{name: n, description: d, specs: [a], assertions: [{type: fired_order}]}`, "rules list is required"},
		{"trace without event", `{name: n, description: d, specs: [a], assertions: [{type: trace_count}]}`, "event is required"},
		{"fact without template", `{name: n, description: d, specs: [a], assertions: [{type: fact_present}]}`, "template is required"},
		{"where and values", `{name: n, description: d, specs: [a], assertions: [{type: fact_absent, template: t, where: {x: 1}, values: [1]}]}`, "exclusive"},
		{"output without text", `{name: n, description: d, specs: [a], assertions: [{type: output}]}`, "text or contains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_EmptyOutputText(t *testing.T) {
	s, err := ParseScenario([]byte(`{name: n, description: d, specs: [a], assertions: [{type: output, text: ""}]}`))
	require.NoError(t, err)
	require.NotNil(t, s.Assertions[0].Text)
	assert.Empty(t, *s.Assertions[0].Text)
}
