package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const stockSpec = `
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
	then: ["(printout t \"restocked \" ?n crlf)", "(retract ?r)"]
}
`

const greetSpec = `
rule: greet: {
	when: ["(person ?n)"]
	then: ["(printout t \"hello \" ?n crlf)"]
}
`

// writeFiles writes name -> content pairs under a new temp directory and
// returns it.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func stockDir(t *testing.T) string {
	t.Helper()
	return writeFiles(t, map[string]string{"stock.cue": stockSpec})
}

// execute runs the root command with args and returns what it wrote to
// stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

// decodeResponse decodes a JSON response whose data is decoded into data.
func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.CLIResponse
}

// recordRun runs the specs in dir into a new journal and returns the
// journal path and run ID.
func recordRun(t *testing.T, dir string, args ...string) (string, string) {
	t.Helper()
	db := filepath.Join(t.TempDir(), "prodsys.db")
	out, err := execute(t, append([]string{"--format", "json", "run", dir, "--db", db}, args...)...)
	require.NoError(t, err, out)

	var summary RunSummary
	decodeResponse(t, out, &summary)
	require.NotEmpty(t, summary.RunID)
	return db, summary.RunID
}
