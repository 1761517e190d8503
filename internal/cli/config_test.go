package cli

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prodsys/internal/engine"
)

// configCommand returns a command carrying the flags loadConfig binds.
func configCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("strategy", "", "")
	cmd.Flags().StringSlice("watch", nil, "")
	cmd.Flags().Uint64("seed", 0, "")
	cmd.Flags().Int("limit", -1, "")
	return cmd
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(configCommand(), "")
	require.NoError(t, err)

	def := engine.DefaultConfig()
	assert.Equal(t, def.Strategy, cfg.Strategy)
	assert.Equal(t, def.SalienceEvaluation, cfg.SalienceEvaluation)
	assert.Equal(t, def.RunLimit, cfg.RunLimit)
	assert.Equal(t, def.Seed, cfg.Seed)
	assert.Empty(t, cfg.Watch)
	assert.False(t, cfg.FactDuplication)
}

func TestLoadConfigFile(t *testing.T) {
	dir := writeFiles(t, map[string]string{"engine.yaml": `
strategy: breadth
salience_evaluation: when-activated
fact_duplication: true
run_limit: 10
watch: [rules, facts]
seed: 42
`})

	cfg, err := loadConfig(configCommand(), filepath.Join(dir, "engine.yaml"))
	require.NoError(t, err)
	assert.Equal(t, engine.Config{
		Strategy:           "breadth",
		SalienceEvaluation: "when-activated",
		FactDuplication:    true,
		RunLimit:           10,
		Watch:              []string{"rules", "facts"},
		Seed:               42,
	}, cfg)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("PRODSYS_STRATEGY", "lex")
	t.Setenv("PRODSYS_RUN_LIMIT", "3")

	cfg, err := loadConfig(configCommand(), "")
	require.NoError(t, err)
	assert.Equal(t, "lex", cfg.Strategy)
	assert.Equal(t, 3, cfg.RunLimit)
}

func TestLoadConfigFlagsOverride(t *testing.T) {
	dir := writeFiles(t, map[string]string{"engine.yaml": "strategy: breadth\nrun_limit: 10\n"})
	t.Setenv("PRODSYS_SEED", "9")

	cmd := configCommand()
	require.NoError(t, cmd.Flags().Set("strategy", "mea"))
	require.NoError(t, cmd.Flags().Set("limit", "2"))
	require.NoError(t, cmd.Flags().Set("seed", "11"))

	cfg, err := loadConfig(cmd, filepath.Join(dir, "engine.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "mea", cfg.Strategy)
	assert.Equal(t, 2, cfg.RunLimit)
	assert.Equal(t, uint64(11), cfg.Seed)
}

func TestLoadConfigUnsetFlagsKeepFile(t *testing.T) {
	dir := writeFiles(t, map[string]string{"engine.yaml": "strategy: breadth\n"})

	cfg, err := loadConfig(configCommand(), filepath.Join(dir, "engine.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "breadth", cfg.Strategy)
	assert.Equal(t, -1, cfg.RunLimit)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(configCommand(), filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nope.yaml")
	})

	t.Run("unknown strategy", func(t *testing.T) {
		cmd := configCommand()
		require.NoError(t, cmd.Flags().Set("strategy", "sideways"))
		_, err := loadConfig(cmd, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sideways")
	})

	t.Run("unknown watch item", func(t *testing.T) {
		dir := writeFiles(t, map[string]string{"engine.yaml": "watch: [everything]\n"})
		_, err := loadConfig(configCommand(), filepath.Join(dir, "engine.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "everything")
	})
}

func TestInvalidConfigFailsCommand(t *testing.T) {
	_, err := execute(t, "--strategy", "sideways", "validate", stockDir(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}
