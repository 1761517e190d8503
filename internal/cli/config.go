package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/prodsys/internal/engine"
)

// envPrefix prefixes environment variables, as in PRODSYS_STRATEGY.
const envPrefix = "PRODSYS"

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"strategy": "strategy",
	"watch":    "watch",
	"seed":     "seed",
	"limit":    "run_limit",
}

// loadConfig merges the engine defaults, the config file, environment
// variables and any changed flags of cmd. An explicit path must exist;
// the default ./prodsys.yaml is optional.
func loadConfig(cmd *cobra.Command, path string) (engine.Config, error) {
	def := engine.DefaultConfig()

	v := viper.New()
	v.SetDefault("strategy", def.Strategy)
	v.SetDefault("salience_evaluation", def.SalienceEvaluation)
	v.SetDefault("fact_duplication", def.FactDuplication)
	v.SetDefault("run_limit", def.RunLimit)
	v.SetDefault("watch", []string{})
	v.SetDefault("seed", def.Seed)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return engine.Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("prodsys")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return engine.Config{}, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	// Only flags the user set override the file and environment.
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return engine.Config{}, fmt.Errorf("binding flag %s: %w", name, err)
		}
	}

	var cfg engine.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return engine.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if _, err := cfg.Options(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}
