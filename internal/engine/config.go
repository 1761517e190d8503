package engine

import (
	"fmt"
	"slices"

	"github.com/roach88/prodsys/internal/agenda"
)

// Config holds the environment settings loadable from a config file.
type Config struct {
	Strategy           string   `yaml:"strategy" mapstructure:"strategy"`
	SalienceEvaluation string   `yaml:"salience_evaluation" mapstructure:"salience_evaluation"`
	FactDuplication    bool     `yaml:"fact_duplication" mapstructure:"fact_duplication"`
	RunLimit           int      `yaml:"run_limit" mapstructure:"run_limit"`
	Watch              []string `yaml:"watch" mapstructure:"watch"`
	Seed               uint64   `yaml:"seed" mapstructure:"seed"`
}

// DefaultConfig returns the settings New uses without options.
func DefaultConfig() Config {
	return Config{
		Strategy:           agenda.Depth.String(),
		SalienceEvaluation: agenda.WhenDefined.String(),
		RunLimit:           -1,
		Seed:               1,
	}
}

// Options converts the settings to environment options. Empty names keep
// the defaults. RunLimit is not an option; callers pass it to Run.
func (c Config) Options() ([]Option, error) {
	var opts []Option
	if c.Strategy != "" {
		s, err := agenda.ParseStrategy(c.Strategy)
		if err != nil {
			return nil, fmt.Errorf("config strategy: %w", err)
		}
		opts = append(opts, WithStrategy(s))
	}
	if c.SalienceEvaluation != "" {
		m, err := agenda.ParseSalienceMode(c.SalienceEvaluation)
		if err != nil {
			return nil, fmt.Errorf("config salience_evaluation: %w", err)
		}
		opts = append(opts, WithSalienceEvaluation(m))
	}
	if c.FactDuplication {
		opts = append(opts, WithFactDuplication(true))
	}
	for _, w := range c.Watch {
		if !validWatchItem(w) {
			return nil, fmt.Errorf("config watch: unknown item %q", w)
		}
	}
	if len(c.Watch) > 0 {
		opts = append(opts, WithWatch(c.Watch...))
	}
	if c.Seed != 0 {
		opts = append(opts, WithRandomSeed(c.Seed))
	}
	return opts, nil
}

func validWatchItem(item string) bool {
	return item == WatchAll || slices.Contains(WatchItems, item)
}
