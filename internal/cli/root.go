package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/prodsys/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// Engine is the environment configuration after merging defaults,
	// the config file, PRODSYS_* variables and flags.
	Engine engine.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the prodsys CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Engine: engine.DefaultConfig()}

	cmd := &cobra.Command{
		Use:   "prodsys",
		Short: "prodsys - a forward-chaining production system",
		Long: `A forward-chaining production system with templates, rules and modules.

Constructs are written in CUE. Settings are read from prodsys.yaml in the
working directory (or --config), PRODSYS_* environment variables and flags,
in increasing order of precedence.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			cfg, err := loadConfig(cmd, opts.ConfigFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.Engine = cfg
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default ./prodsys.yaml)")
	cmd.PersistentFlags().String("strategy", "", "conflict resolution strategy")
	cmd.PersistentFlags().StringSlice("watch", nil, "watch items (facts, rules, activations, focus, globals, statistics, all)")
	cmd.PersistentFlags().Uint64("seed", 0, "random seed")

	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// newLogger returns a text logger on w, at debug level when verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newEnvironment builds an environment from the merged configuration.
func (o *RootOptions) newEnvironment(extra ...engine.Option) (*engine.Environment, error) {
	envOpts, err := o.Engine.Options()
	if err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	envOpts = append(envOpts, engine.WithLogger(logger))
	return engine.New(append(envOpts, extra...)...)
}

// commandContext returns the command's context, or a background context
// when the command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
