package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/prodsys/internal/compiler"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Run     bool     // run the engine before evaluating
	Facts   []string // facts asserted after reset
	Scripts []string // name=file.js function definitions
}

// EvalResult is the value of one expression.
type EvalResult struct {
	Expr  string `json:"expr"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <specs> <expr>...",
		Short: "Evaluate expressions against loaded specs",
		Long: `Load specs, reset the environment and evaluate each expression in turn.

Expressions share the environment, so an (assert ...) is visible to the
expressions after it. With --run the engine fires rules before the first
expression is evaluated.

Examples:
  prodsys eval ./specs "(+ 1 2)"
  prodsys eval ./specs --run "(length$ (find-all-facts ((?i item)) TRUE))"
  prodsys eval ./specs "(assert (order (id 9)))" "(facts)"`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return evalExprs(opts, args[0], args[1:], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Run, "run", false, "run the engine before evaluating")
	cmd.Flags().StringArrayVar(&opts.Facts, "fact", nil, "fact to assert after reset (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Scripts, "script", nil, "JavaScript function as name=file.js (repeatable)")

	return cmd
}

func evalExprs(opts *EvalOptions, specsPath string, exprs []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var output strings.Builder
	var out io.Writer = cmd.OutOrStdout()
	if opts.Format == "json" {
		out = &output
	}
	s, err := openSession(opts.RootOptions, specsPath, out, opts.Scripts)
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.env.Reset(); err != nil {
		return WrapExitError(ExitFailure, "reset failed", err)
	}
	for _, src := range opts.Facts {
		if _, err := compiler.Eval(s.env, "(assert "+src+")"); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to assert %s", src), err)
		}
	}
	if opts.Run {
		if _, err := s.env.Run(opts.Engine.RunLimit); err != nil {
			return WrapExitError(ExitFailure, "run failed", err)
		}
	}

	results := make([]EvalResult, 0, len(exprs))
	for _, src := range exprs {
		v, err := compiler.Eval(s.env, src)
		if err != nil {
			_ = formatter.Error("E_EVAL", fmt.Sprintf("%s: %v", src, err), results)
			return WrapExitError(ExitFailure, "evaluation failed", err)
		}
		results = append(results, EvalResult{Expr: src, Value: v.String(), Type: v.Kind().String()})
		if opts.Format != "json" {
			fmt.Fprintln(cmd.OutOrStdout(), v.String())
		}
	}

	if opts.Format == "json" {
		return formatter.Response(CLIResponse{Status: "ok", Data: map[string]any{
			"results": results,
			"output":  output.String(),
		}})
	}
	return nil
}
