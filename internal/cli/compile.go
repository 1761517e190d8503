package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/prodsys/internal/compiler"
	"github.com/roach88/prodsys/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult holds the compiled constructs in construct syntax.
type CompilationResult struct {
	Hash      string   `json:"hash"`
	Modules   []string `json:"modules,omitempty"`
	Templates []string `json:"templates,omitempty"`
	Globals   []string `json:"globals,omitempty"`
	Deffacts  []string `json:"deffacts,omitempty"`
	Rules     []string `json:"rules,omitempty"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	ModuleCount   int
	TemplateCount int
	GlobalCount   int
	DeffactsCount int
	RuleCount     int
	FactCount     int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <specs>",
		Short: "Compile CUE specs to construct syntax",
		Long: `Compile CUE constructs and print them in construct syntax.

The compiler decodes the CUE files, validates the constructs and prints
each one as (defrule ...), (deftemplate ...) and so on, together with the
rule-set hash that journal runs record.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, specsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadSpecs(specsPath, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) && loadErr.Field == "" {
			return outputCompileError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputCompileErrors(formatter, loadErrors)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsPath)
	prog := loadResult.Program
	for _, r := range prog.Rules {
		formatter.VerboseLog("Compiled rule: %s", ir.QualifiedName(r.Module, r.Name))
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	result := newCompilationResult(prog)
	stats := calculateStats(prog)

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

func newCompilationResult(prog *compiler.Program) *CompilationResult {
	result := &CompilationResult{Hash: prog.Hash()}
	for _, m := range prog.Modules {
		result.Modules = append(result.Modules, ir.FormatModule(m))
	}
	for _, t := range prog.Templates {
		result.Templates = append(result.Templates, ir.FormatTemplate(t))
	}
	for _, g := range prog.Globals {
		result.Globals = append(result.Globals, ir.FormatGlobal(g))
	}
	for _, d := range prog.Deffacts {
		result.Deffacts = append(result.Deffacts, ir.FormatDeffacts(d))
	}
	for _, r := range prog.Rules {
		result.Rules = append(result.Rules, ir.FormatRule(r))
	}
	return result
}

// calculateStats computes summary statistics from a compiled program.
func calculateStats(prog *compiler.Program) CompilationStats {
	stats := CompilationStats{
		ModuleCount:   len(prog.Modules),
		TemplateCount: len(prog.Templates),
		GlobalCount:   len(prog.Globals),
		DeffactsCount: len(prog.Deffacts),
		RuleCount:     len(prog.Rules),
	}
	for _, d := range prog.Deffacts {
		stats.FactCount += len(d.Facts)
	}
	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d template(s), %d rule(s), %d deffacts (%d fact(s)), %d global(s), %d module(s)\n",
		stats.TemplateCount, stats.RuleCount, stats.DeffactsCount, stats.FactCount, stats.GlobalCount, stats.ModuleCount)
	fmt.Fprintf(w, "Hash: %s\n\n", result.Hash)

	for _, section := range [][]string{result.Modules, result.Templates, result.Globals, result.Deffacts, result.Rules} {
		for _, text := range section {
			fmt.Fprintln(w, text)
			fmt.Fprintln(w)
		}
	}

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote constructs to %s\n", outputFile)
	}
	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	failed := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	cliErrors := make([]CLIError, len(errs))
	for i, err := range errs {
		code, message := parseCompileError(err)
		cliErrors[i] = CLIError{Code: code, Message: message}
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			cliErrors[i].Details = loadErr.Pos.String()
		}
	}
	if formatter.JSON() {
		if err := formatter.Failure(cliErrors[0].Code, cliErrors[0].Message, cliErrors); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	for _, e := range cliErrors {
		if e.Details != nil {
			fmt.Fprintf(formatter.Writer, "  %s: %s (%s)\n", e.Code, e.Message, e.Details)
			continue
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", e.Code, e.Message)
	}
	return failed
}

// parseCompileError extracts error code and message from an error.
func parseCompileError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		if loadErr.Field != "" {
			return loadErr.Code, loadErr.Field + ": " + loadErr.Message
		}
		return loadErr.Code, loadErr.Message
	}
	var verr compiler.ValidationError
	if errors.As(err, &verr) {
		return verr.Code, verr.Field + ": " + verr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeIRToFile writes the compilation result to a file as indented JSON.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling constructs: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
