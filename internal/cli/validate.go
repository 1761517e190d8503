package cli

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/prodsys/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool                       `json:"valid"`
	Constructs int                        `json:"constructs"`
	Errors     []compiler.ValidationError `json:"errors,omitempty"`
	Warnings   []compiler.Warning         `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs>",
		Short: "Validate specs without running them",
		Long: `Validate CUE constructs without loading them into an environment.

Reports every decoding and consistency error: unknown templates and slots,
unbound variables, bad salience, undeclared modules and so on. Rules with
no actions and rules that can activate each other are reported as
warnings; they do not fail validation.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadSpecs(specsPath, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			if loadErr.Field != "" {
				// A construct failed to decode: report it like any validation error.
				return outputValidationErrors(formatter, ValidationResult{Errors: []compiler.ValidationError{{
					Field:   loadErr.Field,
					Message: loadErr.Message,
					Code:    loadErr.Code,
					Line:    lineOf(loadErr.Pos),
				}}})
			}
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, specsPath)

	result := ValidationResult{
		Constructs: loadResult.Program.Len(),
		Warnings:   compiler.Warnings(loadResult.Program.Rules),
	}
	for _, err := range loadErrors {
		var verr compiler.ValidationError
		var loadErr *LoadError
		switch {
		case errors.As(err, &verr):
			result.Errors = append(result.Errors, verr)
		case errors.As(err, &loadErr):
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "specs",
				Message: loadErr.Message,
				Code:    loadErr.Code,
			})
		}
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// lineOf extracts the line number from a CUE position.
func lineOf(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	result.Valid = true
	if formatter.JSON() {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ All specs valid")
	writeWarnings(formatter, result.Warnings)
	return nil
}

func writeWarnings(formatter *OutputFormatter, warnings []compiler.Warning) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(formatter.Writer)
	for _, w := range warnings {
		if w.Code != "" {
			fmt.Fprintf(formatter.Writer, "%s %s: %s\n", w.Level, w.Code, w.Message)
			continue
		}
		fmt.Fprintf(formatter.Writer, "%s: %s\n", w.Level, w.Message)
	}
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	failed := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	if formatter.JSON() {
		if err := formatter.Failure(errs[0].Code, errs[0].Message, result); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintf(formatter.Writer, "✗ Validation failed (%d error(s))\n", len(errs))
	for _, err := range errs {
		loc := err.Field
		if err.Line > 0 {
			loc = fmt.Sprintf("%s (line %d)", err.Field, err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, loc, err.Message)
	}
	writeWarnings(formatter, result.Warnings)
	return failed
}

// ValidateSpecs validates the specs at path and returns every validation
// error. Load failures are returned as the error.
func ValidateSpecs(path string) ([]compiler.ValidationError, error) {
	loadResult, loadErrors := LoadSpecs(path, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		return nil, loadErrors[0]
	}
	var out []compiler.ValidationError
	for _, err := range loadErrors {
		var verr compiler.ValidationError
		if errors.As(err, &verr) {
			out = append(out, verr)
		}
	}
	return out, nil
}
