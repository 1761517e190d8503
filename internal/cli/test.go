package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/prodsys/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	SpecsDir string // resolves scenario spec paths instead of the scenario's directory
	Update   bool   // rewrite golden files from the current traces
	Filter   string // glob over scenario file names
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Fired  int      `json:"fired"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the outcome of a test command.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r *TestResult) add(s ScenarioResult) {
	r.Scenarios = append(r.Scenarios, s)
	r.Total++
	if s.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run scenario files against their specs",
		Long: `Run YAML scenarios through the engine and check their assertions.

<scenarios> is a scenario file or a directory searched recursively. A
scenario with a golden file at golden/<name>.golden next to it must also
reproduce that trace snapshot exactly.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  prodsys test ./scenarios
  prodsys test ./scenarios --filter "stock-*"
  prodsys test ./scenarios --update
  prodsys test ./scenarios --specs-dir ./specs --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.SpecsDir, "specs-dir", "", "resolve spec paths against this directory instead of the scenario's")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

// scenarioRunner runs scenario files one at a time. In text mode each
// result line is printed as soon as the scenario finishes.
type scenarioRunner struct {
	opts *TestOptions
	cmd  *cobra.Command
	out  io.Writer // nil in JSON mode
}

func runTests(opts *TestOptions, scenariosPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.SpecsDir != "" {
		if _, err := os.Stat(opts.SpecsDir); err != nil {
			return NewExitError(ExitCommandError, fmt.Sprintf("specs directory not found: %s", opts.SpecsDir))
		}
	}

	files, err := findScenarioFiles(scenariosPath, opts.Filter)
	var notFound *harness.ScenarioNotFoundError
	switch {
	case errors.As(err, &notFound):
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", scenariosPath))
	case err != nil:
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	r := &scenarioRunner{opts: opts, cmd: cmd}
	if !formatter.JSON() {
		r.out = formatter.Writer
	}

	result := TestResult{Scenarios: []ScenarioResult{}}
	for _, f := range files {
		result.add(r.run(f))
	}

	if formatter.JSON() {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(formatter.Writer, result)
}

// findScenarioFiles lists the scenario files under path whose name, without
// extension, matches filter.
func findScenarioFiles(path, filter string) ([]string, error) {
	all, err := harness.FindScenarios(path)
	if err != nil || filter == "" {
		return all, err
	}
	var files []string
	for _, f := range all {
		matched, err := filepath.Match(filter, scenarioName(f))
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			files = append(files, f)
		}
	}
	return files, nil
}

func scenarioName(file string) string {
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (r *scenarioRunner) run(file string) ScenarioResult {
	res := r.check(file)
	if r.out == nil {
		return res
	}
	switch {
	case !res.Pass:
		fmt.Fprintf(r.out, "✗ %s\n", res.Name)
		for _, e := range res.Errors {
			fmt.Fprintf(r.out, "  %s\n", e)
		}
	case r.opts.Update:
		fmt.Fprintf(r.out, "✓ %s (golden updated)\n", res.Name)
	default:
		fmt.Fprintf(r.out, "✓ %s\n", res.Name)
	}
	return res
}

func (r *scenarioRunner) check(file string) ScenarioResult {
	res := ScenarioResult{Name: filepath.Base(file), Path: file}
	failed := func(msg ...string) ScenarioResult {
		res.Errors = msg
		return res
	}

	base := r.opts.SpecsDir
	if base == "" {
		base = filepath.Dir(file)
	}
	scenario, err := harness.LoadScenarioWithBasePath(file, base)
	if err != nil {
		return failed(fmt.Sprintf("failed to load scenario: %v", err))
	}
	res.Name = scenario.Name

	var hopts []harness.Option
	if r.opts.Logger != nil {
		hopts = append(hopts, harness.WithLogger(r.opts.Logger))
	}
	run, err := harness.Run(commandContext(r.cmd), scenario, hopts...)
	if err != nil {
		return failed(fmt.Sprintf("execution failed: %v", err))
	}
	res.Fired = run.Fired

	golden := goldenFilePath(file)
	snapshot := harness.Snapshot(run)
	if r.opts.Update {
		if err := writeGolden(golden, snapshot); err != nil {
			return failed(fmt.Sprintf("failed to update golden file: %v", err))
		}
		res.Pass = true
		return res
	}

	want, err := os.ReadFile(golden)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return failed(fmt.Sprintf("golden comparison failed: %v", err))
	case !bytes.Equal(want, snapshot):
		return failed("trace does not match golden file (run with --update to regenerate)")
	}

	if !run.Pass {
		return failed(run.Errors...)
	}
	res.Pass = true
	return res
}

// goldenFilePath is golden/<name>.golden beside the scenario file.
func goldenFilePath(scenarioFile string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", scenarioName(scenarioFile)+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func testFailure(result TestResult) error {
	if result.Failed == 0 {
		return nil
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
}

func outputTestJSON(formatter *OutputFormatter, result TestResult) error {
	failure := testFailure(result)
	if failure == nil {
		return formatter.Success(result)
	}
	if err := formatter.Failure("E_TEST_FAILED", failure.Error(), result); err != nil {
		return err
	}
	return failure
}

func outputTestText(w io.Writer, result TestResult) error {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if err := testFailure(result); err != nil {
		return err
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
