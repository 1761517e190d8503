package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/prodsys/internal/engine"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the environment
	// ID and the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists the CUE programs to load, relative to the scenario file.
	Specs []string `yaml:"specs"`

	// Config holds the engine settings. Unset fields keep the defaults.
	Config engine.Config `yaml:"config,omitempty"`

	// Facts are asserted, in order, after the environment is reset.
	Facts []string `yaml:"facts,omitempty"`

	// Flow contains the steps to execute. An empty flow runs the engine
	// once with Config.RunLimit.
	Flow []FlowStep `yaml:"flow,omitempty"`

	// Assertions validate the final trace, working memory and output.
	Assertions []Assertion `yaml:"assertions"`
}

// FlowStep changes working memory and optionally runs the engine.
// Asserts come first, then retracts, evals and the run.
type FlowStep struct {
	// Assert holds fact literals such as (item (name kiwi)).
	Assert []string `yaml:"assert,omitempty"`

	// Retract holds fact indices.
	Retract []int64 `yaml:"retract,omitempty"`

	// Eval holds expressions evaluated in the environment.
	Eval []string `yaml:"eval,omitempty"`

	// Run is the fire limit; nil skips running and zero or less is
	// unlimited.
	Run *int `yaml:"run,omitempty"`

	// Expect validates the step. Nil skips validation.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies what one step must produce. Unset fields are
// not checked.
type ExpectClause struct {
	// Fired is the number of rules fired by this step's run.
	Fired *int `yaml:"fired,omitempty"`

	// Output is the text printed to stdout during this step.
	Output *string `yaml:"output,omitempty"`

	// Agenda is the agenda size after the step.
	Agenda *int `yaml:"agenda,omitempty"`

	// Error is a substring of the step's error. Without it any step error
	// fails the scenario.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final state of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is the expected number for the counting assertions.
	Count int `yaml:"count,omitempty"`

	// Rules is the expected firing order (fired_order).
	Rules []string `yaml:"rules,omitempty"`

	// Event and Rule select trace events (trace_count).
	Event string `yaml:"event,omitempty"`
	Rule  string `yaml:"rule,omitempty"`

	// Template and Where select facts; Values matches the fields of an
	// ordered fact.
	Template string         `yaml:"template,omitempty"`
	Where    map[string]any `yaml:"where,omitempty"`
	Values   []any          `yaml:"values,omitempty"`

	// AtSeq evaluates a fact assertion against the journal as of that
	// trace sequence number instead of the final working memory.
	AtSeq int64 `yaml:"at_seq,omitempty"`

	// Text and Contains check the output.
	Text     *string `yaml:"text,omitempty"`
	Contains string  `yaml:"contains,omitempty"`
}

// Assertion type constants.
const (
	AssertFiredCount  = "fired_count"
	AssertFiredOrder  = "fired_order"
	AssertTraceCount  = "trace_count"
	AssertFactPresent = "fact_present"
	AssertFactAbsent  = "fact_absent"
	AssertFactCount   = "fact_count"
	AssertAgendaSize  = "agenda_size"
	AssertOutput      = "output"
)

// LoadScenario reads and parses a scenario YAML file, resolving spec
// paths relative to the file's directory. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving relative spec paths against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}
	for _, specPath := range scenario.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: spec file not found: %s", specPath)
		}
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. Spec paths are kept
// as written.
func ParseScenario(data []byte) (*Scenario, error) {
	scenario := Scenario{Config: engine.DefaultConfig()}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}
	if len(s.Flow) == 0 && len(s.Assertions) == 0 {
		return fmt.Errorf("a flow step or an assertion is required")
	}
	if _, err := s.Config.Options(); err != nil {
		return err
	}

	for i, step := range s.Flow {
		if len(step.Assert) == 0 && len(step.Retract) == 0 && len(step.Eval) == 0 && step.Run == nil {
			return fmt.Errorf("flow[%d]: step does nothing", i)
		}
		if step.Expect != nil && step.Expect.Fired != nil && step.Run == nil {
			return fmt.Errorf("flow[%d].expect: fired requires run", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertFiredCount, AssertAgendaSize:
	case AssertFiredOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules list is required for fired_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
	case AssertFactPresent, AssertFactAbsent, AssertFactCount:
		if a.Template == "" {
			return fmt.Errorf("assertions[%d]: template is required for %s", index, a.Type)
		}
		if len(a.Where) > 0 && len(a.Values) > 0 {
			return fmt.Errorf("assertions[%d]: where and values are exclusive", index)
		}
		if a.AtSeq < 0 {
			return fmt.Errorf("assertions[%d]: at_seq must be positive", index)
		}
	case AssertOutput:
		if a.Text == nil && a.Contains == "" {
			return fmt.Errorf("assertions[%d]: text or contains is required for output", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
