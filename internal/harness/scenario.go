package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/crewflow/internal/model"
)

// Scenario is one end-to-end workflow test.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Workflows lists CUE files to load, relative to the scenario file.
	Workflows []string `yaml:"workflows"`

	// Failures names collaborators that fail every call: messenger, signer.
	Failures []string `yaml:"failures,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step submits one transition, moves the clock, runs a sweep, or any
// combination of these, in that order: advance, transition, sweep.
type Step struct {
	Object   string                    `yaml:"object,omitempty"`
	Event    string                    `yaml:"event,omitempty"`
	EntityID string                    `yaml:"entity_id,omitempty"`
	ActorID  string                    `yaml:"actor_id,omitempty"`
	Old      map[string]any            `yaml:"old,omitempty"`
	New      map[string]any            `yaml:"new,omitempty"`
	Related  map[string]map[string]any `yaml:"related,omitempty"`

	// Advance moves the fake clock before the step, e.g. "24h".
	Advance string `yaml:"advance,omitempty"`

	// Sweep runs the delayed-action sweeper after the step.
	Sweep bool `yaml:"sweep,omitempty"`

	// Recover clears injected collaborator failures before the step.
	Recover bool `yaml:"recover,omitempty"`
}

// HasTransition reports whether the step submits a transition.
func (s Step) HasTransition() bool {
	return s.Object != ""
}

// Assertion checks the outcome of a scenario.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Definition and Action select an outcome (outcome, definition_status).
	Definition string `yaml:"definition,omitempty"`
	Action     string `yaml:"action,omitempty"`

	// Step selects the step whose results are checked. Default: the last
	// step that evaluated a transition.
	Step *int `yaml:"step,omitempty"`

	// Status is the expected OutcomeStatus or ResultStatus.
	Status string `yaml:"status,omitempty"`

	// Reason, when set, must equal the outcome reason.
	Reason string `yaml:"reason,omitempty"`

	// Object and EntityID narrow *_count assertions to one record. When
	// only one is set the other comes from the first transition. When
	// neither is set every record counts.
	Object   string `yaml:"object,omitempty"`
	EntityID string `yaml:"entity_id,omitempty"`

	// Count is the expected number (commission_count, task_count,
	// agreement_count, email_count).
	Count int `yaml:"count,omitempty"`

	// Text must appear in the subject or body of a sent email.
	Text string `yaml:"text,omitempty"`
}

// Assertion types.
const (
	AssertOutcome          = "outcome"
	AssertDefinitionStatus = "definition_status"
	AssertCommissionCount  = "commission_count"
	AssertTaskCount        = "task_count"
	AssertAgreementCount   = "agreement_count"
	AssertEmailCount       = "email_count"
	AssertEmailContains    = "email_contains"
)

// Collaborators that can be failed.
const (
	FailMessenger = "messenger"
	FailSigner    = "signer"
)

// LoadScenario reads and parses a scenario YAML file. Workflow paths are
// resolved against the scenario's directory.
//
// Unknown fields are rejected so a typo fails loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, wf := range scenario.Workflows {
		if !filepath.IsAbs(wf) {
			scenario.Workflows[i] = filepath.Join(base, wf)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Workflows) == 0 {
		return fmt.Errorf("workflows list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, wf := range s.Workflows {
		if _, err := os.Stat(wf); os.IsNotExist(err) {
			return fmt.Errorf("workflow file not found: %s", wf)
		}
	}
	for _, f := range s.Failures {
		if f != FailMessenger && f != FailSigner {
			return fmt.Errorf("failures: unknown collaborator %q", f)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, len(s.Steps)); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step Step) error {
	if step.Advance != "" {
		if _, err := time.ParseDuration(step.Advance); err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
	}
	if !step.HasTransition() {
		if !step.Sweep && step.Advance == "" && !step.Recover {
			return fmt.Errorf("steps[%d]: needs object, advance, sweep or recover", index)
		}
		return nil
	}
	if _, err := model.ParseEntityType(step.Object); err != nil {
		return fmt.Errorf("steps[%d]: %w", index, err)
	}
	if _, err := model.ParseTriggerEvent(step.Event); err != nil {
		return fmt.Errorf("steps[%d]: %w", index, err)
	}
	if step.EntityID == "" {
		return fmt.Errorf("steps[%d]: entity_id is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, steps int) error {
	if a.Step != nil && (*a.Step < 0 || *a.Step >= steps) {
		return fmt.Errorf("assertions[%d]: step %d out of range", index, *a.Step)
	}
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertOutcome:
		if a.Definition == "" || a.Action == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: outcome needs definition, action and status", index)
		}
	case AssertDefinitionStatus:
		if a.Definition == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: definition_status needs definition and status", index)
		}
	case AssertCommissionCount, AssertTaskCount, AssertAgreementCount, AssertEmailCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertEmailContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: email_contains needs text", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
