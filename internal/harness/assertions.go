package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/crewflow/internal/model"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Index    int
	Type     string
	Expected any
	Actual   any
	Message  string
}

func (e *AssertionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("assertions[%d] %s: %s", e.Index, e.Type, e.Message)
	}
	return fmt.Sprintf("assertions[%d] %s: expected %v, got %v", e.Index, e.Type, e.Expected, e.Actual)
}

// checkAssertions evaluates every assertion and records failures.
func checkAssertions(scenario *Scenario, result *Result) {
	for i, a := range scenario.Assertions {
		if err := checkAssertion(i, a, scenario, result); err != nil {
			result.AddError("%s", err.Error())
		}
	}
}

func checkAssertion(index int, a Assertion, scenario *Scenario, result *Result) *AssertionError {
	fail := func(expected, actual any) *AssertionError {
		return &AssertionError{Index: index, Type: a.Type, Expected: expected, Actual: actual}
	}

	switch a.Type {
	case AssertOutcome:
		results, err := stepResults(index, a, result)
		if err != nil {
			return err
		}
		outcome, ok := findOutcome(results, a.Definition, a.Action)
		if !ok {
			return &AssertionError{Index: index, Type: a.Type,
				Message: fmt.Sprintf("no outcome for %s/%s", a.Definition, a.Action)}
		}
		if string(outcome.Status) != a.Status {
			return fail(a.Status, outcome.Status)
		}
		if a.Reason != "" && outcome.Reason != a.Reason {
			return fail("reason "+a.Reason, "reason "+outcome.Reason)
		}

	case AssertDefinitionStatus:
		results, err := stepResults(index, a, result)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.DefinitionID != a.Definition {
				continue
			}
			if string(r.Status) != a.Status {
				return fail(a.Status, r.Status)
			}
			return nil
		}
		return &AssertionError{Index: index, Type: a.Type,
			Message: fmt.Sprintf("definition %s did not match", a.Definition)}

	case AssertCommissionCount:
		ref, ok := countTarget(a, scenario)
		n := 0
		for _, c := range result.Commissions {
			if !ok || (c.SourceType == ref.object && c.SourceID == ref.id) {
				n++
			}
		}
		if n != a.Count {
			return fail(a.Count, n)
		}

	case AssertTaskCount:
		ref, ok := countTarget(a, scenario)
		n := 0
		for _, t := range result.Tasks {
			if !ok || (t.RelatedType == ref.object && t.RelatedID == ref.id) {
				n++
			}
		}
		if n != a.Count {
			return fail(a.Count, n)
		}

	case AssertAgreementCount:
		ref, ok := countTarget(a, scenario)
		n := 0
		for _, req := range result.Agreements {
			if !ok || (req.EntityType == ref.object && req.EntityID == ref.id) {
				n++
			}
		}
		if n != a.Count {
			return fail(a.Count, n)
		}

	case AssertEmailCount:
		if len(result.Emails) != a.Count {
			return fail(a.Count, len(result.Emails))
		}

	case AssertEmailContains:
		for _, e := range result.Emails {
			if strings.Contains(e.Subject, a.Text) || strings.Contains(e.Body, a.Text) {
				return nil
			}
		}
		return &AssertionError{Index: index, Type: a.Type,
			Message: fmt.Sprintf("no email contains %q", a.Text)}
	}
	return nil
}

// stepResults selects the results an outcome assertion reads.
func stepResults(index int, a Assertion, result *Result) ([]model.ExecutionResult, *AssertionError) {
	if a.Step != nil {
		if *a.Step >= len(result.Steps) {
			return nil, &AssertionError{Index: index, Type: a.Type,
				Message: fmt.Sprintf("step %d did not run", *a.Step)}
		}
		return result.Steps[*a.Step].Results, nil
	}
	for i := len(result.Steps) - 1; i >= 0; i-- {
		if result.Steps[i].Step.HasTransition() {
			return result.Steps[i].Results, nil
		}
	}
	return nil, &AssertionError{Index: index, Type: a.Type, Message: "no step evaluated a transition"}
}

func findOutcome(results []model.ExecutionResult, definitionID, actionID string) (model.ActionOutcome, bool) {
	for _, r := range results {
		if r.DefinitionID != definitionID {
			continue
		}
		for _, o := range r.Outcomes {
			if o.ActionID == actionID {
				return o, true
			}
		}
	}
	return model.ActionOutcome{}, false
}

// countTarget resolves the entity a *_count assertion filters on. An
// assertion naming no entity counts across all of them.
func countTarget(a Assertion, scenario *Scenario) (entityRef, bool) {
	if a.Object == "" && a.EntityID == "" {
		return entityRef{}, false
	}
	object := a.Object
	id := a.EntityID
	for _, step := range scenario.Steps {
		if step.HasTransition() {
			if object == "" {
				object = step.Object
			}
			if id == "" {
				id = step.EntityID
			}
			break
		}
	}
	t, err := model.ParseEntityType(object)
	if err != nil {
		return entityRef{}, false
	}
	return entityRef{object: t, id: id}, true
}
