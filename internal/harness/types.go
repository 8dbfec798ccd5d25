package harness

import (
	"fmt"

	"github.com/roach88/crewflow/internal/action"
	"github.com/roach88/crewflow/internal/engine"
	"github.com/roach88/crewflow/internal/model"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Scenario is the name of the scenario that ran.
	Scenario string

	// Pass is true when no step errored and every assertion held.
	Pass bool

	// Steps holds one entry per scenario step.
	Steps []StepResult

	// Errors lists step errors and assertion failures, in order.
	Errors []string

	// Effects observed on the fake collaborators and the store.
	Emails      []action.Email
	SMS         []action.SMS
	Agreements  []action.EnvelopeRequest
	Webhooks    int
	Tasks       []model.Task
	Commissions []model.Commission
}

// StepResult is what one step produced.
type StepResult struct {
	Index int
	Step  Step

	// Results are the engine's results for the step's transition.
	Results []model.ExecutionResult

	// Sweep is set when the step ran the sweeper.
	Sweep *engine.SweepReport

	// Err is the step's error, if any.
	Err string
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
