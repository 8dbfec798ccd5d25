package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/crewflow/internal/model"
)

// Render writes a result as stable text: one block per step, one line
// per definition and action, then the collected effects. Ids come from
// sequential generators, so the output is identical across runs.
func Render(result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", result.Scenario)
	for _, sr := range result.Steps {
		fmt.Fprintf(&b, "step %d:%s\n", sr.Index, stepHeader(sr.Step))
		for _, r := range sr.Results {
			renderResult(&b, r)
		}
		if sr.Sweep != nil {
			s := sr.Sweep
			fmt.Fprintf(&b, "  sweep claimed=%d done=%d retried=%d failed=%d cancelled=%d\n",
				s.Claimed, s.Done, s.Retried, s.Failed, s.Cancelled)
		}
		if sr.Err != "" {
			fmt.Fprintf(&b, "  error: %s\n", sr.Err)
		}
	}
	fmt.Fprintf(&b, "effects: emails=%d sms=%d agreements=%d webhooks=%d tasks=%d commissions=%d\n",
		len(result.Emails), len(result.SMS), len(result.Agreements), result.Webhooks,
		len(result.Tasks), len(result.Commissions))
	fmt.Fprintf(&b, "pass: %t\n", result.Pass)
	for _, e := range result.Errors {
		fmt.Fprintf(&b, "error: %s\n", e)
	}
	return []byte(b.String())
}

func stepHeader(s Step) string {
	var parts []string
	if s.Recover {
		parts = append(parts, "recover")
	}
	if s.Advance != "" {
		parts = append(parts, "advance "+s.Advance)
	}
	if s.HasTransition() {
		parts = append(parts, s.Object, s.Event, s.EntityID)
	}
	if s.Sweep {
		parts = append(parts, "sweep")
	}
	return " " + strings.Join(parts, " ")
}

func renderResult(b *strings.Builder, r model.ExecutionResult) {
	fmt.Fprintf(b, "  %s v%d %s %s", r.DefinitionID, r.Version, r.EvaluationID, r.Status)
	if r.Reason != "" {
		fmt.Fprintf(b, " %s", r.Reason)
	}
	b.WriteString("\n")
	for _, o := range r.Outcomes {
		fmt.Fprintf(b, "    %d %s %s %s", o.Order, o.ActionID, o.ActionType, o.Status)
		switch o.Status {
		case model.OutcomeSkipped:
			fmt.Fprintf(b, " %s", o.Reason)
		case model.OutcomeFailed:
			fmt.Fprintf(b, " %s", o.ErrorKind)
		}
		b.WriteString("\n")
	}
}

// RunWithGolden executes a scenario and compares the rendered result
// against {dir}/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, dir string) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, dir, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an already-run result against its golden file.
func AssertGolden(t *testing.T, dir, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Render(result))
}
