package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	scenarioDir = "../../testdata/scenarios"
	goldenDir   = "../../testdata/golden"
)

func TestScenarios_Golden(t *testing.T) {
	files, err := filepath.Glob(filepath.Join(scenarioDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			scenario, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario, goldenDir)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_ContractSignedEffects(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "contract_signed.yaml"))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Commissions, 1)
	assert.Equal(t, "user-7", result.Commissions[0].OwnerID)
	assert.Equal(t, int64(100000), result.Commissions[0].AmountCents, "8% of 12500.00")

	require.Len(t, result.Emails, 2)
	assert.Equal(t, "ana@example.com", result.Emails[0].To)
	assert.Equal(t, "Welcome aboard, Ana", result.Emails[0].Subject)
}

func TestRun_FailingAssertionIsReported(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "contract_signed.yaml"))
	require.NoError(t, err)
	scenario.Assertions = []Assertion{{Type: AssertCommissionCount, Count: 2}}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected 2, got 1")
}

func TestRun_UnknownObjectIsStepError(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join(scenarioDir, "contract_signed.yaml"))
	require.NoError(t, err)
	// Bypass validation to hit the engine's own check.
	scenario.Steps = []Step{{Object: "Invoice", Event: "UPDATE", EntityID: "inv-1"}}
	scenario.Assertions = []Assertion{{Type: AssertEmailCount, Count: 0}}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.NotEmpty(t, result.Steps[0].Err)
}

func TestRun_BrokenWorkflowIsSetupError(t *testing.T) {
	dir := t.TempDir()
	wf := filepath.Join(dir, "broken.cue")
	require.NoError(t, os.WriteFile(wf, []byte(`workflow: "x": {name: 1}`), 0o644))

	_, err := Run(context.Background(), &Scenario{
		Name:       "broken",
		Workflows:  []string{wf},
		Steps:      []Step{{Sweep: true}},
		Assertions: []Assertion{{Type: AssertEmailCount}},
	})
	require.Error(t, err)
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wf.cue"), []byte("package workflows\n"), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_ResolvesWorkflowPaths(t *testing.T) {
	path := writeScenario(t, `
name: ok
description: resolves paths
workflows: [wf.cue]
steps:
  - object: work_order
    event: update
    entity_id: wo-1
assertions:
  - type: email_count
    count: 0
`)
	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "wf.cue"), scenario.Workflows[0])
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", `
name: x
description: x
workflows: [wf.cue]
stpes: []
`, "field stpes not found"},
		{"missing workflow file", `
name: x
description: x
workflows: [nope.cue]
steps: [{sweep: true}]
assertions: [{type: email_count}]
`, "workflow file not found"},
		{"unknown entity", `
name: x
description: x
workflows: [wf.cue]
steps: [{object: Invoice, event: UPDATE, entity_id: i-1}]
assertions: [{type: email_count}]
`, "unknown entity type"},
		{"empty step", `
name: x
description: x
workflows: [wf.cue]
steps: [{}]
assertions: [{type: email_count}]
`, "needs object, advance, sweep or recover"},
		{"bad advance", `
name: x
description: x
workflows: [wf.cue]
steps: [{advance: soon}]
assertions: [{type: email_count}]
`, "advance"},
		{"unknown failure", `
name: x
description: x
workflows: [wf.cue]
failures: [database]
steps: [{sweep: true}]
assertions: [{type: email_count}]
`, "unknown collaborator"},
		{"outcome without action", `
name: x
description: x
workflows: [wf.cue]
steps: [{sweep: true}]
assertions: [{type: outcome, definition: d, status: SUCCEEDED}]
`, "outcome needs definition, action and status"},
		{"step out of range", `
name: x
description: x
workflows: [wf.cue]
steps: [{sweep: true}]
assertions: [{type: email_count, step: 3}]
`, "step 3 out of range"},
		{"unknown assertion", `
name: x
description: x
workflows: [wf.cue]
steps: [{sweep: true}]
assertions: [{type: trace_contains}]
`, "unknown assertion type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRender_FailedResultListsErrors(t *testing.T) {
	result := &Result{Scenario: "x", Pass: true}
	result.AddError("assertions[0] email_count: expected 1, got 0")

	out := string(Render(result))

	assert.Contains(t, out, "pass: false\n")
	assert.Contains(t, out, "error: assertions[0] email_count: expected 1, got 0\n")
}
