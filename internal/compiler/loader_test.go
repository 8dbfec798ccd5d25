package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crewflow/internal/model"
)

var workflowsDir = filepath.Join("..", "..", "testdata", "workflows")

func writeCUE(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func loadErrorCodes(errs []error) []string {
	var out []string
	for _, err := range errs {
		if le, ok := err.(*LoadError); ok {
			out = append(out, le.Code)
		}
	}
	return out
}

func TestLoadWorkflowsTestdata(t *testing.T) {
	result, errs := LoadWorkflows(workflowsDir, LoadModeCollectAll)
	require.Empty(t, errs)
	require.NotNil(t, result)

	assert.Equal(t, 3, result.FileCount)
	ids := make([]string, len(result.Workflows))
	for i, wf := range result.Workflows {
		ids[i] = wf.Definition.ID
	}
	assert.Equal(t, []string{"adjuster-follow-up", "contract-signed", "work-order-complete"}, ids)

	followUp := result.Workflows[0].Definition
	assert.Equal(t, model.EntityOpportunity, followUp.TriggerObject)
	assert.Equal(t, 10, followUp.Priority)
	require.Len(t, followUp.Actions, 2)
	assert.Equal(t, model.ActionSendAgreement, followUp.Actions[1].Type)

	workOrder := result.Workflows[2].Definition
	assert.Equal(t, model.EntityWorkOrder, workOrder.TriggerObject)
	assert.Equal(t, 1440, workOrder.Actions[1].DelayMinutes)
}

func TestLoadWorkflowsNotFound(t *testing.T) {
	_, errs := LoadWorkflows("/nonexistent/workflows", LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{ErrCodeNotFound}, loadErrorCodes(errs))
}

func TestLoadWorkflowsEmptyDirectory(t *testing.T) {
	_, errs := LoadWorkflows(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{ErrCodeNoFiles}, loadErrorCodes(errs))
}

func TestLoadWorkflowsNoWorkflowField(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "other.cue", "package workflows\n\nsettings: {debug: true}\n")

	_, errs := LoadWorkflows(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeNoWorkflows}, loadErrorCodes(errs))
}

func TestLoadWorkflowsCollectsValidationErrors(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "mixed.cue", `package workflows

workflow: good: {
	name:   "Good"
	object: "Account"
	event:  "CREATE"
}

workflow: bad: {
	name:   ""
	object: "Invoice"
	event:  "UPDATE"
}
`)

	result, errs := LoadWorkflows(dir, LoadModeCollectAll)
	require.NotNil(t, result)
	require.Len(t, result.Workflows, 1)
	assert.Equal(t, "good", result.Workflows[0].Definition.ID)

	assert.ElementsMatch(t, []string{ErrMissingName, ErrUnknownObject}, loadErrorCodes(errs))
	for _, err := range errs {
		le := err.(*LoadError)
		assert.True(t, le.Pos.IsValid(), "validation errors carry positions: %v", le)
		assert.Contains(t, le.Message, `workflow "bad"`)
	}
}

func TestLoadWorkflowsFailFast(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "bad.cue", `package workflows

workflow: a: {
	name:   ""
	object: "Invoice"
	event:  "UPDATE"
}
`)

	_, errs := LoadWorkflows(dir, LoadModeFailFast)
	assert.NotEmpty(t, errs)
	assert.Equal(t, ErrMissingName, loadErrorCodes(errs)[0])
}

func TestLoadWorkflowsCUEConflict(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "a.cue", "package workflows\n\nworkflow: x: name: \"A\"\n")
	writeCUE(t, dir, "b.cue", "package workflows\n\nworkflow: x: name: \"B\"\n")

	_, errs := LoadWorkflows(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeBuildFailed}, loadErrorCodes(errs))
}

func TestLoadFiles(t *testing.T) {
	files := []string{
		filepath.Join(workflowsDir, "follow_up.cue"),
		filepath.Join(workflowsDir, "work_order.cue"),
	}
	result, errs := LoadFiles(files, LoadModeCollectAll)
	require.Empty(t, errs)
	require.Len(t, result.Workflows, 2)
	assert.Equal(t, "adjuster-follow-up", result.Workflows[0].Definition.ID)
	assert.Equal(t, "work-order-complete", result.Workflows[1].Definition.ID)
}

func TestLoadFilesMissing(t *testing.T) {
	_, errs := LoadFiles([]string{filepath.Join(t.TempDir(), "nope.cue")}, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeNotFound}, loadErrorCodes(errs))
}

func TestLoadErrorFormat(t *testing.T) {
	e := &LoadError{Code: ErrCodeNoFiles, Message: "no CUE files found in x"}
	assert.Equal(t, "E003: no CUE files found in x", e.Error())
}
