package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crewflow/internal/model"
)

func compileOne(t *testing.T, src, id string) (*Workflow, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("inline.cue"))
	require.NoError(t, v.Err())
	return CompileWorkflow(v.LookupPath(cue.MakePath(cue.Str("workflow"), cue.Str(id))))
}

func TestCompileWorkflowBasic(t *testing.T) {
	wf, err := compileOne(t, `
		workflow: "follow-up": {
			name:      "Follow up"
			object:    "opportunity"
			event:     "update"
			priority:  5
			createdBy: "ops"
			conditions: {
				operator: "AND"
				conditions: [{field: "stageName", operator: "changed_to", value: "WON"}]
			}
			actions: [
				{type: "CREATE_TASK", config: {subject: "Call", assigneeField: "record.ownerId", dueInDays: 1}},
				{id: "notify", type: "send_email", order: 5, delayMinutes: 30, config: {recipientField: "contact.email", subject: "s", body: "b"}},
			]
		}
	`, "follow-up")
	require.NoError(t, err)

	def := wf.Definition
	assert.Equal(t, "follow-up", def.ID)
	assert.Equal(t, "Follow up", def.Name)
	assert.Equal(t, model.EntityOpportunity, def.TriggerObject)
	assert.Equal(t, model.EventUpdate, def.TriggerEvent)
	assert.Equal(t, 5, def.Priority)
	assert.True(t, def.IsActive, "active defaults to true")
	assert.Equal(t, "ops", def.CreatedBy)

	require.NotNil(t, def.Conditions)
	rules := def.Conditions.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, model.OpChangedTo, rules[0].Operator)
	assert.Equal(t, "WON", rules[0].Value)

	require.Len(t, def.Actions, 2)
	assert.Equal(t, "follow-up-1", def.Actions[0].ID)
	assert.Equal(t, 1, def.Actions[0].Order)
	assert.Equal(t, model.ActionCreateTask, def.Actions[0].Type)
	assert.JSONEq(t, `{"subject":"Call","assigneeField":"record.ownerId","dueInDays":1}`, string(def.Actions[0].RawConfig))

	assert.Equal(t, "notify", def.Actions[1].ID)
	assert.Equal(t, 5, def.Actions[1].Order)
	assert.Equal(t, model.ActionSendEmail, def.Actions[1].Type)
	assert.Equal(t, 30, def.Actions[1].DelayMinutes)

	assert.Empty(t, wf.Validate())
}

func TestCompileWorkflowDefaults(t *testing.T) {
	wf, err := compileOne(t, `
		workflow: always: {
			name:   "Always"
			object: "Account"
			event:  "CREATE"
			active: false
		}
	`, "always")
	require.NoError(t, err)

	assert.Equal(t, DefaultPriority, wf.Definition.Priority)
	assert.False(t, wf.Definition.IsActive)
	assert.Nil(t, wf.Definition.Conditions)
	assert.Empty(t, wf.Definition.Actions)
}

func TestCompileWorkflowMissingObject(t *testing.T) {
	_, err := compileOne(t, `
		workflow: broken: {
			name:  "Broken"
			event: "UPDATE"
		}
	`, "broken")

	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "object", ce.Field)
	assert.Contains(t, err.Error(), "required")
	assert.True(t, ce.Pos.IsValid())
}

func TestCompileWorkflowActionMissingType(t *testing.T) {
	_, err := compileOne(t, `
		workflow: broken: {
			name:   "Broken"
			object: "Opportunity"
			event:  "UPDATE"
			actions: [{config: {}}]
		}
	`, "broken")

	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "actions[0].type", ce.Field)
}

func TestCompileWorkflowWrongKind(t *testing.T) {
	_, err := compileOne(t, `
		workflow: broken: {
			name:     "Broken"
			object:   "Opportunity"
			event:    "UPDATE"
			priority: "high"
		}
	`, "broken")

	require.Error(t, err)
}

func TestWorkflowValidateAttachesLines(t *testing.T) {
	wf, err := compileOne(t, `workflow: bad: {
	name:   "Bad"
	object: "Opportunity"
	event:  "CREATE"
	actions: [
		{type: "TELEPORT"},
	]
}`, "bad")
	require.NoError(t, err)

	errs := wf.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnknownActionType, errs[0].Code)
	assert.Equal(t, "actions[0].actionType", errs[0].Field)
	assert.Equal(t, 6, errs[0].Line)
	assert.Contains(t, errs[0].Error(), "line 6")
}

func TestPosOfFallsBackToEnclosingField(t *testing.T) {
	wf, err := compileOne(t, `workflow: nested: {
	name:   "Nested"
	object: "Opportunity"
	event:  "UPDATE"
	conditions: {
		conditions: [{field: "a", operator: "equals", value: 1}]
	}
}`, "nested")
	require.NoError(t, err)

	p := wf.PosOf("triggerConditions.conditions[0]")
	require.True(t, p.IsValid())
	assert.Equal(t, 5, p.Line())
	assert.Equal(t, wf.Pos, wf.PosOf("unknown"))
}
