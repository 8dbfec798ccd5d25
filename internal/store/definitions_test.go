package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crewflow/internal/model"
)

func testDefinition(id string) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		ID:            id,
		Name:          "Adjuster meeting follow-up",
		TriggerObject: model.EntityOpportunity,
		TriggerEvent:  model.EventUpdate,
		Conditions:    model.All(model.Rule("stageName", model.OpChangedTo, "ADJUSTER_MEETING_COMPLETE")),
		IsActive:      true,
		Priority:      100,
		Actions: []model.WorkflowAction{
			{
				ID:    "task",
				Type:  model.ActionCreateTask,
				Order: 1,
				Config: model.TaskConfig{
					Subject:       "Call {{opportunity.name}}",
					DueInDays:     2,
					AssigneeField: "record.ownerId",
				},
			},
			{
				ID:    "agreement",
				Type:  model.ActionSendAgreement,
				Order: 2,
				Config: model.AgreementConfig{
					DocumentType:    "CONTINGENCY",
					RecipientEmail:  "contact.email",
					SendImmediately: true,
				},
			},
		},
	}
}

func TestSaveDefinition_InsertThenNoop(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	res, err := s.SaveDefinition(ctx, testDefinition("wf-1"))
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Equal(t, 1, res.Version)

	res, err = s.SaveDefinition(ctx, testDefinition("wf-1"))
	require.NoError(t, err)
	assert.False(t, res.Inserted)
	assert.False(t, res.Updated)
	assert.Equal(t, 1, res.Version)
}

func TestSaveDefinition_ChangeBumpsVersion(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveDefinition(ctx, testDefinition("wf-1"))
	require.NoError(t, err)

	changed := testDefinition("wf-1")
	changed.Actions = changed.Actions[:1]
	changed.Name = "Follow-up only"
	res, err := s.SaveDefinition(ctx, changed)
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.Equal(t, 2, res.Version)

	got, err := s.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Follow-up only", got.Name)
	assert.Equal(t, 2, got.Version)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "task", got.Actions[0].ID)
}

func TestSaveDefinition_DoesNotMutateCaller(t *testing.T) {
	s, _ := createTestStore(t)

	def := testDefinition("wf-1")
	_, err := s.SaveDefinition(context.Background(), def)
	require.NoError(t, err)
	assert.Nil(t, def.Actions[0].RawConfig)
}

func TestGetDefinition_RoundTrip(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveDefinition(ctx, testDefinition("wf-1"))
	require.NoError(t, err)

	got, err := s.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.EntityOpportunity, got.TriggerObject)
	assert.Equal(t, model.EventUpdate, got.TriggerEvent)
	assert.True(t, got.IsActive)
	assert.Equal(t, testEpoch, got.CreatedAt)

	require.NotNil(t, got.Conditions)
	rules := got.Conditions.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, model.OpChangedTo, rules[0].Operator)

	require.Len(t, got.Actions, 2)
	require.NoError(t, got.Actions[1].DecodeConfig())
	cfg, ok := got.Actions[1].Config.(model.AgreementConfig)
	require.True(t, ok)
	assert.Equal(t, "CONTINGENCY", cfg.DocumentType)
}

func TestGetDefinition_NotFound(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.GetDefinition(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDefinitions_Ordering(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	late := testDefinition("wf-late")
	late.Priority = 50
	_, err := s.SaveDefinition(ctx, late)
	require.NoError(t, err)

	clock.Advance(1)
	first := testDefinition("wf-first")
	first.Priority = 10
	_, err = s.SaveDefinition(ctx, first)
	require.NoError(t, err)

	clock.Advance(1)
	second := testDefinition("wf-second")
	second.Priority = 50
	_, err = s.SaveDefinition(ctx, second)
	require.NoError(t, err)

	defs, err := s.ListDefinitions(ctx)
	require.NoError(t, err)
	ids := make([]string, len(defs))
	for i, d := range defs {
		ids[i] = d.ID
		assert.Len(t, d.Actions, 2, d.ID)
	}
	assert.Equal(t, []string{"wf-first", "wf-late", "wf-second"}, ids)
}

func TestSetActive(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveDefinition(ctx, testDefinition("wf-1"))
	require.NoError(t, err)

	require.NoError(t, s.SetActive(ctx, "wf-1", false))
	got, err := s.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, 1, got.Version)

	// Reloading unchanged source reactivates without a version bump.
	res, err := s.SaveDefinition(ctx, testDefinition("wf-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
	got, err = s.GetDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	assert.ErrorIs(t, s.SetActive(ctx, "missing", true), ErrNotFound)
}
