package action_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crewflow/internal/action"
	"github.com/roach88/crewflow/internal/model"
	"github.com/roach88/crewflow/internal/testutil"
)

type fixture struct {
	messenger   *testutil.FakeMessenger
	signer      *testutil.FakeSigner
	tasks       *testutil.MemoryTasks
	fields      *testutil.MemoryFields
	commissions *testutil.MemoryCommissions
	guard       *testutil.MemoryGuard
	registry    *action.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		messenger:   testutil.NewFakeMessenger(),
		signer:      testutil.NewFakeSigner(),
		tasks:       &testutil.MemoryTasks{},
		fields:      &testutil.MemoryFields{},
		commissions: &testutil.MemoryCommissions{},
		guard:       &testutil.MemoryGuard{},
	}
	r, err := action.NewDefaultRegistry(action.Deps{
		Messenger:   f.messenger,
		Signer:      f.signer,
		Tasks:       f.tasks,
		Fields:      f.fields,
		Commissions: f.commissions,
		HTTP:        http.DefaultClient,
		Guard:       f.guard,
		IDs:         testutil.NewSequentialIDs("id"),
	})
	require.NoError(t, err)
	f.registry = r
	return f
}

func opportunityTransition() model.EntityTransition {
	return model.EntityTransition{
		EntityType: model.EntityOpportunity,
		EntityID:   "opp-1",
		OldValues:  model.Record{"stageName": "INSPECTION"},
		NewValues: model.Record{
			"name":          "Smith Roof",
			"stageName":     "CONTRACT_SIGNED",
			"ownerId":       "user-7",
			"contractTotal": 12500.0,
			"accountId":     "acct-9",
		},
		Related: map[string]model.Record{
			"contact": {"firstName": "Ana", "email": "ana@example.com", "phone": "+15550100"},
		},
		ActorID: "user-1",
	}
}

func (f *fixture) run(t *testing.T, tr model.EntityTransition, cfg model.ActionConfig) (model.ActionOutcome, error) {
	t.Helper()
	h, ok := f.registry.Lookup(cfg.ActionType())
	require.True(t, ok)
	return h.Execute(context.Background(), action.Request{
		DefinitionID: "wf-1",
		EvaluationID: "eval-1",
		Action:       model.WorkflowAction{ID: "a1", Type: cfg.ActionType(), Order: 1, Config: cfg},
		Transition:   tr,
		Context:      action.NewContext(tr, testutil.Epoch),
		Now:          testutil.Epoch,
	})
}

func TestDefaultRegistry_CoversEveryActionType(t *testing.T) {
	f := newFixture(t)
	assert.Len(t, f.registry.Types(), len(model.ActionTypes))
	for _, at := range model.ActionTypes {
		_, ok := f.registry.Lookup(at)
		assert.True(t, ok, at)
	}
}

func TestDefaultRegistry_MissingCollaborators(t *testing.T) {
	_, err := action.NewDefaultRegistry(action.Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "messenger")
}

func TestEmailHandler(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, opportunityTransition(), model.EmailConfig{
		RecipientField: "contact.email",
		Subject:        "Welcome {{contact.firstName}}",
		Body:           "<p>{{opportunity.name}} is {{record.stageName}}</p>",
		HTML:           true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)

	emails := f.messenger.Emails()
	require.Len(t, emails, 1)
	assert.Equal(t, "ana@example.com", emails[0].To)
	assert.Equal(t, "Welcome Ana", emails[0].Subject)
	assert.Equal(t, "<p>Smith Roof is CONTRACT_SIGNED</p>", emails[0].Body)
	assert.Equal(t, "msg-1", out.Detail["messageId"])
}

func TestEmailHandler_MissingRecipient(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, opportunityTransition(), model.EmailConfig{
		RecipientField: "owner.email",
		Subject:        "s",
		Body:           "b",
	})
	require.Error(t, err)
	assert.Equal(t, model.ErrorConfig, action.KindOf(err))
	assert.Empty(t, f.messenger.Emails())
}

func TestSMSHandler_ExternalFailure(t *testing.T) {
	f := newFixture(t)
	f.messenger.Fail(errors.New("gateway 503"))

	_, err := f.run(t, opportunityTransition(), model.SMSConfig{
		RecipientField: "contact.phone",
		Message:        "Hi {{contact.firstName}}",
	})
	require.Error(t, err)
	assert.True(t, action.IsExternal(err))
	assert.Contains(t, err.Error(), "gateway 503")

	f.messenger.Recover()
	out, err := f.run(t, opportunityTransition(), model.SMSConfig{
		RecipientField: "contact.phone",
		Message:        "Hi {{contact.firstName}}",
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)
	require.Len(t, f.messenger.SMS(), 1)
	assert.Equal(t, "Hi Ana", f.messenger.SMS()[0].Message)
}

func TestAgreementHandler_GuardedByDocumentType(t *testing.T) {
	f := newFixture(t)
	cfg := model.AgreementConfig{
		DocumentType:    "CONTINGENCY",
		RecipientName:   "contact.firstName",
		RecipientEmail:  "contact.email",
		SendImmediately: true,
	}

	out, err := f.run(t, opportunityTransition(), cfg)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)
	assert.Equal(t, "env-1", out.Detail["envelopeId"])

	out, err = f.run(t, opportunityTransition(), cfg)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSkipped, out.Status)
	assert.Equal(t, model.ReasonDuplicate, out.Reason)

	other := cfg
	other.DocumentType = "WORK_AUTHORIZATION"
	out, err = f.run(t, opportunityTransition(), other)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)

	reqs := f.signer.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Ana", reqs[0].RecipientName)
	assert.Equal(t, "opp-1", reqs[0].EntityID)
	assert.NotEmpty(t, reqs[0].IdempotencyKey)
}

func TestAgreementHandler_FailureReleasesKey(t *testing.T) {
	f := newFixture(t)
	cfg := model.AgreementConfig{DocumentType: "CONTINGENCY", RecipientEmail: "contact.email"}
	key := model.AgreementKey(opportunityTransition(), "CONTINGENCY")

	f.signer.Fail(nil)
	_, err := f.run(t, opportunityTransition(), cfg)
	require.Error(t, err)
	assert.True(t, action.IsExternal(err))
	assert.Equal(t, "", f.guard.State(key))

	f.signer.Recover()
	out, err := f.run(t, opportunityTransition(), cfg)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)
	assert.Equal(t, "DONE", f.guard.State(key))
}

func TestTaskHandler_NotGuarded(t *testing.T) {
	f := newFixture(t)
	cfg := model.TaskConfig{
		Subject:       "Schedule install for {{opportunity.name}}",
		Description:   "Contact {{contact.firstName}}",
		DueInDays:     3,
		AssigneeField: "record.ownerId",
		Priority:      model.PriorityHigh,
	}

	for i := 0; i < 2; i++ {
		out, err := f.run(t, opportunityTransition(), cfg)
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeSucceeded, out.Status)
	}

	tasks := f.tasks.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "Schedule install for Smith Roof", tasks[0].Subject)
	assert.Equal(t, "Contact Ana", tasks[0].Description)
	assert.Equal(t, "user-7", tasks[0].AssigneeID)
	assert.Equal(t, testutil.Epoch.Add(72*time.Hour), tasks[0].DueDate)
	assert.Equal(t, model.EntityOpportunity, tasks[0].RelatedType)
	assert.Equal(t, "wf-1", tasks[0].DefinitionID)
	assert.NotEqual(t, tasks[0].ID, tasks[1].ID)
}

func TestFieldHandler_ValueTypes(t *testing.T) {
	tests := []struct {
		name string
		cfg  model.FieldUpdateConfig
		want any
	}{
		{"literal", model.FieldUpdateConfig{Field: "probability", Value: int64(90)}, int64(90)},
		{"now", model.FieldUpdateConfig{Field: "signedAt", ValueType: model.ValueNow}, "2026-03-02T09:00:00Z"},
		{"template", model.FieldUpdateConfig{Field: "summary", ValueType: model.ValueTemplate, Value: "{{record.name}} signed"}, "Smith Roof signed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			out, err := f.run(t, opportunityTransition(), tt.cfg)
			require.NoError(t, err)
			require.Len(t, out.Changes, 1)
			assert.Equal(t, tt.want, out.Changes[0].New)
			assert.Equal(t, model.EntityOpportunity, out.Changes[0].Object)

			got, ok := f.fields.Value(model.EntityOpportunity, "opp-1", tt.cfg.Field)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFieldHandler_RelatedTarget(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, opportunityTransition(), model.FieldUpdateConfig{
		TargetObject: "Account",
		Field:        "status",
		Value:        "CUSTOMER",
	})
	require.NoError(t, err)
	require.Len(t, out.Changes, 1)
	assert.Equal(t, "acct-9", out.Changes[0].RecordID)

	_, err = f.run(t, opportunityTransition(), model.FieldUpdateConfig{
		TargetObject: "WorkOrder",
		Field:        "status",
		Value:        "READY",
	})
	require.Error(t, err)
	assert.Equal(t, model.ErrorConfig, action.KindOf(err))
}

func TestCommissionHandler_Defaults(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, opportunityTransition(), model.CommissionConfig{TriggerEvent: "CONTRACT_SIGNED"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)

	list := f.commissions.Commissions()
	require.Len(t, list, 1)
	assert.Equal(t, "user-7", list[0].OwnerID)
	assert.Equal(t, "CONTRACT_SIGNED", list[0].CommissionType)
	assert.Equal(t, int64(125000), list[0].AmountCents) // 10% of 12,500.00
	assert.Equal(t, 10.0, list[0].RatePercent)
}

func TestCommissionHandler_ExactlyOnce(t *testing.T) {
	f := newFixture(t)
	cfg := model.CommissionConfig{TriggerEvent: "CONTRACT_SIGNED", RatePercent: 5}

	_, err := f.run(t, opportunityTransition(), cfg)
	require.NoError(t, err)
	out, err := f.run(t, opportunityTransition(), cfg)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSkipped, out.Status)
	assert.Equal(t, model.ReasonDuplicate, out.Reason)
	assert.Len(t, f.commissions.Commissions(), 1)
}

func TestCommissionHandler_StoreConflictIsDuplicate(t *testing.T) {
	f := newFixture(t)
	tr := opportunityTransition()
	_, err := f.commissions.CreateCommission(context.Background(), model.Commission{
		ID: "legacy", OwnerID: "user-7", CommissionType: "CONTRACT_SIGNED",
		SourceType: model.EntityOpportunity, SourceID: "opp-1", Status: model.CommissionActive,
	})
	require.NoError(t, err)

	out, err := f.run(t, tr, model.CommissionConfig{TriggerEvent: "CONTRACT_SIGNED"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSkipped, out.Status)
	assert.Equal(t, "DONE", f.guard.State(model.CommissionKey(tr, "user-7", "CONTRACT_SIGNED")))
}

func TestCommissionHandler_MissingAmount(t *testing.T) {
	f := newFixture(t)
	tr := opportunityTransition()
	delete(tr.NewValues, "contractTotal")

	_, err := f.run(t, tr, model.CommissionConfig{TriggerEvent: "CONTRACT_SIGNED"})
	require.Error(t, err)
	assert.Equal(t, model.ErrorConfig, action.KindOf(err))
}

func TestCommissionHandler_NumericStringAmount(t *testing.T) {
	f := newFixture(t)
	tr := opportunityTransition()
	tr.NewValues["contractTotal"] = "$8,000.50"

	_, err := f.run(t, tr, model.CommissionConfig{TriggerEvent: "CONTRACT_SIGNED"})
	require.NoError(t, err)
	list := f.commissions.Commissions()
	require.Len(t, list, 1)
	assert.Equal(t, int64(80005), list[0].AmountCents)
}

func TestWebhookHandler(t *testing.T) {
	var gotMethod, gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Source")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	f := newFixture(t)
	out, err := f.run(t, opportunityTransition(), model.WebhookConfig{
		URL:     srv.URL + "/hooks/{{record.stageName}}",
		Method:  "put",
		Headers: map[string]string{"X-Source": "crewflow-{{actor.id}}"},
		Body:    `{"id":"{{opportunity.name}}"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)
	assert.Equal(t, http.StatusAccepted, out.Detail["status"])
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "crewflow-user-1", gotHeader)
	assert.Equal(t, `{"id":"Smith Roof"}`, gotBody)
}

func TestWebhookHandler_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t)
	_, err := f.run(t, opportunityTransition(), model.WebhookConfig{URL: srv.URL})
	require.Error(t, err)
	assert.True(t, action.IsExternal(err))
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookHandler_BadRenderedURL(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, opportunityTransition(), model.WebhookConfig{URL: "{{record.missing}}/x"})
	require.Error(t, err)
	assert.Equal(t, model.ErrorConfig, action.KindOf(err))
}

func TestHandlers_DecodeRawConfig(t *testing.T) {
	f := newFixture(t)
	tr := opportunityTransition()
	h, _ := f.registry.Lookup(model.ActionSendSMS)

	out, err := h.Execute(context.Background(), action.Request{
		Action: model.WorkflowAction{
			Type:      model.ActionSendSMS,
			RawConfig: []byte(`{"recipientField":"contact.phone","message":"hello"}`),
		},
		Transition: tr,
		Context:    action.NewContext(tr, testutil.Epoch),
		Now:        testutil.Epoch,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, out.Status)
}
