package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crewflow/internal/model"
	"github.com/roach88/crewflow/internal/store"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func testTransition() model.EntityTransition {
	return model.EntityTransition{
		EntityType: model.EntityOpportunity,
		EntityID:   "opp-1",
		OldValues:  model.Record{"stageName": "LEAD", "name": "Roof"},
		NewValues:  model.Record{"stageName": "ADJUSTER_MEETING_COMPLETE", "name": "Roof"},
		ActorID:    "user-7",
	}
}

func TestAttemptEntry(t *testing.T) {
	outcome := model.Failed(model.ErrorExternal, "signer unavailable")
	outcome.ActionID = "agreement"
	outcome.ActionType = model.ActionSendAgreement
	outcome.Order = 2
	outcome.Detail = map[string]any{"documentType": "CONTINGENCY"}

	e := Attempt{
		Transition:   testTransition(),
		DefinitionID: "follow-up",
		EvaluationID: "eval-1",
		Outcome:      outcome,
		At:           testEpoch,
	}.Entry()

	assert.Equal(t, "Opportunity", e.TableName)
	assert.Equal(t, "opp-1", e.RecordID)
	assert.Equal(t, "SEND_AGREEMENT", e.Action)
	assert.Equal(t, model.OutcomeFailed, e.Status)
	assert.Equal(t, []string{"stageName"}, e.ChangedFields)
	assert.Equal(t, "user-7", e.ActorID)
	assert.Equal(t, SourceWorkflow, e.Source)
	assert.Equal(t, "signer unavailable", e.Reason)
	assert.Equal(t, map[string]any{
		"documentType": "CONTINGENCY",
		"actionId":     "agreement",
		"actionOrder":  2,
		"errorKind":    "external",
	}, e.Detail)
	assert.Equal(t, testEpoch, e.CreatedAt)
}

func TestAttemptEntryFieldChanges(t *testing.T) {
	outcome := model.Succeeded("", nil)
	outcome.ActionType = model.ActionUpdateField
	outcome.Changes = []model.FieldChange{{Object: model.EntityOpportunity, RecordID: "opp-1", Field: "stageName", Old: "A", New: "B"}}

	e := Attempt{Transition: testTransition(), Outcome: outcome, Source: SourceSweeper}.Entry()
	assert.Equal(t, SourceSweeper, e.Source)
	assert.Equal(t, outcome.Changes, e.Detail["changes"])
}

func TestStoreSinkPersists(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sink := NewStoreSink(s)
	ctx := context.Background()
	outcome := model.Succeeded("", nil)
	outcome.ActionType = model.ActionCreateTask
	require.NoError(t, sink.Append(ctx, Attempt{Transition: testTransition(), Outcome: outcome, At: testEpoch}.Entry()))

	entries, err := s.ListAudit(ctx, "Opportunity", "opp-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "CREATE_TASK", entries[0].Action)
	assert.Equal(t, model.OutcomeSucceeded, entries[0].Status)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []model.AuditLogEntry
	fail    error
	block   chan struct{}
}

func (r *recordingSink) Append(ctx context.Context, e model.AuditLogEntry) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

func TestAsyncSinkWritesInOrder(t *testing.T) {
	rec := &recordingSink{}
	sink := NewAsyncSink(rec, AsyncOptions{})

	for _, a := range []string{"A", "B", "C"} {
		require.NoError(t, sink.Append(context.Background(), model.AuditLogEntry{Action: a}))
	}
	require.NoError(t, sink.Close(context.Background()))

	assert.Equal(t, []string{"A", "B", "C"}, rec.actions())
	assert.Equal(t, 0, sink.Pending())
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	rec := &recordingSink{block: make(chan struct{})}
	var mu sync.Mutex
	drops := map[DropReason]int{}
	sink := NewAsyncSink(rec, AsyncOptions{
		Capacity: 1,
		OnDrop: func(r DropReason) {
			mu.Lock()
			drops[r]++
			mu.Unlock()
		},
	})

	// The worker takes the first entry and blocks in the sink; the second
	// fills the queue.
	require.NoError(t, sink.Append(context.Background(), model.AuditLogEntry{Action: "A"}))
	require.Eventually(t, func() bool { return sink.Pending() == 0 }, time.Second, time.Millisecond)
	require.NoError(t, sink.Append(context.Background(), model.AuditLogEntry{Action: "B"}))
	require.NoError(t, sink.Append(context.Background(), model.AuditLogEntry{Action: "C"}))

	close(rec.block)
	require.NoError(t, sink.Close(context.Background()))

	assert.Equal(t, []string{"A", "B"}, rec.actions())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, drops[DropFull])
}

func TestAsyncSinkWriteFailureIsCounted(t *testing.T) {
	rec := &recordingSink{fail: errors.New("disk I/O error")}
	var mu sync.Mutex
	var reasons []DropReason
	sink := NewAsyncSink(rec, AsyncOptions{OnDrop: func(r DropReason) {
		mu.Lock()
		reasons = append(reasons, r)
		mu.Unlock()
	}})

	require.NoError(t, sink.Append(context.Background(), model.AuditLogEntry{Action: "A"}))
	require.NoError(t, sink.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []DropReason{DropWrite}, reasons)
}

func TestAsyncSinkAfterClose(t *testing.T) {
	var dropped DropReason
	sink := NewAsyncSink(SinkFunc(func(context.Context, model.AuditLogEntry) error { return nil }), AsyncOptions{
		OnDrop: func(r DropReason) { dropped = r },
	})
	require.NoError(t, sink.Close(context.Background()))

	assert.NoError(t, sink.Append(context.Background(), model.AuditLogEntry{Action: "late"}), "append never fails")
	assert.Equal(t, DropClosed, dropped)
}

func TestAsyncSinkCloseHonoursContext(t *testing.T) {
	rec := &recordingSink{block: make(chan struct{})}
	defer close(rec.block)
	sink := NewAsyncSink(rec, AsyncOptions{})
	require.NoError(t, sink.Append(context.Background(), model.AuditLogEntry{Action: "A"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.Close(ctx), context.DeadlineExceeded)
}
