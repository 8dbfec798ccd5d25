// Package audit records every attempted action against the business
// record it touched.
//
// Writes are fire-and-forget relative to the evaluation that produced
// them: a failed audit write is logged and counted, never returned to
// the caller of the orchestrator.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/crewflow/internal/model"
)

// Sources recorded on audit entries.
const (
	SourceWorkflow = "workflow"
	SourceSweeper  = "sweeper"
)

// Sink accepts audit entries.
type Sink interface {
	Append(ctx context.Context, e model.AuditLogEntry) error
}

// Appender is the storage side of StoreSink. *store.Store implements it.
type Appender interface {
	AppendAudit(ctx context.Context, e model.AuditLogEntry) (int64, error)
}

// StoreSink writes entries synchronously to an Appender.
type StoreSink struct {
	store Appender
}

// NewStoreSink wraps a store.
func NewStoreSink(store Appender) *StoreSink {
	return &StoreSink{store: store}
}

// Append implements Sink.
func (s *StoreSink) Append(ctx context.Context, e model.AuditLogEntry) error {
	if _, err := s.store.AppendAudit(ctx, e); err != nil {
		return fmt.Errorf("audit %s %s/%s: %w", e.Action, e.TableName, e.RecordID, err)
	}
	return nil
}

// Attempt describes one action attempt to be audited.
type Attempt struct {
	Transition   model.EntityTransition
	DefinitionID string
	EvaluationID string
	Outcome      model.ActionOutcome
	Source       string
	At           time.Time
}

// Entry builds the audit entry for an attempt. The outcome's detail,
// error kind and field changes are folded into Detail.
func (a Attempt) Entry() model.AuditLogEntry {
	source := a.Source
	if source == "" {
		source = SourceWorkflow
	}
	var detail map[string]any
	if a.Outcome.ActionID != "" || len(a.Outcome.Detail) > 0 || a.Outcome.ErrorKind != "" || len(a.Outcome.Changes) > 0 {
		detail = make(map[string]any, len(a.Outcome.Detail)+4)
		for k, v := range a.Outcome.Detail {
			detail[k] = v
		}
		if a.Outcome.ActionID != "" {
			detail["actionId"] = a.Outcome.ActionID
		}
		detail["actionOrder"] = a.Outcome.Order
		if a.Outcome.ErrorKind != "" {
			detail["errorKind"] = string(a.Outcome.ErrorKind)
		}
		if len(a.Outcome.Changes) > 0 {
			detail["changes"] = a.Outcome.Changes
		}
	}
	return model.AuditLogEntry{
		TableName:     string(a.Transition.EntityType),
		RecordID:      a.Transition.EntityID,
		Action:        string(a.Outcome.ActionType),
		Status:        a.Outcome.Status,
		OldValues:     a.Transition.OldValues,
		NewValues:     a.Transition.NewValues,
		ChangedFields: model.ChangedFields(a.Transition.OldValues, a.Transition.NewValues),
		ActorID:       a.Transition.ActorID,
		Source:        source,
		DefinitionID:  a.DefinitionID,
		EvaluationID:  a.EvaluationID,
		Reason:        a.Outcome.Reason,
		Detail:        detail,
		CreatedAt:     a.At,
	}
}
