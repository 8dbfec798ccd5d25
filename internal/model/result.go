package model

import (
	"reflect"
	"sort"
	"time"
)

// OutcomeStatus is the result of one action attempt.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "SUCCEEDED"
	OutcomeSkipped   OutcomeStatus = "SKIPPED"
	OutcomeFailed    OutcomeStatus = "FAILED"
	// OutcomeScheduled marks an action deferred to the sweeper.
	OutcomeScheduled OutcomeStatus = "SCHEDULED"
)

// Skip reasons.
const (
	ReasonCondition = "condition"
	ReasonDuplicate = "duplicate"
	ReasonCancelled = "cancelled"
)

// ErrorKind classifies a FAILED outcome.
type ErrorKind string

const (
	ErrorConfig    ErrorKind = "config"
	ErrorExternal  ErrorKind = "external"
	ErrorTimeout   ErrorKind = "timeout"
	ErrorExecution ErrorKind = "execution"
)

// FieldChange is a field write performed by an UPDATE_FIELD action.
type FieldChange struct {
	Object   EntityType `json:"object"`
	RecordID string     `json:"recordId"`
	Field    string     `json:"field"`
	Old      any        `json:"old,omitempty"`
	New      any        `json:"new"`
}

// ActionOutcome is what a handler reports for one action.
type ActionOutcome struct {
	ActionID   string         `json:"actionId,omitempty"`
	ActionType ActionType     `json:"actionType"`
	Order      int            `json:"actionOrder"`
	Status     OutcomeStatus  `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	ErrorKind  ErrorKind      `json:"errorKind,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Changes    []FieldChange  `json:"changes,omitempty"`
	Duration   time.Duration  `json:"-"`
}

// Succeeded builds a SUCCEEDED outcome.
func Succeeded(reason string, detail map[string]any) ActionOutcome {
	return ActionOutcome{Status: OutcomeSucceeded, Reason: reason, Detail: detail}
}

// Skipped builds a SKIPPED outcome.
func Skipped(reason string) ActionOutcome {
	return ActionOutcome{Status: OutcomeSkipped, Reason: reason}
}

// Failed builds a FAILED outcome.
func Failed(kind ErrorKind, reason string) ActionOutcome {
	return ActionOutcome{Status: OutcomeFailed, ErrorKind: kind, Reason: reason}
}

// ResultStatus is the definition-level aggregate.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "COMPLETED"
	ResultPartial   ResultStatus = "PARTIAL"
	ResultSkipped   ResultStatus = "SKIPPED"
)

// ExecutionResult is one per (definition, transition).
type ExecutionResult struct {
	DefinitionID   string          `json:"definitionId"`
	DefinitionName string          `json:"definitionName"`
	Version        int             `json:"version"`
	EvaluationID   string          `json:"evaluationId"`
	Status         ResultStatus    `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	Outcomes       []ActionOutcome `json:"outcomes"`
}

// Failures returns the FAILED outcomes.
func (r ExecutionResult) Failures() []ActionOutcome {
	var out []ActionOutcome
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			out = append(out, o)
		}
	}
	return out
}

// AggregateStatus is PARTIAL when any outcome failed, COMPLETED otherwise.
func AggregateStatus(outcomes []ActionOutcome) ResultStatus {
	for _, o := range outcomes {
		if o.Status == OutcomeFailed {
			return ResultPartial
		}
	}
	return ResultCompleted
}

// AuditLogEntry is an append-only record of one action attempt against
// a business entity.
type AuditLogEntry struct {
	Seq           int64          `json:"seq"`
	TableName     string         `json:"tableName"`
	RecordID      string         `json:"recordId"`
	Action        string         `json:"action"`
	Status        OutcomeStatus  `json:"status"`
	OldValues     Record         `json:"oldValues,omitempty"`
	NewValues     Record         `json:"newValues,omitempty"`
	ChangedFields []string       `json:"changedFields"`
	ActorID       string         `json:"actorId,omitempty"`
	Source        string         `json:"source"`
	DefinitionID  string         `json:"definitionId,omitempty"`
	EvaluationID  string         `json:"evaluationId,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Detail        map[string]any `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// ChangedFields lists, sorted, the fields of newValues whose value differs
// from oldValues. With no prior values every new field counts as changed.
func ChangedFields(oldValues, newValues Record) []string {
	out := []string{}
	for field, nv := range newValues {
		if oldValues == nil {
			out = append(out, field)
			continue
		}
		ov, ok := oldValues[field]
		if !ok || !reflect.DeepEqual(ov, nv) {
			out = append(out, field)
		}
	}
	sort.Strings(out)
	return out
}
