package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// EntityType names a business entity that workflows can watch.
type EntityType string

const (
	EntityOpportunity EntityType = "Opportunity"
	EntityWorkOrder   EntityType = "WorkOrder"
	EntityAccount     EntityType = "Account"
	EntityAppointment EntityType = "Appointment"
	EntityAgreement   EntityType = "Agreement"
)

// EntityTypes lists all known entity types in declaration order.
var EntityTypes = []EntityType{
	EntityOpportunity,
	EntityWorkOrder,
	EntityAccount,
	EntityAppointment,
	EntityAgreement,
}

// ParseEntityType resolves a name case-insensitively, ignoring '_' and '-'
// so "work_order", "work-order" and "WorkOrder" are equivalent.
func ParseEntityType(s string) (EntityType, error) {
	want := foldName(s)
	for _, t := range EntityTypes {
		if foldName(string(t)) == want {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// ContextKey is the lowerCamel key the entity is exposed under in the
// interpolation context ("opportunity", "workOrder").
func (t EntityType) ContextKey() string {
	if t == "" {
		return ""
	}
	r := []rune(string(t))
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

func foldName(s string) string {
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.ToLower(s)
}

// TriggerEvent is the kind of transition a definition listens for.
type TriggerEvent string

const (
	EventCreate TriggerEvent = "CREATE"
	EventUpdate TriggerEvent = "UPDATE"
)

// ParseTriggerEvent resolves an event name case-insensitively.
func ParseTriggerEvent(s string) (TriggerEvent, error) {
	switch TriggerEvent(strings.ToUpper(strings.TrimSpace(s))) {
	case EventCreate:
		return EventCreate, nil
	case EventUpdate:
		return EventUpdate, nil
	}
	return "", fmt.Errorf("unknown trigger event %q", s)
}

// Record is a field map of one business entity. Nested maps model
// preloaded relations.
type Record map[string]any

// Clone returns a shallow copy. Nil stays nil.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// EntityTransition is the before/after diff the orchestrator consumes.
// It is never persisted.
type EntityTransition struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`

	// OldValues is nil when no prior values are available (creates, or
	// call sites that only know the new state).
	OldValues Record `json:"oldValues,omitempty"`
	NewValues Record `json:"newValues"`

	// Related holds one-hop related records keyed by relation name
	// ("contact", "account", "owner"). The engine never fetches these.
	Related map[string]Record `json:"related,omitempty"`

	ActorID string `json:"actorId,omitempty"`
}

// HasPrior reports whether prior values were supplied.
func (t EntityTransition) HasPrior() bool {
	return t.OldValues != nil
}

// WorkflowDefinition is an administrator-authored rule. A running
// evaluation holds a snapshot and never sees later edits.
type WorkflowDefinition struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	TriggerObject EntityType       `json:"triggerObject"`
	TriggerEvent  TriggerEvent     `json:"triggerEvent"`
	Conditions    *ConditionGroup  `json:"triggerConditions,omitempty"`
	IsActive      bool             `json:"isActive"`
	Version       int              `json:"version"`
	Priority      int              `json:"priority"`
	CreatedBy     string           `json:"createdBy,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	Actions       []WorkflowAction `json:"actions"`
}

// WorkflowAction is one ordered step of a definition.
type WorkflowAction struct {
	ID    string     `json:"id"`
	Type  ActionType `json:"actionType"`
	Order int        `json:"actionOrder"`

	// RawConfig is the stored payload. Config is its decoded, validated
	// form, filled at load time.
	RawConfig json.RawMessage `json:"config"`
	Config    ActionConfig    `json:"-"`

	// Condition gates this action only. Nil means always run.
	Condition *ConditionGroup `json:"condition,omitempty"`

	// DelayMinutes > 0 defers the action to the sweeper.
	DelayMinutes int `json:"delayMinutes,omitempty"`
}

// OrderedActions returns a copy of the actions sorted by ascending Order.
func (d WorkflowDefinition) OrderedActions() []WorkflowAction {
	out := make([]WorkflowAction, len(d.Actions))
	copy(out, d.Actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
