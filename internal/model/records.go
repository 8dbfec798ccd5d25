package model

import "time"

// Task is a follow-up created by CREATE_TASK.
type Task struct {
	ID           string       `json:"id"`
	Subject      string       `json:"subject"`
	Description  string       `json:"description,omitempty"`
	AssigneeID   string       `json:"assigneeId"`
	Priority     TaskPriority `json:"priority"`
	DueDate      time.Time    `json:"dueDate"`
	RelatedType  EntityType   `json:"relatedType"`
	RelatedID    string       `json:"relatedId"`
	DefinitionID string       `json:"definitionId,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// CommissionStatus tracks whether a commission counts toward payout.
type CommissionStatus string

const (
	CommissionActive CommissionStatus = "ACTIVE"
	CommissionVoid   CommissionStatus = "VOID"
)

// Commission is created by CREATE_COMMISSION. At most one ACTIVE
// commission exists per (owner, type, source).
type Commission struct {
	ID             string           `json:"id"`
	OwnerID        string           `json:"ownerId"`
	CommissionType string           `json:"commissionType"`
	SourceType     EntityType       `json:"sourceType"`
	SourceID       string           `json:"sourceId"`
	AmountCents    int64            `json:"amountCents"`
	RatePercent    float64          `json:"ratePercent"`
	Status         CommissionStatus `json:"status"`
	TriggerEvent   string           `json:"triggerEvent"`
	CreatedAt      time.Time        `json:"createdAt"`
}
