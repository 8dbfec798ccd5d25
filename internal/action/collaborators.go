package action

import (
	"context"
	"net/http"

	"github.com/roach88/crewflow/internal/model"
)

// Email is an outbound email after interpolation.
type Email struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    bool   `json:"html,omitempty"`
}

// SMS is an outbound text message after interpolation.
type SMS struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// Receipt identifies an accepted message.
type Receipt struct {
	ID string `json:"id"`
}

// Messenger sends email and SMS through the messaging service.
type Messenger interface {
	SendEmail(ctx context.Context, msg Email) (Receipt, error)
	SendSMS(ctx context.Context, msg SMS) (Receipt, error)
}

// EnvelopeRequest asks the e-signature service for a signing envelope.
// IdempotencyKey lets the service drop a retried request.
type EnvelopeRequest struct {
	DocumentType    string           `json:"documentType"`
	TemplateID      string           `json:"templateId,omitempty"`
	RecipientName   string           `json:"recipientName,omitempty"`
	RecipientEmail  string           `json:"recipientEmail"`
	SendImmediately bool             `json:"sendImmediately"`
	EntityType      model.EntityType `json:"entityType"`
	EntityID        string           `json:"entityId"`
	IdempotencyKey  string           `json:"idempotencyKey"`
}

// Envelope is the e-signature service's answer.
type Envelope struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Signer requests document-signing envelopes.
type Signer interface {
	RequestEnvelope(ctx context.Context, req EnvelopeRequest) (Envelope, error)
}

// TaskRepository persists follow-up tasks.
type TaskRepository interface {
	CreateTask(ctx context.Context, t model.Task) error
}

// FieldWriter writes one field of a business record and returns the
// value it replaced.
type FieldWriter interface {
	WriteField(ctx context.Context, table model.EntityType, recordID, field string, value any) (any, error)
}

// CommissionRepository persists commissions. Created is false when an
// ACTIVE commission for the same (owner, type, source) already exists.
type CommissionRepository interface {
	CreateCommission(ctx context.Context, c model.Commission) (created bool, err error)
}

// HTTPDoer performs outbound webhook requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// IDGenerator mints record identifiers.
type IDGenerator interface {
	Generate() string
}
