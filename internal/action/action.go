package action

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/crewflow/internal/guard"
	"github.com/roach88/crewflow/internal/model"
)

// Request is everything a handler may read for one action attempt.
type Request struct {
	DefinitionID string
	EvaluationID string
	Action       model.WorkflowAction
	Transition   model.EntityTransition
	Context      Context
	Now          time.Time
}

// Handler executes one action type.
//
// A nil error means the returned outcome (SUCCEEDED or SKIPPED) stands.
// A non-nil error is the failure; the caller turns it into a FAILED
// outcome with FailedOutcome.
type Handler interface {
	Execute(ctx context.Context, req Request) (model.ActionOutcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (model.ActionOutcome, error)

func (f HandlerFunc) Execute(ctx context.Context, req Request) (model.ActionOutcome, error) {
	return f(ctx, req)
}

// Registry maps action types to handlers.
type Registry struct {
	handlers map[model.ActionType]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[model.ActionType]Handler{}}
}

// Register installs h for t, replacing any previous handler.
func (r *Registry) Register(t model.ActionType, h Handler) {
	r.handlers[t] = h
}

// Lookup returns the handler for t.
func (r *Registry) Lookup(t model.ActionType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// Types lists registered action types, sorted.
func (r *Registry) Types() []model.ActionType {
	out := make([]model.ActionType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Deps are the collaborators of the built-in handlers.
type Deps struct {
	Messenger   Messenger
	Signer      Signer
	Tasks       TaskRepository
	Fields      FieldWriter
	Commissions CommissionRepository
	HTTP        HTTPDoer
	Guard       guard.Guard
	IDs         IDGenerator
}

// NewDefaultRegistry registers a handler for every model.ActionType.
func NewDefaultRegistry(d Deps) (*Registry, error) {
	missing := []string{}
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("messenger", d.Messenger != nil)
	check("signer", d.Signer != nil)
	check("tasks", d.Tasks != nil)
	check("fields", d.Fields != nil)
	check("commissions", d.Commissions != nil)
	check("http", d.HTTP != nil)
	check("guard", d.Guard != nil)
	check("ids", d.IDs != nil)
	if len(missing) > 0 {
		return nil, fmt.Errorf("action registry: missing collaborators %v", missing)
	}

	r := NewRegistry()
	r.Register(model.ActionSendEmail, &EmailHandler{Messenger: d.Messenger})
	r.Register(model.ActionSendSMS, &SMSHandler{Messenger: d.Messenger})
	r.Register(model.ActionSendAgreement, &AgreementHandler{Signer: d.Signer, Guard: d.Guard})
	r.Register(model.ActionCreateTask, &TaskHandler{Tasks: d.Tasks, IDs: d.IDs})
	r.Register(model.ActionUpdateField, &FieldHandler{Fields: d.Fields})
	r.Register(model.ActionCreateCommission, &CommissionHandler{Commissions: d.Commissions, Guard: d.Guard, IDs: d.IDs})
	r.Register(model.ActionWebhook, &WebhookHandler{HTTP: d.HTTP})
	return r, nil
}

// configAs extracts the typed config of a request, decoding RawConfig
// when the action was not decoded at load time.
func configAs[T model.ActionConfig](req Request) (T, error) {
	var zero T
	cfg := req.Action.Config
	if cfg == nil {
		decoded, err := model.DecodeActionConfig(req.Action.Type, req.Action.RawConfig)
		if err != nil {
			return zero, Configf("%s config: %v", req.Action.Type, err)
		}
		cfg = decoded
	}
	typed, ok := cfg.(T)
	if !ok {
		return zero, Configf("%s: config has type %T", req.Action.Type, cfg)
	}
	return typed, nil
}
