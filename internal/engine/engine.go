package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/crewflow/internal/action"
	"github.com/roach88/crewflow/internal/audit"
	"github.com/roach88/crewflow/internal/condition"
	"github.com/roach88/crewflow/internal/metrics"
	"github.com/roach88/crewflow/internal/model"
	"github.com/roach88/crewflow/internal/registry"
	"github.com/roach88/crewflow/internal/store"
)

// DefaultActionTimeout is the per-action ceiling.
const DefaultActionTimeout = 10 * time.Second

// Snapshotter yields the definition snapshot for one evaluation.
// Implemented by *registry.Registry.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*registry.Snapshot, error)
}

// PendingStore persists delayed actions. Implemented by *store.Store.
type PendingStore interface {
	SchedulePending(ctx context.Context, p store.PendingAction) (bool, error)
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]store.PendingAction, error)
	CompletePending(ctx context.Context, id string) error
	CancelPending(ctx context.Context, id, reason string) error
	RetryPending(ctx context.Context, id, lastError string, maxAttempts int, retryAt time.Time) (store.PendingState, error)
}

// Engine evaluates transitions against the registry.
//
// Thread-safety: EvaluateTransition may be called from any goroutine.
// The engine holds no mutable state of its own; each evaluation works on
// the snapshot it took at the start.
type Engine struct {
	registry      Snapshotter
	handlers      *action.Registry
	audit         audit.Sink
	pending       PendingStore
	metrics       metrics.Recorder
	ids           IDGenerator
	now           func() time.Time
	actionTimeout time.Duration
	concurrency   int
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithAudit sets the audit sink. Default: entries are discarded.
func WithAudit(s audit.Sink) Option {
	return func(e *Engine) { e.audit = s }
}

// WithPending enables delayed actions. Without it, an action with
// delayMinutes fails with a config error.
func WithPending(p PendingStore) Option {
	return func(e *Engine) { e.pending = p }
}

// WithMetrics sets the metrics recorder. Default: metrics.Nop.
func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithIDs sets the evaluation id generator. Default: UUIDv7Generator.
func WithIDs(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the wall clock used for "now" values and due dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithActionTimeout sets the per-action ceiling.
//
// Default: 10s (DefaultActionTimeout)
func WithActionTimeout(d time.Duration) Option {
	return func(e *Engine) { e.actionTimeout = d }
}

// WithConcurrency bounds how many matched definitions run in parallel for
// one transition. Actions within a definition are always sequential.
//
// Default: 1 (definitions run one after another in priority order)
//
// Only the sequential mode carries field updates from one definition into
// the templates of the next. Above 1 every definition renders against the
// transition as received.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// New creates an Engine over a registry and a handler set.
func New(reg Snapshotter, handlers *action.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:      reg,
		handlers:      handlers,
		audit:         audit.SinkFunc(func(context.Context, model.AuditLogEntry) error { return nil }),
		metrics:       metrics.Nop{},
		ids:           UUIDv7Generator{},
		now:           time.Now,
		actionTimeout: DefaultActionTimeout,
		concurrency:   1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.actionTimeout <= 0 {
		e.actionTimeout = DefaultActionTimeout
	}
	if e.concurrency < 1 {
		e.concurrency = 1
	}
	return e
}

// EvaluateTransition runs every active definition matching (object, event)
// against t and returns one ExecutionResult per matched definition, in
// match order.
//
// The returned error is a *ValidationError for malformed input, or a
// registry error when no definition snapshot is available. Action
// failures are never returned; they are FAILED outcomes.
func (e *Engine) EvaluateTransition(ctx context.Context, object model.EntityType, event model.TriggerEvent, t model.EntityTransition) ([]model.ExecutionResult, error) {
	object, event, t, err := normalizeTransition(object, event, t)
	if err != nil {
		return nil, err
	}

	snap, err := e.registry.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("match %s %s: %w", object, event, err)
	}
	defs := snap.Match(object, event)
	evalID := e.ids.Generate()

	slog.Debug("evaluating transition",
		"evaluation_id", evalID,
		"entity_type", t.EntityType,
		"entity_id", t.EntityID,
		"event", event,
		"definitions", len(defs),
	)

	results := make([]model.ExecutionResult, len(defs))
	if e.concurrency == 1 || len(defs) < 2 {
		// One context for the whole evaluation, so a higher-priority
		// definition's field updates render in later definitions.
		shared := action.NewContext(t, e.now())
		for i, def := range defs {
			results[i] = e.evaluateDefinition(ctx, def, t, evalID, shared)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.concurrency)
		for i, def := range defs {
			g.Go(func() error {
				results[i] = e.evaluateDefinition(ctx, def, t, evalID, nil)
				return nil
			})
		}
		_ = g.Wait() // evaluateDefinition never fails
	}

	for _, r := range results {
		e.metrics.DefinitionResult(r.Status)
	}
	return results, nil
}

// normalizeTransition validates the invocation, canonicalizes the
// object and event names and fills EntityType.
func normalizeTransition(object model.EntityType, event model.TriggerEvent, t model.EntityTransition) (model.EntityType, model.TriggerEvent, model.EntityTransition, error) {
	obj, err := model.ParseEntityType(string(object))
	if err != nil {
		return "", "", t, &ValidationError{Code: ErrCodeUnknownObject, Field: "triggerObject", Message: err.Error()}
	}
	ev, err := model.ParseTriggerEvent(string(event))
	if err != nil {
		return "", "", t, &ValidationError{Code: ErrCodeUnknownEvent, Field: "triggerEvent", Message: err.Error()}
	}
	if t.EntityID == "" {
		return "", "", t, &ValidationError{Code: ErrCodeMissingEntityID, Field: "entityId", Message: "transition has no entity id"}
	}
	if t.EntityType != "" {
		if parsed, err := model.ParseEntityType(string(t.EntityType)); err == nil {
			t.EntityType = parsed
		}
	}
	switch {
	case t.EntityType == "":
		t.EntityType = obj
	case t.EntityType != obj:
		return "", "", t, &ValidationError{
			Code:    ErrCodeEntityMismatch,
			Field:   "entityType",
			Message: fmt.Sprintf("transition is for %s, trigger object is %s", t.EntityType, obj),
		}
	}
	if t.NewValues == nil {
		t.NewValues = model.Record{}
	}
	return obj, ev, t, nil
}

// evaluateDefinition runs one definition to completion. It never fails:
// every problem becomes an outcome. Field updates are applied to actx;
// a nil actx gets a fresh context built from t.
func (e *Engine) evaluateDefinition(ctx context.Context, def model.WorkflowDefinition, t model.EntityTransition, evalID string, actx action.Context) model.ExecutionResult {
	result := model.ExecutionResult{
		DefinitionID:   def.ID,
		DefinitionName: def.Name,
		Version:        def.Version,
		EvaluationID:   evalID,
		Outcomes:       []model.ActionOutcome{},
	}

	if !t.HasPrior() && definitionUsesChangedTo(def) {
		slog.Warn("changed_to evaluated without prior values",
			"definition_id", def.ID,
			"entity_type", t.EntityType,
			"entity_id", t.EntityID,
		)
	}

	if !condition.EvaluateTransition(def.Conditions, t) {
		slog.Debug("definition skipped: conditions not met",
			"definition_id", def.ID,
			"entity_id", t.EntityID,
		)
		result.Status = model.ResultSkipped
		result.Reason = model.ReasonCondition
		return result
	}

	now := e.now()
	if actx == nil {
		actx = action.NewContext(t, now)
	}
	for _, act := range def.OrderedActions() {
		var outcome model.ActionOutcome
		switch {
		case !condition.EvaluateTransition(act.Condition, t):
			outcome = model.Skipped(model.ReasonCondition)
		case act.DelayMinutes > 0:
			outcome = e.schedule(ctx, def, act, t, actx, evalID, now)
		default:
			outcome = e.runAction(ctx, action.Request{
				DefinitionID: def.ID,
				EvaluationID: evalID,
				Action:       act,
				Transition:   t,
				Context:      actx,
				Now:          now,
			})
		}
		outcome = stamp(outcome, act)

		// Later actions read the values earlier field updates wrote.
		for _, change := range outcome.Changes {
			actx.Apply(t.EntityType, change)
		}

		e.record(ctx, audit.Attempt{
			Transition:   t,
			DefinitionID: def.ID,
			EvaluationID: evalID,
			Outcome:      outcome,
			Source:       audit.SourceWorkflow,
			At:           e.now(),
		})
		result.Outcomes = append(result.Outcomes, outcome)
	}

	result.Status = model.AggregateStatus(result.Outcomes)
	slog.Info("definition evaluated",
		"definition_id", def.ID,
		"evaluation_id", evalID,
		"entity_id", t.EntityID,
		"status", result.Status,
		"actions", len(result.Outcomes),
	)
	return result
}

func definitionUsesChangedTo(def model.WorkflowDefinition) bool {
	if condition.UsesChangedTo(def.Conditions) {
		return true
	}
	for _, a := range def.Actions {
		if condition.UsesChangedTo(a.Condition) {
			return true
		}
	}
	return false
}

// runAction dispatches one action with a timeout and panic recovery.
// A handler that ignores its context still yields a FAILED timeout
// outcome once the ceiling passes; its goroutine finishes on its own.
// The handler gets its own copy of the context tree, so an abandoned
// goroutine never reads maps the caller keeps writing.
func (e *Engine) runAction(ctx context.Context, req action.Request) model.ActionOutcome {
	act := req.Action
	req.Context = req.Context.Clone()
	h, ok := e.handlers.Lookup(act.Type)
	if !ok {
		return model.Failed(model.ErrorConfig, fmt.Sprintf("no handler registered for %s", act.Type))
	}

	start := time.Now()
	actionCtx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	done := make(chan model.ActionOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("action handler panicked",
					"definition_id", req.DefinitionID,
					"action_id", act.ID,
					"action_type", act.Type,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				done <- model.Failed(model.ErrorExecution, fmt.Sprintf("handler panicked: %v", r))
			}
		}()
		outcome, err := h.Execute(actionCtx, req)
		if err != nil {
			outcome = action.FailedOutcome(err)
		}
		done <- outcome
	}()

	var outcome model.ActionOutcome
	select {
	case outcome = <-done:
	case <-actionCtx.Done():
		// A handler that finished at the deadline keeps its outcome.
		select {
		case outcome = <-done:
		default:
			outcome = model.Failed(model.ErrorTimeout, fmt.Sprintf("%s did not finish within %s", act.Type, e.actionTimeout))
		}
	}
	// A handler that honoured its context returned one of its own
	// errors; the cause was still the ceiling.
	if outcome.Status == model.OutcomeFailed && ctx.Err() == nil && errors.Is(actionCtx.Err(), context.DeadlineExceeded) {
		outcome.ErrorKind = model.ErrorTimeout
	}
	outcome.Duration = time.Since(start)
	e.metrics.ActionOutcome(act.Type, outcome.Status, outcome.Duration)

	switch {
	case outcome.Status != model.OutcomeFailed:
		slog.Info("action executed",
			"definition_id", req.DefinitionID,
			"action_id", act.ID,
			"action_type", act.Type,
			"status", outcome.Status,
			"reason", outcome.Reason,
		)
	case outcome.ErrorKind == model.ErrorExternal || outcome.ErrorKind == model.ErrorTimeout:
		slog.Warn("action degraded",
			"definition_id", req.DefinitionID,
			"action_id", act.ID,
			"action_type", act.Type,
			"error_kind", outcome.ErrorKind,
			"reason", outcome.Reason,
		)
	default:
		slog.Error("action failed",
			"definition_id", req.DefinitionID,
			"action_id", act.ID,
			"action_type", act.Type,
			"error_kind", outcome.ErrorKind,
			"reason", outcome.Reason,
		)
	}
	return outcome
}

// schedule persists a delayed action for the sweeper.
func (e *Engine) schedule(ctx context.Context, def model.WorkflowDefinition, act model.WorkflowAction, t model.EntityTransition, actx action.Context, evalID string, now time.Time) model.ActionOutcome {
	if e.pending == nil {
		return model.Failed(model.ErrorConfig, "delayed actions need a pending store")
	}
	hash, err := model.TransitionHash(t)
	if err != nil {
		return model.Failed(model.ErrorExecution, err.Error())
	}
	due := now.Add(time.Duration(act.DelayMinutes) * time.Minute)
	p := store.PendingAction{
		ID:             e.ids.Generate(),
		DefinitionID:   def.ID,
		ActionID:       act.ID,
		EntityType:     t.EntityType,
		EntityID:       t.EntityID,
		TransitionHash: hash,
		Transition:     t,
		Context:        map[string]any(actx),
		EvaluationID:   evalID,
		DueAt:          due,
	}
	inserted, err := e.pending.SchedulePending(context.WithoutCancel(ctx), p)
	if err != nil {
		return model.Failed(model.ErrorExecution, fmt.Sprintf("schedule: %v", err))
	}
	if !inserted {
		return model.Skipped(model.ReasonDuplicate)
	}
	slog.Info("action scheduled",
		"definition_id", def.ID,
		"action_id", act.ID,
		"pending_id", p.ID,
		"due_at", due,
	)
	return model.ActionOutcome{
		Status: model.OutcomeScheduled,
		Detail: map[string]any{
			"pendingId": p.ID,
			"dueAt":     due.UTC().Format(time.RFC3339),
		},
	}
}

// record appends the audit entry. Failures are logged and counted, never
// returned.
func (e *Engine) record(ctx context.Context, a audit.Attempt) {
	entry := a.Entry()
	if err := e.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("audit write failed",
			"error", err,
			"definition_id", a.DefinitionID,
			"action", entry.Action,
		)
		e.metrics.AuditDropped(string(audit.DropWrite))
	}
}

func stamp(o model.ActionOutcome, act model.WorkflowAction) model.ActionOutcome {
	o.ActionID = act.ID
	o.ActionType = act.Type
	o.Order = act.Order
	return o
}
