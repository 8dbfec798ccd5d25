package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/crewflow/internal/action"
	"github.com/roach88/crewflow/internal/audit"
	"github.com/roach88/crewflow/internal/model"
	"github.com/roach88/crewflow/internal/store"
)

// Sweep defaults.
const (
	DefaultSweepBatch       = 50
	DefaultSweepLease       = 5 * time.Minute
	DefaultSweepInterval    = 30 * time.Second
	DefaultSweepMaxAttempts = 3
	DefaultSweepRetryDelay  = 5 * time.Minute
)

// SweepOptions configures a Sweeper. Zero values take the defaults.
type SweepOptions struct {
	BatchSize   int
	Lease       time.Duration
	Interval    time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

func (o SweepOptions) withDefaults() SweepOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultSweepBatch
	}
	if o.Lease <= 0 {
		o.Lease = DefaultSweepLease
	}
	if o.Interval <= 0 {
		o.Interval = DefaultSweepInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultSweepMaxAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultSweepRetryDelay
	}
	return o
}

// SweepReport counts what one sweep settled.
type SweepReport struct {
	Claimed   int `json:"claimed"`
	Done      int `json:"done"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Sweeper runs delayed actions once they come due. It shares the
// engine's handlers, audit sink and metrics, so a delayed action goes
// through the same path as an immediate one, Guard checks included.
type Sweeper struct {
	engine  *Engine
	pending PendingStore
	opts    SweepOptions
}

// NewSweeper creates a Sweeper over the engine's registry and handlers.
func NewSweeper(e *Engine, pending PendingStore, opts SweepOptions) *Sweeper {
	return &Sweeper{engine: e, pending: pending, opts: opts.withDefaults()}
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	slog.Info("sweeper started", "interval", s.opts.Interval, "batch_size", s.opts.BatchSize)
	for {
		if _, err := s.SweepOnce(ctx); err != nil {
			slog.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce claims one batch of due actions and settles each of them.
// Only claim and registry failures are returned; a failing action is
// retried or marked FAILED.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	claimed, err := s.pending.ClaimDue(ctx, s.opts.BatchSize, s.opts.Lease)
	if err != nil {
		return report, fmt.Errorf("sweep: %w", err)
	}
	report.Claimed = len(claimed)
	if len(claimed) == 0 {
		return report, nil
	}

	snap, err := s.engine.registry.Snapshot(ctx)
	if err != nil {
		// Rows stay RUNNING and are reclaimed once the lease expires.
		return report, fmt.Errorf("sweep: %w", err)
	}

	for _, p := range claimed {
		def, ok := snap.Definition(p.DefinitionID)
		var act model.WorkflowAction
		found := false
		if ok && def.IsActive {
			for _, a := range def.Actions {
				if a.ID == p.ActionID {
					act, found = a, true
					break
				}
			}
		}
		if !found {
			s.cancel(ctx, p, def.ID != "")
			report.Cancelled++
			continue
		}

		state, err := s.settle(ctx, p, act)
		if err != nil {
			slog.Error("settle pending action",
				"pending_id", p.ID,
				"definition_id", p.DefinitionID,
				"error", err,
			)
			continue
		}
		switch state {
		case store.PendingDone:
			report.Done++
		case store.PendingWaiting:
			report.Retried++
		case store.PendingFailed:
			report.Failed++
		}
		s.engine.metrics.PendingSwept(string(state))
	}
	return report, nil
}

// settle runs one claimed action and records its final state.
func (s *Sweeper) settle(ctx context.Context, p store.PendingAction, act model.WorkflowAction) (store.PendingState, error) {
	e := s.engine
	now := e.now()
	actx := action.Context(p.Context)
	if actx == nil {
		actx = action.NewContext(p.Transition, now)
	}

	outcome := stamp(e.runAction(ctx, action.Request{
		DefinitionID: p.DefinitionID,
		EvaluationID: p.EvaluationID,
		Action:       act,
		Transition:   p.Transition,
		Context:      actx,
		Now:          now,
	}), act)

	e.record(ctx, audit.Attempt{
		Transition:   p.Transition,
		DefinitionID: p.DefinitionID,
		EvaluationID: p.EvaluationID,
		Outcome:      outcome,
		Source:       audit.SourceSweeper,
		At:           e.now(),
	})

	if outcome.Status == model.OutcomeFailed {
		return s.pending.RetryPending(ctx, p.ID, outcome.Reason, s.opts.MaxAttempts, now.Add(s.opts.RetryDelay))
	}
	if err := s.pending.CompletePending(ctx, p.ID); err != nil {
		return "", err
	}
	return store.PendingDone, nil
}

// cancel drops a pending action whose definition was deactivated, removed
// or no longer carries the action.
func (s *Sweeper) cancel(ctx context.Context, p store.PendingAction, known bool) {
	reason := "definition inactive or action removed"
	if !known {
		reason = "definition not found"
	}
	if err := s.pending.CancelPending(ctx, p.ID, reason); err != nil {
		slog.Error("cancel pending action", "pending_id", p.ID, "error", err)
		return
	}
	slog.Info("pending action cancelled",
		"pending_id", p.ID,
		"definition_id", p.DefinitionID,
		"action_id", p.ActionID,
		"reason", reason,
	)
	s.engine.record(ctx, audit.Attempt{
		Transition:   p.Transition,
		DefinitionID: p.DefinitionID,
		EvaluationID: p.EvaluationID,
		Outcome: model.ActionOutcome{
			ActionID: p.ActionID,
			Status:   model.OutcomeSkipped,
			Reason:   model.ReasonCancelled,
			Detail:   map[string]any{"pendingId": p.ID},
		},
		Source: audit.SourceSweeper,
		At:     s.engine.now(),
	})
	s.engine.metrics.PendingSwept(string(store.PendingCancelled))
}
