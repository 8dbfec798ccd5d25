package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/crewflow/internal/model"
)

// PendingState is the lifecycle of a delayed action.
type PendingState string

const (
	PendingWaiting   PendingState = "PENDING"
	PendingRunning   PendingState = "RUNNING"
	PendingDone      PendingState = "DONE"
	PendingFailed    PendingState = "FAILED"
	PendingCancelled PendingState = "CANCELLED"
)

// PendingAction is a delayed action persisted for the sweeper.
type PendingAction struct {
	ID             string
	DefinitionID   string
	ActionID       string
	EntityType     model.EntityType
	EntityID       string
	TransitionHash string
	Transition     model.EntityTransition
	Context        map[string]any
	EvaluationID   string
	DueAt          time.Time
	State          PendingState
	Attempts       int
	LastError      string
	ClaimedAt      time.Time
	CreatedAt      time.Time
}

// SchedulePending persists a delayed action.
//
// Returns false without error when the same (definition, action, entity,
// transition) is already scheduled, so resubmitting a transition never
// schedules twice.
func (s *Store) SchedulePending(ctx context.Context, p PendingAction) (bool, error) {
	transition, err := marshalJSON(p.Transition)
	if err != nil {
		return false, fmt.Errorf("schedule pending: transition: %w", err)
	}
	pctx := p.Context
	if pctx == nil {
		pctx = map[string]any{}
	}
	contextJSON, err := marshalJSON(pctx)
	if err != nil {
		return false, fmt.Errorf("schedule pending: context: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_actions
		(id, definition_id, action_id, entity_type, entity_id, transition_hash, transition, context,
		 evaluation_id, due_at, state, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'PENDING', 0, ?)
		ON CONFLICT DO NOTHING
	`, p.ID, p.DefinitionID, p.ActionID, string(p.EntityType), p.EntityID, p.TransitionHash,
		transition, contextJSON, p.EvaluationID, formatTime(p.DueAt), formatTime(s.now()))
	if err != nil {
		return false, fmt.Errorf("schedule pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("schedule pending: rows affected: %w", err)
	}
	return n > 0, nil
}

// ClaimDue moves up to limit due actions to RUNNING and returns them with
// their attempt counter incremented. RUNNING rows whose claim is older
// than lease are treated as abandoned and claimed again.
func (s *Store) ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]PendingAction, error) {
	now := s.now()
	nowText := formatTime(now)
	staleBefore := formatTime(now.Add(-lease))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim due: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM pending_actions
		WHERE (state = 'PENDING' AND due_at <= ?)
		   OR (state = 'RUNNING' AND claimed_at < ?)
		ORDER BY due_at ASC, id ASC
		LIMIT ?
	`, nowText, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due: select: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("claim due: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("claim due: iterate: %w", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return []PendingAction{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, nowText)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE pending_actions
		SET state = 'RUNNING', claimed_at = ?, attempts = attempts + 1
		WHERE id IN (`+placeholders+`)
	`, args...); err != nil {
		return nil, fmt.Errorf("claim due: update: %w", err)
	}

	claimed, err := queryPending(ctx, tx, `WHERE id IN (`+placeholders+`) ORDER BY due_at ASC, id ASC`, args[1:]...)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim due: commit: %w", err)
	}
	return claimed, nil
}

// CompletePending marks a claimed action DONE.
func (s *Store) CompletePending(ctx context.Context, id string) error {
	return s.finishPending(ctx, id, PendingDone, "")
}

// CancelPending marks an action CANCELLED, e.g. when its definition was
// deactivated before it came due.
func (s *Store) CancelPending(ctx context.Context, id, reason string) error {
	return s.finishPending(ctx, id, PendingCancelled, reason)
}

// RetryPending records a failed attempt. The action goes back to PENDING
// due at retryAt, or to FAILED once maxAttempts have been used.
func (s *Store) RetryPending(ctx context.Context, id, lastError string, maxAttempts int, retryAt time.Time) (PendingState, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx, `SELECT attempts FROM pending_actions WHERE id = ?`, id).Scan(&attempts)
	if err != nil {
		if isNoRows(err) {
			return "", fmt.Errorf("retry pending %s: %w", id, ErrNotFound)
		}
		return "", fmt.Errorf("retry pending %s: %w", id, err)
	}
	if attempts >= maxAttempts {
		return PendingFailed, s.finishPending(ctx, id, PendingFailed, lastError)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE pending_actions
		SET state = 'PENDING', due_at = ?, last_error = ?, claimed_at = NULL
		WHERE id = ?
	`, formatTime(retryAt), lastError, id)
	if err != nil {
		return "", fmt.Errorf("retry pending %s: %w", id, err)
	}
	return PendingWaiting, nil
}

func (s *Store) finishPending(ctx context.Context, id string, state PendingState, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_actions SET state = ?, last_error = ? WHERE id = ?
	`, string(state), lastError, id)
	if err != nil {
		return fmt.Errorf("finish pending %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish pending %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("finish pending %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListPending returns actions in the given state, or all actions when
// state is empty, ordered by due time.
func (s *Store) ListPending(ctx context.Context, state PendingState) ([]PendingAction, error) {
	if state == "" {
		return queryPending(ctx, s.db, `ORDER BY due_at ASC, id ASC`)
	}
	return queryPending(ctx, s.db, `WHERE state = ? ORDER BY due_at ASC, id ASC`, string(state))
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryPending(ctx context.Context, q querier, where string, args ...any) ([]PendingAction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, definition_id, action_id, entity_type, entity_id, transition_hash, transition, context,
		       evaluation_id, due_at, state, attempts, last_error, claimed_at, created_at
		FROM pending_actions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	out := []PendingAction{}
	for rows.Next() {
		var p PendingAction
		var entityType, transition, pctx, due, state, created string
		var claimed sql.NullString
		if err := rows.Scan(&p.ID, &p.DefinitionID, &p.ActionID, &entityType, &p.EntityID, &p.TransitionHash,
			&transition, &pctx, &p.EvaluationID, &due, &state, &p.Attempts, &p.LastError, &claimed, &created); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		p.EntityType = model.EntityType(entityType)
		p.State = PendingState(state)
		if err := json.Unmarshal([]byte(transition), &p.Transition); err != nil {
			return nil, fmt.Errorf("decode pending transition %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(pctx), &p.Context); err != nil {
			return nil, fmt.Errorf("decode pending context %s: %w", p.ID, err)
		}
		if p.DueAt, err = parseTime(due); err != nil {
			return nil, err
		}
		if p.ClaimedAt, err = parseNullTime(claimed); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return out, nil
}
