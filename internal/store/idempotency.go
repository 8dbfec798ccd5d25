package store

import (
	"context"
	"fmt"
	"time"
)

// ReserveKey atomically claims a semantic key hash.
//
// Returns true when the caller now owns the key: either no row existed,
// or a PENDING reservation older than lease was abandoned and is taken
// over. Returns false when the key is DONE, or PENDING and still fresh;
// the caller must treat that as "already done", not as an error.
func (s *Store) ReserveKey(ctx context.Context, keyHash, kind, description string, lease time.Duration) (bool, error) {
	now := s.now()
	staleBefore := formatTime(now.Add(-lease))
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key_hash, kind, description, state, claimed_at)
		VALUES (?, ?, ?, 'PENDING', ?)
		ON CONFLICT(key_hash) DO UPDATE SET claimed_at = excluded.claimed_at
		WHERE idempotency_keys.state = 'PENDING' AND idempotency_keys.claimed_at < ?
	`, keyHash, kind, description, formatTime(now), staleBefore)
	if err != nil {
		return false, fmt.Errorf("reserve key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve key: rows affected: %w", err)
	}
	return n > 0, nil
}

// CompleteKey marks a reserved key DONE after its side effect succeeded.
// Completing an unknown key inserts it as DONE.
func (s *Store) CompleteKey(ctx context.Context, keyHash, kind, description string) error {
	now := formatTime(s.now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key_hash, kind, description, state, claimed_at, completed_at)
		VALUES (?, ?, ?, 'DONE', ?, ?)
		ON CONFLICT(key_hash) DO UPDATE SET state = 'DONE', completed_at = excluded.completed_at
	`, keyHash, kind, description, now, now)
	if err != nil {
		return fmt.Errorf("complete key: %w", err)
	}
	return nil
}

// ReleaseKey drops a PENDING reservation so a later transition may retry
// the side effect. DONE keys are never released.
func (s *Store) ReleaseKey(ctx context.Context, keyHash string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys WHERE key_hash = ? AND state = 'PENDING'
	`, keyHash)
	if err != nil {
		return fmt.Errorf("release key: %w", err)
	}
	return nil
}

// KeyState returns the state of a key ("PENDING", "DONE") or "" if absent.
func (s *Store) KeyState(ctx context.Context, keyHash string) (string, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM idempotency_keys WHERE key_hash = ?`, keyHash).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("key state: %w", err)
	}
	return state, nil
}
