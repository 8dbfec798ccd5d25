package store

import (
	"context"
	"fmt"

	"github.com/roach88/crewflow/internal/model"
)

// CreateCommission inserts an ACTIVE commission.
//
// Returns false without error when an ACTIVE commission for the same
// (owner, type, source) already exists. The partial unique index is the
// last line of defense behind the idempotency guard.
func (s *Store) CreateCommission(ctx context.Context, c model.Commission) (bool, error) {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	status := c.Status
	if status == "" {
		status = model.CommissionActive
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO commissions
		(id, owner_id, commission_type, source_type, source_id, amount_cents, rate_percent, status, trigger_event, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, c.ID, c.OwnerID, c.CommissionType, string(c.SourceType), c.SourceID, c.AmountCents,
		c.RatePercent, string(status), c.TriggerEvent, formatTime(createdAt))
	if err != nil {
		return false, fmt.Errorf("create commission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create commission: rows affected: %w", err)
	}
	return n > 0, nil
}

// VoidCommission marks a commission VOID, freeing its slot in the active index.
func (s *Store) VoidCommission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE commissions SET status = 'VOID' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("void commission %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("void commission %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("void commission %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListCommissions returns the commissions sourced from one record.
func (s *Store) ListCommissions(ctx context.Context, sourceType model.EntityType, sourceID string) ([]model.Commission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, commission_type, source_type, source_id, amount_cents, rate_percent, status, trigger_event, created_at
		FROM commissions
		WHERE source_type = ? AND source_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(sourceType), sourceID)
	if err != nil {
		return nil, fmt.Errorf("list commissions: %w", err)
	}
	defer rows.Close()

	out := []model.Commission{}
	for rows.Next() {
		var c model.Commission
		var source, status, created string
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.CommissionType, &source, &c.SourceID, &c.AmountCents,
			&c.RatePercent, &status, &c.TriggerEvent, &created); err != nil {
			return nil, fmt.Errorf("scan commission: %w", err)
		}
		c.SourceType = model.EntityType(source)
		c.Status = model.CommissionStatus(status)
		if c.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commissions: %w", err)
	}
	return out, nil
}
