package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/crewflow/internal/model"
)

// WriteField upserts one field value for a record and returns the value
// it replaced, or nil when the field had not been written before.
func (s *Store) WriteField(ctx context.Context, table model.EntityType, recordID, field string, value any) (any, error) {
	encoded, err := marshalJSON(value)
	if err != nil {
		return nil, fmt.Errorf("write field %s.%s: %w", table, field, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("write field: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevRaw sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT value FROM field_writes WHERE table_name = ? AND record_id = ? AND field = ?
	`, string(table), recordID, field).Scan(&prevRaw)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("write field: read previous: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO field_writes (table_name, record_id, field, value, written_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(table_name, record_id, field) DO UPDATE SET
			value = excluded.value, written_at = excluded.written_at
	`, string(table), recordID, field, encoded, formatTime(s.now()))
	if err != nil {
		return nil, fmt.Errorf("write field %s.%s: %w", table, field, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("write field: commit: %w", err)
	}

	if !prevRaw.Valid {
		return nil, nil
	}
	var prev any
	if err := json.Unmarshal([]byte(prevRaw.String), &prev); err != nil {
		return nil, fmt.Errorf("write field: decode previous: %w", err)
	}
	return prev, nil
}

// ReadFields returns every field written for a record.
func (s *Store) ReadFields(ctx context.Context, table model.EntityType, recordID string) (model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT field, value FROM field_writes WHERE table_name = ? AND record_id = ? ORDER BY field
	`, string(table), recordID)
	if err != nil {
		return nil, fmt.Errorf("read fields: %w", err)
	}
	defer rows.Close()

	out := model.Record{}
	for rows.Next() {
		var field, raw string
		if err := rows.Scan(&field, &raw); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", field, err)
		}
		out[field] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fields: %w", err)
	}
	return out, nil
}
