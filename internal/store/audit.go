package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/crewflow/internal/model"
)

// AppendAudit writes one audit entry and returns its sequence number.
// Entries are never updated or deleted by the engine.
func (s *Store) AppendAudit(ctx context.Context, e model.AuditLogEntry) (int64, error) {
	oldValues, err := marshalNullJSON(e.OldValues)
	if err != nil {
		return 0, fmt.Errorf("append audit: old values: %w", err)
	}
	newValues, err := marshalNullJSON(e.NewValues)
	if err != nil {
		return 0, fmt.Errorf("append audit: new values: %w", err)
	}
	changed := e.ChangedFields
	if changed == nil {
		changed = []string{}
	}
	changedJSON, err := marshalJSON(changed)
	if err != nil {
		return 0, fmt.Errorf("append audit: changed fields: %w", err)
	}
	detail, err := marshalNullJSON(e.Detail)
	if err != nil {
		return 0, fmt.Errorf("append audit: detail: %w", err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log
		(table_name, record_id, action, status, old_values, new_values, changed_fields,
		 actor_id, source, definition_id, evaluation_id, reason, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.TableName, e.RecordID, e.Action, string(e.Status), oldValues, newValues, changedJSON,
		e.ActorID, e.Source, e.DefinitionID, e.EvaluationID, e.Reason, detail, formatTime(createdAt),
	)
	if err != nil {
		return 0, fmt.Errorf("append audit: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append audit: last insert id: %w", err)
	}
	return seq, nil
}

// ListAudit returns the audit trail of one business record in sequence
// order. Returns an empty slice (not nil) when there are no entries.
func (s *Store) ListAudit(ctx context.Context, tableName, recordID string) ([]model.AuditLogEntry, error) {
	return s.queryAudit(ctx, `
		SELECT seq, table_name, record_id, action, status, old_values, new_values, changed_fields,
		       actor_id, source, definition_id, evaluation_id, reason, detail, created_at
		FROM audit_log
		WHERE table_name = ? AND record_id = ?
		ORDER BY seq ASC
	`, tableName, recordID)
}

// ListAuditByEvaluation returns the entries written for one evaluation.
func (s *Store) ListAuditByEvaluation(ctx context.Context, evaluationID string) ([]model.AuditLogEntry, error) {
	return s.queryAudit(ctx, `
		SELECT seq, table_name, record_id, action, status, old_values, new_values, changed_fields,
		       actor_id, source, definition_id, evaluation_id, reason, detail, created_at
		FROM audit_log
		WHERE evaluation_id = ?
		ORDER BY seq ASC
	`, evaluationID)
}

func (s *Store) queryAudit(ctx context.Context, query string, args ...any) ([]model.AuditLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditLogEntry{}
	for rows.Next() {
		var e model.AuditLogEntry
		var status, changed, createdAt string
		var oldValues, newValues, detail sql.NullString
		if err := rows.Scan(&e.Seq, &e.TableName, &e.RecordID, &e.Action, &status, &oldValues, &newValues,
			&changed, &e.ActorID, &e.Source, &e.DefinitionID, &e.EvaluationID, &e.Reason, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Status = model.OutcomeStatus(status)
		if e.OldValues, err = unmarshalRecord(oldValues); err != nil {
			return nil, err
		}
		if e.NewValues, err = unmarshalRecord(newValues); err != nil {
			return nil, err
		}
		if e.Detail, err = unmarshalDetail(detail); err != nil {
			return nil, err
		}
		if err := unmarshalStrings(changed, &e.ChangedFields); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return entries, nil
}
