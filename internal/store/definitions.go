package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/crewflow/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SaveResult reports what SaveDefinition did.
type SaveResult struct {
	Inserted bool
	Updated  bool
	Version  int
}

// SaveDefinition inserts or updates a definition and replaces its actions.
//
// The stored version increments only when the authored content changes
// (compared by content hash), so reloading unchanged sources is a no-op.
// Actions with a nil RawConfig are encoded from Config.
func (s *Store) SaveDefinition(ctx context.Context, def model.WorkflowDefinition) (SaveResult, error) {
	def.Actions = append([]model.WorkflowAction(nil), def.Actions...)
	for i := range def.Actions {
		if def.Actions[i].RawConfig == nil {
			raw, err := model.EncodeActionConfig(def.Actions[i].Config)
			if err != nil {
				return SaveResult{}, fmt.Errorf("save definition %s: %w", def.ID, err)
			}
			def.Actions[i].RawConfig = raw
		}
	}

	hash, err := model.DefinitionHash(def)
	if err != nil {
		return SaveResult{}, fmt.Errorf("save definition %s: %w", def.ID, err)
	}
	conditions, err := marshalNullJSON(def.Conditions)
	if err != nil {
		return SaveResult{}, fmt.Errorf("save definition %s: conditions: %w", def.ID, err)
	}

	now := s.now()
	createdAt := def.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	version := def.Version
	if version < 1 {
		version = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SaveResult{}, fmt.Errorf("save definition: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existingHash string
	var existingVersion, existingActive int
	err = tx.QueryRowContext(ctx, `
		SELECT content_hash, version, is_active FROM workflow_definitions WHERE id = ?
	`, def.ID).Scan(&existingHash, &existingVersion, &existingActive)

	result := SaveResult{}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_definitions
			(id, name, description, trigger_object, trigger_event, trigger_conditions,
			 is_active, version, priority, created_by, content_hash, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			def.ID, def.Name, def.Description, string(def.TriggerObject), string(def.TriggerEvent), conditions,
			boolToInt(def.IsActive), version, def.Priority, def.CreatedBy, hash, formatTime(createdAt), formatTime(now),
		)
		if err != nil {
			return SaveResult{}, fmt.Errorf("save definition %s: insert: %w", def.ID, err)
		}
		result = SaveResult{Inserted: true, Version: version}
	case err != nil:
		return SaveResult{}, fmt.Errorf("save definition %s: lookup: %w", def.ID, err)
	case existingHash == hash:
		// Content unchanged. A definition deactivated by a prune and
		// loaded again comes back active at the same version.
		if existingActive != boolToInt(def.IsActive) {
			if _, err := tx.ExecContext(ctx, `
				UPDATE workflow_definitions SET is_active = ?, updated_at = ? WHERE id = ?
			`, boolToInt(def.IsActive), formatTime(now), def.ID); err != nil {
				return SaveResult{}, fmt.Errorf("save definition %s: reactivate: %w", def.ID, err)
			}
			if err := tx.Commit(); err != nil {
				return SaveResult{}, fmt.Errorf("save definition: commit: %w", err)
			}
		}
		return SaveResult{Version: existingVersion}, nil
	default:
		if version <= existingVersion {
			version = existingVersion + 1
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE workflow_definitions SET
				name = ?, description = ?, trigger_object = ?, trigger_event = ?, trigger_conditions = ?,
				is_active = ?, version = ?, priority = ?, created_by = ?, content_hash = ?, updated_at = ?
			WHERE id = ?
		`,
			def.Name, def.Description, string(def.TriggerObject), string(def.TriggerEvent), conditions,
			boolToInt(def.IsActive), version, def.Priority, def.CreatedBy, hash, formatTime(now), def.ID,
		)
		if err != nil {
			return SaveResult{}, fmt.Errorf("save definition %s: update: %w", def.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_actions WHERE definition_id = ?`, def.ID); err != nil {
			return SaveResult{}, fmt.Errorf("save definition %s: clear actions: %w", def.ID, err)
		}
		result = SaveResult{Updated: true, Version: version}
	}

	for _, a := range def.Actions {
		cond, err := marshalNullJSON(a.Condition)
		if err != nil {
			return SaveResult{}, fmt.Errorf("save definition %s: action %s condition: %w", def.ID, a.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_actions
			(id, definition_id, action_type, action_order, config, condition, delay_minutes)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, a.ID, def.ID, string(a.Type), a.Order, string(a.RawConfig), cond, a.DelayMinutes)
		if err != nil {
			return SaveResult{}, fmt.Errorf("save definition %s: action %s: %w", def.ID, a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return SaveResult{}, fmt.Errorf("save definition: commit: %w", err)
	}
	return result, nil
}

// SetActive toggles a definition without changing its version.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_definitions SET is_active = ?, updated_at = ? WHERE id = ?
	`, boolToInt(active), formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("set active %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set active %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("set active %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListDefinitions returns every definition, active or not, with actions
// in ascending order. Definitions are ordered by priority, then creation
// order. Action configs are returned raw; decoding is the caller's job.
func (s *Store) ListDefinitions(ctx context.Context) ([]model.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, trigger_object, trigger_event, trigger_conditions,
		       is_active, version, priority, created_by, created_at
		FROM workflow_definitions
		ORDER BY priority ASC, created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query definitions: %w", err)
	}
	defer rows.Close()

	defs := []model.WorkflowDefinition{}
	index := map[string]int{}
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		index[def.ID] = len(defs)
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}
	rows.Close()

	actions, err := s.db.QueryContext(ctx, `
		SELECT definition_id, id, action_type, action_order, config, condition, delay_minutes
		FROM workflow_actions
		ORDER BY definition_id ASC, action_order ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer actions.Close()

	for actions.Next() {
		defID, a, err := scanAction(actions)
		if err != nil {
			return nil, err
		}
		if i, ok := index[defID]; ok {
			defs[i].Actions = append(defs[i].Actions, a)
		}
	}
	if err := actions.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return defs, nil
}

// GetDefinition returns one definition with its actions.
func (s *Store) GetDefinition(ctx context.Context, id string) (model.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, trigger_object, trigger_event, trigger_conditions,
		       is_active, version, priority, created_by, created_at
		FROM workflow_definitions WHERE id = ?
	`, id)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WorkflowDefinition{}, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.WorkflowDefinition{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT definition_id, id, action_type, action_order, config, condition, delay_minutes
		FROM workflow_actions WHERE definition_id = ?
		ORDER BY action_order ASC
	`, id)
	if err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		_, a, err := scanAction(rows)
		if err != nil {
			return model.WorkflowDefinition{}, err
		}
		def.Actions = append(def.Actions, a)
	}
	if err := rows.Err(); err != nil {
		return model.WorkflowDefinition{}, fmt.Errorf("iterate actions: %w", err)
	}
	return def, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (model.WorkflowDefinition, error) {
	var def model.WorkflowDefinition
	var object, event, createdAt string
	var conditions sql.NullString
	var active int
	err := row.Scan(&def.ID, &def.Name, &def.Description, &object, &event, &conditions,
		&active, &def.Version, &def.Priority, &def.CreatedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, err
		}
		return def, fmt.Errorf("scan definition: %w", err)
	}
	def.TriggerObject = model.EntityType(object)
	def.TriggerEvent = model.TriggerEvent(event)
	def.IsActive = active != 0
	if def.Conditions, err = unmarshalConditions(conditions); err != nil {
		return def, fmt.Errorf("definition %s: %w", def.ID, err)
	}
	if def.CreatedAt, err = parseTime(createdAt); err != nil {
		return def, fmt.Errorf("definition %s: %w", def.ID, err)
	}
	return def, nil
}

func scanAction(row rowScanner) (string, model.WorkflowAction, error) {
	var defID, actionType, config string
	var cond sql.NullString
	var a model.WorkflowAction
	if err := row.Scan(&defID, &a.ID, &actionType, &a.Order, &config, &cond, &a.DelayMinutes); err != nil {
		return "", a, fmt.Errorf("scan action: %w", err)
	}
	a.Type = model.ActionType(actionType)
	a.RawConfig = json.RawMessage(config)
	var err error
	if a.Condition, err = unmarshalConditions(cond); err != nil {
		return "", a, fmt.Errorf("action %s: %w", a.ID, err)
	}
	return defID, a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
