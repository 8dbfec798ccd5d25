package store

import (
	"context"
	"fmt"

	"github.com/roach88/crewflow/internal/model"
)

// CreateTask inserts a task. Tasks are not deduplicated.
func (s *Store) CreateTask(ctx context.Context, t model.Task) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks
		(id, subject, description, assignee_id, priority, due_date, related_type, related_id, definition_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Subject, t.Description, t.AssigneeID, string(t.Priority), formatTime(t.DueDate),
		string(t.RelatedType), t.RelatedID, t.DefinitionID, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

// ListTasks returns the tasks related to one record, oldest first.
func (s *Store) ListTasks(ctx context.Context, relatedType model.EntityType, relatedID string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, description, assignee_id, priority, due_date, related_type, related_id, definition_id, created_at
		FROM tasks
		WHERE related_type = ? AND related_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(relatedType), relatedID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		var t model.Task
		var priority, related, due, created string
		if err := rows.Scan(&t.ID, &t.Subject, &t.Description, &t.AssigneeID, &priority, &due,
			&related, &t.RelatedID, &t.DefinitionID, &created); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Priority = model.TaskPriority(priority)
		t.RelatedType = model.EntityType(related)
		if t.DueDate, err = parseTime(due); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}
