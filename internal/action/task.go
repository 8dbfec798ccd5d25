package action

import (
	"context"
	"time"

	"github.com/roach88/crewflow/internal/model"
)

// TaskHandler implements CREATE_TASK. Tasks are not deduplicated: each
// matching transition creates a new one.
type TaskHandler struct {
	Tasks TaskRepository
	IDs   IDGenerator
}

func (h *TaskHandler) Execute(ctx context.Context, req Request) (model.ActionOutcome, error) {
	cfg, err := configAs[model.TaskConfig](req)
	if err != nil {
		return model.ActionOutcome{}, err
	}
	assignee := req.Context.Text(cfg.AssigneeField)
	if assignee == "" {
		return model.ActionOutcome{}, Configf("no task assignee at %q", cfg.AssigneeField)
	}

	task := model.Task{
		ID:           h.IDs.Generate(),
		Subject:      req.Context.Render(cfg.Subject),
		Description:  req.Context.Render(cfg.Description),
		AssigneeID:   assignee,
		Priority:     cfg.EffectivePriority(),
		DueDate:      req.Now.UTC().Add(time.Duration(cfg.DueInDays) * 24 * time.Hour),
		RelatedType:  req.Transition.EntityType,
		RelatedID:    req.Transition.EntityID,
		DefinitionID: req.DefinitionID,
		CreatedAt:    req.Now.UTC(),
	}
	if err := h.Tasks.CreateTask(ctx, task); err != nil {
		return model.ActionOutcome{}, Execution("create task", err)
	}
	return model.Succeeded("", map[string]any{
		"taskId":     task.ID,
		"assigneeId": task.AssigneeID,
		"dueDate":    task.DueDate.Format(time.RFC3339),
		"priority":   string(task.Priority),
	}), nil
}
