package action

import (
	"context"
	"time"

	"github.com/roach88/crewflow/internal/model"
)

// FieldHandler implements UPDATE_FIELD. The outcome carries the change so
// the orchestrator can apply it to the context read by later actions.
type FieldHandler struct {
	Fields FieldWriter
}

func (h *FieldHandler) Execute(ctx context.Context, req Request) (model.ActionOutcome, error) {
	cfg, err := configAs[model.FieldUpdateConfig](req)
	if err != nil {
		return model.ActionOutcome{}, err
	}
	object, recordID, err := resolveTarget(cfg.TargetObject, req.Transition)
	if err != nil {
		return model.ActionOutcome{}, err
	}

	var value any
	switch cfg.EffectiveValueType() {
	case model.ValueNow:
		value = req.Now.UTC().Format(time.RFC3339)
	case model.ValueTemplate:
		tmpl, _ := cfg.Value.(string)
		value = req.Context.Render(tmpl)
	default:
		value = cfg.Value
	}

	prev, err := h.Fields.WriteField(ctx, object, recordID, cfg.Field, value)
	if err != nil {
		return model.ActionOutcome{}, Execution("write field", err)
	}
	out := model.Succeeded("", nil)
	out.Changes = []model.FieldChange{{
		Object:   object,
		RecordID: recordID,
		Field:    cfg.Field,
		Old:      prev,
		New:      value,
	}}
	return out, nil
}

// resolveTarget finds the record an UPDATE_FIELD writes. An empty target,
// or the trigger object itself, is the triggering entity. Another entity
// type must be reachable through the transition: Related[<key>]["id"]
// first, then the foreign key field "<key>Id" on the new values.
func resolveTarget(target string, t model.EntityTransition) (model.EntityType, string, error) {
	if target == "" {
		return t.EntityType, t.EntityID, nil
	}
	object, err := model.ParseEntityType(target)
	if err != nil {
		return "", "", Configf("update field: %v", err)
	}
	if object == t.EntityType {
		return object, t.EntityID, nil
	}
	key := object.ContextKey()
	if rel, ok := t.Related[key]; ok {
		if id, ok := rel["id"].(string); ok && id != "" {
			return object, id, nil
		}
	}
	if id, ok := t.NewValues[key+"Id"].(string); ok && id != "" {
		return object, id, nil
	}
	return "", "", Configf("update field: no %s related to %s %s", object, t.EntityType, t.EntityID)
}
