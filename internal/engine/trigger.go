package engine

import (
	"context"
	"fmt"

	"github.com/roach88/crewflow/internal/model"
)

// TriggerRequest is the invocation a mutating service sends after its
// write committed.
type TriggerRequest struct {
	EntityID string `json:"entityId"`

	// Changes holds the fields the caller just wrote, with new values.
	Changes map[string]any `json:"changes"`

	// PreviousValues holds the prior values of the changed fields. Nil
	// means the caller does not know them; changed_to then never matches.
	PreviousValues map[string]any `json:"previousValues,omitempty"`

	// Record is the full current snapshot, if the caller has it.
	Record map[string]any `json:"record,omitempty"`

	// Related holds preloaded one-hop relations ("contact", "owner").
	Related map[string]map[string]any `json:"related,omitempty"`

	ActorID string `json:"actorId,omitempty"`
}

// TriggerResponse is returned to the mutating service.
type TriggerResponse struct {
	// TriggersEvaluated is true when at least one definition matched.
	TriggersEvaluated bool                    `json:"triggersEvaluated"`
	Results           []model.ExecutionResult `json:"results"`

	// Warnings has one line per FAILED action, for the caller to attach
	// to its own response. They never make the caller's operation fail.
	Warnings []string `json:"warnings,omitempty"`
}

// Transition builds the entity diff: new values are Record overlaid with
// Changes; old values are Record overlaid with PreviousValues, only when
// PreviousValues was supplied and the event is not a CREATE.
func (r TriggerRequest) Transition(object model.EntityType, event model.TriggerEvent) model.EntityTransition {
	t := model.EntityTransition{
		EntityType: object,
		EntityID:   r.EntityID,
		NewValues:  overlay(r.Record, r.Changes),
		ActorID:    r.ActorID,
	}
	if r.PreviousValues != nil && event != model.EventCreate {
		t.OldValues = overlay(r.Record, r.PreviousValues)
	}
	if len(r.Related) > 0 {
		t.Related = make(map[string]model.Record, len(r.Related))
		for name, rec := range r.Related {
			t.Related[name] = model.Record(rec)
		}
	}
	return t
}

func overlay(base, top map[string]any) model.Record {
	out := make(model.Record, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

// Trigger implements the invocation contract: build the transition,
// evaluate it and summarize failures as warnings.
func (e *Engine) Trigger(ctx context.Context, object model.EntityType, event model.TriggerEvent, req TriggerRequest) (TriggerResponse, error) {
	if parsed, err := model.ParseTriggerEvent(string(event)); err == nil {
		event = parsed
	}
	results, err := e.EvaluateTransition(ctx, object, event, req.Transition(object, event))
	if err != nil {
		return TriggerResponse{}, err
	}
	resp := TriggerResponse{
		TriggersEvaluated: len(results) > 0,
		Results:           results,
	}
	if resp.Results == nil {
		resp.Results = []model.ExecutionResult{}
	}
	for _, r := range results {
		for _, o := range r.Failures() {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s: %s %s failed (%s): %s",
				r.DefinitionName, o.ActionType, o.ActionID, o.ErrorKind, o.Reason))
		}
	}
	return resp, nil
}
