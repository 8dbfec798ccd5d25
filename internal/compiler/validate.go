package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/crewflow/internal/condition"
	"github.com/roach88/crewflow/internal/model"
)

// Validation error codes (E120-E139)
const (
	ErrMissingName       = "E120" // name is required
	ErrUnknownObject     = "E121" // unknown trigger object
	ErrUnknownEvent      = "E122" // unknown trigger event
	ErrUnknownOperator   = "E123" // unknown condition operator
	ErrUnknownLogical    = "E124" // unknown AND/OR operator
	ErrUnknownActionType = "E125" // unknown actionType
	ErrInvalidConfig     = "E126" // action config payload invalid
	ErrDuplicateOrder    = "E127" // actionOrder reused within a definition
	ErrChangedToOnCreate = "E128" // changed_to can never match a CREATE
	ErrNegativeDelay     = "E129" // delayMinutes < 0
	ErrInvalidRule       = "E130" // malformed field path or missing value
)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateDefinition checks a definition against authoring rules.
// Returns all errors found (does not fail-fast).
func ValidateDefinition(def model.WorkflowDefinition) []ValidationError {
	var errs []ValidationError

	// E120: name is required
	if strings.TrimSpace(def.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "name is required and must be non-empty",
			Code:    ErrMissingName,
		})
	}

	// E121: trigger object
	if _, err := model.ParseEntityType(string(def.TriggerObject)); err != nil {
		errs = append(errs, ValidationError{
			Field:   "triggerObject",
			Message: err.Error(),
			Code:    ErrUnknownObject,
		})
	}

	// E122: trigger event
	event, err := model.ParseTriggerEvent(string(def.TriggerEvent))
	if err != nil {
		errs = append(errs, ValidationError{
			Field:   "triggerEvent",
			Message: err.Error(),
			Code:    ErrUnknownEvent,
		})
	}

	errs = append(errs, validateConditions(def.Conditions, "triggerConditions", event)...)

	orders := make(map[int]string)
	for i, a := range def.Actions {
		field := fmt.Sprintf("actions[%d]", i)

		// E127: duplicate order
		if prev, dup := orders[a.Order]; dup {
			errs = append(errs, ValidationError{
				Field:   field + ".actionOrder",
				Message: fmt.Sprintf("actionOrder %d already used by %s", a.Order, prev),
				Code:    ErrDuplicateOrder,
			})
		} else {
			orders[a.Order] = a.ID
		}

		// E129: negative delay
		if a.DelayMinutes < 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".delayMinutes",
				Message: fmt.Sprintf("delayMinutes must be non-negative, got %d", a.DelayMinutes),
				Code:    ErrNegativeDelay,
			})
		}

		errs = append(errs, validateActionConfig(a, field)...)
		errs = append(errs, validateConditions(a.Condition, field+".condition", event)...)
	}

	return errs
}

// validateActionConfig checks the action type (E125) and its payload (E126).
// A decoded Config is validated directly; otherwise RawConfig is decoded.
func validateActionConfig(a model.WorkflowAction, field string) []ValidationError {
	if !a.Type.Valid() {
		return []ValidationError{{
			Field:   field + ".actionType",
			Message: fmt.Sprintf("unknown actionType %q", a.Type),
			Code:    ErrUnknownActionType,
		}}
	}
	var err error
	switch {
	case a.Config != nil && len(a.RawConfig) == 0:
		if a.Config.ActionType() != a.Type {
			err = fmt.Errorf("config is %s, action is %s", a.Config.ActionType(), a.Type)
		} else {
			err = a.Config.Validate()
		}
	default:
		_, err = model.DecodeActionConfig(a.Type, a.RawConfig)
	}
	if err != nil {
		return []ValidationError{{
			Field:   field + ".config",
			Message: err.Error(),
			Code:    ErrInvalidConfig,
		}}
	}
	return nil
}

// validateConditions maps condition authoring problems onto codes.
func validateConditions(g *model.ConditionGroup, field string, event model.TriggerEvent) []ValidationError {
	var errs []ValidationError
	for _, p := range condition.Validate(g, event) {
		code := ErrInvalidRule
		switch p.Kind {
		case condition.ProblemUnknownOperator:
			code = ErrUnknownOperator
		case condition.ProblemUnknownLogical:
			code = ErrUnknownLogical
		case condition.ProblemChangedToOnCreate:
			code = ErrChangedToOnCreate
		}
		path := field
		if p.Path != "" {
			path = field + "." + p.Path
		}
		errs = append(errs, ValidationError{Field: path, Message: p.Message, Code: code})
	}
	return errs
}

// Prepare validates def and decodes every action config in place, so
// handlers receive typed configs. Nothing is decoded when validation fails.
func Prepare(def *model.WorkflowDefinition) []ValidationError {
	if errs := ValidateDefinition(*def); len(errs) > 0 {
		return errs
	}
	actions := make([]model.WorkflowAction, len(def.Actions))
	copy(actions, def.Actions)
	for i := range actions {
		a := &actions[i]
		if a.Config != nil && len(a.RawConfig) == 0 {
			raw, err := model.EncodeActionConfig(a.Config)
			if err != nil {
				return []ValidationError{{Field: fmt.Sprintf("actions[%d].config", i), Message: err.Error(), Code: ErrInvalidConfig}}
			}
			a.RawConfig = raw
			continue
		}
		if err := a.DecodeConfig(); err != nil {
			return []ValidationError{{Field: fmt.Sprintf("actions[%d].config", i), Message: err.Error(), Code: ErrInvalidConfig}}
		}
	}
	def.Actions = actions
	return nil
}
