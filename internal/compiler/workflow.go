package compiler

import (
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/crewflow/internal/model"
)

// Authoring defaults.
const (
	DefaultPriority = 100
)

// Workflow is a compiled definition together with the CUE positions of
// its fields, so validation problems can point at source lines.
type Workflow struct {
	Definition model.WorkflowDefinition
	Pos        token.Pos

	positions map[string]token.Pos
}

// CompileWorkflow parses a CUE value into a Workflow.
// Uses CUE SDK's Go API directly.
//
// The CUE value should be the workflow struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`workflow: "follow-up": { ... }`)
//	wf, err := CompileWorkflow(v.LookupPath(cue.ParsePath(`workflow."follow-up"`)))
//
// CompileWorkflow only checks shape. Semantic checks (operators, action
// types, config payloads) are left to Workflow.Validate so that every
// problem is reported at once.
func CompileWorkflow(v cue.Value) (*Workflow, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	wf := &Workflow{
		Pos:       v.Pos(),
		positions: map[string]token.Pos{},
	}
	def := &wf.Definition
	def.IsActive = true
	def.Priority = DefaultPriority

	// Definition id comes from the struct label.
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.ID = unquoteLabel(labels[len(labels)-1].String())
	}
	if def.ID == "" {
		return nil, &CompileError{Field: "id", Message: "workflow must be declared under a label", Pos: v.Pos()}
	}

	var err error
	if def.Name, err = optionalString(v, "name"); err != nil {
		return nil, err
	}
	wf.mark("name", v, "name")
	if def.Description, err = optionalString(v, "description"); err != nil {
		return nil, err
	}
	if def.CreatedBy, err = optionalString(v, "createdBy"); err != nil {
		return nil, err
	}

	// Object and event are required; their values are validated later.
	object, err := requiredString(v, "object")
	if err != nil {
		return nil, err
	}
	def.TriggerObject = model.EntityType(object)
	if parsed, perr := model.ParseEntityType(object); perr == nil {
		def.TriggerObject = parsed
	}
	wf.mark("triggerObject", v, "object")

	event, err := requiredString(v, "event")
	if err != nil {
		return nil, err
	}
	def.TriggerEvent = model.TriggerEvent(strings.ToUpper(strings.TrimSpace(event)))
	wf.mark("triggerEvent", v, "event")

	if pv := v.LookupPath(cue.ParsePath("priority")); pv.Exists() {
		p, err := pv.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Priority = int(p)
	}
	if av := v.LookupPath(cue.ParsePath("active")); av.Exists() {
		active, err := av.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.IsActive = active
	}

	def.Conditions, err = parseConditions(v, "conditions")
	if err != nil {
		return nil, err
	}
	wf.mark("triggerConditions", v, "conditions")

	def.Actions, err = wf.parseActions(v)
	if err != nil {
		return nil, err
	}
	return wf, nil
}

// parseActions extracts the ordered action list. A missing order defaults
// to the 1-based list position, a missing id to "<workflow>-<order>".
func (wf *Workflow) parseActions(v cue.Value) ([]model.WorkflowAction, error) {
	actionsVal := v.LookupPath(cue.ParsePath("actions"))
	if !actionsVal.Exists() {
		return nil, nil
	}
	iter, err := actionsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var actions []model.WorkflowAction
	for i := 0; iter.Next(); i++ {
		av := iter.Value()
		field := fmt.Sprintf("actions[%d]", i)
		wf.positions[field] = av.Pos()

		var a model.WorkflowAction
		typ, err := requiredString(av, "type")
		if err != nil {
			return nil, prefixCompileError(err, field)
		}
		a.Type = model.ActionType(strings.ToUpper(strings.TrimSpace(typ)))
		wf.mark(field+".actionType", av, "type")

		a.Order = i + 1
		if ov := av.LookupPath(cue.ParsePath("order")); ov.Exists() {
			n, err := ov.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			a.Order = int(n)
		}
		wf.mark(field+".actionOrder", av, "order")

		if a.ID, err = optionalString(av, "id"); err != nil {
			return nil, prefixCompileError(err, field)
		}
		if a.ID == "" {
			a.ID = fmt.Sprintf("%s-%d", wf.Definition.ID, a.Order)
		}

		if dv := av.LookupPath(cue.ParsePath("delayMinutes")); dv.Exists() {
			n, err := dv.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			a.DelayMinutes = int(n)
		}
		wf.mark(field+".delayMinutes", av, "delayMinutes")

		if a.Condition, err = parseConditions(av, "condition"); err != nil {
			return nil, prefixCompileError(err, field)
		}
		wf.mark(field+".condition", av, "condition")

		a.RawConfig = json.RawMessage("{}")
		if cv := av.LookupPath(cue.ParsePath("config")); cv.Exists() {
			raw, err := cv.MarshalJSON()
			if err != nil {
				return nil, formatCUEError(err)
			}
			a.RawConfig = raw
		}
		wf.mark(field+".config", av, "config")

		actions = append(actions, a)
	}
	return actions, nil
}

// parseConditions decodes an optional condition group through its JSON
// form, so CUE and stored definitions share one decoder.
func parseConditions(v cue.Value, label string) (*model.ConditionGroup, error) {
	cv := v.LookupPath(cue.ParsePath(label))
	if !cv.Exists() {
		return nil, nil
	}
	raw, err := cv.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var g model.ConditionGroup
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, &CompileError{Field: label, Message: err.Error(), Pos: cv.Pos()}
	}
	return &g, nil
}

func (wf *Workflow) mark(field string, v cue.Value, label string) {
	if fv := v.LookupPath(cue.ParsePath(label)); fv.Exists() {
		wf.positions[field] = fv.Pos()
	}
}

// PosOf returns the source position recorded for a validation field,
// falling back to the nearest enclosing field and finally the workflow.
func (wf *Workflow) PosOf(field string) token.Pos {
	for f := field; f != ""; {
		if p, ok := wf.positions[f]; ok && p.IsValid() {
			return p
		}
		cut := strings.LastIndexAny(f, ".[")
		if cut <= 0 {
			break
		}
		f = f[:cut]
	}
	return wf.Pos
}

// Validate runs ValidateDefinition and attaches source lines.
func (wf *Workflow) Validate() []ValidationError {
	errs := ValidateDefinition(wf.Definition)
	for i := range errs {
		if p := wf.PosOf(errs[i].Field); p.IsValid() {
			errs[i].Line = p.Line()
		}
	}
	return errs
}

func requiredString(v cue.Value, label string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   label,
			Message: label + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, label string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(label))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func unquoteLabel(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// CompileError represents a CUE compilation error with position info.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func prefixCompileError(err error, prefix string) error {
	if ce, ok := err.(*CompileError); ok {
		return &CompileError{Field: prefix + "." + ce.Field, Message: ce.Message, Pos: ce.Pos}
	}
	return err
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
