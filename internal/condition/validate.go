package condition

import (
	"fmt"

	"github.com/roach88/crewflow/internal/fieldpath"
	"github.com/roach88/crewflow/internal/model"
)

// ProblemKind categorizes an authoring problem in a condition tree.
type ProblemKind string

const (
	ProblemUnknownOperator   ProblemKind = "unknown_operator"
	ProblemUnknownLogical    ProblemKind = "unknown_logical_operator"
	ProblemInvalidField      ProblemKind = "invalid_field"
	ProblemMissingValue      ProblemKind = "missing_value"
	ProblemChangedToOnCreate ProblemKind = "changed_to_on_create"
)

// Problem is one authoring-time defect, located by Path
// ("conditions[1].conditions[0]").
type Problem struct {
	Kind    ProblemKind
	Path    string
	Message string
}

func (p Problem) Error() string {
	if p.Path == "" {
		return p.Message
	}
	return fmt.Sprintf("%s: %s", p.Path, p.Message)
}

// Validate checks g for unknown operators, malformed paths and rules that
// can never be true for event. A CREATE transition has no prior values,
// so changed_to on a CREATE definition is reported rather than silently
// degrading. Returns nil for a valid tree.
func Validate(g *model.ConditionGroup, event model.TriggerEvent) []Problem {
	if g == nil {
		return nil
	}
	v := &validator{event: event}
	v.group(g, "")
	return v.problems
}

type validator struct {
	event    model.TriggerEvent
	problems []Problem
}

func (v *validator) add(kind ProblemKind, path, format string, args ...any) {
	v.problems = append(v.problems, Problem{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) group(g *model.ConditionGroup, path string) {
	switch g.Operator {
	case model.LogicalAnd, model.LogicalOr, "":
	default:
		v.add(ProblemUnknownLogical, path, "unknown logical operator %q (want AND or OR)", g.Operator)
	}
	for i, child := range g.Children {
		childPath := fmt.Sprintf("conditions[%d]", i)
		if path != "" {
			childPath = path + "." + childPath
		}
		switch n := child.(type) {
		case *model.ConditionGroup:
			v.group(n, childPath)
		case *model.ConditionRule:
			v.rule(n, childPath)
		}
	}
}

func (v *validator) rule(r *model.ConditionRule, path string) {
	if !fieldpath.Valid(r.Field) {
		v.add(ProblemInvalidField, path, "invalid field path %q", r.Field)
	}
	if !r.Operator.Valid() {
		v.add(ProblemUnknownOperator, path, "unknown operator %q", r.Operator)
		return
	}
	if !r.Operator.Unary() && r.Value == nil {
		v.add(ProblemMissingValue, path, "operator %s requires a value", r.Operator)
	}
	if r.Operator == model.OpChangedTo && v.event == model.EventCreate {
		v.add(ProblemChangedToOnCreate, path, "changed_to on field %q can never match a CREATE event", r.Field)
	}
}
