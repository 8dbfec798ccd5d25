package condition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/crewflow/internal/fieldpath"
	"github.com/roach88/crewflow/internal/model"
)

// Side selects the before or after state of a transition.
type Side int

const (
	Old Side = iota
	New
)

// Resolver looks up a field path on one side of a transition.
type Resolver interface {
	Resolve(side Side, path string) (value any, present bool)
}

// transitionResolver resolves against normalized copies of a transition.
type transitionResolver struct {
	oldValues any
	newValues any
	related   any
}

// NewResolver builds a Resolver over t. The transition is normalized once.
func NewResolver(t model.EntityTransition) Resolver {
	r := &transitionResolver{
		newValues: fieldpath.Normalize(t.NewValues),
		related:   fieldpath.Normalize(t.Related),
	}
	if t.OldValues != nil {
		r.oldValues = fieldpath.Normalize(t.OldValues)
	}
	return r
}

func (r *transitionResolver) Resolve(side Side, path string) (any, bool) {
	if side == Old {
		return fieldpath.Lookup(r.oldValues, path)
	}
	if v, ok := fieldpath.Lookup(r.newValues, path); ok {
		return v, true
	}
	if strings.Contains(path, ".") {
		return fieldpath.Lookup(r.related, path)
	}
	return nil, false
}

// Evaluate reports whether g matches the transition from oldValues to
// newValues. oldValues may be nil.
func Evaluate(g *model.ConditionGroup, oldValues, newValues model.Record) bool {
	return EvaluateTransition(g, model.EntityTransition{OldValues: oldValues, NewValues: newValues})
}

// EvaluateTransition reports whether g matches t, including related records.
func EvaluateTransition(g *model.ConditionGroup, t model.EntityTransition) bool {
	if g.IsEmpty() {
		return true
	}
	return EvaluateWith(g, NewResolver(t))
}

// EvaluateWith evaluates g using r for every field lookup.
func EvaluateWith(g *model.ConditionGroup, r Resolver) bool {
	if g.IsEmpty() {
		return true
	}
	or := g.Operator == model.LogicalOr
	for _, child := range g.Children {
		matched := evaluateNode(child, r)
		if or && matched {
			return true
		}
		if !or && !matched {
			return false
		}
	}
	return !or
}

func evaluateNode(n model.ConditionNode, r Resolver) bool {
	switch node := n.(type) {
	case *model.ConditionGroup:
		return EvaluateWith(node, r)
	case *model.ConditionRule:
		return evaluateRule(node, r)
	default:
		return false
	}
}

func evaluateRule(rule *model.ConditionRule, r Resolver) bool {
	value, present := r.Resolve(New, rule.Field)
	known := present && value != nil

	switch rule.Operator {
	case model.OpIsNull:
		return !known
	case model.OpIsNotNull:
		return known
	case model.OpEquals:
		return known && rule.Value != nil && valuesEqual(value, rule.Value)
	case model.OpNotEquals:
		return !known || rule.Value == nil || !valuesEqual(value, rule.Value)
	case model.OpContains:
		return known && rule.Value != nil && contains(value, rule.Value)
	case model.OpChangedTo:
		if !known || rule.Value == nil {
			return false
		}
		prior, hadPrior := r.Resolve(Old, rule.Field)
		if !hadPrior {
			return false
		}
		return !valuesEqual(prior, value) && valuesEqual(value, rule.Value)
	default:
		return false
	}
}

// valuesEqual compares leniently across the scalar encodings produced by
// JSON (float64, json.Number), YAML (int) and hand-built records: numbers
// compare numerically and a string compares equal to a scalar with the
// same textual form.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	switch {
	case aStr && bStr:
		return as == bs
	case aStr && isScalar(b):
		return as == scalarString(b)
	case bStr && isScalar(a):
		return bs == scalarString(a)
	}
	return reflect.DeepEqual(fieldpath.Normalize(a), fieldpath.Normalize(b))
}

func contains(value, target any) bool {
	switch v := value.(type) {
	case string:
		if isScalar(target) {
			return strings.Contains(v, scalarString(target))
		}
		return false
	case []any:
		for _, elem := range v {
			if valuesEqual(elem, target) {
				return true
			}
		}
		return false
	case []string:
		for _, elem := range v {
			if valuesEqual(elem, target) {
				return true
			}
		}
		return false
	case map[string]any:
		key, ok := target.(string)
		if !ok {
			return false
		}
		_, exists := v[key]
		return exists
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func isScalar(v any) bool {
	if _, ok := toFloat(v); ok {
		return true
	}
	switch v.(type) {
	case string, bool:
		return true
	}
	return false
}

func scalarString(v any) string {
	if f, ok := toFloat(v); ok {
		return fmt.Sprintf("%v", f)
	}
	return fmt.Sprintf("%v", v)
}

// UsesChangedTo reports whether any rule in g uses changed_to.
func UsesChangedTo(g *model.ConditionGroup) bool {
	for _, rule := range g.Rules() {
		if rule.Operator == model.OpChangedTo {
			return true
		}
	}
	return false
}
