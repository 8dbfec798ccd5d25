package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// LogicalOperator joins the children of a ConditionGroup.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

// Operator is a leaf comparison. The set is closed.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpChangedTo Operator = "changed_to"
	OpContains  Operator = "contains"
	OpIsNull    Operator = "is_null"
	OpIsNotNull Operator = "is_not_null"
)

// Operators lists every supported comparison operator.
var Operators = []Operator{OpEquals, OpNotEquals, OpChangedTo, OpContains, OpIsNull, OpIsNotNull}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	for _, known := range Operators {
		if o == known {
			return true
		}
	}
	return false
}

// Unary operators take no comparison value.
func (o Operator) Unary() bool {
	return o == OpIsNull || o == OpIsNotNull
}

// ConditionNode is either a *ConditionRule or a *ConditionGroup.
// Sealed: only types in this package implement it.
type ConditionNode interface {
	conditionNode()
}

// ConditionRule compares the value at Field against Value.
// Field is a dot path that may cross one relation hop ("contact.email").
type ConditionRule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// ConditionGroup is an AND/OR list of rules and nested groups.
// A nil or empty group always matches.
type ConditionGroup struct {
	Operator LogicalOperator
	Children []ConditionNode
}

func (*ConditionRule) conditionNode()  {}
func (*ConditionGroup) conditionNode() {}

// All builds an AND group.
func All(children ...ConditionNode) *ConditionGroup {
	return &ConditionGroup{Operator: LogicalAnd, Children: children}
}

// Any builds an OR group.
func Any(children ...ConditionNode) *ConditionGroup {
	return &ConditionGroup{Operator: LogicalOr, Children: children}
}

// Rule builds a leaf rule.
func Rule(field string, op Operator, value any) *ConditionRule {
	return &ConditionRule{Field: field, Operator: op, Value: value}
}

// IsEmpty reports whether the group matches unconditionally.
func (g *ConditionGroup) IsEmpty() bool {
	return g == nil || len(g.Children) == 0
}

// Rules returns every leaf rule in depth-first order.
func (g *ConditionGroup) Rules() []*ConditionRule {
	if g == nil {
		return nil
	}
	var out []*ConditionRule
	for _, child := range g.Children {
		switch n := child.(type) {
		case *ConditionRule:
			out = append(out, n)
		case *ConditionGroup:
			out = append(out, n.Rules()...)
		}
	}
	return out
}

// Groups returns g and every nested group in depth-first order.
func (g *ConditionGroup) Groups() []*ConditionGroup {
	if g == nil {
		return nil
	}
	out := []*ConditionGroup{g}
	for _, child := range g.Children {
		if n, ok := child.(*ConditionGroup); ok {
			out = append(out, n.Groups()...)
		}
	}
	return out
}

type groupJSON struct {
	Operator   LogicalOperator   `json:"operator"`
	Conditions []json.RawMessage `json:"conditions"`
}

// MarshalJSON encodes a group as {"operator": ..., "conditions": [...]}.
func (g *ConditionGroup) MarshalJSON() ([]byte, error) {
	out := struct {
		Operator   LogicalOperator `json:"operator"`
		Conditions []ConditionNode `json:"conditions"`
	}{Operator: g.Operator, Conditions: g.Children}
	if out.Conditions == nil {
		out.Conditions = []ConditionNode{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a group. An element carrying "field" is a rule,
// any other object is a nested group. A missing operator means AND.
func (g *ConditionGroup) UnmarshalJSON(data []byte) error {
	var raw groupJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("condition group: %w", err)
	}
	g.Operator = raw.Operator
	if g.Operator == "" {
		g.Operator = LogicalAnd
	}
	g.Children = make([]ConditionNode, 0, len(raw.Conditions))
	for i, elem := range raw.Conditions {
		node, err := decodeConditionNode(elem)
		if err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
		g.Children = append(g.Children, node)
	}
	return nil
}

func decodeConditionNode(data []byte) (ConditionNode, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if _, ok := probe["field"]; ok {
		var rule ConditionRule
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&rule); err != nil {
			return nil, err
		}
		rule.Value = normalizeNumber(rule.Value)
		return &rule, nil
	}
	var group ConditionGroup
	if err := group.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return &group, nil
}

// normalizeNumber turns json.Number into int64 when integral, else float64.
func normalizeNumber(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
