package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionGroupUnmarshalNested(t *testing.T) {
	data := []byte(`{
		"operator": "OR",
		"conditions": [
			{"field": "stageName", "operator": "changed_to", "value": "APPROVED"},
			{"operator": "AND", "conditions": [
				{"field": "contractTotal", "operator": "equals", "value": 1200},
				{"field": "contact.email", "operator": "is_not_null"}
			]}
		]
	}`)

	var g ConditionGroup
	require.NoError(t, json.Unmarshal(data, &g))

	assert.Equal(t, LogicalOr, g.Operator)
	require.Len(t, g.Children, 2)

	rule, ok := g.Children[0].(*ConditionRule)
	require.True(t, ok)
	assert.Equal(t, "stageName", rule.Field)
	assert.Equal(t, OpChangedTo, rule.Operator)
	assert.Equal(t, "APPROVED", rule.Value)

	nested, ok := g.Children[1].(*ConditionGroup)
	require.True(t, ok)
	assert.Equal(t, LogicalAnd, nested.Operator)
	require.Len(t, nested.Children, 2)
	assert.Equal(t, int64(1200), nested.Children[0].(*ConditionRule).Value)
	assert.Nil(t, nested.Children[1].(*ConditionRule).Value)
}

func TestConditionGroupDefaultOperator(t *testing.T) {
	var g ConditionGroup
	require.NoError(t, json.Unmarshal([]byte(`{"conditions": []}`), &g))
	assert.Equal(t, LogicalAnd, g.Operator)
	assert.True(t, g.IsEmpty())
}

func TestConditionGroupRoundTrip(t *testing.T) {
	g := Any(
		Rule("status", OpEquals, "OPEN"),
		All(Rule("amount", OpNotEquals, int64(0))),
	)
	data, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, `{"operator":"OR","conditions":[
		{"field":"status","operator":"equals","value":"OPEN"},
		{"operator":"AND","conditions":[{"field":"amount","operator":"not_equals","value":0}]}
	]}`, string(data))

	var back ConditionGroup
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, g, &back)
}

func TestConditionGroupRulesAndGroups(t *testing.T) {
	g := All(
		Rule("a", OpEquals, "1"),
		Any(Rule("b", OpIsNull, nil), All(Rule("c", OpContains, "x"))),
	)
	rules := g.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{rules[0].Field, rules[1].Field, rules[2].Field})
	assert.Len(t, g.Groups(), 3)

	var nilGroup *ConditionGroup
	assert.True(t, nilGroup.IsEmpty())
	assert.Nil(t, nilGroup.Rules())
}

func TestOperatorValid(t *testing.T) {
	for _, op := range Operators {
		assert.True(t, op.Valid(), op)
	}
	assert.False(t, Operator("greater_than").Valid())
	assert.True(t, OpIsNull.Unary())
	assert.False(t, OpEquals.Unary())
}
