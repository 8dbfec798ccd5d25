package condition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crewflow/internal/model"
)

func TestChangedTo(t *testing.T) {
	rule := model.All(model.Rule("status", model.OpChangedTo, "APPROVED"))

	assert.True(t, Evaluate(rule, model.Record{"status": "NEW"}, model.Record{"status": "APPROVED"}))
	assert.False(t, Evaluate(rule, model.Record{"status": "APPROVED"}, model.Record{"status": "APPROVED"}))
	assert.False(t, Evaluate(rule, model.Record{"status": "NEW"}, model.Record{"status": "CLOSED"}))
}

func TestChangedToWithoutPriorValues(t *testing.T) {
	rule := model.All(model.Rule("status", model.OpChangedTo, "APPROVED"))

	assert.False(t, Evaluate(rule, nil, model.Record{"status": "APPROVED"}), "no prior record never degrades to equals")
	assert.False(t, Evaluate(rule, model.Record{"other": 1}, model.Record{"status": "APPROVED"}), "field absent from prior values")
	assert.True(t, Evaluate(rule, model.Record{"status": nil}, model.Record{"status": "APPROVED"}), "explicit null prior is a known value")
	assert.False(t, Evaluate(rule, model.Record{"status": "NEW"}, model.Record{}), "missing new value")
}

func TestOperatorsAgainstMissingValues(t *testing.T) {
	empty := model.Record{}
	nulled := model.Record{"f": nil}

	tests := []struct {
		op   model.Operator
		want bool
	}{
		{model.OpEquals, false},
		{model.OpNotEquals, true},
		{model.OpContains, false},
		{model.OpChangedTo, false},
		{model.OpIsNull, true},
		{model.OpIsNotNull, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			g := model.All(model.Rule("f", tt.op, "x"))
			assert.Equal(t, tt.want, Evaluate(g, empty, empty), "absent")
			assert.Equal(t, tt.want, Evaluate(g, nulled, nulled), "null")
		})
	}
}

func TestEqualsLenientScalars(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		target any
		want   bool
	}{
		{"same string", "OPEN", "OPEN", true},
		{"case matters", "open", "OPEN", false},
		{"json float vs yaml int", float64(1200), 1200, true},
		{"json number", json.Number("12.5"), 12.5, true},
		{"string vs number", "5", int64(5), true},
		{"bool vs string", true, "true", true},
		{"different numbers", 3, 4, false},
		{"lists", []any{"a", "b"}, []any{"a", "b"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := model.All(model.Rule("f", model.OpEquals, tt.target))
			assert.Equal(t, tt.want, Evaluate(g, nil, model.Record{"f": tt.value}))
		})
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		target any
		want   bool
	}{
		{"substring", "Roof replacement - full", "replacement", true},
		{"substring missing", "Gutter", "roof", false},
		{"list element", []any{"ROOF", "GUTTER"}, "GUTTER", true},
		{"list numeric", []any{float64(1), float64(2)}, 2, true},
		{"map key", map[string]any{"urgent": true}, "urgent", true},
		{"number value", 12, "1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := model.All(model.Rule("f", model.OpContains, tt.target))
			assert.Equal(t, tt.want, Evaluate(g, nil, model.Record{"f": tt.value}))
		})
	}
}

func TestGroupsNest(t *testing.T) {
	g := model.Any(
		model.All(
			model.Rule("stageName", model.OpEquals, "APPROVED"),
			model.Rule("contractTotal", model.OpNotEquals, 0),
		),
		model.Rule("priority", model.OpEquals, "URGENT"),
	)

	assert.True(t, Evaluate(g, nil, model.Record{"stageName": "APPROVED", "contractTotal": 100}))
	assert.True(t, Evaluate(g, nil, model.Record{"priority": "URGENT"}))
	assert.False(t, Evaluate(g, nil, model.Record{"stageName": "APPROVED", "contractTotal": 0}))
}

func TestEmptyGroupMatches(t *testing.T) {
	assert.True(t, Evaluate(nil, nil, model.Record{}))
	assert.True(t, Evaluate(model.All(), nil, nil))
	assert.True(t, Evaluate(model.Any(), nil, nil))
}

func TestRelationHop(t *testing.T) {
	tr := model.EntityTransition{
		EntityType: model.EntityOpportunity,
		NewValues:  model.Record{"stageName": "SOLD", "owner": model.Record{"name": "inline"}},
		Related: map[string]model.Record{
			"contact": {"email": "ana@example.com"},
			"owner":   {"name": "related"},
		},
	}

	assert.True(t, EvaluateTransition(model.All(model.Rule("contact.email", model.OpEquals, "ana@example.com")), tr))
	assert.True(t, EvaluateTransition(model.All(model.Rule("owner.name", model.OpEquals, "inline")), tr), "entity field wins over relation")
	assert.True(t, EvaluateTransition(model.All(model.Rule("account.name", model.OpIsNull, nil)), tr))
}

// countingResolver records every path it resolves.
type countingResolver struct {
	values model.Record
	calls  map[string]int
}

func (c *countingResolver) Resolve(_ Side, path string) (any, bool) {
	c.calls[path]++
	v, ok := c.values[path]
	return v, ok
}

func TestAndShortCircuits(t *testing.T) {
	r := &countingResolver{values: model.Record{"a": "no"}, calls: map[string]int{}}
	g := model.All(
		model.Rule("a", model.OpEquals, "yes"),
		model.Rule("must_not_resolve", model.OpEquals, "x"),
	)

	assert.False(t, EvaluateWith(g, r))
	assert.Equal(t, 1, r.calls["a"])
	assert.Zero(t, r.calls["must_not_resolve"])
}

func TestOrShortCircuits(t *testing.T) {
	r := &countingResolver{values: model.Record{"a": "yes"}, calls: map[string]int{}}
	g := model.Any(
		model.Rule("a", model.OpEquals, "yes"),
		model.All(model.Rule("must_not_resolve", model.OpEquals, "x")),
	)

	assert.True(t, EvaluateWith(g, r))
	assert.Zero(t, r.calls["must_not_resolve"])
}

func TestEvaluateIsDeterministicAndPure(t *testing.T) {
	old := model.Record{"status": "NEW", "tags": []any{"a"}}
	now := model.Record{"status": "APPROVED", "tags": []any{"a", "b"}}
	g := model.All(
		model.Rule("status", model.OpChangedTo, "APPROVED"),
		model.Rule("tags", model.OpContains, "b"),
	)

	first := Evaluate(g, old, now)
	for i := 0; i < 20; i++ {
		require.Equal(t, first, Evaluate(g, old, now))
	}
	assert.Equal(t, model.Record{"status": "NEW", "tags": []any{"a"}}, old, "inputs untouched")
	assert.Equal(t, model.Record{"status": "APPROVED", "tags": []any{"a", "b"}}, now)
}

func TestUsesChangedTo(t *testing.T) {
	assert.True(t, UsesChangedTo(model.Any(model.All(model.Rule("s", model.OpChangedTo, "X")))))
	assert.False(t, UsesChangedTo(model.All(model.Rule("s", model.OpEquals, "X"))))
	assert.False(t, UsesChangedTo(nil))
}
