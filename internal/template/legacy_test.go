package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertLegacy(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		count int
	}{
		{"object field", "Hi {!Contact.FirstName}", "Hi {{contact.firstName}}", 1},
		{"bare field", "Stage: {!StageName}", "Stage: {{stageName}}", 1},
		{"custom field suffix", "{!Opportunity.Roof_Type__c}", "{{opportunity.roofType}}", 1},
		{"alias", "Rep: {!Opportunity.Owner.Name}", "Rep: {{owner.name}}", 1},
		{"acronym", "{!Account.ZIPCode}", "{{account.zipCode}}", 1},
		{"all caps", "{!Account.ID}", "{{account.id}}", 1},
		{"multiple", "{!Contact.FirstName} {!Contact.LastName}", "{{contact.firstName}} {{contact.lastName}}", 2},
		{"canonical untouched", "{{contact.firstName}}", "{{contact.firstName}}", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := ConvertLegacy(tt.in, DefaultAliases)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.count, n)
			assert.False(t, ContainsLegacy(got))
		})
	}
}

func TestConvertLegacyCustomAliases(t *testing.T) {
	got, _ := ConvertLegacy("{!Job.Number}", Aliases{"Job.Number": "workOrder.number"})
	assert.Equal(t, "{{workOrder.number}}", got)
}

func TestContainsLegacy(t *testing.T) {
	assert.True(t, ContainsLegacy("x {! Contact.Email } y"))
	assert.False(t, ContainsLegacy("x {{contact.email}} y"))
}
