package template

import (
	"regexp"
	"strings"
	"unicode"
)

var legacyField = regexp.MustCompile(`\{!\s*([A-Za-z0-9_.]+)\s*\}`)

// Aliases maps legacy field references ("Opportunity.StageName" or a
// bare "StageName") to canonical paths.
type Aliases map[string]string

// DefaultAliases covers fields whose canonical path is not the mechanical
// lowerCamel conversion.
var DefaultAliases = Aliases{
	"Opportunity.Owner.Name":  "owner.name",
	"Opportunity.Owner.Email": "owner.email",
	"Opportunity.OwnerId":     "opportunity.ownerId",
	"Opportunity.Amount":      "opportunity.contractTotal",
	"User.Name":               "owner.name",
	"User.Email":              "owner.email",
	"Contact.MobilePhone":     "contact.mobilePhone",
	"Account.Name":            "account.name",
	"Account.BillingStreet":   "account.billingAddress.street",
	"Account.BillingCity":     "account.billingAddress.city",
	"Account.BillingState":    "account.billingAddress.state",
}

// ContainsLegacy reports whether tmpl still uses {!Object.Field} syntax.
func ContainsLegacy(tmpl string) bool {
	return legacyField.MatchString(tmpl)
}

// ConvertLegacy rewrites {!Object.Field} and {!Field} references into
// canonical {{object.field}} merge fields. It is used once, at migration
// time; Interpolate never reads legacy syntax. Returns the rewritten text
// and the number of references converted.
func ConvertLegacy(tmpl string, aliases Aliases) (string, int) {
	count := 0
	out := legacyField.ReplaceAllStringFunc(tmpl, func(token string) string {
		ref := legacyField.FindStringSubmatch(token)[1]
		count++
		return "{{" + canonicalPath(ref, aliases) + "}}"
	})
	return out, count
}

func canonicalPath(ref string, aliases Aliases) string {
	if alias, ok := aliases[ref]; ok {
		return alias
	}
	segments := strings.Split(ref, ".")
	for i, seg := range segments {
		segments[i] = lowerCamel(seg)
	}
	return strings.Join(segments, ".")
}

// lowerCamel converts "Roof_Type__c" to "roofType" and "StageName" to
// "stageName". A leading acronym is lowered as a unit ("ZIPCode" becomes
// "zipCode").
func lowerCamel(s string) string {
	s = strings.TrimSuffix(s, "__c")
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' })
	var b strings.Builder
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i == 0 {
			b.WriteString(lowerLeading(part))
			continue
		}
		r := []rune(part)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

func lowerLeading(s string) string {
	r := []rune(s)
	n := 0
	for n < len(r) && unicode.IsUpper(r[n]) {
		n++
	}
	switch {
	case n == 0:
		return s
	case n == 1 || n == len(r):
		for i := 0; i < n; i++ {
			r[i] = unicode.ToLower(r[i])
		}
	default:
		// Keep the last capital of the run: it starts the next word.
		for i := 0; i < n-1; i++ {
			r[i] = unicode.ToLower(r[i])
		}
	}
	return string(r)
}
