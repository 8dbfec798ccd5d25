// Package template resolves {{path}} merge fields against a record tree.
//
// Interpolation is textual: values are not HTML-escaped. Templates and
// the records they read come from internal data, and callers that build
// HTML bodies own the escaping decision.
package template

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/crewflow/internal/fieldpath"
)

var mergeField = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Interpolate replaces every {{path}} in tmpl with the value at path in
// record. Unresolved or malformed paths become the empty string.
func Interpolate(tmpl string, record any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	root := fieldpath.Normalize(record)
	return mergeField.ReplaceAllStringFunc(tmpl, func(token string) string {
		path := mergeField.FindStringSubmatch(token)[1]
		value, ok := fieldpath.Lookup(root, path)
		if !ok {
			return ""
		}
		return Format(value)
	})
}

// Paths returns the merge-field paths referenced by tmpl, in order of
// appearance, including malformed ones.
func Paths(tmpl string) []string {
	matches := mergeField.FindAllStringSubmatch(tmpl, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// Format renders a record value as template text.
func Format(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return strings.Trim(string(data), `"`)
	}
}
