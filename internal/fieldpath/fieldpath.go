// Package fieldpath resolves dot-notation paths ("contact.email",
// "lineItems[0].sku") against record trees.
//
// Lookups go through compiled jsonpath expressions, cached per path.
// A path that does not resolve is reported absent, never as an error;
// a field that exists with a null value is present.
package fieldpath

import (
	"regexp"
	"strings"
	"sync"

	"github.com/oliveagle/jsonpath"

	"github.com/roach88/crewflow/internal/model"
)

var pathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\[[0-9]+\])*(\.[A-Za-z_][A-Za-z0-9_]*(\[[0-9]+\])*)*$`)

var compiled sync.Map // path -> *jsonpath.Compiled

// Valid reports whether path is a well-formed field path.
func Valid(path string) bool {
	return pathPattern.MatchString(path)
}

// Lookup resolves path against root. The second result is false when any
// segment is missing or the path is malformed.
func Lookup(root any, path string) (value any, present bool) {
	c, ok := compile(path)
	if !ok || root == nil {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			value, present = nil, false
		}
	}()
	value, err := c.Lookup(root)
	if err != nil {
		return nil, false
	}
	return value, true
}

func compile(path string) (*jsonpath.Compiled, bool) {
	if cached, ok := compiled.Load(path); ok {
		return cached.(*jsonpath.Compiled), true
	}
	if !Valid(path) {
		return nil, false
	}
	c, err := jsonpath.Compile("$." + path)
	if err != nil {
		return nil, false
	}
	compiled.Store(path, c)
	return c, true
}

// Normalize converts model.Record values, and maps of them, into plain
// map[string]any trees so every nested level has the shape jsonpath
// expects. Other values are returned unchanged.
func Normalize(v any) any {
	switch val := v.(type) {
	case model.Record:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case map[string]model.Record:
		out := make(map[string]any, len(val))
		for k, r := range val {
			out[k] = normalizeMap(r)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Normalize(elem)
		}
		return out
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

// Set writes value at a dot path without array segments, creating
// intermediate maps as needed. It reports false for malformed paths or
// when an intermediate segment holds a non-map value.
func Set(root map[string]any, path string, value any) bool {
	if root == nil || !Valid(path) || strings.Contains(path, "[") {
		return false
	}
	segments := splitPath(path)
	cur := root
	for _, seg := range segments[:len(segments)-1] {
		next, exists := cur[seg]
		if !exists || next == nil {
			child := map[string]any{}
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return false
		}
		cur = child
	}
	cur[segments[len(segments)-1]] = value
	return true
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}
