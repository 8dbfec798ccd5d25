package action

import (
	"time"

	"github.com/roach88/crewflow/internal/fieldpath"
	"github.com/roach88/crewflow/internal/model"
	"github.com/roach88/crewflow/internal/template"
)

// Reserved top-level keys of the interpolation tree. A related record
// whose relation name collides with one of these is not exposed.
const (
	KeyRecord = "record"
	KeyOld    = "old"
	KeyActor  = "actor"
	KeyNow    = "now"
)

// Context is the record tree templates and field paths resolve against:
//
//	{
//	  <entity, lowerCamel>: new values,
//	  record:               new values (same map),
//	  old:                  old values (absent without prior values),
//	  <relation>:           related record, one per relation,
//	  actor:                {id},
//	  now:                  RFC 3339 timestamp,
//	}
type Context map[string]any

// NewContext builds the interpolation tree for a transition.
func NewContext(t model.EntityTransition, now time.Time) Context {
	c := Context{}
	for name, rec := range t.Related {
		c[name] = fieldpath.Normalize(rec)
	}
	current := fieldpath.Normalize(t.NewValues)
	if current == nil {
		current = map[string]any{}
	}
	if key := t.EntityType.ContextKey(); key != "" {
		c[key] = current
	}
	c[KeyRecord] = current
	if t.OldValues != nil {
		c[KeyOld] = fieldpath.Normalize(t.OldValues)
	} else {
		delete(c, KeyOld)
	}
	c[KeyActor] = map[string]any{"id": t.ActorID}
	c[KeyNow] = now.UTC().Format(time.RFC3339)
	return c
}

// Clone returns a deep copy of the tree. Nested maps and slices are
// copied; scalar leaves are shared. The entity key and "record" become
// separate maps in the copy, as after a JSON round trip.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		cp := make(map[string]any, len(val))
		for k, inner := range val {
			cp[k] = cloneValue(inner)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, inner := range val {
			cp[i] = cloneValue(inner)
		}
		return cp
	default:
		return v
	}
}

// Lookup resolves a field path.
func (c Context) Lookup(path string) (any, bool) {
	return fieldpath.Lookup(map[string]any(c), path)
}

// Text resolves a field path and renders it as template text. Missing
// paths render empty.
func (c Context) Text(path string) string {
	v, ok := c.Lookup(path)
	if !ok {
		return ""
	}
	return template.Format(v)
}

// Render interpolates a template against the context.
func (c Context) Render(tmpl string) string {
	return template.Interpolate(tmpl, map[string]any(c))
}

// Apply writes a field change into the tree so later actions of the same
// definition read the updated value.
func (c Context) Apply(entity model.EntityType, change model.FieldChange) {
	key := change.Object.ContextKey()
	if change.Object == entity {
		key = KeyRecord
	}
	target, ok := c[key].(map[string]any)
	if !ok {
		target = map[string]any{}
		c[key] = target
	}
	fieldpath.Set(target, change.Field, change.New)
	// The entity key and "record" share one map until a JSON round trip
	// (pending actions) splits them.
	if change.Object == entity {
		if alias, ok := c[entity.ContextKey()].(map[string]any); ok {
			fieldpath.Set(alias, change.Field, change.New)
		}
	}
}
