// Package registry serves the active workflow definitions for a trigger.
//
// Definitions are loaded from a Source into an immutable Snapshot that is
// cached for a TTL. An evaluation takes one snapshot and uses it to the
// end, so edits made while it runs are seen only by later evaluations.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/crewflow/internal/compiler"
	"github.com/roach88/crewflow/internal/model"
)

// DefaultTTL is how long a snapshot is served before a reload.
const DefaultTTL = 30 * time.Second

const snapshotKey = "snapshot"

// ErrNotLoaded is returned while no snapshot has ever loaded.
var ErrNotLoaded = errors.New("workflow registry has not loaded")

// Source supplies stored definitions. *store.Store implements it.
type Source interface {
	ListDefinitions(ctx context.Context) ([]model.WorkflowDefinition, error)
}

// ConfigError reports a stored definition that failed load-time
// validation. The definition is left out of the snapshot.
type ConfigError struct {
	DefinitionID string
	Problems     []compiler.ValidationError
}

func (e *ConfigError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return fmt.Sprintf("workflow %s: %s", e.DefinitionID, strings.Join(msgs, "; "))
}

type triggerKey struct {
	object model.EntityType
	event  model.TriggerEvent
}

// Snapshot is a read-only view of the valid definitions at load time.
type Snapshot struct {
	LoadedAt time.Time
	Errors   []*ConfigError

	byTrigger map[triggerKey][]model.WorkflowDefinition
	byID      map[string]model.WorkflowDefinition
}

// NewSnapshot validates defs and indexes the good ones. Invalid
// definitions are reported in Errors.
func NewSnapshot(defs []model.WorkflowDefinition, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		LoadedAt:  loadedAt,
		byTrigger: map[triggerKey][]model.WorkflowDefinition{},
		byID:      map[string]model.WorkflowDefinition{},
	}
	for _, def := range defs {
		if problems := compiler.Prepare(&def); len(problems) > 0 {
			s.Errors = append(s.Errors, &ConfigError{DefinitionID: def.ID, Problems: problems})
			continue
		}
		s.byID[def.ID] = def
		if !def.IsActive {
			continue
		}
		k := triggerKey{def.TriggerObject, def.TriggerEvent}
		s.byTrigger[k] = append(s.byTrigger[k], def)
	}
	for k := range s.byTrigger {
		sortDefinitions(s.byTrigger[k])
	}
	return s
}

// sortDefinitions orders by priority, then creation time, then id.
func sortDefinitions(defs []model.WorkflowDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		a, b := defs[i], defs[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Match returns the active definitions for (object, event) in execution
// order. The slice is the caller's to keep.
func (s *Snapshot) Match(object model.EntityType, event model.TriggerEvent) []model.WorkflowDefinition {
	defs := s.byTrigger[triggerKey{object, event}]
	out := make([]model.WorkflowDefinition, len(defs))
	copy(out, defs)
	return out
}

// Definition returns a valid definition by id, active or not.
func (s *Snapshot) Definition(id string) (model.WorkflowDefinition, bool) {
	def, ok := s.byID[id]
	return def, ok
}

// Len counts the valid definitions.
func (s *Snapshot) Len() int {
	return len(s.byID)
}

// Registry caches snapshots of a Source.
type Registry struct {
	src   Source
	ttl   time.Duration
	cache *gocache.Cache
	group singleflight.Group
	now   func() time.Time

	mu   sync.RWMutex
	last *Snapshot
}

// Options configures a Registry. A zero TTL means DefaultTTL.
type Options struct {
	TTL time.Duration
	Now func() time.Time
}

// New creates a registry over src.
func New(src Source, opts Options) *Registry {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		src:   src,
		ttl:   opts.TTL,
		cache: gocache.New(opts.TTL, 2*opts.TTL),
		now:   opts.Now,
	}
}

// Snapshot returns the cached snapshot, reloading it when expired.
// A failed reload keeps serving the last good snapshot; ErrNotLoaded is
// returned only when nothing has ever loaded.
func (r *Registry) Snapshot(ctx context.Context) (*Snapshot, error) {
	if v, ok := r.cache.Get(snapshotKey); ok {
		return v.(*Snapshot), nil
	}
	v, err, _ := r.group.Do(snapshotKey, func() (any, error) {
		return r.reload(ctx)
	})
	if err == nil {
		return v.(*Snapshot), nil
	}

	r.mu.RLock()
	last := r.last
	r.mu.RUnlock()
	if last != nil {
		slog.Error("registry reload failed, serving previous snapshot",
			"error", err,
			"loaded_at", last.LoadedAt,
		)
		return last, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNotLoaded, err)
}

// Match is Snapshot followed by Snapshot.Match.
func (r *Registry) Match(ctx context.Context, object model.EntityType, event model.TriggerEvent) ([]model.WorkflowDefinition, error) {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Match(object, event), nil
}

// Invalidate drops the cached snapshot so the next call reloads.
func (r *Registry) Invalidate() {
	r.cache.Delete(snapshotKey)
}

// Loaded reports whether any snapshot has loaded.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last != nil
}

func (r *Registry) reload(ctx context.Context) (*Snapshot, error) {
	defs, err := r.src.ListDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	snap := NewSnapshot(defs, r.now())
	for _, ce := range snap.Errors {
		slog.Error("workflow definition rejected",
			"definition_id", ce.DefinitionID,
			"error", ce,
		)
	}
	slog.Debug("registry loaded",
		"definitions", snap.Len(),
		"rejected", len(snap.Errors),
	)

	r.mu.Lock()
	r.last = snap
	r.mu.Unlock()
	r.cache.Set(snapshotKey, snap, r.ttl)
	return snap, nil
}
