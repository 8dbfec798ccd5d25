// Package guard prevents a side effect from happening twice for the same
// semantic key.
//
// A guarded action calls ShouldProceed before producing its side effect.
// A true result is a reservation the caller must settle: Record after the
// side effect durably succeeded, or Release after it failed so a later
// transition may try again. A false result means "already done" and is
// never an error.
package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/crewflow/internal/model"
)

// DefaultLease is how long an unsettled reservation blocks other callers
// before it is considered abandoned.
const DefaultLease = 10 * time.Minute

// Guard is the idempotency contract used by action handlers.
type Guard interface {
	ShouldProceed(ctx context.Context, key model.SemanticKey) (bool, error)
	Record(ctx context.Context, key model.SemanticKey) error
	Release(ctx context.Context, key model.SemanticKey) error
}

// KeyStore is the durable key table behind StoreGuard.
type KeyStore interface {
	ReserveKey(ctx context.Context, keyHash, kind, description string, lease time.Duration) (bool, error)
	CompleteKey(ctx context.Context, keyHash, kind, description string) error
	ReleaseKey(ctx context.Context, keyHash string) error
}

// StoreGuard enforces keys with the store's UNIQUE key table, so two
// concurrent evaluations produce exactly one winner.
type StoreGuard struct {
	keys  KeyStore
	lease time.Duration
}

// NewStoreGuard returns a guard over keys. A non-positive lease uses
// DefaultLease.
func NewStoreGuard(keys KeyStore, lease time.Duration) *StoreGuard {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &StoreGuard{keys: keys, lease: lease}
}

func (g *StoreGuard) ShouldProceed(ctx context.Context, key model.SemanticKey) (bool, error) {
	hash, err := key.Hash()
	if err != nil {
		return false, err
	}
	ok, err := g.keys.ReserveKey(ctx, hash, key.Kind, key.String(), g.lease)
	if err != nil {
		return false, err
	}
	if !ok {
		slog.Debug("guard: key already claimed", "key", key.String())
	}
	return ok, nil
}

func (g *StoreGuard) Record(ctx context.Context, key model.SemanticKey) error {
	hash, err := key.Hash()
	if err != nil {
		return err
	}
	return g.keys.CompleteKey(ctx, hash, key.Kind, key.String())
}

func (g *StoreGuard) Release(ctx context.Context, key model.SemanticKey) error {
	hash, err := key.Hash()
	if err != nil {
		return err
	}
	return g.keys.ReleaseKey(ctx, hash)
}
