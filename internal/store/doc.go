// Package store provides SQLite-backed storage for the crewflow engine.
//
// Tables:
//   - workflow_definitions / workflow_actions: authored configuration,
//     written only by the loader, read by the registry
//   - audit_log: append-only record of every action attempt
//   - idempotency_keys: guard reservations keyed by semantic key hash
//   - tasks, commissions, field_writes: records produced by actions
//   - pending_actions: delayed actions awaiting the sweeper
//
// # Uniqueness
//
// Duplicate side effects are prevented by constraints, not by
// lookup-then-insert:
//   - idempotency_keys PRIMARY KEY(key_hash)
//   - commissions partial UNIQUE(owner, type, source) WHERE ACTIVE
//   - pending_actions UNIQUE(definition, action, entity, transition_hash)
//
// Inserts use ON CONFLICT and inspect RowsAffected, so the loser of a
// race observes "already exists" rather than an error.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
