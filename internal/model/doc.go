// Package model defines the data types of the crewflow workflow engine.
//
// The types fall into three groups:
//   - Authoring: WorkflowDefinition, WorkflowAction, ConditionGroup and the
//     per-actionType ActionConfig variants. Written only by the loader tool.
//   - Input: EntityTransition, the before/after diff of one business entity.
//   - Output: ActionOutcome, ExecutionResult and AuditLogEntry.
//
// ActionConfig is a closed sum type. Each variant decodes and validates its
// own payload, so handlers never check for field presence at dispatch time.
//
// Semantic keys used by the idempotency guard are hashed over RFC 8785
// canonical JSON (see canonical.go) with SHA-256 and domain separation.
package model
