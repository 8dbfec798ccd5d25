// Package engine implements the workflow execution orchestrator.
//
// The orchestrator is invoked after the caller's own write has committed.
// It reacts to one EntityTransition and never rolls that write back:
//
//  1. The registry snapshot yields the active definitions for the
//     (object, event) pair, in priority order.
//  2. Each definition's trigger conditions gate the whole definition.
//  3. Actions run in ascending actionOrder, one at a time. Each has its
//     own optional condition, a per-action timeout and panic recovery.
//  4. A failed action never aborts its siblings or later definitions.
//  5. Every attempted action is audited without waiting on the result.
//
// Only a malformed invocation (ValidationError) is returned as an error
// for business reasons. Everything else lands in the ExecutionResults.
//
// Actions with delayMinutes are persisted as pending actions and run
// later by the Sweeper, which re-enters the same handler path.
package engine
