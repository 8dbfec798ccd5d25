// Package action implements the handlers that turn a matched workflow
// action into a side effect.
//
// There is one Handler per model.ActionType, held in a Registry keyed by
// type so new action types never touch the orchestrator. Handlers reach
// external systems only through the narrow collaborator interfaces in
// collaborators.go (Messenger, Signer, TaskRepository, ...), which makes
// each one testable with fakes.
//
// A handler returns an outcome for success and skips, and a classified
// *Error for failure. It never panics on bad input: templates that do not
// resolve render empty, and required values that are missing become
// config failures.
//
// Handlers producing unrepeatable side effects (SEND_AGREEMENT,
// CREATE_COMMISSION) reserve a semantic key with the guard first and
// report SKIPPED "duplicate" when it is already taken. Tasks, messages,
// field writes and webhooks are not guarded.
package action
