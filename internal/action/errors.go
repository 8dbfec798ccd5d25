package action

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/crewflow/internal/model"
)

// Error is a classified handler failure.
type Error struct {
	Kind model.ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Configf reports a problem with the action's config or the data it
// points at (missing recipient, unresolvable target record).
func Configf(format string, args ...any) error {
	return &Error{Kind: model.ErrorConfig, Op: fmt.Sprintf(format, args...)}
}

// External wraps a failure of a downstream system.
func External(op string, err error) error {
	return &Error{Kind: model.ErrorExternal, Op: op, Err: err}
}

// Execution wraps a local failure (store write, encoding).
func Execution(op string, err error) error {
	return &Error{Kind: model.ErrorExecution, Op: op, Err: err}
}

// KindOf classifies err. Deadline errors are timeouts regardless of how
// they were wrapped; unclassified errors are execution failures.
func KindOf(err error) model.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrorTimeout
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return model.ErrorExecution
}

// IsExternal reports whether err is a downstream failure.
func IsExternal(err error) bool {
	return KindOf(err) == model.ErrorExternal
}

// FailedOutcome converts err into a FAILED outcome.
func FailedOutcome(err error) model.ActionOutcome {
	return model.Failed(KindOf(err), err.Error())
}
