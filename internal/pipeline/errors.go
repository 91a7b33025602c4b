package pipeline

import (
	"errors"
	"fmt"
)

// CollaboratorError wraps a failure from an external stage collaborator.
// Transient failures (rate limits, network blips) are retried with backoff;
// everything else fails the item immediately.
type CollaboratorError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *CollaboratorError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, kind, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(op string, err error) *CollaboratorError {
	return &CollaboratorError{Op: op, Transient: true, Err: err}
}

// Fatal marks err as non-retryable.
func Fatal(op string, err error) *CollaboratorError {
	return &CollaboratorError{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is a retryable collaborator failure.
func IsTransient(err error) bool {
	var cerr *CollaboratorError
	return errors.As(err, &cerr) && cerr.Transient
}
