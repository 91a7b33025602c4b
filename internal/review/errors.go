package review

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned for an unknown request id, or by GetFeedback when
// the request has no feedback yet.
var ErrNotFound = errors.New("review request not found")

// ErrAlreadyCompleted rejects feedback for a request that is already
// completed; the original feedback stays untouched.
var ErrAlreadyCompleted = errors.New("review request already completed")

// ErrFeedbackTimeout is the distinguishable timeout signal from
// AwaitFeedback. Callers treat it as "escalate or fail the item", never as
// success.
var ErrFeedbackTimeout = errors.New("timed out waiting for review feedback")

// ValidationError rejects malformed feedback input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
