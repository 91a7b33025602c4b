package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no snapshot exists for an entity or version.
var ErrNotFound = errors.New("not found")

// DuplicateContentError flags byte-identical content stored under the same
// entity. It is advisory: the default policy stores the snapshot anyway and
// marks it as a duplicate, preserving the full audit trail.
type DuplicateContentError struct {
	EntityID    string
	ContentHash string
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("duplicate content for entity %s (hash %s)", e.EntityID, e.ContentHash)
}

// StageTransitionError rejects a snapshot whose stage is not a legal
// successor of its parent's stage.
type StageTransitionError struct {
	From Stage
	To   Stage
}

func (e *StageTransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("stage %q is not a valid root stage", e.To)
	}
	return fmt.Sprintf("illegal stage transition %s -> %s", e.From, e.To)
}
