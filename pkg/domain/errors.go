package domain

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// ErrConflictNotFound is returned when a conflict id is unknown or already resolved.
var ErrConflictNotFound = &NotFoundError{Kind: "conflict"}

// ErrStrategyNotFound is returned when a resolution strategy name is not registered.
var ErrStrategyNotFound = &NotFoundError{Kind: "strategy"}

// ErrMutationNotFound is returned when a mutation id is not queued.
var ErrMutationNotFound = &NotFoundError{Kind: "mutation"}

// ErrGraphNotFound is returned when a graph id cannot be found in the store.
var ErrGraphNotFound = &NotFoundError{Kind: "graph"}

// ErrCircularComputation is returned when a computed signal reads itself while recomputing.
var ErrCircularComputation = errors.New("circular computation")

// ValidationError reports malformed input. Nothing is applied when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an unknown id of a given kind (conflict, strategy, node...).
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// Is matches ErrNotFound, and any NotFoundError sentinel of the same kind.
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.ID == "" || t.ID == e.ID)
}

// NotFound builds a NotFoundError.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
