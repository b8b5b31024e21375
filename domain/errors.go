package domain

import (
	"errors"
	"fmt"
)

// ErrConcurrencyConflict indicates that the underlying storage rejected a
// write because the entity changed since it was read.
var ErrConcurrencyConflict = errors.New("concurrency conflict")

// ValidationError reports bad or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an unknown task identifier.
type NotFoundError struct {
	ID int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("task %d not found", e.ID)
}

// UnauthorizedError reports a task that exists but belongs to someone else.
type UnauthorizedError struct {
	ID int64
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("task %d is not owned by caller", e.ID)
}

// ConflictError reports a username that is already registered.
type ConflictError struct {
	Username string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("username %q already exists", e.Username)
}
