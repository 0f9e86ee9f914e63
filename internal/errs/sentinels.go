// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Storage-level sentinels shared by every gateway backend.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates optimistic concurrency failure (guard no longer holds).
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., username taken).
	ErrAlreadyExists = errors.New("already exists")
)

// ConstraintError reports which unique constraint rejected a write.
// It matches ErrAlreadyExists via errors.Is.
type ConstraintError struct {
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("already exists (%s)", e.Constraint)
}

// Is makes ConstraintError match ErrAlreadyExists.
func (e *ConstraintError) Is(target error) bool { return target == ErrAlreadyExists }

func (e *ConstraintError) Unwrap() error { return e.Err }

// Constraint returns the violated constraint name, or "" when err carries none.
func Constraint(err error) string {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Constraint
	}
	return ""
}
