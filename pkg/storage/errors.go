package storage

import (
	"errors"
	"fmt"
)

// ErrSessionExists is returned when creating a session whose ID is taken.
var ErrSessionExists = errors.New("session already exists")

// NotFoundError is returned when a session doesn't exist in the store.
type NotFoundError struct {
	SessionID string
}

func (e NotFoundError) Error() string {
	if e.SessionID == "" {
		return "session not found"
	}

	return "session not found: " + e.SessionID
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// ValidationError describes a record rejected before it reached the backend.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
