package storage

import (
	"time"

	"github.com/google/uuid"
)

// Now returns the current UTC time at microsecond precision, the finest
// resolution every backend round-trips.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// PrepareSession validates s and fills in its ID and timestamps.
func PrepareSession(s *Session) error {
	if s == nil {
		return ValidationError{Field: "session", Reason: "nil"}
	}
	if s.UserID == "" {
		return ValidationError{Field: "user_id", Reason: "required"}
	}

	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = Now()
	}
	if s.LastMessageAt.IsZero() {
		s.LastMessageAt = s.CreatedAt
	}
	s.MessageCount = 0

	return nil
}

// PrepareMessage validates m and fills in its ID and timestamp.
func PrepareMessage(m *Message) error {
	if m == nil {
		return ValidationError{Field: "message", Reason: "nil"}
	}
	if m.SessionID == "" {
		return ValidationError{Field: "session_id", Reason: "required"}
	}
	if !m.Role.Valid() {
		return ValidationError{Field: "role", Reason: "unknown role " + string(m.Role)}
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = Now()
	}

	return nil
}
