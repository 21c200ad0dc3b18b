// Package storage defines the chat session and message model shared by the
// relay, the sessions API and the CLI, and the Store interface every backend
// implements.
package storage

import (
	"context"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

// Session is one conversation between a user and an agent.
type Session struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	AgentID       string         `json:"agent_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastMessageAt time.Time      `json:"last_message_at"`
	MessageCount  int            `json:"message_count"`
}

// Message is a single turn within a session.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store persists sessions and their messages.
type Store interface {
	// CreateSession stores a new session. Empty ID and zero timestamps are
	// filled in and written back to s.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns the session with the given ID or a NotFoundError.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns the sessions owned by userID, most recently active
	// first. An empty userID lists every session.
	ListSessions(ctx context.Context, userID string) ([]*Session, error)

	// AppendMessage stores m at the end of its session, bumping the session's
	// MessageCount and LastMessageAt.
	AppendMessage(ctx context.Context, m *Message) error

	// ListMessages returns the newest limit messages of a session in
	// chronological order. A limit <= 0 returns every message.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error)

	// Close releases any resources held by the store.
	Close() error
}
