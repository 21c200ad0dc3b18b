package eventstream

import (
	"time"

	"github.com/google/uuid"

	"github.com/aip-agents/aip/pkg/storage"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeMessagePersisted is emitted after a chat message is persisted.
	EventTypeMessagePersisted = "aip.message.persisted"
)

// MessagePersistedEvent is a transport-neutral event payload for a persisted message.
type MessagePersistedEvent struct {
	SchemaVersion int             `json:"schema_version"`
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	EmittedAt     time.Time       `json:"emitted_at"`
	SessionID     string          `json:"session_id"`
	Source        EventSource     `json:"source"`
	Message       storage.Message `json:"message"`
}

// EventSource identifies who the message belongs to.
type EventSource struct {
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// NewMessagePersistedEvent builds the event for msg within session.
func NewMessagePersistedEvent(session *storage.Session, msg *storage.Message) *MessagePersistedEvent {
	ev := &MessagePersistedEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     EventTypeMessagePersisted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		SessionID:     msg.SessionID,
		Message:       *msg,
	}

	if session != nil {
		ev.Source = EventSource{UserID: session.UserID, AgentID: session.AgentID}
	}

	return ev
}
