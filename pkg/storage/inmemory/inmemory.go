// Package inmemory provides a map-backed storage driver for tests and
// single-process deployments.
package inmemory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/aip-agents/aip/pkg/storage"
)

// Driver implements storage.Store using in-memory maps.
type Driver struct {
	// mu is a read write sync mutex guarding sessions and messages
	mu sync.RWMutex

	sessions map[string]*storage.Session

	// messages holds each session's messages in append order
	messages map[string][]*storage.Message
}

// NewDriver creates a new in-memory store.
func NewDriver() *Driver {
	return &Driver{
		sessions: make(map[string]*storage.Session),
		messages: make(map[string][]*storage.Message),
	}
}

func (d *Driver) CreateSession(_ context.Context, s *storage.Session) error {
	if err := storage.PrepareSession(s); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[s.ID]; ok {
		return storage.ErrSessionExists
	}

	d.sessions[s.ID] = copySession(s)
	return nil
}

func (d *Driver) GetSession(_ context.Context, id string) (*storage.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.sessions[id]
	if !ok {
		return nil, storage.NotFoundError{SessionID: id}
	}

	return copySession(s), nil
}

func (d *Driver) ListSessions(_ context.Context, userID string) ([]*storage.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*storage.Session, 0)
	for _, s := range d.sessions {
		if userID == "" || s.UserID == userID {
			result = append(result, copySession(s))
		}
	}

	slices.SortFunc(result, func(a, b *storage.Session) int {
		if c := b.LastMessageAt.Compare(a.LastMessageAt); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	return result, nil
}

func (d *Driver) AppendMessage(_ context.Context, m *storage.Message) error {
	if err := storage.PrepareMessage(m); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[m.SessionID]
	if !ok {
		return storage.NotFoundError{SessionID: m.SessionID}
	}

	stored := *m
	stored.Metadata = maps.Clone(m.Metadata)
	d.messages[m.SessionID] = append(d.messages[m.SessionID], &stored)

	s.MessageCount++
	if m.CreatedAt.After(s.LastMessageAt) {
		s.LastMessageAt = m.CreatedAt
	}

	return nil
}

func (d *Driver) ListMessages(_ context.Context, sessionID string, limit int) ([]*storage.Message, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if _, ok := d.sessions[sessionID]; !ok {
		return nil, storage.NotFoundError{SessionID: sessionID}
	}

	msgs := d.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	result := make([]*storage.Message, 0, len(msgs))
	for _, m := range msgs {
		c := *m
		c.Metadata = maps.Clone(m.Metadata)
		result = append(result, &c)
	}

	return result, nil
}

// Count returns the number of sessions in the in-memory store.
func (d *Driver) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// Close is a no-op for the in-memory store.
func (d *Driver) Close() error {
	return nil
}

func copySession(s *storage.Session) *storage.Session {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}
