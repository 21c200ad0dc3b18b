package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	sessionFile = "session.json"
)

// ActiveSession is the chat session the CLI resumes by default.
type ActiveSession struct {
	// SessionID is the server-side session identifier.
	SessionID string `json:"session_id"`

	// Target is the relay or agent URL the session was created against.
	// A session is only resumed against the same target.
	Target string `json:"target"`

	UpdatedAt time.Time `json:"updated_at"`
}

// LoadActiveSession reads .aip/session.json.
// Returns nil, nil if no session has been recorded.
func (m *Manager) LoadActiveSession(overrideDir string) (*ActiveSession, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, sessionFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading active session: %w", err)
	}

	state := &ActiveSession{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parsing active session: %w", err)
	}

	return state, nil
}

// SaveActiveSession persists state to .aip/session.json.
func (m *Manager) SaveActiveSession(state *ActiveSession, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil active session")
	}
	if state.SessionID == "" {
		return errors.New("cannot save active session without an id")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling active session: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, sessionFile), data, 0o600); err != nil {
		return fmt.Errorf("writing active session: %w", err)
	}

	return nil
}

// ClearActiveSession removes the session record so the next chat starts fresh.
// Returns nil if nothing was recorded.
func (m *Manager) ClearActiveSession(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(dir, sessionFile)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing active session: %w", err)
	}

	return nil
}
