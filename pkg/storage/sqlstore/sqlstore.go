// Package sqlstore implements storage.Store on database/sql. The sqlite and
// postgres drivers wrap it with their own connection setup.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aip-agents/aip/pkg/storage"
)

// Dialect selects the SQL flavour used for placeholders and schema.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Store implements storage.Store over a *sql.DB.
type Store struct {
	DB      *sql.DB
	dialect Dialect
}

// New wraps db and creates the schema if it does not exist yet.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{DB: db, dialect: dialect}

	for _, stmt := range schema(dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return s, nil
}

func schema(d Dialect) []string {
	seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == Postgres {
		seq = "seq BIGSERIAL PRIMARY KEY"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at BIGINT NOT NULL,
			last_message_at BIGINT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (user_id, last_message_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			` + seq + `,
			id TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, seq)`,
	}
}

// rebind rewrites '?' placeholders to the dialect's form.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

const sessionColumns = "id, user_id, agent_id, metadata, created_at, last_message_at, message_count"

func (s *Store) CreateSession(ctx context.Context, sess *storage.Session) error {
	if err := storage.PrepareSession(sess); err != nil {
		return err
	}

	meta, err := encodeMetadata(sess.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := s.sessionExists(ctx, tx, sess.ID)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrSessionExists
	}

	_, err = tx.ExecContext(ctx,
		s.rebind("INSERT INTO sessions ("+sessionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)"),
		sess.ID, sess.UserID, sess.AgentID, meta,
		sess.CreatedAt.UnixNano(), sess.LastMessageAt.UnixNano(), 0,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	row := s.DB.QueryRowContext(ctx,
		s.rebind("SELECT "+sessionColumns+" FROM sessions WHERE id = ?"), id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{SessionID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}

	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]*storage.Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY last_message_at DESC, created_at DESC"

	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	result := make([]*storage.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		result = append(result, sess)
	}

	return result, rows.Err()
}

func (s *Store) AppendMessage(ctx context.Context, m *storage.Message) error {
	if err := storage.PrepareMessage(m); err != nil {
		return err
	}

	meta, err := encodeMetadata(m.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exists, err := s.sessionExists(ctx, tx, m.SessionID)
	if err != nil {
		return err
	}
	if !exists {
		return storage.NotFoundError{SessionID: m.SessionID}
	}

	_, err = tx.ExecContext(ctx,
		s.rebind("INSERT INTO messages (id, session_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)"),
		m.ID, m.SessionID, string(m.Role), m.Content, meta, m.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`UPDATE sessions SET
			message_count = message_count + 1,
			last_message_at = CASE WHEN last_message_at < ? THEN ? ELSE last_message_at END
			WHERE id = ?`),
		m.CreatedAt.UnixNano(), m.CreatedAt.UnixNano(), m.SessionID,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	return tx.Commit()
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) ([]*storage.Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	const cols = "seq, id, session_id, role, content, metadata, created_at"
	query := "SELECT " + cols + " FROM messages WHERE session_id = ? ORDER BY seq ASC"
	args := []any{sessionID}
	if limit > 0 {
		query = "SELECT " + cols + " FROM (SELECT " + cols +
			" FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?) recent ORDER BY seq ASC"
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	result := make([]*storage.Message, 0)
	for rows.Next() {
		var (
			seq       int64
			m         storage.Message
			role      string
			meta      string
			createdAt int64
		)
		if err := rows.Scan(&seq, &m.ID, &m.SessionID, &role, &m.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = storage.Role(role)
		m.CreatedAt = fromNanos(createdAt)
		if m.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		result = append(result, &m)
	}

	return result, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) sessionExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, s.rebind("SELECT 1 FROM sessions WHERE id = ?"), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking session %s: %w", id, err)
	}
	return true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*storage.Session, error) {
	var (
		sess          storage.Session
		meta          string
		createdAt     int64
		lastMessageAt int64
	)

	err := row.Scan(&sess.ID, &sess.UserID, &sess.AgentID, &meta, &createdAt, &lastMessageAt, &sess.MessageCount)
	if err != nil {
		return nil, err
	}

	sess.CreatedAt = fromNanos(createdAt)
	sess.LastMessageAt = fromNanos(lastMessageAt)
	if sess.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}

	return &sess, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(s string) (map[string]any, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return m, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
