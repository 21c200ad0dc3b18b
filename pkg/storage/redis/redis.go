// Package redis provides a Redis-backed storage driver.
//
// Key layout under the configured prefix (default "aip"):
//
//	<prefix>:session:<id>           hash of session fields
//	<prefix>:session:<id>:messages  list of JSON-encoded messages, oldest first
//	<prefix>:sessions               sorted set of all session IDs by last activity
//	<prefix>:user:<uid>:sessions    sorted set of a user's session IDs by last activity
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/aip-agents/aip/pkg/storage"
)

const defaultPrefix = "aip"

// Driver implements storage.Store on Redis.
type Driver struct {
	client goredis.UniversalClient
	prefix string
}

// NewDriver connects to the Redis deployment described by addr, which is
// either a plain host:port or a redis://, rediss:// or redis-sentinel:// URL.
func NewDriver(ctx context.Context, addr string) (*Driver, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}

	client := goredis.NewUniversalClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Driver{client: client, prefix: defaultPrefix}, nil
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster,
// and sentinel Redis deployments. If no scheme is present, addr is treated as
// a plain host:port string.
func parseRedisURL(addr string) (*goredis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &goredis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &goredis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch u.Scheme {
	case "redis", "rediss":
		dbStr := strings.TrimPrefix(u.Path, "/")
		if dbStr == "" {
			dbStr = q.Get("db")
		}
		if dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("redis: invalid db: %w", err)
			}
			opts.DB = db
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = tlsCfg
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if dbStr := q.Get("db"); dbStr != "" {
			db, err := strconv.Atoi(dbStr)
			if err != nil {
				return nil, fmt.Errorf("redis: invalid db: %w", err)
			}
			opts.DB = db
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = tlsCfg
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}

	return opts, nil
}

func (d *Driver) sessionKey(id string) string  { return d.prefix + ":session:" + id }
func (d *Driver) messagesKey(id string) string { return d.prefix + ":session:" + id + ":messages" }
func (d *Driver) allKey() string               { return d.prefix + ":sessions" }
func (d *Driver) userKey(uid string) string    { return d.prefix + ":user:" + uid + ":sessions" }

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func (d *Driver) CreateSession(ctx context.Context, s *storage.Session) error {
	if err := storage.PrepareSession(s); err != nil {
		return err
	}

	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	key := d.sessionKey(s.ID)
	member := goredis.Z{Score: score(s.LastMessageAt), Member: s.ID}

	// The hash is written in one command inside a WATCHed transaction, so
	// readers see either no session or a complete one.
	err = d.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return storage.ErrSessionExists
		}

		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, key,
				"id", s.ID,
				"user_id", s.UserID,
				"agent_id", s.AgentID,
				"metadata", string(meta),
				"created_at", s.CreatedAt.UnixNano(),
				"last_message_at", s.LastMessageAt.UnixNano(),
				"message_count", 0,
			)
			p.ZAdd(ctx, d.allKey(), member)
			p.ZAdd(ctx, d.userKey(s.UserID), member)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrSessionExists), errors.Is(err, goredis.TxFailedErr):
		// TxFailedErr means another writer touched the key first.
		return storage.ErrSessionExists
	default:
		// EXEC does not roll back the commands that succeeded.
		cleanup := context.WithoutCancel(ctx)
		_, _ = d.client.TxPipelined(cleanup, func(p goredis.Pipeliner) error {
			p.Del(cleanup, key)
			p.ZRem(cleanup, d.allKey(), s.ID)
			p.ZRem(cleanup, d.userKey(s.UserID), s.ID)
			return nil
		})
		return fmt.Errorf("creating session: %w", err)
	}
}

func (d *Driver) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	fields, err := d.client.HGetAll(ctx, d.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, storage.NotFoundError{SessionID: id}
	}

	return decodeSession(fields)
}

func (d *Driver) ListSessions(ctx context.Context, userID string) ([]*storage.Session, error) {
	key := d.allKey()
	if userID != "" {
		key = d.userKey(userID)
	}

	ids, err := d.client.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = d.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, d.sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	result := make([]*storage.Session, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		s, err := decodeSession(fields)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	return result, nil
}

func (d *Driver) AppendMessage(ctx context.Context, m *storage.Message) error {
	if err := storage.PrepareMessage(m); err != nil {
		return err
	}

	sess, err := d.GetSession(ctx, m.SessionID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	last := sess.LastMessageAt
	if m.CreatedAt.After(last) {
		last = m.CreatedAt
	}

	_, err = d.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.RPush(ctx, d.messagesKey(m.SessionID), data)
		p.HIncrBy(ctx, d.sessionKey(m.SessionID), "message_count", 1)
		p.HSet(ctx, d.sessionKey(m.SessionID), "last_message_at", last.UnixNano())
		member := goredis.Z{Score: score(last), Member: m.SessionID}
		p.ZAdd(ctx, d.allKey(), member)
		p.ZAdd(ctx, d.userKey(sess.UserID), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	return nil
}

func (d *Driver) ListMessages(ctx context.Context, sessionID string, limit int) ([]*storage.Message, error) {
	exists, err := d.client.Exists(ctx, d.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("checking session %s: %w", sessionID, err)
	}
	if exists == 0 {
		return nil, storage.NotFoundError{SessionID: sessionID}
	}

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := d.client.LRange(ctx, d.messagesKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	result := make([]*storage.Message, 0, len(raw))
	for _, r := range raw {
		m := &storage.Message{}
		if err := json.Unmarshal([]byte(r), m); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		result = append(result, m)
	}

	return result, nil
}

// Close closes the Redis client.
func (d *Driver) Close() error {
	return d.client.Close()
}

func decodeSession(fields map[string]string) (*storage.Session, error) {
	s := &storage.Session{
		ID:      fields["id"],
		UserID:  fields["user_id"],
		AgentID: fields["agent_id"],
	}

	var err error
	if s.CreatedAt, err = parseNanos(fields["created_at"]); err != nil {
		return nil, err
	}
	if s.LastMessageAt, err = parseNanos(fields["last_message_at"]); err != nil {
		return nil, err
	}
	if s.MessageCount, err = strconv.Atoi(fields["message_count"]); err != nil {
		return nil, fmt.Errorf("decoding message_count: %w", err)
	}

	if meta := fields["metadata"]; meta != "" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &s.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}

	return s, nil
}

func parseNanos(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decoding timestamp: %w", err)
	}
	return time.Unix(0, n).UTC(), nil
}
