package chat

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/agent"
	"github.com/aip-agents/aip/pkg/eventstream"
	"github.com/aip-agents/aip/pkg/sse"
	"github.com/aip-agents/aip/pkg/storage"
)

const (
	// DefaultHistoryLimit is the number of messages History returns when no
	// limit is given.
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps the limit a caller may ask for.
	MaxHistoryLimit = 500

	// AnonymousUser owns sessions created without a user ID.
	AnonymousUser = "anonymous"
)

// ErrEmptyMessage is returned when a turn carries no text.
var ErrEmptyMessage = errors.New("message must not be empty")

// Streamer opens a streamed agent reply. *agent.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, req agent.Request, onChunk func(sse.Chunk), opts ...sse.Option) (sse.Summary, error)
}

// TurnRequest starts one user turn.
type TurnRequest struct {
	// SessionID continues an existing session. Empty starts a new one.
	SessionID string
	UserID    string
	AgentID   string
	Message   string
	Context   map[string]any
}

// Service runs conversation turns against an agent and persists them.
type Service struct {
	store     storage.Store
	streamer  Streamer
	publisher eventstream.Publisher
	logger    *zap.Logger
}

// NewService creates a Service. streamer may be nil for callers that only
// use BeginTurn, CompleteTurn and History.
func NewService(store storage.Store, streamer Streamer, publisher eventstream.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		streamer:  streamer,
		publisher: publisher,
		logger:    logger,
	}
}

// StartSession creates an empty session.
func (s *Service) StartSession(ctx context.Context, userID, agentID string, metadata map[string]any) (*storage.Session, error) {
	if userID == "" {
		userID = AnonymousUser
	}

	session := &storage.Session{UserID: userID, AgentID: agentID, Metadata: metadata}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("user_id", userID),
	)

	return session, nil
}

// BeginTurn validates req, resolves or creates its session and persists the
// user message.
func (s *Service) BeginTurn(ctx context.Context, req TurnRequest) (*storage.Session, *storage.Message, error) {
	if req.Message == "" {
		return nil, nil, ErrEmptyMessage
	}

	var (
		session *storage.Session
		err     error
	)
	if req.SessionID == "" {
		session, err = s.StartSession(ctx, req.UserID, req.AgentID, nil)
	} else {
		session, err = s.store.GetSession(ctx, req.SessionID)
	}
	if err != nil {
		return nil, nil, err
	}

	msg := &storage.Message{
		SessionID: session.ID,
		Role:      storage.RoleUser,
		Content:   req.Message,
		Metadata:  req.Context,
	}
	if err := s.persist(ctx, session, msg); err != nil {
		return nil, nil, err
	}

	return session, msg, nil
}

// CompleteTurn persists the agent's reply to session.
func (s *Service) CompleteTurn(ctx context.Context, session *storage.Session, text string, metadata map[string]any) (*storage.Message, error) {
	msg := &storage.Message{
		SessionID: session.ID,
		Role:      storage.RoleAssistant,
		Content:   text,
		Metadata:  metadata,
	}
	if err := s.persist(ctx, session, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Send runs a full turn: it stores the user's text, streams the agent reply
// forwarding each delta to onDelta, and stores the reply once complete. On
// any failure the partial reply is discarded and nothing is stored for the
// assistant; the user message stays.
func (s *Service) Send(ctx context.Context, req TurnRequest, onDelta func(string)) (*storage.Message, error) {
	if s.streamer == nil {
		return nil, errors.New("chat service has no agent streamer")
	}

	session, _, err := s.BeginTurn(ctx, req)
	if err != nil {
		return nil, err
	}

	acc := NewAccumulator(onDelta)
	summary, err := s.streamer.Stream(ctx, agent.Request{
		Message:   req.Message,
		SessionID: session.ID,
		Context:   req.Context,
	}, acc.OnChunk, sse.WithLogger(s.logger))

	text, err := acc.Result(summary, err)
	if err != nil {
		s.logger.Warn("agent turn failed",
			zap.String("session_id", session.ID),
			zap.Int("chunks", summary.Chunks),
			zap.Error(err),
		)
		return nil, err
	}

	return s.CompleteTurn(ctx, session, text, acc.Metadata())
}

// Session returns one session.
func (s *Service) Session(ctx context.Context, sessionID string) (*storage.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// Sessions lists the sessions of userID, most recently active first. An
// empty userID lists every session.
func (s *Service) Sessions(ctx context.Context, userID string) ([]*storage.Session, error) {
	return s.store.ListSessions(ctx, userID)
}

// History returns the newest limit messages of a session, oldest first.
// A limit <= 0 means DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]*storage.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.store.ListMessages(ctx, sessionID, limit)
}

func (s *Service) persist(ctx context.Context, session *storage.Session, msg *storage.Message) error {
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("storing %s message: %w", msg.Role, err)
	}

	if s.publisher == nil {
		return nil
	}

	// Publishing is best effort; the message is already durable.
	if err := s.publisher.PublishMessage(ctx, eventstream.NewMessagePersistedEvent(session, msg)); err != nil {
		s.logger.Warn("failed to publish message event",
			zap.String("session_id", session.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}

	return nil
}
