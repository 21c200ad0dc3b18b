package api

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/chat"
	"github.com/aip-agents/aip/pkg/storage"
)

// CreateSessionRequest is the body of POST /chat/sessions.
type CreateSessionRequest struct {
	UserID   string         `json:"user_id"`
	AgentID  string         `json:"agent_id,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SessionsResponse lists sessions, most recently active first.
type SessionsResponse struct {
	Sessions []*storage.Session `json:"sessions"`
	Count    int                `json:"count"`
}

// MessagesResponse contains the message history of a session.
type MessagesResponse struct {
	SessionID string `json:"session_id"`
	// Messages in chronological order (oldest first), at most Limit of them
	Messages []*storage.Message `json:"messages"`
	Limit    int                `json:"limit"`
}

// handlePing returns a simple liveness response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

func (s *Server) handleCreateSession(c *fiber.Ctx) error {
	var req CreateSessionRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: "invalid request body"})
		}
	}

	session, err := s.service.StartSession(c.Context(), req.UserID, req.AgentID, req.Metadata)
	if err != nil {
		return s.storeError(c, err, "failed to create session")
	}

	return c.Status(fiber.StatusCreated).JSON(session)
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	sessions, err := s.service.Sessions(c.Context(), c.Query("user_id"))
	if err != nil {
		return s.storeError(c, err, "failed to list sessions")
	}
	if sessions == nil {
		sessions = []*storage.Session{}
	}

	return c.JSON(SessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (s *Server) handleGetSession(c *fiber.Ctx) error {
	session, err := s.service.Session(c.Context(), c.Params("id"))
	if err != nil {
		return s.storeError(c, err, "failed to get session")
	}

	return c.JSON(session)
}

// handleListMessages returns the newest ?limit= messages of a session in
// chronological order.
func (s *Server) handleListMessages(c *fiber.Ctx) error {
	limit := chat.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > chat.MaxHistoryLimit {
			return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{
				Error: "limit must be between 1 and " + strconv.Itoa(chat.MaxHistoryLimit),
			})
		}
		limit = n
	}

	sessionID := c.Params("id")
	msgs, err := s.service.History(c.Context(), sessionID, limit)
	if err != nil {
		return s.storeError(c, err, "failed to list messages")
	}
	if msgs == nil {
		msgs = []*storage.Message{}
	}

	return c.JSON(MessagesResponse{SessionID: sessionID, Messages: msgs, Limit: limit})
}

func (s *Server) storeError(c *fiber.Ctx, err error, msg string) error {
	if storage.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(chat.ErrorResponse{Error: "session not found"})
	}

	var validation storage.ValidationError
	if errors.As(err, &validation) {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: validation.Error()})
	}

	s.logger.Error(msg, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: msg})
}
