package api

import (
	"net"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/chat"
)

// Server is the API server for browsing aip sessions and their messages.
type Server struct {
	config  Config
	service *chat.Service
	logger  *zap.Logger
	app     *fiber.App
}

// NewServer creates a new API server.
// The service is injected to allow sharing its store with the relay when both
// run in one process.
func NewServer(config Config, service *chat.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:  config,
		service: service,
		logger:  logger,
		app:     app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/health", s.handleHealth)
	app.Post("/chat/sessions", s.handleCreateSession)
	app.Get("/chat/sessions", s.handleListSessions)
	app.Get("/chat/sessions/:id", s.handleGetSession)
	app.Get("/chat/sessions/:id/messages", s.handleListMessages)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		zap.String("listen", s.config.ListenAddr),
	)
	return s.app.Listen(s.config.ListenAddr)
}

// RunWithListener starts the API server using the provided listener.
func (s *Server) RunWithListener(listener net.Listener) error {
	s.logger.Info("starting API server",
		zap.String("listen", listener.Addr().String()),
	)
	return s.app.Listener(listener)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
