// Package relay provides the chat relay: an HTTP server between chat clients
// and the agent service that forwards agent streams verbatim while decoding
// them to persist completed conversation turns.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/agent"
	"github.com/aip-agents/aip/pkg/chat"
	"github.com/aip-agents/aip/pkg/sse"
	"github.com/aip-agents/aip/pkg/storage"
	"github.com/aip-agents/aip/relay/header"
	"github.com/aip-agents/aip/relay/metrics"
	"github.com/aip-agents/aip/relay/worker"
)

// streamFailureMessage is sent to the client as an error chunk when the agent
// stream breaks before its terminal chunk.
const streamFailureMessage = "agent stream interrupted"

// Relay forwards chat turns to the agent service. Streams are passed through
// to the client byte for byte; a copy of the bytes is decoded so the reply can
// be persisted once the agent signals completion.
type Relay struct {
	config        Config
	service       *chat.Service
	client        *agent.Client
	workerPool    *worker.Pool
	logger        *zap.Logger
	server        *fiber.App
	registry      *prometheus.Registry
	headerHandler *header.Handler
}

// New creates a new Relay. The service is shared with other components such
// as the sessions API when both run in one process.
func New(config Config, service *chat.Service, client *agent.Client, logger *zap.Logger) (*Relay, error) {
	if service == nil {
		return nil, errors.New("chat service is required")
	}
	if client == nil {
		return nil, errors.New("agent client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	wp, err := worker.NewPool(&worker.Config{
		Persister:  service,
		NumWorkers: config.Workers,
		QueueSize:  config.QueueSize,
		OnResult: func(_ worker.Job, err error) {
			if err != nil {
				metrics.PersistJob("failed")
				return
			}
			metrics.PersistJob("stored")
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Enable streaming
		StreamRequestBody: true,
	})

	r := &Relay{
		config:        config,
		service:       service,
		client:        client,
		workerPool:    wp,
		logger:        logger,
		server:        app,
		registry:      registry,
		headerHandler: header.NewHandler(),
	}

	app.Get("/ping", r.handlePing)
	app.Get("/health", r.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	app.Post("/chat", r.handleChat)
	app.Post("/chat/stream", r.handleChatStream)

	return r, nil
}

// Run starts the relay server on the configured listening address.
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		zap.String("listen", r.config.ListenAddr),
		zap.String("agent", r.client.BaseURL()),
	)

	return r.server.Listen(r.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (r *Relay) RunWithListener(listener net.Listener) error {
	r.logger.Info("starting relay server",
		zap.String("listen", listener.Addr().String()),
		zap.String("agent", r.client.BaseURL()),
	)

	return r.server.Listener(listener)
}

// Close stops accepting requests and waits for queued replies to be stored.
func (r *Relay) Close() error {
	err := r.server.Shutdown()
	r.workerPool.Close()
	return err
}

func (r *Relay) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleHealth reports the relay healthy only while the agent is.
func (r *Relay) handleHealth(c *fiber.Ctx) error {
	if err := r.client.Health(c.Context()); err != nil {
		r.logger.Warn("agent health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"agent":  r.client.BaseURL(),
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status": "healthy",
		"agent":  r.client.BaseURL(),
	})
}

// handleChat runs a non-streaming turn and stores both messages before
// replying.
func (r *Relay) handleChat(c *fiber.Ctx) error {
	payload, err := r.parsePayload(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: err.Error()})
	}

	ctx := c.Context()
	session, _, err := r.service.BeginTurn(ctx, payload.TurnRequest())
	if err != nil {
		return r.turnError(c, err)
	}
	c.Set(header.SessionIDHeader, session.ID)

	resp, err := r.client.Run(ctx, agent.Request{
		Message:   payload.Message,
		SessionID: session.ID,
		Context:   payload.Context,
		Header:    r.headerHandler.UpstreamRequestHeaders(c),
	})
	if err != nil {
		return r.upstreamError(c, err)
	}

	msg, err := r.service.CompleteTurn(ctx, session, resp.Response, resp.Metadata)
	if err != nil {
		r.logger.Error("failed to store agent reply", zap.String("session_id", session.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: "failed to store reply"})
	}

	return c.JSON(chat.TurnResponse{
		Response:  resp.Response,
		SessionID: session.ID,
		MessageID: msg.ID,
		Metadata:  resp.Metadata,
	})
}

// handleChatStream stores the user message, opens the agent stream and
// relays it to the client.
func (r *Relay) handleChatStream(c *fiber.Ctx) error {
	startTime := time.Now()

	payload, err := r.parsePayload(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: err.Error()})
	}

	session, _, err := r.service.BeginTurn(c.Context(), payload.TurnRequest())
	if err != nil {
		return r.turnError(c, err)
	}
	c.Set(header.SessionIDHeader, session.ID)

	// Use context.Background() instead of c.Context() because fasthttp recycles
	// its RequestCtx after the handler returns, but the stream is relayed from
	// a separate goroutine and needs the agent connection to remain open.
	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if r.config.StreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.config.StreamTimeout)
	}

	resp, err := r.client.OpenStream(ctx, agent.Request{
		Message:   payload.Message,
		SessionID: session.ID,
		Context:   payload.Context,
		Header:    r.headerHandler.UpstreamRequestHeaders(c),
	})
	if err != nil {
		cancel()
		outcome := metrics.OutcomeUpstreamUnreachable
		var statusErr *agent.StatusError
		if errors.As(err, &statusErr) {
			outcome = metrics.OutcomeUpstreamStatus
		}
		metrics.StreamEnd(outcome, 0, 0, time.Since(startTime))
		return r.upstreamError(c, err)
	}

	r.headerHandler.SetClientResponseHeaders(c, resp)
	if resp.Header.Get("Content-Type") == "" {
		c.Set(fiber.HeaderContentType, sse.ContentType)
	}
	c.Set(fiber.HeaderCacheControl, "no-cache")

	// io.Pipe gives per-chunk backpressure: pw.Write blocks until fasthttp's
	// chunked body writer has consumed the bytes and flushed them.
	pr, pw := io.Pipe()
	go r.relayStream(ctx, cancel, resp, pw, session, startTime)

	// Unknown size (-1) triggers chunked transfer encoding in fasthttp.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

// relayStream copies the agent body into pw while decoding the same bytes.
// A write failure on pw means the client went away and surfaces from the
// decoder as an aborted decode.
func (r *Relay) relayStream(ctx context.Context, cancel context.CancelFunc, resp *http.Response, pw *io.PipeWriter, session *storage.Session, startTime time.Time) {
	defer cancel()
	defer resp.Body.Close()
	defer pw.Close()

	client := &frameTracker{w: pw}
	acc := chat.NewAccumulator(nil)
	summary, decodeErr := sse.Decode(ctx, io.TeeReader(resp.Body, client), acc.OnChunk, sse.WithLogger(r.logger))
	if r.timedOut(ctx, decodeErr) {
		decodeErr = &sse.DecodeError{
			Kind: sse.KindSource,
			Err:  fmt.Errorf("no terminal chunk within %s: %w", r.config.StreamTimeout, ctx.Err()),
		}
	}
	text, err := acc.Result(summary, decodeErr)

	outcome := r.streamOutcome(err)
	metrics.StreamEnd(outcome, summary.Chunks, summary.Dropped, time.Since(startTime))

	fields := []zap.Field{
		zap.String("session_id", session.ID),
		zap.String("outcome", outcome),
		zap.Int("chunks", summary.Chunks),
		zap.Int("dropped", summary.Dropped),
		zap.Duration("duration", time.Since(startTime)),
	}

	switch outcome {
	case metrics.OutcomeCompleted:
		r.logger.Debug("stream complete", fields...)
		ok := r.workerPool.Enqueue(worker.Job{
			Session:   session,
			Text:      text,
			Metadata:  acc.Metadata(),
			StartedAt: startTime,
		})
		if !ok {
			metrics.PersistJob("dropped")
		}

	case metrics.OutcomeAborted:
		r.logger.Info("stream aborted by client", fields...)

	case metrics.OutcomeSourceError:
		r.logger.Error("agent stream failed", append(fields, zap.Error(err))...)
		// The client never saw a terminal chunk; close its stream with one.
		// A frame cut off by the failure is terminated first so the error
		// chunk is not glued onto it.
		if !client.atBoundary() {
			_, _ = io.WriteString(pw, "\n\n")
		}
		if werr := sse.WriteChunk(pw, sse.ErrorChunk(streamFailureMessage)); werr != nil {
			r.logger.Debug("could not write error chunk", zap.Error(werr))
		}

	default:
		r.logger.Warn("stream ended without a reply", append(fields, zap.Error(err))...)
	}
}

// frameTracker remembers whether the bytes written so far end on a frame
// boundary.
type frameTracker struct {
	w    io.Writer
	tail [2]byte
	n    int
}

func (t *frameTracker) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	switch {
	case n >= 2:
		copy(t.tail[:], p[n-2:n])
	case n == 1:
		t.tail[0], t.tail[1] = t.tail[1], p[0]
	}
	t.n += n
	return n, err
}

func (t *frameTracker) atBoundary() bool {
	return t.n == 0 || (t.n >= 2 && t.tail == [2]byte{'\n', '\n'})
}

// timedOut reports whether decodeErr was caused by the relay's own stream
// deadline rather than by the client going away. The agent is at fault then,
// and the client still gets an error chunk.
func (r *Relay) timedOut(ctx context.Context, decodeErr error) bool {
	return errors.Is(decodeErr, sse.ErrAborted) &&
		!errors.Is(decodeErr, io.ErrClosedPipe) &&
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func (r *Relay) streamOutcome(err error) string {
	var agentErr *chat.AgentError
	switch {
	case err == nil:
		return metrics.OutcomeCompleted
	case errors.Is(err, sse.ErrAborted):
		return metrics.OutcomeAborted
	case errors.Is(err, chat.ErrIncomplete):
		return metrics.OutcomeIncomplete
	case errors.As(err, &agentErr):
		return metrics.OutcomeAgentError
	default:
		return metrics.OutcomeSourceError
	}
}

func (r *Relay) parsePayload(c *fiber.Ctx) (chat.TurnPayload, error) {
	var payload chat.TurnPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		return payload, fmt.Errorf("invalid request body: %w", err)
	}
	// Header values alias the request buffer, which fasthttp reuses.
	if payload.UserID == "" {
		payload.UserID = utils.CopyString(c.Get(header.UserIDHeader))
	}
	if payload.SessionID == "" {
		payload.SessionID = utils.CopyString(c.Get(header.SessionIDHeader))
	}
	return payload, nil
}

// turnError maps a BeginTurn failure to a client response.
func (r *Relay) turnError(c *fiber.Ctx, err error) error {
	var validation storage.ValidationError
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.As(err, &validation):
		return c.Status(fiber.StatusBadRequest).JSON(chat.ErrorResponse{Error: err.Error()})
	case storage.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(chat.ErrorResponse{Error: "session not found"})
	default:
		r.logger.Error("failed to start turn", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(chat.ErrorResponse{Error: "failed to store message"})
	}
}

// upstreamError maps an agent request failure to a client response. Agent
// status errors pass through with the agent's status and body.
func (r *Relay) upstreamError(c *fiber.Ctx, err error) error {
	var statusErr *agent.StatusError
	if errors.As(err, &statusErr) {
		r.logger.Error("agent returned error",
			zap.Int("status", statusErr.Code),
			zap.String("body", statusErr.Body),
		)
		return c.Status(statusErr.Code).SendString(statusErr.Body)
	}

	r.logger.Error("agent request failed", zap.Error(err))
	return c.Status(fiber.StatusBadGateway).JSON(chat.ErrorResponse{Error: "agent request failed"})
}
