// Package agent is the HTTP client for the agent service: the non-streaming
// run endpoint, the SSE chat stream and the health check.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aip-agents/aip/pkg/sse"
)

const (
	// DefaultBaseURL is the default agent service URL.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout bounds a whole agent exchange, stream included.
	DefaultTimeout = 5 * time.Minute

	// maxErrorBody caps how much of a non-2xx body is kept in a StatusError.
	maxErrorBody = 64 * 1024
)

// ErrEmptyMessage is returned before any I/O when a request has no message text.
var ErrEmptyMessage = errors.New("message must not be empty")

// Request is the body sent to the agent for both run and stream calls.
type Request struct {
	Message   string         `json:"message"`
	SessionID string         `json:"session_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Stream    bool           `json:"stream,omitempty"`

	// Header holds extra HTTP headers sent with the request, e.g. ones the
	// relay forwards from its client.
	Header http.Header `json:"-"`
}

// Response is the reply of the non-streaming run endpoint.
type Response struct {
	Response  string         `json:"response"`
	SessionID string         `json:"session_id"`
	MessageID string         `json:"message_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StatusError is returned when the agent answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("agent returned status %d", e.Code)
	}
	return fmt.Sprintf("agent returned status %d: %s", e.Code, e.Body)
}

// Config holds configuration for the agent client.
type Config struct {
	// BaseURL is the agent service URL (e.g., "http://localhost:8000").
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Timeout bounds each request. Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// HTTPClient overrides the client used for requests. Its Timeout is
	// left untouched.
	HTTPClient *http.Client
}

// Client talks to a single agent service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new agent client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// BaseURL returns the agent service URL the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Run sends req to the non-streaming run endpoint.
func (c *Client) Run(ctx context.Context, req Request) (*Response, error) {
	req.Stream = false
	resp, err := c.post(ctx, "/run", req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding run response: %w", err)
	}

	return &out, nil
}

// Stream sends req to the streaming chat endpoint and decodes the SSE reply,
// calling onChunk for each chunk. A non-2xx status is returned as a
// *StatusError without invoking the decoder.
func (c *Client) Stream(ctx context.Context, req Request, onChunk func(sse.Chunk), opts ...sse.Option) (sse.Summary, error) {
	resp, err := c.OpenStream(ctx, req)
	if err != nil {
		return sse.Summary{}, err
	}
	defer resp.Body.Close()

	opts = append([]sse.Option{sse.WithLogger(c.logger)}, opts...)
	return sse.Decode(ctx, resp.Body, onChunk, opts...)
}

// OpenStream sends req to the streaming chat endpoint and returns the 2xx
// response with its body unread. Callers must close the body.
func (c *Client) OpenStream(ctx context.Context, req Request) (*http.Response, error) {
	req.Stream = true
	return c.post(ctx, "/chat/stream", req, sse.ContentType)
}

// Health checks that the agent service reports itself healthy.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("creating health request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending health request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}
	if body.Status != "healthy" {
		return fmt.Errorf("agent reported status %q", body.Status)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, req Request, accept string) (*http.Response, error) {
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)

	c.logger.Debug("sending agent request",
		zap.String("path", path),
		zap.String("session_id", req.SessionID),
		zap.Int("message_len", len(req.Message)),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp, nil
}

// checkStatus turns a non-2xx response into a *StatusError carrying its body.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
