// Package header provides header filtering for the aip relay.
//
// The relay sits between a chat client and the agent service like so:
//
//	Client <--> Relay <--> Agent
//
// and each leg negotiates hops, encoding and body framing independently.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SessionIDHeader carries the conversation session ID on relay responses.
const SessionIDHeader = "X-Session-ID"

// UserIDHeader optionally names the user that owns a new session.
const UserIDHeader = "X-User-ID"

// Handler manages headers between relay connections.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// skipRequest is the set of request headers (client --> relay --> agent)
// that are not forwarded to the agent.
var skipRequest = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection": {},

	// The Host header is rewritten by Go's http.Transport to match the agent URL.
	"Host": {},

	// Stripped so Go's http.Transport negotiates and decompresses on its own.
	"Accept-Encoding": {},

	// The relay re-encodes the body, so framing and media type are its own.
	"Content-Length": {},
	"Content-Type":   {},
	"Accept":         {},

	// Relay-only headers, keyed the way UpstreamRequestHeaders looks them up.
	http.CanonicalHeaderKey(SessionIDHeader): {},
	http.CanonicalHeaderKey(UserIDHeader):    {},
}

// skipResponse is the set of agent response headers (client <-- relay <-- agent)
// that are not copied back to the downstream client.
var skipResponse = map[string]struct{}{
	// Hop-by-hop headers: only meaningful for a single transport-level connection.
	"Connection": {},

	// fasthttp manages chunked transfer encoding for the client-facing response.
	"Transfer-Encoding": {},

	// The relay always reads a decompressed body from Go's http.Transport.
	"Content-Encoding": {},

	// A streamed body has no known length on the client leg.
	"Content-Length": {},
}

// UpstreamRequestHeaders returns the client headers from the Fiber context
// that should travel on to the agent.
func (h *Handler) UpstreamRequestHeaders(c *fiber.Ctx) http.Header {
	out := make(http.Header)
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := http.CanonicalHeaderKey(string(key))
		if _, skip := skipRequest[k]; !skip {
			out.Set(k, string(value))
		}
	})
	return out
}

// SetClientResponseHeaders copies response headers from the agent
// http.Response to the Fiber context, filtering headers that the relay should
// not forward back down to the client.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[k]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
}
