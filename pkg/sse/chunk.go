// Package sse decodes the agent's Server-Sent Events response stream into
// discrete Chunk values.
//
// The agent writes one JSON object per event, on a single "data: " line,
// terminated by a blank line:
//
//	data: {"content":"Hi","done":false}
//
//	data: {"content":" there","done":true}
//
// Lines that do not carry the "data: " prefix (comments, keep-alives, event
// names) are ignored. A stream ends with the first chunk whose done flag is
// set, or when the transport closes.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Chunk is one decoded unit of streamed agent output.
type Chunk struct {
	// Content is the incremental text payload. It may be empty, e.g. on the
	// terminal chunk.
	Content string `json:"content"`

	// Done is true exactly on the terminal chunk of a stream.
	Done bool `json:"done"`

	// Metadata is opaque pass-through data from the agent.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsError reports whether the agent flagged this chunk as an error report.
// The agent emits a terminal chunk with metadata {"error": true} when it fails
// mid-stream, carrying the failure text in Content.
func (c Chunk) IsError() bool {
	if c.Metadata == nil {
		return false
	}
	v, ok := c.Metadata["error"].(bool)
	return ok && v
}

// Summary describes how a Decode call ended.
type Summary struct {
	// Chunks is the number of chunks delivered to the handler.
	Chunks int

	// Dropped is the number of data lines skipped because their payload
	// was not a valid chunk.
	Dropped int

	// Terminal is true when a chunk with Done set was delivered. A false
	// value after a nil error means the stream closed early.
	Terminal bool
}
