package sse

import (
	"encoding/json"
	"fmt"
	"io"
)

// ContentType is the media type of an agent event stream.
const ContentType = "text/event-stream"

// WriteChunk encodes c as a single event frame, "data: <json>\n\n", and
// writes it to w. It is the inverse of what Decode consumes.
func WriteChunk(w io.Writer, c Chunk) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling chunk: %w", err)
	}

	frame := make([]byte, 0, len(dataPrefix)+len(payload)+len(frameDelimiter))
	frame = append(frame, dataPrefix...)
	frame = append(frame, payload...)
	frame = append(frame, frameDelimiter...)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	return nil
}

// ErrorChunk builds the terminal chunk an agent sends when it fails
// mid-stream.
func ErrorChunk(msg string) Chunk {
	return Chunk{
		Content:  "Error: " + msg,
		Done:     true,
		Metadata: map[string]any{"error": true},
	}
}
