// Package chat turns a decoded agent stream into conversation turns: it
// accumulates streamed content and persists completed exchanges.
package chat

import (
	"errors"
	"maps"
	"strings"

	"github.com/aip-agents/aip/pkg/sse"
)

// ErrIncomplete is returned when the stream ended without a terminal chunk.
var ErrIncomplete = errors.New("agent stream ended before completion")

// AgentError is an error the agent reported in-band through an error chunk.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return "agent error: " + e.Message
}

// Accumulator collects the content of one streamed reply. Its OnChunk method
// is passed to sse.Decode as the chunk handler.
type Accumulator struct {
	text     strings.Builder
	onDelta  func(string)
	terminal bool
	agentErr *AgentError
	metadata map[string]any
}

// NewAccumulator returns an Accumulator that forwards every non-empty content
// delta to onDelta. onDelta may be nil.
func NewAccumulator(onDelta func(string)) *Accumulator {
	return &Accumulator{onDelta: onDelta}
}

// OnChunk records c.
func (a *Accumulator) OnChunk(c sse.Chunk) {
	if a.terminal {
		return
	}

	if c.IsError() {
		a.agentErr = &AgentError{Message: strings.TrimPrefix(c.Content, "Error: ")}
		a.terminal = c.Done
		return
	}

	if c.Content != "" {
		a.text.WriteString(c.Content)
		if a.onDelta != nil {
			a.onDelta(c.Content)
		}
	}

	if len(c.Metadata) > 0 {
		if a.metadata == nil {
			a.metadata = make(map[string]any, len(c.Metadata))
		}
		maps.Copy(a.metadata, c.Metadata)
	}

	if c.Done {
		a.terminal = true
	}
}

// Terminal reports whether the terminal chunk has been seen.
func (a *Accumulator) Terminal() bool {
	return a.terminal
}

// Metadata returns the merged metadata of every chunk seen so far.
func (a *Accumulator) Metadata() map[string]any {
	return maps.Clone(a.metadata)
}

// Result resolves the outcome of a decode. The text is returned only when
// the stream completed normally; on every failure partial content is
// discarded and the error explains why.
func (a *Accumulator) Result(summary sse.Summary, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if a.agentErr != nil {
		return "", a.agentErr
	}
	if !summary.Terminal || !a.terminal {
		return "", ErrIncomplete
	}
	return a.text.String(), nil
}
