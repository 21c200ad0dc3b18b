package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	// readBufferSize is the size of each read issued against the source.
	readBufferSize = 4 * 1024
)

var (
	frameDelimiter = []byte("\n\n")
	dataPrefix     = []byte("data: ")

	errNotObject = errors.New("payload is not a JSON object")
)

// Option configures a Decode call.
type Option func(*session)

// WithLogger sets the logger used to report dropped frames.
// Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMalformedHandler registers fn to be called with the raw payload of
// every data line that failed to parse. It runs synchronously, like the
// chunk handler.
func WithMalformedHandler(fn func(payload string, err error)) Option {
	return func(s *session) {
		s.onMalformed = fn
	}
}

// session is the state of a single Decode call. It owns the text buffer of
// bytes read but not yet resolved into a complete frame.
type session struct {
	src io.Reader
	buf []byte

	// scanFrom is the offset in buf where the next delimiter search starts.
	// Everything before it is known to hold no complete delimiter.
	scanFrom int

	onChunk     func(Chunk)
	onMalformed func(string, error)
	logger      *zap.Logger
	summary     Summary
}

// Decode reads an agent event stream from src and calls onChunk for every
// chunk, in stream order, before issuing the next read.
//
// Decode returns once a chunk with Done set has been delivered or once src
// reports io.EOF; in both cases the error is nil and Summary.Terminal tells
// the two apart. Data lines that are not valid chunk JSON are skipped and
// counted in Summary.Dropped.
//
// A read error other than io.EOF ends the call with a *DecodeError. Closing
// src or cancelling ctx while Decode is blocked yields a DecodeError of kind
// KindAborted on the next read. Decode never retries.
//
// src must not be read by anything else while Decode runs.
func Decode(ctx context.Context, src io.Reader, onChunk func(Chunk), opts ...Option) (Summary, error) {
	s := &session{
		// The UTF-8 decoder holds back the leading bytes of a code point that
		// was split across reads until the rest of it arrives.
		src:     transform.NewReader(src, unicode.UTF8.NewDecoder()),
		onChunk: onChunk,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.onChunk == nil {
		s.onChunk = func(Chunk) {}
	}

	return s.run(ctx)
}

func (s *session) run(ctx context.Context) (Summary, error) {
	readBuf := make([]byte, readBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			return s.summary, &DecodeError{Kind: KindAborted, Err: err}
		}

		n, err := s.src.Read(readBuf)
		if n > 0 {
			s.buf = append(s.buf, readBuf[:n]...)
			if s.drain() {
				return s.summary, nil
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(bytes.TrimSpace(s.buf)) > 0 {
					s.logger.Debug("discarding unterminated frame at end of stream",
						zap.Int("bytes", len(s.buf)),
					)
				}
				return s.summary, nil
			}
			return s.summary, newDecodeError(err)
		}
	}
}

// drain dispatches every complete frame in the buffer and keeps the
// remainder. It returns true once the terminal chunk has been delivered.
func (s *session) drain() bool {
	start := 0
	from := s.scanFrom

	for {
		idx := bytes.Index(s.buf[from:], frameDelimiter)
		if idx < 0 {
			break
		}

		end := from + idx
		frame := s.buf[start:end]
		start = end + len(frameDelimiter)
		from = start

		if s.dispatch(frame) {
			return true
		}
	}

	if start > 0 {
		s.buf = append(s.buf[:0], s.buf[start:]...)
	}
	// A delimiter may straddle the end of this read, so the last byte has
	// to be searched again.
	s.scanFrom = max(len(s.buf)-1, 0)

	return false
}

// dispatch handles one frame line by line. It returns true if the frame
// contained the terminal chunk.
func (s *session) dispatch(frame []byte) bool {
	for len(frame) > 0 {
		line := frame
		if i := bytes.IndexByte(frame, '\n'); i >= 0 {
			line, frame = frame[:i], frame[i+1:]
		} else {
			frame = nil
		}

		payload, ok := bytes.CutPrefix(bytes.TrimSuffix(line, []byte("\r")), dataPrefix)
		if !ok {
			continue
		}

		chunk, err := parseChunk(payload)
		if err != nil {
			s.malformed(payload, err)
			continue
		}

		s.summary.Chunks++
		s.onChunk(chunk)

		if chunk.Done {
			s.summary.Terminal = true
			return true
		}
	}

	return false
}

func (s *session) malformed(payload []byte, err error) {
	s.summary.Dropped++
	s.logger.Warn("dropping malformed stream frame",
		zap.Error(err),
		zap.ByteString("payload", payload),
	)
	if s.onMalformed != nil {
		s.onMalformed(string(payload), err)
	}
}

// parseChunk decodes a data line payload. The payload must be a JSON object
// whose fields match the Chunk shape.
func parseChunk(payload []byte) (Chunk, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Chunk{}, errNotObject
	}

	var chunk Chunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return Chunk{}, err
	}

	return chunk, nil
}
