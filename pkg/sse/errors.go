package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
)

// ErrorKind classifies a DecodeError.
type ErrorKind int

const (
	// KindSource is a read failure reported by the byte source.
	KindSource ErrorKind = iota + 1

	// KindAborted means the caller closed the source or cancelled the
	// context while the decode was in flight.
	KindAborted
)

func (k ErrorKind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ErrAborted matches any DecodeError of kind KindAborted via errors.Is.
var ErrAborted = errors.New("stream aborted")

// DecodeError is returned by Decode when the byte source fails. Malformed
// frames never produce a DecodeError.
type DecodeError struct {
	Kind ErrorKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding stream (%s): %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets callers test for ErrAborted without inspecting Kind.
func (e *DecodeError) Is(target error) bool {
	return target == ErrAborted && e.Kind == KindAborted
}

// newDecodeError classifies a read error from the source.
func newDecodeError(err error) *DecodeError {
	if isAbort(err) {
		return &DecodeError{Kind: KindAborted, Err: err}
	}
	return &DecodeError{Kind: KindSource, Err: err}
}

// isAbort reports whether err is what a reader returns after its owner closed
// it or cancelled the surrounding request.
func isAbort(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, http.ErrBodyReadAfterClose)
}
