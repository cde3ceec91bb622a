// Package transport defines the contract between the client and the backend
// that implements the chat protocol.
//
// A Backend is the native library (or a process or gateway fronting it). The
// client opens exactly one Session per Backend and owns it until Close.
// Messages are single JSON objects in the backend's wire form: the type name
// under "@type" and the correlation value under "@extra".
package transport

import (
	"context"
	"errors"
	"time"
)

// Backend is a native chat-protocol library the client drives.
type Backend interface {
	// Name identifies the backend implementation. It never fails.
	Name() string

	// Open creates a new backend session.
	Open(ctx context.Context) (Session, error)

	// Execute runs a request that the backend can answer synchronously
	// without network I/O.
	Execute(request []byte) ([]byte, error)
}

// Session is one live backend instance.
type Session interface {
	// Send queues a request. Its response arrives through Receive.
	Send(ctx context.Context, request []byte) error

	// Receive waits up to timeout for the next response or update. It returns
	// (nil, nil) when nothing arrived in time and ErrClosed once the session
	// is gone.
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)

	// Close releases the session. The client only calls it after the backend
	// reported it has flushed its state, or on forced teardown.
	Close() error
}

// FatalErrorReporter is implemented by backends that can report fatal
// failures of the native library out of band.
type FatalErrorReporter interface {
	SetFatalErrorCallback(fn func(message string))
}

// Standard errors returned by transports.
var (
	ErrClosed             = errors.New("transport: session is closed")
	ErrExecuteUnsupported = errors.New("transport: backend does not support synchronous execution")
	ErrEmptyMessage       = errors.New("transport: cannot send empty message")
)
