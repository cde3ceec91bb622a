package client

import (
	"errors"
	"fmt"

	"github.com/localrivet/gotdl/protocol"
)

// Standard error types that can be used with errors.Is()
var (
	ErrNilBackend         = errors.New("backend must not be nil")
	ErrNotConnected       = errors.New("client is not connected")
	ErrAlreadyConnected   = errors.New("client is already connected")
	ErrClosed             = errors.New("client is closed")
	ErrDestroyed          = errors.New("client was destroyed")
	ErrLoginInProgress    = errors.New("another login is in progress")
	ErrVersionUnavailable = errors.New("backend has not reported its version yet")
	ErrInvalidRequest     = errors.New("request must be an object with a type")
	ErrUnexpectedState    = errors.New("unexpected authorization state for this login type")
)

// ClientError is the base error type for client errors
type ClientError struct {
	Message string
	Cause   error
}

// Error implements the error interface
func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// TransportError indicates the backend session could not be opened or written to
type TransportError struct {
	ClientError
	Backend string
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %s", e.Backend, e.ClientError.Error())
}

// LoginError reports a login negotiation that failed while collecting or
// submitting a field. Cause is the callback's error, the backend's
// *protocol.Error, or a client sentinel such as ErrClosed.
type LoginError struct {
	ClientError
	Field Field
}

// Error implements the error interface
func (e *LoginError) Error() string {
	return fmt.Sprintf("login failed at %s: %s", e.Field, e.ClientError.Error())
}

// FatalError carries a fatal failure reported by the native library.
type FatalError struct {
	Message string
}

// Error implements the error interface
func (e *FatalError) Error() string {
	return "backend fatal error: " + e.Message
}

// NewTransportError creates a new TransportError
func NewTransportError(backend, message string, cause error) error {
	return &TransportError{
		ClientError: ClientError{Message: message, Cause: cause},
		Backend:     backend,
	}
}

// NewLoginError creates a new LoginError
func NewLoginError(field Field, message string, cause error) error {
	return &LoginError{
		ClientError: ClientError{Message: message, Cause: cause},
		Field:       field,
	}
}

// IsTransportError checks if an error is a transport error
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsLoginError checks if an error is a login error
func IsLoginError(err error) bool {
	var loginErr *LoginError
	return errors.As(err, &loginErr)
}

// BackendError extracts the structured error the backend replied with.
func BackendError(err error) (*protocol.Error, bool) {
	var backendErr *protocol.Error
	if errors.As(err, &backendErr) {
		return backendErr, true
	}
	return nil, false
}
