package client

import (
	"errors"

	"github.com/localrivet/gotdl/events"
	"github.com/localrivet/gotdl/protocol"
)

// Events emitted by a Client.
var (
	// EventUpdate carries every update pushed by the backend.
	EventUpdate = events.NewKind[protocol.Object]("update")
	// EventError carries backend errors nobody asked for and client failures
	// that have no caller to return to.
	EventError = events.NewKind[error]("error")
	// EventDestroy fires once when the client is torn down.
	EventDestroy = events.NewKind[struct{}]("destroy")
	// EventAuthNeeded fires when login starts collecting credentials.
	EventAuthNeeded = events.NewKind[struct{}]("auth-needed")
	// EventAuthNotNeeded fires when login finds the session already authorized.
	EventAuthNotNeeded = events.NewKind[struct{}]("auth-not-needed")
	// EventResponse carries every decoded object before correlation.
	EventResponse = events.NewKind[protocol.Object]("response")
)

// On registers fn for every occurrence of kind.
func On[T any](c *Client, kind events.Kind[T], fn func(T)) events.Listener {
	return events.On(c.emitter, kind, fn)
}

// AddListener is an alias of On.
func AddListener[T any](c *Client, kind events.Kind[T], fn func(T)) events.Listener {
	return events.AddListener(c.emitter, kind, fn)
}

// Once registers fn for the next occurrence of kind only.
func Once[T any](c *Client, kind events.Kind[T], fn func(T)) events.Listener {
	return events.Once(c.emitter, kind, fn)
}

// Off removes a listener. It reports whether it was still registered.
func (c *Client) Off(l events.Listener) bool {
	return c.emitter.Off(l)
}

// RemoveListener is an alias of Off.
func (c *Client) RemoveListener(l events.Listener) bool {
	return c.emitter.RemoveListener(l)
}

// RemoveAllListeners removes every listener of the named event, or only its
// once-listeners, and returns how many were removed.
func (c *Client) RemoveAllListeners(event string, onceOnly bool) int {
	return c.emitter.RemoveAll(event, onceOnly)
}

// ListenerCount returns the number of listeners of the named event.
func (c *Client) ListenerCount(event string) int {
	return c.emitter.ListenerCount(event)
}

// Emit publishes payload to the listeners of kind, synchronously and in
// registration order, and returns how many ran. Emitting EventError with no
// listeners logs the error.
func Emit[T any](c *Client, kind events.Kind[T], payload T) int {
	n := emit(c, kind, payload)
	if n == 0 && kind.Name() == EventError.Name() {
		c.logger.Error("unhandled error event: %v", payload)
	}
	return n
}

func emit[T any](c *Client, kind events.Kind[T], payload T) int {
	n := events.Emit(c.emitter, kind, payload)
	c.metrics.event(kind.Name())
	return n
}

// emitError publishes err as an error event. Unhandled errors are logged and
// dropped.
func (c *Client) emitError(err error) {
	if emit(c, EventError, err) == 0 {
		c.logger.Error("unhandled error event: %v", err)
	}
}

// listenerFailed receives panics recovered by the emitter.
func (c *Client) listenerFailed(err error) {
	var lerr *events.ListenerError
	if errors.As(err, &lerr) && lerr.Event == EventError.Name() {
		c.logger.Error("error listener failed: %v", err)
		return
	}
	c.emitError(err)
}
