package client

import (
	"context"
	"errors"

	"github.com/localrivet/gotdl/hooks"
	"github.com/localrivet/gotdl/protocol"
	"github.com/localrivet/gotdl/transport"
)

// receiveLoop reads messages until ctx is cancelled or the session ends.
func (c *Client) receiveLoop(ctx context.Context, session transport.Session) {
	defer close(c.loopDone)
	for {
		if !c.waitResumed(ctx) {
			return
		}
		data, err := session.Receive(ctx, c.cfg.ReceiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, transport.ErrClosed) {
				c.emitError(NewTransportError(c.backend.Name(), "receive failed", err))
			} else {
				c.logger.Warn("backend session ended")
			}
			c.teardown(ErrClosed)
			return
		}
		if data == nil {
			continue
		}
		c.handleMessage(ctx, data)
	}
}

func (c *Client) waitResumed(ctx context.Context) bool {
	c.mu.Lock()
	resume := c.resumeCh
	c.mu.Unlock()
	select {
	case <-resume:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) hookContext(ctx context.Context, extra, typ string) hooks.HookContext {
	return hooks.HookContext{Ctx: ctx, BackendName: c.backend.Name(), Extra: extra, Type: typ}
}

func (c *Client) handleMessage(ctx context.Context, data []byte) {
	data, err := c.hooks.RunOnReceiveRaw(c.hookContext(ctx, "", ""), data)
	if err != nil {
		c.emitError(&ClientError{Message: "incoming message rejected by hook", Cause: err})
		return
	}
	obj, err := protocol.FromWire(data)
	if err != nil {
		c.emitError(&ClientError{Message: "malformed backend message", Cause: err})
		return
	}
	emit(c, EventResponse, obj)

	if backendErr, ok := protocol.AsError(obj); ok {
		c.metrics.backendError(backendErr.Code)
	}

	if extra, ok := obj.Extra(); ok {
		if ch := c.takePending(extra); ch != nil {
			c.deliver(ctx, extra, ch, obj)
			return
		}
	}

	if backendErr, ok := protocol.AsError(obj); ok {
		// No caller is waiting for it.
		c.emitError(backendErr)
		return
	}
	if _, ok := obj.Extra(); ok && !protocol.IsUpdate(obj) {
		c.logger.Debug("dropping response nobody waits for: %s", obj.Type())
		return
	}
	c.handleUpdate(ctx, obj)
}

func (c *Client) takePending(extra string) chan result {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[extra]
	if !ok {
		return nil
	}
	delete(c.pending, extra)
	return ch
}

func (c *Client) deliver(ctx context.Context, extra string, ch chan result, obj protocol.Object) {
	defer c.metrics.settled()
	obj, err := c.hooks.RunBeforeHandleResponse(c.hookContext(ctx, extra, obj.Type()), obj)
	if err != nil {
		ch <- result{err: err}
		return
	}
	delete(obj, protocol.ExtraKey)
	if backendErr, ok := protocol.AsError(obj); ok {
		ch <- result{err: backendErr}
		return
	}
	ch <- result{obj: obj}
}

func (c *Client) handleUpdate(ctx context.Context, update protocol.Object) {
	if err := c.hooks.RunBeforeHandleUpdate(c.hookContext(ctx, "", update.Type()), update); err != nil {
		c.emitError(&ClientError{Message: "update " + update.Type() + " dropped by hook", Cause: err})
		return
	}

	closedByBackend := false
	switch update.Type() {
	case protocol.UpdateAuthorizationState:
		state, ok := protocol.AuthorizationStateOf(update)
		if !ok {
			c.logger.Warn("malformed authorization state update")
			break
		}
		c.logger.Debug("authorization state: %s", state.Type)
		c.setAuthState(state)
		closedByBackend = state.Type == protocol.AuthStateClosed && !c.closing()
	case protocol.UpdateOption:
		if version, ok := protocol.VersionOf(update); ok {
			c.mu.Lock()
			c.version = version
			c.mu.Unlock()
			c.logger.Info("backend version %s", version)
		}
	case protocol.UpdateConnectionState:
		if state, ok := protocol.ConnectionStateOf(update); ok && state == protocol.ConnectionStateReady {
			c.mu.Lock()
			c.connReady = true
			c.mu.Unlock()
		}
	}

	if !c.suppressed(update) {
		emit(c, EventUpdate, update)
	}
	if closedByBackend {
		c.logger.Warn("backend closed the session")
		c.teardown(ErrClosed)
	}
}

// suppressed reports whether SkipOldUpdates holds update back. Replayed
// updates arrive before the connection is first ready; authorization and
// connection state updates are always delivered.
func (c *Client) suppressed(update protocol.Object) bool {
	if !c.cfg.SkipOldUpdates {
		return false
	}
	switch update.Type() {
	case protocol.UpdateAuthorizationState, protocol.UpdateConnectionState:
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.connReady
}

func (c *Client) closing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeDone != nil
}
