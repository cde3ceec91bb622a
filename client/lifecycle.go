package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/localrivet/gotdl/protocol"
	"github.com/localrivet/gotdl/transport"
)

// Connect opens the backend session, starts reading from it and answers the
// backend's request for session parameters. It returns once the backend has
// moved past parameter setup, or right after opening when DisableAuth is set.
//
// If the backend rejects the parameters the *protocol.Error is returned and
// the session stays open; call Close or Destroy to release it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.isDestroyed():
		c.mu.Unlock()
		return c.destroyErr
	case c.session != nil || c.connecting:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()

	session, err := c.open(ctx)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.isDestroyed() {
		c.mu.Unlock()
		_ = session.Close()
		return c.destroyErr
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.session = session
	c.stopLoop = cancel
	c.mu.Unlock()

	go c.receiveLoop(loopCtx, session)
	c.logger.Info("connected to %s backend", c.backend.Name())

	if c.cfg.DisableAuth {
		return nil
	}
	return c.setupParameters(ctx)
}

func (c *Client) open(ctx context.Context) (transport.Session, error) {
	if !c.cfg.UseDefaultVerbosityLevel {
		_, err := c.Execute(protocol.NewObject(protocol.MethodSetLogVerbosityLevel, map[string]interface{}{
			"new_verbosity_level": c.cfg.VerbosityLevel,
		}))
		switch {
		case errors.Is(err, transport.ErrExecuteUnsupported):
			c.logger.Debug("backend %s cannot set the log verbosity synchronously", c.backend.Name())
		case err != nil:
			return nil, fmt.Errorf("failed to set log verbosity level: %w", err)
		}
	}

	session, err := c.backend.Open(ctx)
	if err != nil {
		return nil, NewTransportError(c.backend.Name(), "failed to open session", err)
	}
	return session, nil
}

// setupParameters answers parameter requests until the backend moves on.
func (c *Client) setupParameters(ctx context.Context) error {
	state, version := c.authSnapshot()
	for {
		switch {
		case state.Type == protocol.AuthStateWaitTdlibParameters:
			c.logger.Debug("sending session parameters")
			req := protocol.NewObject(protocol.MethodSetTdlibParameters, c.cfg.Parameters())
			if _, err := c.Invoke(ctx, req); err != nil {
				return err
			}
		case state.Type == protocol.AuthStateWaitEncryptionKey:
			req := protocol.NewObject(protocol.MethodCheckDatabaseEncryptionKey, map[string]interface{}{
				"encryption_key": c.cfg.DatabaseEncryptionKey,
			})
			if _, err := c.Invoke(ctx, req); err != nil {
				return err
			}
		case state.Type == protocol.AuthStateClosed:
			return ErrClosed
		case state.Type != "":
			return nil
		}

		var err error
		state, version, err = c.waitAuthState(ctx, version)
		if err != nil {
			return err
		}
	}
}

// Close shuts the backend down gracefully: it asks the backend to close,
// waits until the backend reports it has flushed its state, then tears the
// client down. If ctx ends first, the client is torn down immediately and
// ctx.Err() is returned. Calling it again, concurrently or later, waits for
// the client to be torn down and returns nil.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	start := c.closeDone == nil
	if start {
		c.closeDone = make(chan struct{})
	}
	done := c.closeDone
	c.mu.Unlock()

	if start {
		err := c.shutdown(ctx)
		close(done)
		return err
	}
	// shutdown always ends torn down. A destroy listener calling Close runs
	// inside the first call, before done is closed.
	select {
	case <-done:
	case <-c.destroyed:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Client) shutdown(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	destroyed := c.isDestroyed()
	closed := c.authState.Type == protocol.AuthStateClosed
	version := c.authVersion
	c.mu.Unlock()

	if destroyed {
		return nil
	}
	if session == nil || closed {
		c.teardown(ErrClosed)
		return nil
	}

	c.logger.Info("closing backend session")
	_, err := c.Invoke(ctx, protocol.NewObject(protocol.MethodClose, nil))
	if err != nil && !errors.Is(err, ErrClosed) && !errors.Is(err, ErrDestroyed) {
		c.logger.Warn("close request failed: %v", err)
		if ctx.Err() != nil {
			c.teardown(ErrClosed)
			return ctx.Err()
		}
	}

	for {
		state, v, err := c.waitAuthState(ctx, version)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Warn("backend did not close in time, tearing down")
				c.teardown(ErrClosed)
				return ctx.Err()
			}
			// The session ended on its own, which is what we asked for.
			c.teardown(ErrClosed)
			return nil
		}
		if state.Type == protocol.AuthStateClosed {
			c.teardown(ErrClosed)
			return nil
		}
		version = v
	}
}

// Destroy tears the client down immediately without letting the backend
// flush its state. Pending calls and an in-flight login fail with
// ErrDestroyed. EventDestroy is emitted exactly once.
func (c *Client) Destroy() {
	c.teardown(ErrDestroyed)
}

// Done is closed once the client has been torn down.
func (c *Client) Done() <-chan struct{} {
	return c.destroyed
}

// teardown releases the session and settles everything still waiting with
// reason. It runs once; EventDestroy is emitted by that single run, outside
// the once so destroy listeners may call Close or Destroy.
func (c *Client) teardown(reason error) {
	first := false
	c.destroyOnce.Do(func() {
		first = true
		c.mu.Lock()
		c.destroyErr = reason
		session := c.session
		stop := c.stopLoop
		pending := c.pending
		c.pending = make(map[string]chan result)
		if c.paused {
			c.paused = false
			close(c.resumeCh)
		}
		close(c.destroyed)
		c.mu.Unlock()

		if stop != nil {
			stop()
		}
		for id, ch := range pending {
			ch <- result{err: reason}
			c.metrics.settled()
			c.logger.Debug("rejected pending request %s: %v", id, reason)
		}
		if session != nil {
			if err := session.Close(); err != nil {
				c.logger.Warn("failed to close backend session: %v", err)
			}
		}
		c.logger.Info("client torn down: %v", reason)
	})
	if first {
		emit(c, EventDestroy, struct{}{})
	}
}

// isDestroyed must be called with c.mu held.
func (c *Client) isDestroyed() bool {
	select {
	case <-c.destroyed:
		return true
	default:
		return false
	}
}

// authSnapshot returns the current authorization state and its version.
func (c *Client) authSnapshot() (protocol.AuthorizationState, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authState, c.authVersion
}

// waitAuthState blocks until the backend reports an authorization state newer
// than version.
func (c *Client) waitAuthState(ctx context.Context, version uint64) (protocol.AuthorizationState, uint64, error) {
	for {
		c.mu.Lock()
		if c.authVersion > version {
			state, v := c.authState, c.authVersion
			c.mu.Unlock()
			return state, v, nil
		}
		changed := c.authChanged
		c.mu.Unlock()

		select {
		case <-changed:
		case <-c.destroyed:
			return protocol.AuthorizationState{}, version, c.destroyErr
		case <-c.loopDone:
			// The final state may have been recorded just before the loop ended.
			c.mu.Lock()
			if c.authVersion > version {
				c.mu.Unlock()
				continue
			}
			c.mu.Unlock()
			return protocol.AuthorizationState{}, version, ErrClosed
		case <-ctx.Done():
			return protocol.AuthorizationState{}, version, ctx.Err()
		}
	}
}

// setAuthState records a new state and wakes every waiter.
func (c *Client) setAuthState(state protocol.AuthorizationState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authState = state
	c.authVersion++
	close(c.authChanged)
	c.authChanged = make(chan struct{})
}

// ConnectAndLogin runs Connect then Login, stopping at the first failure.
func (c *Client) ConnectAndLogin(ctx context.Context, factory func() LoginDetails) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Login(ctx, factory)
}
