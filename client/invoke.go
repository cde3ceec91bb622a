package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/localrivet/gotdl/protocol"
)

// Invoke sends req to the backend and waits for its response. A backend
// error reply is returned as *protocol.Error. Calls may be issued
// concurrently; each response is matched to its request by a correlation id.
//
// Invoke fails with ErrNotConnected before Connect. Cancelling ctx abandons
// the wait but not the request, which the backend still executes.
//
// req is not modified unless the client was configured with
// UseMutableRename, in which case its keys are renamed in place.
func (c *Client) Invoke(ctx context.Context, req protocol.Object) (protocol.Object, error) {
	if req.Type() == "" {
		return nil, ErrInvalidRequest
	}

	c.mu.Lock()
	if c.isDestroyed() {
		err := c.destroyErr
		c.mu.Unlock()
		return nil, err
	}
	session := c.session
	if session == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	extra := uuid.NewString()
	ch := make(chan result, 1)
	c.pending[extra] = ch
	c.mu.Unlock()
	c.metrics.request(req.Type())

	data, err := c.encode(ctx, req, extra)
	if err == nil {
		err = session.Send(ctx, data)
		if err != nil {
			err = NewTransportError(c.backend.Name(), fmt.Sprintf("failed to send %s", req.Type()), err)
		}
	}
	if err != nil {
		if c.takePending(extra) != nil {
			c.metrics.settled()
		}
		return nil, err
	}

	select {
	case res := <-ch:
		return res.obj, res.err
	case <-ctx.Done():
		if c.takePending(extra) != nil {
			c.metrics.settled()
			return nil, ctx.Err()
		}
		// Settled concurrently.
		res := <-ch
		return res.obj, res.err
	}
}

func (c *Client) encode(ctx context.Context, req protocol.Object, extra string) ([]byte, error) {
	obj := req
	if !c.cfg.UseMutableRename {
		obj = req.Clone()
	}
	if extra != "" {
		obj[protocol.ExtraKey] = extra
	}
	obj, err := c.hooks.RunBeforeSend(c.hookContext(ctx, extra, obj.Type()), obj)
	if err != nil {
		return nil, &ClientError{Message: "request rejected by hook", Cause: err}
	}
	return protocol.ToWire(obj, c.cfg.UseMutableRename)
}

// InvokeAs invokes req and decodes the response into T.
func InvokeAs[T any](ctx context.Context, c *Client, req protocol.Object) (T, error) {
	var out T
	obj, err := c.Invoke(ctx, req)
	if err != nil {
		return out, err
	}
	if err := protocol.Decode(obj, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s response: %w", obj.Type(), err)
	}
	return out, nil
}

// Execute runs req synchronously. Only requests the backend can answer
// without network access are supported, and not every backend supports it;
// others return transport.ErrExecuteUnsupported. It works before Connect.
func (c *Client) Execute(req protocol.Object) (protocol.Object, error) {
	if req.Type() == "" {
		return nil, ErrInvalidRequest
	}
	data, err := c.encode(context.Background(), req, "")
	if err != nil {
		return nil, err
	}
	out, err := c.backend.Execute(data)
	if err != nil {
		return nil, err
	}
	obj, err := protocol.FromWire(out)
	if err != nil {
		return nil, err
	}
	if backendErr, ok := protocol.AsError(obj); ok {
		c.metrics.backendError(backendErr.Code)
		return nil, backendErr
	}
	return obj, nil
}
