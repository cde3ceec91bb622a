// Package hooks defines the interception points of the gotdl client, allowing
// users to inject custom logic around the messages exchanged with the backend.
package hooks

import (
	"context"

	"github.com/localrivet/gotdl/protocol"
)

// HookContext provides context available to every client hook.
type HookContext struct {
	Ctx         context.Context
	BackendName string
	Extra       string // correlation id; empty for updates and unsolicited messages
	Type        string // object type; empty for raw-message hooks
}

// BeforeSendHook: Runs before a request is encoded and handed to the backend.
// Return: Modified request object, error to prevent sending.
type BeforeSendHook func(hookCtx HookContext, request protocol.Object) (modifiedRequest protocol.Object, err error)

// OnReceiveRawHook: Runs after receiving raw bytes from the backend, before decoding.
// Return: Modified bytes, error to drop the message.
type OnReceiveRawHook func(hookCtx HookContext, raw []byte) (modifiedRaw []byte, err error)

// BeforeHandleResponseHook: Runs after decoding a correlated response, before it
// is delivered to the waiting caller.
// Return: Modified response object, error to fail the call with that error.
type BeforeHandleResponseHook func(hookCtx HookContext, response protocol.Object) (modifiedResponse protocol.Object, err error)

// BeforeHandleUpdateHook: Runs after decoding an update, before it is processed
// and emitted.
// Return: Error to drop the update.
type BeforeHandleUpdateHook func(hookCtx HookContext, update protocol.Object) error

// Set groups the hooks a client runs, in registration order per point.
type Set struct {
	BeforeSend           []BeforeSendHook
	OnReceiveRaw         []OnReceiveRawHook
	BeforeHandleResponse []BeforeHandleResponseHook
	BeforeHandleUpdate   []BeforeHandleUpdateHook
}

// RunBeforeSend chains the BeforeSend hooks. A hook returning a nil object
// leaves the request unchanged.
func (s *Set) RunBeforeSend(hookCtx HookContext, request protocol.Object) (protocol.Object, error) {
	if s == nil {
		return request, nil
	}
	for _, h := range s.BeforeSend {
		modified, err := h(hookCtx, request)
		if err != nil {
			return nil, err
		}
		if modified != nil {
			request = modified
		}
	}
	return request, nil
}

// RunOnReceiveRaw chains the OnReceiveRaw hooks.
func (s *Set) RunOnReceiveRaw(hookCtx HookContext, raw []byte) ([]byte, error) {
	if s == nil {
		return raw, nil
	}
	for _, h := range s.OnReceiveRaw {
		modified, err := h(hookCtx, raw)
		if err != nil {
			return nil, err
		}
		if modified != nil {
			raw = modified
		}
	}
	return raw, nil
}

// RunBeforeHandleResponse chains the BeforeHandleResponse hooks.
func (s *Set) RunBeforeHandleResponse(hookCtx HookContext, response protocol.Object) (protocol.Object, error) {
	if s == nil {
		return response, nil
	}
	for _, h := range s.BeforeHandleResponse {
		modified, err := h(hookCtx, response)
		if err != nil {
			return nil, err
		}
		if modified != nil {
			response = modified
		}
	}
	return response, nil
}

// RunBeforeHandleUpdate runs the BeforeHandleUpdate hooks until one fails.
func (s *Set) RunBeforeHandleUpdate(hookCtx HookContext, update protocol.Object) error {
	if s == nil {
		return nil
	}
	for _, h := range s.BeforeHandleUpdate {
		if err := h(hookCtx, update); err != nil {
			return err
		}
	}
	return nil
}
