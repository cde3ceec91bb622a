// Package client provides the client facade over a chat-protocol backend:
// connection lifecycle, login negotiation, request invocation and the event
// stream of updates and errors.
package client

import (
	"github.com/localrivet/gotdl/hooks"
	"github.com/localrivet/gotdl/logx"
)

// Option is a client configuration option.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger logx.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHooks sets the hooks run around every message.
func WithHooks(set *hooks.Set) Option {
	return func(c *Client) {
		c.hooks = set
	}
}

// WithBeforeSendHook appends a hook run before each request is sent.
func WithBeforeSendHook(h hooks.BeforeSendHook) Option {
	return func(c *Client) {
		set := c.ensureHooks()
		set.BeforeSend = append(set.BeforeSend, h)
	}
}

// WithOnReceiveRawHook appends a hook run on each raw incoming message.
func WithOnReceiveRawHook(h hooks.OnReceiveRawHook) Option {
	return func(c *Client) {
		set := c.ensureHooks()
		set.OnReceiveRaw = append(set.OnReceiveRaw, h)
	}
}

// WithBeforeHandleResponseHook appends a hook run on each correlated response.
func WithBeforeHandleResponseHook(h hooks.BeforeHandleResponseHook) Option {
	return func(c *Client) {
		set := c.ensureHooks()
		set.BeforeHandleResponse = append(set.BeforeHandleResponse, h)
	}
}

// WithBeforeHandleUpdateHook appends a hook run on each update.
func WithBeforeHandleUpdateHook(h hooks.BeforeHandleUpdateHook) Option {
	return func(c *Client) {
		set := c.ensureHooks()
		set.BeforeHandleUpdate = append(set.BeforeHandleUpdate, h)
	}
}

// WithMetrics records client activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithPrompter sets the terminal prompter used by login callbacks left nil.
func WithPrompter(p *Prompter) Option {
	return func(c *Client) {
		c.prompter = p
	}
}

func (c *Client) ensureHooks() *hooks.Set {
	if c.hooks == nil {
		c.hooks = &hooks.Set{}
	}
	return c.hooks
}
