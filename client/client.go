package client

import (
	"sync"

	"github.com/localrivet/gotdl/config"
	"github.com/localrivet/gotdl/events"
	"github.com/localrivet/gotdl/hooks"
	"github.com/localrivet/gotdl/logx"
	"github.com/localrivet/gotdl/protocol"
	"github.com/localrivet/gotdl/transport"
)

// Client drives one backend session. It owns the backend exclusively; sharing
// a backend between clients is not supported.
//
// All methods are safe for concurrent use. Responses and updates are read by
// a background goroutine and listeners run on it, so a listener must not
// block on a call that waits for another backend message.
type Client struct {
	backend  transport.Backend
	cfg      config.Config
	logger   logx.Logger
	hooks    *hooks.Set
	metrics  *Metrics
	prompter *Prompter
	emitter  *events.Emitter

	mu         sync.Mutex
	session    transport.Session
	connecting bool
	pending    map[string]chan result
	loggingIn  bool
	version    string
	connReady  bool

	authState   protocol.AuthorizationState
	authVersion uint64
	authChanged chan struct{}

	paused   bool
	resumeCh chan struct{}

	stopLoop func()
	loopDone chan struct{}

	closeDone chan struct{}

	destroyOnce sync.Once
	destroyed   chan struct{}
	destroyErr  error
}

type result struct {
	obj protocol.Object
	err error
}

// New binds backend and a validated copy of cfg. cfg is used as is; start
// from config.Default to get the defaults.
func New(backend transport.Backend, cfg config.Config, options ...Option) (*Client, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		backend:     backend,
		cfg:         cfg.Clone(),
		logger:      logx.NewNopLogger(),
		pending:     make(map[string]chan result),
		authChanged: make(chan struct{}),
		resumeCh:    make(chan struct{}),
		loopDone:    make(chan struct{}),
		destroyed:   make(chan struct{}),
	}
	close(c.resumeCh)
	for _, option := range options {
		option(c)
	}
	c.emitter = events.NewEmitter(c.logger, c.listenerFailed)

	if reporter, ok := backend.(transport.FatalErrorReporter); ok {
		reporter.SetFatalErrorCallback(func(message string) {
			c.emitError(&FatalError{Message: message})
		})
	}
	return c, nil
}

// Create is an alias of New.
func Create(backend transport.Backend, cfg config.Config, options ...Option) (*Client, error) {
	return New(backend, cfg, options...)
}

// Config returns a copy of the client's configuration.
func (c *Client) Config() config.Config {
	return c.cfg.Clone()
}

// BackendName identifies the backend implementation.
func (c *Client) BackendName() string {
	return c.backend.Name()
}

// Version returns the backend version, as reported by the backend through
// updateOption. It fails with ErrVersionUnavailable until then.
func (c *Client) Version() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version == "" {
		return "", ErrVersionUnavailable
	}
	return c.version, nil
}

// AuthorizationState returns the last authorization state the backend
// reported. Its Type is empty before the first report.
func (c *Client) AuthorizationState() protocol.AuthorizationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authState
}

// SetLogFatalErrorCallback replaces the handler of fatal native-library
// failures, which by default are emitted as *FatalError error events. It has
// no effect on backends that cannot report them.
//
// Deprecated: listen for *FatalError on EventError instead.
func (c *Client) SetLogFatalErrorCallback(fn func(message string)) {
	reporter, ok := c.backend.(transport.FatalErrorReporter)
	if !ok {
		c.logger.Debug("backend %s does not report fatal errors", c.backend.Name())
		return
	}
	reporter.SetFatalErrorCallback(fn)
}

// Pause stops reading from the backend until Resume. Messages queue up in
// the backend meanwhile. Best effort: a receive already in progress completes.
func (c *Client) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	c.resumeCh = make(chan struct{})
	c.logger.Debug("receive loop paused")
}

// Resume undoes Pause.
func (c *Client) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	close(c.resumeCh)
	c.logger.Debug("receive loop resumed")
}
