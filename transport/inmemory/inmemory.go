// Package inmemory provides a programmable Backend that lives in the same
// process as the client. Requests are handed to a Handler, which answers by
// pushing objects back into the session.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/localrivet/gotdl/protocol"
	"github.com/localrivet/gotdl/transport"
)

// DefaultName is reported by Backend.Name unless WithName is used.
const DefaultName = "inmemory"

// Handler answers a request sent through a session. Handlers run on the
// session's dispatch goroutine, one request at a time, in send order.
type Handler func(s *Session, request protocol.Object)

// Executor answers synchronous requests.
type Executor func(request protocol.Object) protocol.Object

// Backend implements transport.Backend in memory.
type Backend struct {
	name     string
	handler  Handler
	executor Executor
	onOpen   func(s *Session)
	openErr  error

	mu       sync.Mutex
	sessions []*Session
	onFatal  func(message string)
}

// Option configures a Backend.
type Option func(*Backend)

// WithName overrides the backend name.
func WithName(name string) Option {
	return func(b *Backend) {
		b.name = name
	}
}

// WithExecutor sets the function answering Execute.
func WithExecutor(fn Executor) Option {
	return func(b *Backend) {
		b.executor = fn
	}
}

// WithOpenHook runs fn on every new session before Open returns. It is the
// place to push the updates a real backend emits on startup.
func WithOpenHook(fn func(s *Session)) Option {
	return func(b *Backend) {
		b.onOpen = fn
	}
}

// WithOpenError makes Open fail with err.
func WithOpenError(err error) Option {
	return func(b *Backend) {
		b.openErr = err
	}
}

// New creates a backend whose sessions pass requests to handler. A nil handler
// leaves requests unanswered.
func New(handler Handler, options ...Option) *Backend {
	b := &Backend{name: DefaultName, handler: handler}
	for _, option := range options {
		option(b)
	}
	return b
}

// Name implements transport.Backend.
func (b *Backend) Name() string { return b.name }

// Open implements transport.Backend.
func (b *Backend) Open(ctx context.Context) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := &Session{
		backend:  b,
		inbox:    make(chan []byte, 1024),
		requests: make(chan protocol.Object, 1024),
		closed:   make(chan struct{}),
	}
	b.mu.Lock()
	b.sessions = append(b.sessions, s)
	b.mu.Unlock()

	go s.dispatch()
	if b.onOpen != nil {
		b.onOpen(s)
	}
	return s, nil
}

// Execute implements transport.Backend.
func (b *Backend) Execute(request []byte) ([]byte, error) {
	if b.executor == nil {
		return nil, transport.ErrExecuteUnsupported
	}
	req, err := protocol.FromWire(request)
	if err != nil {
		return nil, err
	}
	reply := b.executor(req)
	if reply == nil {
		return nil, fmt.Errorf("executor returned no reply for %q", req.Type())
	}
	if extra, ok := req[protocol.ExtraKey]; ok {
		reply = reply.Clone()
		reply[protocol.ExtraKey] = extra
	}
	return protocol.ToWire(reply, false)
}

// SetFatalErrorCallback implements transport.FatalErrorReporter.
func (b *Backend) SetFatalErrorCallback(fn func(message string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFatal = fn
}

// Fatal reports a fatal backend failure to the registered callback.
func (b *Backend) Fatal(message string) {
	b.mu.Lock()
	fn := b.onFatal
	b.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}

// Sessions returns every session opened so far.
func (b *Backend) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Session, len(b.sessions))
	copy(out, b.sessions)
	return out
}

// LastSession returns the most recently opened session, or nil.
func (b *Backend) LastSession() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[len(b.sessions)-1]
}

// Session implements transport.Session in memory.
type Session struct {
	backend  *Backend
	inbox    chan []byte
	requests chan protocol.Object

	mu       sync.Mutex
	received []protocol.Object

	closeOnce sync.Once
	closed    chan struct{}
}

// ErrInboxFull is returned by Push when the client stopped receiving.
var ErrInboxFull = errors.New("inmemory: session inbox is full")

// Send implements transport.Session.
func (s *Session) Send(ctx context.Context, request []byte) error {
	if len(request) == 0 {
		return transport.ErrEmptyMessage
	}
	req, err := protocol.FromWire(request)
	if err != nil {
		return err
	}
	select {
	case <-s.closed:
		return transport.ErrClosed
	default:
	}

	s.mu.Lock()
	s.received = append(s.received, req)
	s.mu.Unlock()

	select {
	case s.requests <- req:
		return nil
	case <-s.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) dispatch() {
	for {
		select {
		case req := <-s.requests:
			if s.backend.handler != nil {
				s.backend.handler(s, req)
			}
		case <-s.closed:
			return
		}
	}
}

// Receive implements transport.Session.
func (s *Session) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case data := <-s.inbox:
		return data, nil
	case <-s.closed:
		return nil, transport.ErrClosed
	case <-timer:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements transport.Session.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Push delivers an object to the client as if the backend had emitted it.
func (s *Session) Push(o protocol.Object) error {
	data, err := protocol.ToWire(o, false)
	if err != nil {
		return err
	}
	select {
	case <-s.closed:
		return transport.ErrClosed
	default:
	}
	select {
	case s.inbox <- data:
		return nil
	default:
		return ErrInboxFull
	}
}

// PushRaw delivers raw bytes, which need not be valid JSON.
func (s *Session) PushRaw(data []byte) error {
	select {
	case s.inbox <- data:
		return nil
	case <-s.closed:
		return transport.ErrClosed
	default:
		return ErrInboxFull
	}
}

// Reply answers request with o, copying the request's correlation value.
func (s *Session) Reply(request protocol.Object, o protocol.Object) error {
	reply := o.Clone()
	if extra, ok := request[protocol.ExtraKey]; ok {
		reply[protocol.ExtraKey] = extra
	}
	return s.Push(reply)
}

// ReplyOK answers request with {"_":"ok"}.
func (s *Session) ReplyOK(request protocol.Object) error {
	return s.Reply(request, protocol.NewObject(protocol.TypeOk, nil))
}

// ReplyError answers request with a backend error object.
func (s *Session) ReplyError(request protocol.Object, code int, message string) error {
	return s.Reply(request, (&protocol.Error{Code: code, Message: message}).Object())
}

// Received returns every request sent to the session so far.
func (s *Session) Received() []protocol.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Object, len(s.received))
	copy(out, s.received)
	return out
}

// ReceivedTypes returns the type names of every request sent so far.
func (s *Session) ReceivedTypes() []string {
	reqs := s.Received()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Type()
	}
	return out
}

var (
	_ transport.Backend            = (*Backend)(nil)
	_ transport.Session            = (*Session)(nil)
	_ transport.FatalErrorReporter = (*Backend)(nil)
)
