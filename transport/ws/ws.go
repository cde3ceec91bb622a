// Package ws provides a Backend that reaches the native library through a
// WebSocket gateway. Each text frame carries one JSON object in wire form.
//
// Gateways that require authentication accept an HMAC-signed bearer token,
// which the backend mints per connection when WithBearerToken is used.
package ws

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/localrivet/gotdl/logx"
	"github.com/localrivet/gotdl/transport"
)

// BackendName is reported by Backend.Name.
const BackendName = "ws"

// Backend dials a WebSocket gateway fronting the native library.
type Backend struct {
	url         string
	header      http.Header
	dialTimeout time.Duration
	maxRetries  uint64
	retryBase   time.Duration
	retryMax    time.Duration
	issuer      *TokenIssuer
	logger      logx.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend's logger.
func WithLogger(logger logx.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithHeader adds a header to the handshake request.
func WithHeader(key, value string) Option {
	return func(b *Backend) {
		b.header.Add(key, value)
	}
}

// WithBearerToken authenticates every handshake with a freshly minted token.
func WithBearerToken(issuer *TokenIssuer) Option {
	return func(b *Backend) {
		b.issuer = issuer
	}
}

// WithDialTimeout bounds a single dial attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(b *Backend) {
		b.dialTimeout = d
	}
}

// WithDialRetries sets how often a failed dial is retried, backing off
// exponentially between base and max.
func WithDialRetries(n uint64, base, max time.Duration) Option {
	return func(b *Backend) {
		b.maxRetries = n
		if base > 0 {
			b.retryBase = base
		}
		if max > 0 {
			b.retryMax = max
		}
	}
}

// NewBackend creates a Backend dialing url, which must use the ws or wss scheme.
func NewBackend(url string, options ...Option) (*Backend, error) {
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("invalid gateway url %q: scheme must be ws or wss", url)
	}
	b := &Backend{
		url:         url,
		header:      http.Header{},
		dialTimeout: 10 * time.Second,
		maxRetries:  3,
		retryBase:   200 * time.Millisecond,
		retryMax:    5 * time.Second,
		logger:      logx.NewNopLogger(),
	}
	for _, option := range options {
		option(b)
	}
	return b, nil
}

// Name implements transport.Backend.
func (b *Backend) Name() string { return BackendName }

// Execute is not available through a gateway.
func (b *Backend) Execute([]byte) ([]byte, error) {
	return nil, transport.ErrExecuteUnsupported
}

// Open implements transport.Backend. Failed dials are retried with
// exponential backoff; handshake rejections are not.
func (b *Backend) Open(ctx context.Context) (transport.Session, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.retryBase
	exp.MaxInterval = b.retryMax
	exp.Multiplier = 2
	exp.Reset()

	var (
		conn    net.Conn
		br      *bufio.Reader
		attempt int
	)
	op := func() error {
		attempt++
		header := b.header.Clone()
		if b.issuer != nil {
			token, _, err := b.issuer.Issue()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("failed to issue gateway token: %w", err))
			}
			header.Set("Authorization", "Bearer "+token)
		}
		dialer := ws.Dialer{
			Header:  ws.HandshakeHeaderHTTP(header),
			Timeout: b.dialTimeout,
		}
		c, r, _, err := dialer.Dial(ctx, b.url)
		if err != nil {
			var status ws.StatusError
			if errors.As(err, &status) {
				return backoff.Permanent(fmt.Errorf("gateway rejected handshake: %w", err))
			}
			b.logger.Warn("ws: dial attempt %d to %s failed: %v", attempt, b.url, err)
			return err
		}
		conn, br = c, r
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, b.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", b.url, err)
	}

	b.logger.Info("ws: connected to %s", b.url)
	var reader io.Reader = conn
	if br != nil {
		// Frames sent right after the handshake may already be buffered.
		// Copy them out so the reader can go back to the pool.
		buffered, _ := br.Peek(br.Buffered())
		reader = io.MultiReader(bytes.NewReader(bytes.Clone(buffered)), conn)
		ws.PutReader(br)
	}
	return newSession(conn, reader, b.logger), nil
}

// Session implements transport.Session over one WebSocket connection.
type Session struct {
	conn   net.Conn
	reader io.Reader
	logger logx.Logger

	writeMu sync.Mutex
	frames  chan []byte

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

func newSession(conn net.Conn, reader io.Reader, logger logx.Logger) *Session {
	s := &Session{
		conn:   conn,
		reader: reader,
		logger: logger,
		frames: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Send writes request as a text frame.
func (s *Session) Send(ctx context.Context, request []byte) error {
	if len(request) == 0 {
		return transport.ErrEmptyMessage
	}
	select {
	case <-s.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	if err := wsutil.WriteClientMessage(s.conn, ws.OpText, request); err != nil {
		select {
		case <-s.done:
			return transport.ErrClosed
		default:
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Receive returns the next frame, (nil, nil) after timeout, or
// transport.ErrClosed once the connection is gone.
func (s *Session) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case frame, ok := <-s.frames:
		if !ok {
			if s.readErr != nil {
				return nil, fmt.Errorf("%w: %v", transport.ErrClosed, s.readErr)
			}
			return nil, transport.ErrClosed
		}
		return frame, nil
	case <-timer:
		return nil, nil
	case <-s.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// control answers pings and close frames. Replies share writeMu with Send so
// their frames never interleave.
func (s *Session) control(h ws.Header, r io.Reader) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wsutil.ControlFrameHandler(s.conn, ws.StateClientSide)(h, r)
}

// next returns the payload of the next text or binary message.
func (s *Session) next(rd *wsutil.Reader) ([]byte, error) {
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := s.control(hdr, rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode != ws.OpText && hdr.OpCode != ws.OpBinary {
			if err := rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(rd)
	}
}

func (s *Session) readLoop() {
	defer close(s.frames)
	rd := &wsutil.Reader{
		Source:         s.reader,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: s.control,
	}
	for {
		data, err := s.next(rd)
		if err != nil {
			var closed wsutil.ClosedError
			select {
			case <-s.done:
			default:
				if !errors.As(err, &closed) && !errors.Is(err, io.EOF) {
					s.logger.Error("ws: read failed: %v", err)
					s.readErr = err
				}
			}
			return
		}
		select {
		case s.frames <- data:
		case <-s.done:
			return
		}
	}
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

var (
	_ transport.Backend = (*Backend)(nil)
	_ transport.Session = (*Session)(nil)
)
