// Package stdio provides a backend session speaking newline-delimited JSON over
// a reader/writer pair, and a Backend that runs the native library as a child
// process and talks to it over its stdin and stdout.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/localrivet/gotdl/logx"
	"github.com/localrivet/gotdl/transport"
)

// maxLineSize bounds a single message. Backend updates carrying large
// chat histories can be a few megabytes.
const maxLineSize = 64 << 20

// Session implements transport.Session over a reader/writer pair. Every
// message is one line of JSON.
type Session struct {
	reader    io.Reader
	writer    io.Writer
	closeFunc func() error
	logger    logx.Logger

	writeMu sync.Mutex
	lines   chan []byte

	closeOnce sync.Once
	done      chan struct{}
	readDone  chan struct{}
	readErr   error
	closeErr  error
}

// NewSession starts reading lines from r and writes requests to w. closeFunc,
// when non-nil, is called once by Close after the reader and writer were
// closed.
func NewSession(r io.Reader, w io.Writer, closeFunc func() error, logger logx.Logger) *Session {
	if logger == nil {
		logger = logx.NewNopLogger()
	}
	s := &Session{
		reader:    r,
		writer:    w,
		closeFunc: closeFunc,
		logger:    logger,
		lines:     make(chan []byte, 256),
		done:      make(chan struct{}),
		readDone:  make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// Send writes request followed by a newline.
func (s *Session) Send(ctx context.Context, request []byte) error {
	select {
	case <-s.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data := bytes.TrimRight(request, "\n")
	if len(data) == 0 {
		return transport.ErrEmptyMessage
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.logger.Debug("stdio send: %s", data)
	buf := make([]byte, 0, len(data)+1)
	buf = append(append(buf, data...), '\n')
	if _, err := s.writer.Write(buf); err != nil {
		if errors.Is(err, io.ErrClosedPipe) || isClosedPipe(err) {
			s.logger.Warn("stdio: write to closed pipe: %v", err)
			_ = s.Close()
			return transport.ErrClosed
		}
		return fmt.Errorf("failed to write message: %w", err)
	}
	if flusher, ok := s.writer.(interface{ Flush() error }); ok {
		if err := flusher.Flush(); err != nil {
			s.logger.Warn("stdio: failed to flush writer: %v", err)
		}
	}
	return nil
}

// Receive returns the next line, (nil, nil) after timeout, or
// transport.ErrClosed once the reader is exhausted and drained.
func (s *Session) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case line, ok := <-s.lines:
		if !ok {
			return nil, s.terminalError()
		}
		return line, nil
	case <-timer:
		return nil, nil
	case <-s.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) terminalError() error {
	if s.readErr != nil && !errors.Is(s.readErr, io.EOF) {
		return fmt.Errorf("%w: %v", transport.ErrClosed, s.readErr)
	}
	return transport.ErrClosed
}

// readLoop owns s.lines and closes it when the reader ends.
func (s *Session) readLoop() {
	defer close(s.readDone)
	defer close(s.lines)

	br := bufio.NewReaderSize(s.reader, 64*1024)
	for {
		line, err := readLine(br)
		if len(line) > 0 {
			if !json.Valid(line) {
				s.logger.Error("stdio: dropping invalid JSON line: %q", truncate(line, 256))
			} else {
				select {
				case s.lines <- line:
				case <-s.done:
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case <-s.done:
				default:
					s.logger.Error("stdio: read failed: %v", err)
				}
			}
			s.readErr = err
			return
		}
	}
}

func readLine(br *bufio.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := br.ReadSlice('\n')
		buf.Write(chunk)
		if buf.Len() > maxLineSize {
			return nil, fmt.Errorf("message exceeds %d bytes", maxLineSize)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimSpace(buf.Bytes()), err
	}
}

func isClosedPipe(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "pipe closed") || strings.Contains(msg, "broken pipe") || strings.Contains(msg, "already closed")
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

// Done is closed when Close has been called.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close closes the writer and the reader if they implement io.Closer, then
// runs the close function. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		var firstErr error
		keep := func(err error) {
			if err == nil || errors.Is(err, io.ErrClosedPipe) || strings.Contains(err.Error(), "already closed") {
				return
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		if c, ok := s.writer.(io.Closer); ok {
			keep(c.Close())
		}
		if c, ok := s.reader.(io.Closer); ok {
			keep(c.Close())
		}
		if s.closeFunc != nil {
			keep(s.closeFunc())
		}
		s.closeErr = firstErr
	})
	return s.closeErr
}

var _ transport.Session = (*Session)(nil)
