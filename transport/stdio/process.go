package stdio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/localrivet/gotdl/logx"
	"github.com/localrivet/gotdl/transport"
)

// BackendName is reported by Backend.Name.
const BackendName = "stdio"

// Backend launches the native library as a child process. Each Open starts a
// new process; requests are written to its stdin and responses and updates
// are read from its stdout, one JSON object per line. Anything the process
// writes to stderr is logged.
type Backend struct {
	command     string
	args        []string
	executeArgs []string
	env         []string
	dir         string
	stopTimeout time.Duration
	logger      logx.Logger

	mu      sync.Mutex
	onFatal func(message string)
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend's logger.
func WithLogger(logger logx.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithEnv adds KEY=VALUE pairs to the child environment.
func WithEnv(env map[string]string) Option {
	return func(b *Backend) {
		for k, v := range env {
			b.env = append(b.env, k+"="+os.ExpandEnv(v))
		}
	}
}

// WithDir sets the child's working directory.
func WithDir(dir string) Option {
	return func(b *Backend) {
		b.dir = dir
	}
}

// WithExecuteArgs sets the arguments that switch the binary into one-shot
// mode, in which it reads a single request from stdin, writes the answer to
// stdout and exits. Without them Execute is unsupported.
func WithExecuteArgs(args ...string) Option {
	return func(b *Backend) {
		b.executeArgs = args
	}
}

// WithStopTimeout bounds how long Close waits for the child to exit after an
// interrupt before killing it.
func WithStopTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.stopTimeout = d
		}
	}
}

// NewBackend creates a Backend that runs command with args.
func NewBackend(command string, args []string, options ...Option) *Backend {
	b := &Backend{
		command:     command,
		args:        args,
		stopTimeout: 5 * time.Second,
		logger:      logx.NewNopLogger(),
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// Name implements transport.Backend.
func (b *Backend) Name() string { return BackendName }

// SetFatalErrorCallback implements transport.FatalErrorReporter. fn is called
// when the child exits on its own with a failure; the message holds the last
// lines the child wrote to stderr.
func (b *Backend) SetFatalErrorCallback(fn func(message string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFatal = fn
}

func (b *Backend) fatal(message string) {
	b.mu.Lock()
	fn := b.onFatal
	b.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}

func (b *Backend) newCommand(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, b.command, args...)
	cmd.Dir = b.dir
	if len(b.env) > 0 {
		cmd.Env = append(os.Environ(), b.env...)
	}
	return cmd
}

// Open starts the child process. The process outlives ctx; it is stopped by
// closing the returned session.
func (b *Backend) Open(ctx context.Context) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := b.newCommand(context.Background(), b.args)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	b.logger.Info("starting backend process: %s %s", b.command, strings.Join(b.args, " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start backend process %s: %w", b.command, err)
	}

	p := &process{cmd: cmd, exited: make(chan struct{}), stderrDone: make(chan struct{}), tail: newTail(20)}
	go p.drainStderr(stderr, b.logger)

	session := NewSession(stdout, stdin, func() error {
		return p.stop(b.stopTimeout, b.logger)
	}, b.logger)

	go func() {
		// Wait closes the pipes, so both readers must be finished first.
		<-p.stderrDone
		<-session.readDone
		p.err = cmd.Wait()
		close(p.exited)
		select {
		case <-session.Done():
			return
		default:
		}
		if p.err != nil {
			b.logger.Error("backend process exited: %v", p.err)
			b.fatal(fmt.Sprintf("backend process exited: %v: %s", p.err, p.tail.String()))
		} else {
			b.logger.Warn("backend process exited")
		}
	}()

	b.logger.Info("backend process started (pid %d)", cmd.Process.Pid)
	return session, nil
}

// Execute runs the binary in one-shot mode with request on its stdin.
func (b *Backend) Execute(request []byte) ([]byte, error) {
	if len(b.executeArgs) == 0 {
		return nil, transport.ErrExecuteUnsupported
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.stopTimeout)
	defer cancel()

	cmd := b.newCommand(ctx, b.executeArgs)
	cmd.Stdin = bytes.NewReader(append(bytes.TrimRight(request, "\n"), '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("execute failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	line, _, _ := bytes.Cut(out, []byte("\n"))
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, fmt.Errorf("execute returned no output")
	}
	return line, nil
}

type process struct {
	cmd        *exec.Cmd
	exited     chan struct{}
	stderrDone chan struct{}
	err        error
	tail       *tail
}

func (p *process) drainStderr(r io.Reader, logger logx.Logger) {
	defer close(p.stderrDone)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		p.tail.add(line)
		logger.Debug("backend stderr: %s", line)
	}
}

// stop interrupts the child and kills it if it does not exit in time.
func (p *process) stop(timeout time.Duration, logger logx.Logger) error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		logger.Warn("failed to interrupt backend process: %v", err)
	}
	select {
	case <-p.exited:
		return nil
	case <-time.After(timeout):
		logger.Warn("backend process did not exit after %v, killing it", timeout)
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill backend process: %w", err)
		}
		<-p.exited
		return nil
	}
}

// tail keeps the last n stderr lines for fatal error reports.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

var (
	_ transport.Backend            = (*Backend)(nil)
	_ transport.FatalErrorReporter = (*Backend)(nil)
)
