// Package logx provides the logger used across the gotdl packages.
package logx

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level is a logging threshold.
type Level string

// Supported levels, lowest first.
const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Logger defines the interface for logging.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
	SetLevel(level Level)
}

// DefaultLogger writes leveled printf-style messages through zerolog.
type DefaultLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewDefaultLogger creates a new logger writing human-readable lines to stderr.
func NewDefaultLogger() *DefaultLogger {
	return NewLogger(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
}

// NewLogger creates a logger writing to w at info level.
func NewLogger(w io.Writer) *DefaultLogger {
	zl := zerolog.New(w).With().Timestamp().Str("component", "gotdl").Logger().Level(zerolog.InfoLevel)
	return &DefaultLogger{logger: zl}
}

// FromZerolog wraps an already configured zerolog logger.
func FromZerolog(zl zerolog.Logger) *DefaultLogger {
	return &DefaultLogger{logger: zl}
}

func (l *DefaultLogger) current() *zerolog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	zl := l.logger
	return &zl
}

func (l *DefaultLogger) Debug(format string, v ...interface{}) {
	l.current().Debug().Msgf(format, v...)
}

func (l *DefaultLogger) Info(format string, v ...interface{}) {
	l.current().Info().Msgf(format, v...)
}

func (l *DefaultLogger) Warn(format string, v ...interface{}) {
	l.current().Warn().Msgf(format, v...)
}

func (l *DefaultLogger) Error(format string, v ...interface{}) {
	l.current().Error().Msgf(format, v...)
}

// SetLevel updates the minimum level that is written.
func (l *DefaultLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logger = l.logger.Level(ParseLevel(string(level)))
}

// ParseLevel maps a level name to zerolog's level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	switch Level(strings.ToLower(strings.TrimSpace(name))) {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// nopLogger discards everything.
type nopLogger struct{}

// NewNopLogger returns a Logger that drops all output. Useful in tests.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) SetLevel(Level)               {}

var (
	_ Logger = (*DefaultLogger)(nil)
	_ Logger = nopLogger{}
)
