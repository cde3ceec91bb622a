package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	logger.Info("connected to %s", "simulator")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "connected to simulator", line["message"])
	assert.Equal(t, "gotdl", line["component"])
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)

	logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.SetLevel(LevelDebug)
	logger.Debug("shown")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	logger.SetLevel(LevelError)
	logger.Warn("hidden")
	logger.Error("failed")
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "failed")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestFromZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := FromZerolog(zerolog.New(&buf).With().Str("backend", "ws").Logger())
	logger.Warn("slow")
	assert.Contains(t, buf.String(), `"backend":"ws"`)
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.SetLevel(LevelDebug)
	logger.Error("nothing %d", 1)
}
