package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLoggerWritesExpectedFields(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.StaticFields = map[string]string{"service": "edgestream"}

	logger, err := New(&buf, cfg)
	require.NoError(t, err)

	logger.Info("hello %s", "world")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "hello world", parsed["message"])
	assert.Equal(t, "info", parsed["level"])
	assert.Equal(t, "edgestream", parsed["service"])
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Format = "xml"
	_, err := New(&bytes.Buffer{}, cfg)
	assert.Error(t, err)
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, DefaultConfig())
	require.NoError(t, err)

	child := logger.WithFields(map[string]string{"key": "abc"})
	child.Info("child message")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "abc", parsed["key"])

	buf.Reset()
	logger.Info("parent message")
	var parentParsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parentParsed))
	_, hasKey := parentParsed["key"]
	assert.False(t, hasKey)
}

func TestNewWithFilePathTeesToConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	cfg := DefaultConfig()
	cfg.File.Path = filepath.Join(t.TempDir(), "edgestream.log")

	logger, err := New(&console, cfg)
	require.NoError(t, err)

	logger.Info("hello %s", "disk")

	assert.Contains(t, console.String(), "hello disk")

	fileBytes, err := os.ReadFile(cfg.File.Path)
	require.NoError(t, err)
	assert.Contains(t, string(fileBytes), "hello disk")
}
