package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "verbose", "text")
	assert.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestNewTextHandlerWritesPlainLines(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", "text")
	require.NoError(t, err)

	log.Info("hello", "key", "value")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "key=value")
}

func TestNewJSONHandlerWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "info", "json")
	require.NoError(t, err)

	log.Info("hello", "key", "value")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"key":"value"`)
}

func TestNewDebugLevelFiltersInfoWhenSetToError(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, "error", "text")
	require.NoError(t, err)

	log.Info("should not appear")
	assert.Empty(t, buf.String())
}

func TestComponentTagsChildLogger(t *testing.T) {
	var buf bytes.Buffer
	root, err := New(&buf, "info", "text")
	require.NoError(t, err)

	child := Component(root, "pipeline")
	child.Info("tick")
	assert.Contains(t, buf.String(), "component=pipeline")
}

func TestComponentHandlesNilRoot(t *testing.T) {
	child := Component(nil, "pipeline")
	assert.NotNil(t, child)
	assert.NotPanics(t, func() { child.Info("noop") })
}

func TestComponentDiscardHandlerIsQuiet(t *testing.T) {
	child := Component(nil, "pipeline")
	assert.False(t, child.Enabled(context.Background(), slog.LevelError))
	child.Info("noop")
}
