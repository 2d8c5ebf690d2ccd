package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("dev"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(""))
	assert.Equal(t, slog.LevelError, ParseLevel("loud"))
	assert.Equal(t, LevelTrace, ParseLevel("trace"))
}

func TestPionFactory_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	f := NewPionFactory(New(&buf, "warn", "text"))
	l := f.NewLogger("ice")

	l.Debugf("candidate %d", 1)
	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warnf("lost %s", "pair")
	assert.Contains(t, buf.String(), "lost pair")
	assert.Contains(t, buf.String(), "scope=ice")
}
