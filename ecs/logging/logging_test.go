package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZap(zap.New(core)).With("stage", "Update")

	l.Debug("prepared", "systems", 3)
	l.Warn("wants to be after unknown label", "label", "missing")
	l.Error("system panicked", "system", "move")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "prepared", entries[0].Message)
	assert.Equal(t, map[string]any{"stage": "Update", "systems": int64(3)}, entries[0].ContextMap())
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "missing", entries[1].ContextMap()["label"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "move", entries[2].ContextMap()["system"])
}

func TestZapNilLoggerIsNop(t *testing.T) {
	require.NotPanics(t, func() { NewZap(nil).Info("dropped", "k", 1) })
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerolog(zerolog.New(&buf).Level(zerolog.InfoLevel)).With("stage", "Update")

	l.Debug("filtered")
	l.Info("stage summary", "systems", 2, "skipped", false)
	l.Error("command failed", "err", errors.New("boom"), "dangling")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "stage summary", lines[0]["message"])
	assert.Equal(t, "Update", lines[0]["stage"])
	assert.Equal(t, float64(2), lines[0]["systems"])
	assert.Equal(t, false, lines[0]["skipped"])

	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, "boom", lines[1]["err"])
	assert.Contains(t, lines[1], "dangling")
	assert.Nil(t, lines[1]["dangling"])
}

func TestNewSelectsBackend(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Backend: "zerolog", Level: "warn", Format: FormatJSON, Writer: &buf})
	require.NoError(t, err)
	l.Info("filtered")
	l.Warn("kept", "n", 1)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["message"])
	assert.Contains(t, lines[0], "time")

	_, err = New(Options{Backend: "zap", Level: "not-a-level", Format: FormatJSON})
	require.NoError(t, err)

	_, err = New(Options{Backend: "logrus"})
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestZerologConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Backend: BackendZerolog, Format: FormatConsole, Writer: &buf})
	require.NoError(t, err)
	l.Info("stage summary", "stage", "Update")
	assert.Contains(t, buf.String(), "stage summary")
	assert.Contains(t, buf.String(), "stage=")
}
