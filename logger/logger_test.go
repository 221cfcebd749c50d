package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, zerolog.WarnLevel)

	l.Info("hidden")
	l.Warn("shown", F("psm", "0x1213"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "psm=0x1213")
	assert.Contains(t, out, "service=btchat")
}

func TestWith_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, zerolog.DebugLevel).With(F("component", "l2cap"))

	l.Debug("socket created", F("fd", 3))

	out := buf.String()
	assert.Contains(t, out, "component=l2cap")
	assert.Contains(t, out, "fd=3")
}

func TestNewFile_WritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "btchat.log")

	l, err := NewFile(path, zerolog.InfoLevel)
	require.NoError(t, err)

	l.Error("receive failed", Err(errors.New("boom")))
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "receive failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, ServiceName, entry["service"])
}

func TestNewFile_BadPath(t *testing.T) {
	_, err := NewFile(filepath.Join(t.TempDir(), "missing", "x.log"), zerolog.InfoLevel)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.NotPanics(t, func() {
		l.Error("nothing")
		l.With(F("a", 1)).Info("still nothing")
	})
	assert.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	lvl, err = ParseLevel(" DEBUG ")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}
