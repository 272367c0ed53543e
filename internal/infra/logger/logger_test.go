package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasm-arena/internal/infra/config"
)

func TestNewTextAndJSON(t *testing.T) {
	for _, format := range []string{"text", "json"} {
		log, closer, err := New(config.LoggerConfig{Level: "debug", Format: format, Output: "discard"})
		require.NoError(t, err, format)
		require.NotNil(t, log)
		assert.True(t, log.Enabled(t.Context(), slog.LevelDebug))
		require.NoError(t, closer())
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.log")
	log, closer, err := New(config.LoggerConfig{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	log.Info("game loaded", "game_id", "g1")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "game loaded", entry["msg"])
	assert.Equal(t, "g1", entry["game_id"])
}

func TestNewBadFileOutput(t *testing.T) {
	_, _, err := New(config.LoggerConfig{Output: filepath.Join(t.TempDir(), "no", "such", "dir", "x.log")})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), tt.input)
	}
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.False(t, log.Enabled(t.Context(), slog.LevelError))
}

func TestLineWriter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	var lines []string
	w := NewLineWriter(log, slog.LevelWarn, "guest output", func(l string) { lines = append(lines, l) })

	_, err := w.Write([]byte("first line\nsecond "))
	require.NoError(t, err)
	assert.Equal(t, []string{"first line"}, lines)

	_, err = w.Write([]byte("half\r\n\ntail"))
	require.NoError(t, err)
	assert.Equal(t, []string{"first line", "second half"}, lines)

	require.NoError(t, w.Close())
	assert.Equal(t, []string{"first line", "second half", "tail"}, lines)

	records := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, records, 3)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(records[0]), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "first line", rec["line"])
}

func TestLineWriterCapsUnterminatedLine(t *testing.T) {
	var count int
	w := NewLineWriter(Discard(), slog.LevelInfo, "x", func(string) { count++ })
	_, err := w.Write(bytes.Repeat([]byte("a"), maxLine+10))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
