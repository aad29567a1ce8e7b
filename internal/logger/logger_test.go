package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "debug", "json")

	assert.True(t, l.Enabled(context.Background(), slog.LevelDebug))
	l.Info("forwarded", "user_id", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "forwarded", entry["msg"])
	assert.Equal(t, float64(42), entry["user_id"])
}

func TestWithUser(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), New(&buf, "info", "text"))

	FromContext(WithUser(ctx, 777)).Info("ban")
	assert.Contains(t, buf.String(), "user_id=777")
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	assert.Equal(t, L, FromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, parseLevel(tt.input), tt.input)
	}
}
