package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var out []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		out = append(out, e)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestStructuredLogger_FiltersAndTagsEntries(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("bloomrisk", "test", InfoLevel)
	logger.SetOutput(&buf)

	ctx := WithSnapshotID(WithRunID(context.Background(), "run-1"), "SNAP")
	logger.Debug(ctx, "[BUILD] hidden", nil)
	logger.Info(ctx, "[BUILD] matrix written", Fields{"rows": 3})
	logger.Error(ctx, "[BUILD_ERROR] failed", nil, errors.New("boom"))

	entries := decode(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "INFO", entries[0].Level)
	assert.Equal(t, "[BUILD] matrix written", entries[0].Message)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, "SNAP", entries[0].SnapshotID)
	assert.EqualValues(t, 3, entries[0].Fields["rows"])
	assert.Empty(t, entries[0].File)

	assert.Equal(t, "ERROR", entries[1].Level)
	assert.Equal(t, "boom", entries[1].Error)
	assert.NotEmpty(t, entries[1].File)
}

func TestStructuredLogger_Fatal(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("bloomrisk", "test", InfoLevel)
	logger.SetOutput(&buf)
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal(context.Background(), "[FATAL] stop", nil, errors.New("bad"))
	assert.Equal(t, 1, code)
	entries := decode(t, &buf)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].StackTrace)
}

func TestContextLogger_MergesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("bloomrisk", "test", DebugLevel)
	logger.SetOutput(&buf)

	scoped := logger.WithFields(Fields{"component": "clean", "stage": "init"})
	scoped.Debug(context.Background(), "[CLEAN] start", Fields{"stage": "dedupe"})

	entries := decode(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "clean", entries[0].Fields["component"])
	assert.Equal(t, "dedupe", entries[0].Fields["stage"])
	assert.Empty(t, RunID(context.Background()))
}

func TestDiscard(t *testing.T) {
	Discard().Error(context.Background(), "dropped", nil, errors.New("x"))
}
