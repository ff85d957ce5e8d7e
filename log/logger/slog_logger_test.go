package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hatlonely/cdcgen/log/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSLogWithOptions(t *testing.T) {
	tests := []struct {
		name    string
		options *SLogOptions
		wantErr bool
	}{
		{
			name:    "nil options",
			options: nil,
			wantErr: true,
		},
		{
			name:    "default console output",
			options: &SLogOptions{Level: "info"},
		},
		{
			name: "json to stdout",
			options: &SLogOptions{
				Level:  "debug",
				Format: "json",
				Output: writer.Options{Type: "console", Console: &writer.ConsoleWriterOptions{Target: "stdout"}},
			},
		},
		{
			name: "file output",
			options: &SLogOptions{
				Output: writer.Options{Type: "file", File: &writer.FileWriterOptions{Path: filepath.Join(t.TempDir(), "log", "cdcgen.log")}},
			},
		},
		{
			name:    "invalid level",
			options: &SLogOptions{Level: "invalid"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			options: &SLogOptions{Format: "xml"},
			wantErr: true,
		},
		{
			name:    "invalid writer",
			options: &SLogOptions{Output: writer.Options{Type: "kafka"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewSLogWithOptions(tt.options)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, l)
			assert.NoError(t, l.Close())
		})
	}
}

func TestParseLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "warning", "error", "", "INFO"} {
		_, err := parseLevel(level)
		assert.NoError(t, err, level)
	}
	_, err := parseLevel("trace")
	assert.Error(t, err)
}

func TestSLogOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewSLogWithWriter(&buf, &SLogOptions{
		Level:  "info",
		Format: "json",
		Fields: map[string]string{"service": "cdcgen"},
	})
	require.NoError(t, err)

	l.Debug("hidden")
	l.With("batch", 10).WithGroup("counters").Info("progress", "inserts", 5000)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "progress", entry["msg"])
	assert.Equal(t, "cdcgen", entry["service"])
	assert.Equal(t, float64(10), entry["batch"])
	assert.Equal(t, map[string]any{"inserts": float64(5000)}, entry["counters"])
}

func TestSLogEnabled(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewSLogWithWriter(&buf, &SLogOptions{Level: "warn", Format: "text"})
	require.NoError(t, err)

	ctx := context.Background()
	assert.False(t, l.Enabled(ctx, slog.LevelDebug))
	assert.False(t, l.Enabled(ctx, slog.LevelInfo))
	assert.True(t, l.Enabled(ctx, slog.LevelWarn))
	assert.True(t, l.WithGroup("mutation").Enabled(ctx, slog.LevelError))
}
