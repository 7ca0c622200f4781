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
)

func newBuffered(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cfg.writer = buf
	l, err := New(&cfg)
	require.NoError(t, err)
	require.NotNil(t, l)
	return l, buf
}

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		wantMsgs []string
	}{
		{level: "debug", wantMsgs: []string{"Job picked up", "Job completed", "Insight generation failed", "Failed to update job status"}},
		{level: "info", wantMsgs: []string{"Job completed", "Insight generation failed", "Failed to update job status"}},
		{level: "warn", wantMsgs: []string{"Insight generation failed", "Failed to update job status"}},
		{level: "error", wantMsgs: []string{"Failed to update job status"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			l, buf := newBuffered(t, Config{Level: tt.level, Format: "json"})

			l.Debug("Job picked up")
			l.Info("Job completed")
			l.Warn("Insight generation failed")
			l.Error("Failed to update job status")

			var got []string
			for _, e := range jsonLines(t, buf) {
				got = append(got, e["msg"].(string))
			}
			assert.Equal(t, tt.wantMsgs, got)
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	l, buf := newBuffered(t, Config{Level: "info", Format: "json"})

	l.Info("Job completed",
		slog.String("job_id", "7d6c"),
		slog.String("type", "DIVIDE"),
		slog.Float64("result", 2),
	)

	entries := jsonLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "7d6c", entries[0]["job_id"])
	assert.Equal(t, "DIVIDE", entries[0]["type"])
	assert.Equal(t, 2.0, entries[0]["result"])
	assert.Contains(t, entries[0], "time")
}

func TestNew_ConsoleFormat(t *testing.T) {
	for _, format := range []string{"console", ""} {
		t.Run("format="+format, func(t *testing.T) {
			l, buf := newBuffered(t, Config{Level: "info", Format: format})

			l.Info("Worker started", slog.Int("concurrency", 4))

			out := buf.String()
			// tint abbreviates levels and may color the attribute key
			assert.Contains(t, out, "INF")
			assert.Contains(t, out, "Worker started")
			assert.Contains(t, out, "concurrency")
		})
	}
}

func TestNew_UnknownFormatFallsBackToJSON(t *testing.T) {
	l, buf := newBuffered(t, Config{Level: "info", Format: "logfmt"})
	l.Info("Hub ready")

	entries := jsonLines(t, buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "Hub ready", entries[0]["msg"])
}

func TestNew_EnableSource(t *testing.T) {
	l, buf := newBuffered(t, Config{Level: "info", Format: "json", EnableSource: true})
	l.Info("with source")

	entries := jsonLines(t, buf)
	require.Len(t, entries, 1)
	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source["file"], "logger_test.go")
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worker.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info("written to file", slog.String("job_id", "job-1"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "written to file", entry["msg"])
	assert.Equal(t, "job-1", entry["job_id"])
}

func TestNew_FileOutputUnwritable(t *testing.T) {
	l, err := New(&Config{
		Format: "json",
		Output: filepath.Join(t.TempDir(), "missing", "dir", "app.log"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open log file")
	assert.Nil(t, l)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), "level %q", in)
	}
}

func TestLogger_WithAttrs(t *testing.T) {
	l, buf := newBuffered(t, Config{Level: "info", Format: "json"})

	svc := l.WithAttrs(slog.String("service", "calc-worker-service"))
	svc.Info("Worker service started successfully", slog.Int("concurrency", 4))
	l.Info("Unscoped")

	entries := jsonLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "calc-worker-service", entries[0]["service"])
	assert.Equal(t, 4.0, entries[0]["concurrency"])
	assert.NotContains(t, entries[1], "service")
}

func TestLogger_WithAttrsSharesOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")

	base, err := New(&Config{Format: "json", Output: path})
	require.NoError(t, err)

	scoped := base.WithAttrs(slog.String("service", "calc-api-service"))
	scoped.Info("API service is running")
	require.NoError(t, scoped.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "calc-api-service")
}

func TestNewDefault(t *testing.T) {
	l := NewDefault()
	require.NotNil(t, l)
	assert.NoError(t, l.Close())
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	require.NotNil(t, l)
	l.Info("dropped")
	assert.NoError(t, l.Close())
}
