package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsnstream/internal/config"
)

// keepDefault restores the process-wide slog logger after a test calls Init.
func keepDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func fileLogConfig(path, level, format string) config.LogConfig {
	return config.LogConfig{
		Level:  level,
		Format: format,
		Outputs: config.LogOutputsConfig{
			File: config.FileOutputConfig{
				Enabled:  true,
				Path:     path,
				Rotation: config.RotationConfig{MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1},
			},
		},
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestParseLevel(t *testing.T) {
	good := map[string]slog.Level{
		"debug": slog.LevelDebug, "DEBUG": slog.LevelDebug,
		"info": slog.LevelInfo, "Info": slog.LevelInfo,
		"warn": slog.LevelWarn, "warning": slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range good {
		got, err := parseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "trace", "fatal", "verbose"} {
		_, err := parseLevel(in)
		assert.Error(t, err, in)
	}
}

func TestInit_Rejects(t *testing.T) {
	keepDefault(t)
	tests := []struct {
		name string
		cfg  config.LogConfig
		want string
	}{
		{"bad level", config.LogConfig{Level: "loud", Format: "json"}, "invalid log level"},
		{"bad format", config.LogConfig{Level: "info", Format: "xml"}, "unsupported log format"},
		{"file without path", fileLogConfig("", "info", "json"), "path"},
		{"loki without endpoint", config.LogConfig{
			Level: "info", Format: "json",
			Outputs: config.LogOutputsConfig{Loki: config.LokiOutputConfig{Enabled: true}},
		}, "endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(tt.cfg, "sw-01")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInit_FileRecordsCarryNode(t *testing.T) {
	keepDefault(t)
	path := filepath.Join(t.TempDir(), "tsnstream.log")

	l, err := Init(fileLogConfig(path, "info", "json"), "sw-01")
	require.NoError(t, err)

	Component("engine").Info("stream created", "stream_id", 7)
	slog.Debug("filtered out")
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "sw-01", rec["node"])
	assert.Equal(t, "engine", rec["component"])
	assert.Equal(t, "stream created", rec["msg"])
	assert.EqualValues(t, 7, rec["stream_id"])
}

func TestInit_TextFormatWithoutNode(t *testing.T) {
	keepDefault(t)
	path := filepath.Join(t.TempDir(), "tsnstream.log")

	l, err := Init(fileLogConfig(path, "debug", "text"), "")
	require.NoError(t, err)
	slog.Debug("rule installed", "rule_id", 3)
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "level=DEBUG")
	assert.Contains(t, lines[0], "rule_id=3")
	assert.NotContains(t, lines[0], "node=")
}

func TestLogger_SetLevel(t *testing.T) {
	keepDefault(t)
	path := filepath.Join(t.TempDir(), "tsnstream.log")

	l, err := Init(fileLogConfig(path, "warn", "text"), "sw-01")
	require.NoError(t, err)
	defer l.Close()

	slog.Info("before")
	require.NoError(t, l.SetLevel("info"))
	slog.Info("after")

	assert.Error(t, l.SetLevel("trace"))
	assert.Equal(t, slog.LevelInfo, l.Level())

	require.NoError(t, l.Close())
	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "msg=after")
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	keepDefault(t)
	l, err := Init(fileLogConfig(filepath.Join(t.TempDir(), "x.log"), "info", "json"), "")
	require.NoError(t, err)
	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

func TestInit_LokiOutputLabelsNode(t *testing.T) {
	keepDefault(t)
	rec := &lokiRecorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	l, err := Init(config.LogConfig{
		Level:  "info",
		Format: "json",
		Outputs: config.LogOutputsConfig{Loki: config.LokiOutputConfig{
			Enabled:      true,
			Endpoint:     srv.URL,
			Labels:       map[string]string{"env": "lab"},
			BatchSize:    10,
			BatchTimeout: "1h",
		}},
	}, "sw-01")
	require.NoError(t, err)

	slog.Warn("pool exhausted", "pool", "psfp")
	require.NoError(t, l.Close())

	pushes := rec.pushes()
	require.Len(t, pushes, 1)
	require.Len(t, pushes[0].Streams, 1)
	labels := pushes[0].Streams[0].Stream
	assert.Equal(t, map[string]string{"job": "tsnstream", "env": "lab", "node": "sw-01", "level": "warn"}, labels)
}

func TestComponentLogger(t *testing.T) {
	keepDefault(t)
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	Component("engine").Info("hello")

	assert.Contains(t, buf.String(), `"component":"engine"`)
}

func TestCreateLokiWriterLabels(t *testing.T) {
	w, err := createLokiWriter(config.LokiOutputConfig{
		Endpoint: "http://localhost:3100/loki/api/v1/push",
		Labels:   map[string]string{"env": "lab", "node": "override"},
	}, "sw-01")
	require.NoError(t, err)
	defer w.Close()

	lw := w.(*LokiWriter)
	assert.Equal(t, "override", lw.labels["node"], "configured node label wins")
	assert.Equal(t, "lab", lw.labels["env"])
	assert.Equal(t, "tsnstream", lw.labels["job"])
}
