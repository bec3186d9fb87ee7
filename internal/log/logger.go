// Package log implements structured logging using slog.
package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"firestige.xyz/tsnstream/internal/config"
)

// Logger owns the outputs behind the default slog logger. Close releases
// them; a reload initializes a new Logger and closes the previous one.
type Logger struct {
	level   *slog.LevelVar
	closers []io.Closer
}

// Init initializes the global logger based on configuration. Every record
// carries the node attribute.
func Init(cfg config.LogConfig, node string) (*Logger, error) {
	// Parse log level
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	l := &Logger{level: new(slog.LevelVar)}
	l.level.Set(level)

	// Collect all output writers, stdout is always included.
	writers := []io.Writer{os.Stdout}

	// File output
	if cfg.Outputs.File.Enabled {
		w, err := createFileWriter(cfg.Outputs.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
		writers = append(writers, w)
		l.closers = append(l.closers, w)
	}

	// Loki output
	if cfg.Outputs.Loki.Enabled {
		w, err := createLokiWriter(cfg.Outputs.Loki, node)
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to create loki output: %w", err)
		}
		writers = append(writers, w)
		l.closers = append(l.closers, w)
	}

	handler, err := newHandler(io.MultiWriter(writers...), cfg.Format, l.level)
	if err != nil {
		l.Close()
		return nil, err
	}

	logger := slog.New(handler)
	if node != "" {
		logger = logger.With("node", node)
	}
	slog.SetDefault(logger)

	return l, nil
}

func newHandler(w io.Writer, format string, level slog.Leveler) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	}
	return nil, fmt.Errorf("unsupported log format: %s (must be json or text)", format)
}

// SetLevel changes the level without rebuilding outputs.
func (l *Logger) SetLevel(s string) error {
	level, err := parseLevel(s)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	l.level.Set(level)
	return nil
}

// Level returns the current level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Close flushes and closes file and Loki outputs.
func (l *Logger) Close() error {
	var errs []error
	for _, c := range l.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.closers = nil
	return errors.Join(errs...)
}

// Component returns the default logger tagged with a component name.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createFileWriter creates a lumberjack file writer for log rotation.
func createFileWriter(fc config.FileOutputConfig) (io.WriteCloser, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("file output requires 'path' field")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.Rotation.MaxSizeMB,
		MaxBackups: fc.Rotation.MaxBackups,
		MaxAge:     fc.Rotation.MaxAgeDays,
		Compress:   fc.Rotation.Compress,
	}, nil
}

// createLokiWriter creates a Loki writer labelled with the node name.
func createLokiWriter(lc config.LokiOutputConfig, node string) (io.WriteCloser, error) {
	if lc.Endpoint == "" {
		return nil, fmt.Errorf("loki output requires 'endpoint' field")
	}
	labels := make(map[string]string, len(lc.Labels)+1)
	for k, v := range lc.Labels {
		labels[k] = v
	}
	if _, ok := labels["node"]; !ok && node != "" {
		labels["node"] = node
	}
	return NewLokiWriter(LokiConfig{
		Endpoint:      lc.Endpoint,
		Labels:        labels,
		BatchSize:     lc.BatchSize,
		FlushInterval: lc.BatchTimeout,
		MaxAttempts:   lc.MaxAttempts,
	})
}
