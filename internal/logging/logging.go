// Package logging provides structured logging infrastructure for storyflow.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meow-stack/storyflow/internal/config"
)

// NewFromConfig creates a new slog.Logger based on configuration.
func NewFromConfig(cfg *config.Config, baseDir string) (*slog.Logger, io.Closer, error) {
	return newLogger(cfg, cfg.LogFile(baseDir), os.Stderr)
}

// NewForInstance creates a logger that also appends to a per-instance log
// file at <logs_dir>/<stateKey>.log.
func NewForInstance(cfg *config.Config, baseDir, stateKey string) (*slog.Logger, io.Closer, error) {
	logPath := filepath.Join(cfg.LogsDir(baseDir), stateKey+".log")
	return newLogger(cfg, logPath, os.Stderr)
}

func newLogger(cfg *config.Config, logPath string, console io.Writer) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Logging.Level)
	if logPath == "" {
		return slog.New(newHandler(cfg.Logging.Format, console, level)), nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	multi := io.MultiWriter(console, file)
	return slog.New(newHandler(cfg.Logging.Format, multi, level)), file, nil
}

// NewDefault creates a default logger writing to stderr.
func NewDefault() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// NewForTest creates a silent logger for tests.
func NewForTest() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// parseLevel converts config log level to slog.Level.
func parseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelInfo:
		return slog.LevelInfo
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newHandler creates a slog.Handler based on format.
func newHandler(format config.LogFormat, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch format {
	case config.LogFormatJSON:
		return slog.NewJSONHandler(w, opts)
	case config.LogFormatText:
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// WithWorkflow returns a logger with workflow instance context.
func WithWorkflow(logger *slog.Logger, name, instanceID string) *slog.Logger {
	return logger.With("workflow", name, "instance_id", instanceID)
}

// WithStep returns a logger with step context.
func WithStep(logger *slog.Logger, index int, name string, action string) *slog.Logger {
	return logger.With("step_index", index, "step", name, "action", action)
}

// WithChild returns a logger with child workflow context.
func WithChild(logger *slog.Logger, path string, depth int) *slog.Logger {
	return logger.With("child", path, "depth", depth)
}
