// Package logging configures structured logging for the retrieval core,
// matching the teacher's log/slog conventions: snake_case event names as
// the first log message, key-value attributes for everything else.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the slog handler backend.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config configures the process-wide logger.
type Config struct {
	Level  slog.Level
	Format Format
	Output io.Writer
}

// DefaultConfig returns the default logging configuration: info level,
// text format, stderr output.
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: FormatText,
		Output: os.Stderr,
	}
}

// Setup builds a *slog.Logger from cfg and installs it as the default
// logger via slog.SetDefault, returning it for callers that want an
// explicit reference.
func Setup(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithComponent returns a logger annotated with a "component" attribute,
// the convention used throughout the retrieval core for scoping log lines
// (e.g. logging.WithComponent(logger, "bm25store")).
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
