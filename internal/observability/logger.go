package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"github.com/couchcryptid/advisory-alert-etl/internal/config"
)

// NewLogger builds the service logger from configuration. Stderr gets JSON or
// text per LOG_FORMAT; when LOG_FILE is set a JSON copy is fanned out to that
// file. The returned cleanup closes the file.
func NewLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	level := ParseLevel(cfg.LogLevel)
	if cfg.LogFile == "" {
		return slog.New(newHandler(os.Stderr, cfg.LogFormat, level)), func() error { return nil }, nil
	}

	file, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return NewLoggerWithWriters(os.Stderr, file, cfg.LogFormat, level), file.Close, nil
}

// NewLoggerWithWriters fans out to a formatted stream and a JSON sink.
func NewLoggerWithWriters(stream, sink io.Writer, format string, level slog.Level) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		newHandler(stream, format, level),
		slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: level}),
	))
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
