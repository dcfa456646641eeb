// Package observability holds the logging, metrics and health plumbing
// shared by the API, the CLI and the worker.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogLevel is a slog level name: debug, info, warn or error.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	Level     LogLevel
	Format    LogFormat
	Output    io.Writer // defaults to os.Stderr
	AddSource bool
	Service   string
	Version   string
}

// DefaultLogConfig is the development setup: text to stderr.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: LogLevelInfo, Format: LogFormatText, Output: os.Stderr, Service: "cadence", Version: "dev"}
}

// ProductionLogConfig writes JSON to stdout with source locations.
func ProductionLogConfig() LogConfig {
	return LogConfig{Level: LogLevelInfo, Format: LogFormatJSON, Output: os.Stdout, AddSource: true, Service: "cadence", Version: "unknown"}
}

// NewLogger builds a logger whose records carry the service attributes and
// the correlation, request, subscription and actor ids found in the context.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseSlogLevel(cfg.Level), AddSource: cfg.AddSource}

	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.Format == LogFormatJSON {
		handler = slog.NewJSONHandler(out, opts)
	}

	var static []slog.Attr
	if cfg.Service != "" {
		static = append(static, slog.String("service", cfg.Service))
	}
	if cfg.Version != "" {
		static = append(static, slog.String("version", cfg.Version))
	}
	if len(static) > 0 {
		handler = handler.WithAttrs(static)
	}
	return slog.New(contextHandler{handler})
}

// LoggerFromSettings builds a logger from config values. Production
// defaults to JSON unless format says otherwise.
func LoggerFromSettings(env, level, format string) *slog.Logger {
	cfg := DefaultLogConfig()
	if env == "production" {
		cfg = ProductionLogConfig()
	}
	if level != "" {
		cfg.Level = LogLevel(level)
	}
	if format != "" {
		cfg.Format = LogFormat(format)
	}
	return NewLogger(cfg)
}

// parseSlogLevel accepts anything slog.Level understands ("warn", "DEBUG",
// "info+2") and falls back to info.
func parseSlogLevel(level LogLevel) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// contextHandler appends context ids to every record.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(contextAttrs(ctx)...)
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
