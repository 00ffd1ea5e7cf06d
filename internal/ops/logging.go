package ops

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sandwichfarm/nocom/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Customize timestamp format
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogRelayQuery logs an outbound relay query
func (l *Logger) LogRelayQuery(class string, relays int, duration time.Duration, events int, err error) {
	if err != nil {
		l.Warn("relay query failed",
			"class", class,
			"relays", relays,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("relay query completed",
			"class", class,
			"relays", relays,
			"duration_ms", duration.Milliseconds(),
			"events", events)
	}
}

// LogPagination logs a backward pagination step for a channel
func (l *Logger) LogPagination(channel string, returned, fresh int, cursor int64, endOfHistory bool) {
	l.Debug("pagination step",
		"channel", channel,
		"returned", returned,
		"fresh", fresh,
		"cursor", cursor,
		"end_of_history", endOfHistory)
}

// LogPublish logs the outcome of an event publish
func (l *Logger) LogPublish(eventID string, duration time.Duration, err error) {
	if err != nil {
		l.Warn("publish failed",
			"event_id", eventID,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Info("publish accepted",
			"event_id", eventID,
			"duration_ms", duration.Milliseconds())
	}
}

// LogReconcile logs an optimistic message reconciliation
func (l *Logger) LogReconcile(localID, eventID string, matched string) {
	l.Debug("optimistic reconciled",
		"local_id", localID,
		"event_id", eventID,
		"matched_by", matched)
}

// LogRejectedEvent logs an event dropped at ingest (diagnostics only)
func (l *Logger) LogRejectedEvent(eventID string, kind int, reason error) {
	l.Debug("event rejected",
		"event_id", eventID,
		"kind", kind,
		"reason", reason)
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string) {
	l.Info("nocom starting",
		"version", version,
		"commit", commit)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("nocom shutting down",
		"reason", reason)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	// Create a default logger for early startup
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}
