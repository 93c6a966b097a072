package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/homebrain/insteon-core/internal/infrastructure/config"
)

// Logger is the daemon's structured logger. It embeds *slog.Logger, so
// the full slog surface (Debug/Info/Warn/Error with key-value args) is
// available; every entry carries the service and version attributes.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of config.yaml. Format
// selects JSON (default) or text handlers, output selects stdout
// (default) or stderr, and an unrecognised level falls back to info.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "insteond"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// Default is the bootstrap logger used before configuration loads:
// JSON to stdout at info level.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// With returns a child logger carrying extra default attributes, used
// to scope log lines to a component:
//
//	bridgeLog := log.With("component", "bridge")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
