package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pscheid92/crowdpulse/internal/platform/correlation"
)

// InitLogger installs the process-wide logger on stdout. attrs are stamped
// on every record so lines from several replicas can be told apart.
func InitLogger(level, format string, attrs ...any) *slog.Logger {
	logger := New(os.Stdout, level, format).With(attrs...)
	slog.SetDefault(logger)
	return logger
}

// New builds a correlation-aware logger. format is "json" or "text".
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(correlation.NewHandler(handler))
}

// InstanceAttrs identifies this replica in logs.
func InstanceAttrs(service, version string) []any {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return []any{"service", service, "version", version, "instance", host}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
