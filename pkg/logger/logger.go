package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "discovery-proxy"

// New builds the process logger. Production writes JSON, every other
// environment writes text. Debug level adds source locations.
func New(w io.Writer, lvl string, environment string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}

	level := parseLevel(lvl)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	var handler slog.Handler

	if strings.ToLower(environment) == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("environment", environment),
	)
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
