// Package logging builds the slog.Logger used by every Loom binary.
//
// LOG_FORMAT selects the handler: "json" (default, for aggregators) or
// "text" for local development. LOG_LEVEL is one of debug, info, warn,
// error (default info).
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a logger configured from the environment.
func New() *slog.Logger {
	opts := &slog.HandlerOptions{Level: level(os.Getenv("LOG_LEVEL"))}

	var h slog.Handler
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "text", "console":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}

func level(s string) slog.Level {
	switch strings.ToLower(s) {
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
