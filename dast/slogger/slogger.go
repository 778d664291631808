// Package slogger configures the process-wide slog logger from the
// environment. Call Init() at the start of main(); legacy log.Print*
// calls are bridged through slog (Go 1.22+ behaviour via slog.SetDefault).
//
// LOG_LEVEL: "debug", "info", "warn", "error" (default "info").
// LOG_FORMAT: "text" or "json" (default "text").
package slogger

import (
	"log/slog"
	"os"
	"strings"
)

var level *slog.LevelVar

// Init configures the default slog logger from LOG_LEVEL and LOG_FORMAT.
func Init() {
	level = &slog.LevelVar{}
	level.Set(parseLevel(os.Getenv("LOG_LEVEL")))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// Level returns the current log level. Useful for skipping expensive
// debug formatting when not in debug mode.
func Level() slog.Level {
	if level == nil {
		return slog.LevelInfo
	}
	return level.Level()
}

// IsDebug reports whether debug logging is active.
func IsDebug() bool {
	return Level() <= slog.LevelDebug
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
