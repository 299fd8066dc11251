// Package plog is the structured logging setup shared by every
// component: a single slog.Logger, configured once at startup, that
// writes human-readable lines to stdout and, optionally, a mirror copy
// to a log file.
package plog

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu      sync.Mutex
	current = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Init configures the package logger. level accepts "debug", "info",
// "warn", or "error" (case-insensitive; unrecognized values fall back
// to info). If logFile is non-empty, log lines are written to both
// stdout and the named file.
func Init(level, logFile string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var w io.Writer = os.Stdout
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stdout, f)
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.StringValue(a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	}

	log := slog.New(slog.NewTextHandler(w, opts))
	mu.Lock()
	current = log
	mu.Unlock()
	return log, nil
}

// Logger returns the package-level logger configured by Init, or a
// stdout-only default logger if Init was never called.
func Logger() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return current
}

func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }
func Info(msg string, args ...any)  { Logger().Info(msg, args...) }
func Warn(msg string, args ...any)  { Logger().Warn(msg, args...) }
func Error(msg string, args ...any) { Logger().Error(msg, args...) }
