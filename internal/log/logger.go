// Package log wraps log/slog with the verbosity levels used by the CLI flags.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

// Verbosity levels
const (
	LevelQuiet = iota // Default: only errors and warnings
	LevelInfo         // -v: state transitions, screen mounts
	LevelDebug        // -vv: identity provider calls, dispatched actions
	LevelTrace        // -vvv: request ids, cache reads and writes
)

const slogLevelTrace = slog.Level(-8)

var (
	mu        sync.RWMutex
	verbosity int
	logger    *slog.Logger
)

// Initialize sets up the global logger with the specified verbosity level
func Initialize(level int, w io.Writer) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slogLevel(level),
	})

	mu.Lock()
	defer mu.Unlock()
	verbosity = level
	logger = slog.New(handler)
}

func slogLevel(level int) slog.Level {
	switch {
	case level >= LevelTrace:
		return slogLevelTrace
	case level >= LevelDebug:
		return slog.LevelDebug
	case level >= LevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

// Logger returns the current global logger. Components that keep a logger
// for their lifetime (stores, the coordinator) take it from here.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Info logs at info level (-v)
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Debug logs at debug level (-vv)
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Trace logs at trace level (-vvv)
func Trace(msg string, args ...any) {
	Logger().Log(context.Background(), slogLevelTrace, msg, args...)
}

// Warn logs at warn level (always visible)
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs at error level (always visible)
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// IsDebug returns true if debug-level logging is enabled
func IsDebug() bool {
	return Verbosity() >= LevelDebug
}

// Verbosity returns the current verbosity level
func Verbosity() int {
	mu.RLock()
	defer mu.RUnlock()
	return verbosity
}

func init() {
	Initialize(LevelQuiet, os.Stderr)
}
