// Package logger provides the process-wide structured logging facility for
// the MCP Hub proxy. It is a thin shim over log/slog: new code may inject
// *slog.Logger directly, but most of the codebase logs through the
// package-level singleton for brevity, matching the style used throughout
// this codebase's control plane and routing layers.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(newHandlerLogger(slog.LevelInfo, unstructuredLogsFromEnv()))
}

// Get returns the current singleton logger, for injection into structs that
// prefer an explicit dependency over package-level calls.
func Get() *slog.Logger {
	return singleton.Load()
}

// Set replaces the singleton logger. Intended for tests that need to
// capture or silence log output.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// Initialize reconfigures the singleton logger from the LOG_LEVEL and
// UNSTRUCTURED_LOGS environment variables (see spec §6). Call once at
// process startup, before any component logs.
func Initialize() {
	level := levelFromString(os.Getenv("LOG_LEVEL"))
	singleton.Store(newHandlerLogger(level, unstructuredLogsFromEnv()))
}

func newHandlerLogger(level slog.Level, unstructured bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if unstructured {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func unstructuredLogsFromEnv() bool {
	v, err := strconv.ParseBool(os.Getenv("UNSTRUCTURED_LOGS"))
	if err != nil {
		return false
	}
	return v
}

func levelFromString(s string) slog.Level {
	switch s {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warn", "WARNING", "warning":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debugf logs a formatted message at debug level.
func Debugf(msg string, args ...any) { Get().Debug(fmt.Sprintf(msg, args...)) }

// Infof logs a formatted message at info level.
func Infof(msg string, args ...any) { Get().Info(fmt.Sprintf(msg, args...)) }

// Warnf logs a formatted message at warning level.
func Warnf(msg string, args ...any) { Get().Warn(fmt.Sprintf(msg, args...)) }

// Errorf logs a formatted message at error level.
func Errorf(msg string, args ...any) { Get().Error(fmt.Sprintf(msg, args...)) }

// Fatalf logs a formatted message at error level and exits the process.
func Fatalf(msg string, args ...any) {
	Get().Error(fmt.Sprintf(msg, args...))
	os.Exit(1)
}

// Infow logs a message at info level with structured key-value pairs.
func Infow(msg string, keysAndValues ...any) { Get().Info(msg, keysAndValues...) }

// Warnw logs a message at warning level with structured key-value pairs.
func Warnw(msg string, keysAndValues ...any) { Get().Warn(msg, keysAndValues...) }

// Errorw logs a message at error level with structured key-value pairs.
func Errorw(msg string, keysAndValues ...any) { Get().Error(msg, keysAndValues...) }
