// Package logging wraps log/slog behind a package-level, mutex-guarded
// logger with a single configurable writer and toggleable verbosity,
// safe for concurrent use from worker goroutines.
package logging

import (
	"context"
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger                = slog.New(handler)
)

// SetVerbose raises the minimum level to Debug when BB_VERBOSE_LOGS is
// set, or restores it to Info.
func SetVerbose(verbose bool) {
	mu.Lock()
	defer mu.Unlock()
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
}

// SetOutput redirects logging to an arbitrary writer; used by tests and
// by any host that wants to capture cooker logs rather than let them hit
// stderr directly.
func SetOutput(w interface{ Write([]byte) (int, error) }) {
	mu.Lock()
	defer mu.Unlock()
	handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger = slog.New(handler)
}

// With returns a logger carrying the given structured fields, for
// components (the cooker session, a single parser worker) that want a
// consistent prefix on every line.
func With(args ...any) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger.With(args...)
}

func Default() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }

// DebugCtx/InfoCtx etc. mirror slog's context-carrying variants for
// call sites that run under a cancellable context (workers, the driver).
func DebugCtx(ctx context.Context, msg string, args ...any) { Default().DebugContext(ctx, msg, args...) }
func InfoCtx(ctx context.Context, msg string, args ...any)  { Default().InfoContext(ctx, msg, args...) }
func WarnCtx(ctx context.Context, msg string, args ...any)  { Default().WarnContext(ctx, msg, args...) }
func ErrorCtx(ctx context.Context, msg string, args ...any) { Default().ErrorContext(ctx, msg, args...) }
