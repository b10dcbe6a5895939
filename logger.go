package ocl

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with ocl-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithQueueID adds a queue field to the logger.
func (l *Logger) WithQueueID(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("queue", id),
	}
}

// WithBufferID adds a buffer field to the logger.
func (l *Logger) WithBufferID(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("buffer", id),
	}
}

// WithMappingID adds a mapping field to the logger.
func (l *Logger) WithMappingID(id uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("mapping", id),
	}
}

// LogMap logs a map operation.
func (l *Logger) LogMap(ctx context.Context, bufferID, mappingID uint64, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "map failed",
			"buffer", bufferID,
			"bytes", bytes,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "map completed",
			"buffer", bufferID,
			"mapping", mappingID,
			"bytes", bytes,
		)
	}
}

// LogUnmap logs an unmap enqueue.
func (l *Logger) LogUnmap(ctx context.Context, mappingID uint64, mode CompletionMode, err error) {
	if err != nil {
		l.ErrorContext(ctx, "unmap failed",
			"mapping", mappingID,
			"mode", mode.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "unmap enqueued",
			"mapping", mappingID,
			"mode", mode.String(),
		)
	}
}

// LogFinish logs a queue drain.
func (l *Logger) LogFinish(ctx context.Context, queueID uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "finish failed",
			"queue", queueID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "finish completed",
			"queue", queueID,
		)
	}
}

// LogCleanup logs a swallowed error from the best-effort cleanup path.
func (l *Logger) LogCleanup(ctx context.Context, mappingID uint64, err error) {
	l.DebugContext(ctx, "cleanup unmap failed",
		"mapping", mappingID,
		"error", err,
	)
}
