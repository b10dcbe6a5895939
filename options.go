package ocl

import (
	"log/slog"

	"github.com/math-rock/ocl/driver"
	"github.com/math-rock/ocl/trace"
)

type queueOptions struct {
	logger      *Logger
	metrics     MetricsCollector
	defaultMode CompletionMode
	recorder    *trace.Recorder
	config      driver.QueueConfig
}

// QueueOption configures queue construction behavior.
//
// A queue carries the ambient pieces (logger, metrics, trace, default
// completion mode) so per-command calls stay small.
type QueueOption func(*queueOptions)

// WithLogger configures structured logging for queue operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := ocl.NewJSONLogger(slog.LevelInfo)
//	q, _ := ocl.NewQueue(dev, ocl.WithLogger(logger))
func WithLogger(logger *Logger) QueueOption {
	return func(o *queueOptions) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) QueueOption {
	return func(o *queueOptions) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &ocl.BasicMetricsCollector{}
//	q, _ := ocl.NewQueue(dev, ocl.WithMetricsCollector(metrics))
//	// ... use q ...
//	stats := metrics.GetStats()
//	fmt.Printf("Maps: %d, Avg latency: %dns\n", stats.MapCount, stats.MapAvgNanos)
func WithMetricsCollector(mc MetricsCollector) QueueOption {
	return func(o *queueOptions) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithDefaultCompletionMode sets the completion mode inherited by regions
// mapped through this queue. Individual maps can override it.
// Default: Deferred.
func WithDefaultCompletionMode(mode CompletionMode) QueueOption {
	return func(o *queueOptions) {
		o.defaultMode = mode
	}
}

// WithTrace attaches a command trace recorder to the queue. Every map,
// unmap, and finish on the queue appends a record. Recording failures are
// logged and never fail the traced operation.
//
// The recorder is owned by the caller and is not closed by the queue.
func WithTrace(rec *trace.Recorder) QueueOption {
	return func(o *queueOptions) {
		o.recorder = rec
	}
}

// WithOutOfOrder lets the queue execute commands concurrently, ordered only
// by their wait lists. Default is in-order execution.
func WithOutOfOrder() QueueOption {
	return func(o *queueOptions) {
		o.config.InOrder = false
	}
}

func applyQueueOptions(optFns []QueueOption) queueOptions {
	o := queueOptions{
		logger:      NoopLogger(),
		metrics:     NoopMetricsCollector{},
		defaultMode: Deferred,
		config:      driver.QueueConfig{InOrder: true},
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
