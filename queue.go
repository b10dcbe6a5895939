package ocl

import (
	"context"
	"fmt"
	"time"

	"github.com/math-rock/ocl/driver"
	"github.com/math-rock/ocl/trace"
)

// Queue executes commands on a device, asynchronously relative to the
// caller. It carries the ambient configuration (logger, metrics, trace,
// default completion mode) that mapped regions inherit.
//
// A Queue is safe for concurrent use.
type Queue struct {
	dq          driver.Queue
	device      *Device
	logger      *Logger
	metrics     MetricsCollector
	recorder    *trace.Recorder
	defaultMode CompletionMode
}

// NewQueue creates a command queue on d.
//
// Example:
//
//	q, err := ocl.NewQueue(dev,
//	    ocl.WithLogLevel(slog.LevelDebug),
//	    ocl.WithDefaultCompletionMode(ocl.Blocking),
//	)
func NewQueue(d *Device, optFns ...QueueOption) (*Queue, error) {
	o := applyQueueOptions(optFns)

	dq, err := d.dd.CreateQueue(o.config)
	if err != nil {
		return nil, fmt.Errorf("create queue: %w", err)
	}

	return &Queue{
		dq:          dq,
		device:      d,
		logger:      o.logger,
		metrics:     o.metrics,
		recorder:    o.recorder,
		defaultMode: o.defaultMode,
	}, nil
}

// Device returns the device this queue runs on.
func (q *Queue) Device() *Device {
	return q.device
}

// ID returns the queue's identity within its device.
func (q *Queue) ID() uint64 {
	return q.dq.ID()
}

// DefaultCompletionMode returns the completion mode regions mapped through
// this queue inherit.
func (q *Queue) DefaultCompletionMode() CompletionMode {
	return q.defaultMode
}

// Finish blocks until every command previously enqueued on this queue has
// settled, honoring ctx.
func (q *Queue) Finish(ctx context.Context) error {
	start := time.Now()
	err := q.dq.Finish(ctx)
	q.metrics.RecordFinish(time.Since(start), err)
	q.logger.LogFinish(ctx, q.dq.ID(), err)
	if err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	q.record(ctx, trace.Record{Op: trace.OpFinish, QueueID: q.dq.ID()})
	return nil
}

// Driver returns the underlying driver queue.
func (q *Queue) Driver() driver.Queue {
	return q.dq
}

// Close drains the queue and releases it. It is idempotent. An attached
// trace recorder is owned by the caller and stays open.
func (q *Queue) Close() error {
	return q.dq.Close()
}

// record appends rec to the queue's trace when tracing is on. Trace
// failures are diagnostic only and never fail the traced operation.
func (q *Queue) record(ctx context.Context, rec trace.Record) {
	if q.recorder == nil {
		return
	}
	if err := q.recorder.Record(rec); err != nil {
		q.logger.DebugContext(ctx, "trace record failed", "error", err)
	}
}
