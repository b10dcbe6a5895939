package ocl

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    mapCounter     prometheus.Counter
//	    unmapHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordMap(bytes int64, duration time.Duration, err error) {
//	    p.mapCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordMap is called after each map operation.
	// bytes is the mapped region size, duration is the total time taken,
	// err is nil if successful.
	RecordMap(bytes int64, duration time.Duration, err error)

	// RecordUnmap is called after each unmap enqueue.
	// duration is the time spent in the enqueue (including the device wait
	// in blocking mode), err is nil if successful.
	RecordUnmap(duration time.Duration, err error)

	// RecordFinish is called after each queue drain.
	RecordFinish(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMap(int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordUnmap(time.Duration, error)      {}
func (NoopMetricsCollector) RecordFinish(time.Duration, error)     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MapCount        atomic.Int64
	MapErrors       atomic.Int64
	MapBytes        atomic.Int64
	MapTotalNanos   atomic.Int64
	UnmapCount      atomic.Int64
	UnmapErrors     atomic.Int64
	UnmapTotalNanos atomic.Int64
	FinishCount     atomic.Int64
	FinishErrors    atomic.Int64
}

// RecordMap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMap(bytes int64, duration time.Duration, err error) {
	b.MapCount.Add(1)
	b.MapTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MapErrors.Add(1)
	} else {
		b.MapBytes.Add(bytes)
	}
}

// RecordUnmap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnmap(duration time.Duration, err error) {
	b.UnmapCount.Add(1)
	b.UnmapTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.UnmapErrors.Add(1)
	}
}

// RecordFinish implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFinish(duration time.Duration, err error) {
	b.FinishCount.Add(1)
	if err != nil {
		b.FinishErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		MapCount:      b.MapCount.Load(),
		MapErrors:     b.MapErrors.Load(),
		MapBytes:      b.MapBytes.Load(),
		MapAvgNanos:   b.getAvgMapNanos(),
		UnmapCount:    b.UnmapCount.Load(),
		UnmapErrors:   b.UnmapErrors.Load(),
		UnmapAvgNanos: b.getAvgUnmapNanos(),
		FinishCount:   b.FinishCount.Load(),
		FinishErrors:  b.FinishErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgMapNanos() int64 {
	count := b.MapCount.Load()
	if count == 0 {
		return 0
	}
	return b.MapTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgUnmapNanos() int64 {
	count := b.UnmapCount.Load()
	if count == 0 {
		return 0
	}
	return b.UnmapTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	MapCount      int64
	MapErrors     int64
	MapBytes      int64
	MapAvgNanos   int64
	UnmapCount    int64
	UnmapErrors   int64
	UnmapAvgNanos int64
	FinishCount   int64
	FinishErrors  int64
}
