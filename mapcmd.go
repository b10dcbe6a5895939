// Package ocl provides asynchronous mapped-memory access to compute devices.
//
// This file implements the fluent map command API.
// Builders are immutable - each method returns a new builder with the updated configuration.
package ocl

import (
	"context"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"github.com/math-rock/ocl/driver"
	"github.com/math-rock/ocl/internal/conv"
	"github.com/math-rock/ocl/trace"
)

// Re-exported map flags, so common use needs only this package.
const (
	MapRead  = driver.MapRead
	MapWrite = driver.MapWrite
)

// MapBuilder configures and enqueues one map command, producing a
// MappedRegion. The builder is immutable - each method returns a new
// builder with the updated configuration.
//
// Map starts a builder covering the whole buffer:
//
//	region, err := ocl.Map[float32](buf).
//	    Range(0, 1024).
//	    Flags(ocl.MapWrite).
//	    Enq(ctx)
type MapBuilder[T Prm] struct {
	buffer     *Buffer
	queue      *Queue
	offset     int
	length     int
	flags      driver.MapFlags
	wait       *EventList
	unmapWaits *EventList
	target     *Event
	mode       CompletionMode
	modeSet    bool
}

// Map starts a map command for buf, interpreting it as elements of T.
// Defaults: the whole buffer, read|write access, the buffer's queue, and
// the queue's default completion mode.
func Map[T Prm](buf *Buffer) MapBuilder[T] {
	return MapBuilder[T]{
		buffer: buf,
		flags:  driver.MapRead | driver.MapWrite,
	}
}

// Queue overrides the queue the map is enqueued on.
// Default: the buffer's queue.
func (b MapBuilder[T]) Queue(q *Queue) MapBuilder[T] {
	b.queue = q
	return b
}

// Range restricts the mapping to length elements starting at offset, both
// in elements of T. A length of 0 means to the end of the buffer.
func (b MapBuilder[T]) Range(offset, length int) MapBuilder[T] {
	b.offset = offset
	b.length = length
	return b
}

// Flags sets the host access mode. Default: read|write.
func (b MapBuilder[T]) Flags(f driver.MapFlags) MapBuilder[T] {
	b.flags = f
	return b
}

// WaitList sets the wait list for the map command itself; nil clears it.
func (b MapBuilder[T]) WaitList(ewl *EventList) MapBuilder[T] {
	b.wait = ewl
	return b
}

// UnmapWaitList preloads the wait list for the region's future unmap; nil
// clears it. A region constructed with one cannot be handed another at
// unmap time.
func (b MapBuilder[T]) UnmapWaitList(ewl *EventList) MapBuilder[T] {
	b.unmapWaits = ewl
	return b
}

// UnmapTarget sets the externally visible completion target for the
// region's future unmap; nil clears it. The event must be a user event
// (see NewUserEvent); it is settled when the device finishes the unmap.
func (b MapBuilder[T]) UnmapTarget(ev *Event) MapBuilder[T] {
	b.target = ev
	return b
}

// Mode sets the region's completion mode.
// Default: the queue's default mode.
func (b MapBuilder[T]) Mode(m CompletionMode) MapBuilder[T] {
	b.mode = m
	b.modeSet = true
	return b
}

// Enq enqueues the map command and blocks until the mapping is
// host-visible, honoring ctx and the map wait list. The returned region
// owns the mapping.
func (b MapBuilder[T]) Enq(ctx context.Context) (*MappedRegion[T], error) {
	q := b.queue
	if q == nil {
		q = b.buffer.queue
	}

	elemSize := SizeOf[T]()
	capElems, err := conv.Int64ToInt(b.buffer.SizeBytes() / int64(elemSize))
	if err != nil {
		return nil, fmt.Errorf("buffer capacity: %w", err)
	}

	length := b.length
	if length == 0 {
		length = capElems - b.offset
	}
	if length <= 0 {
		return nil, &ErrInvalidLength{Length: length}
	}
	if b.offset < 0 || b.offset+length > capElems {
		return nil, &ErrOutOfRange{Offset: b.offset, Length: length, Capacity: capElems}
	}
	if b.target != nil && !b.target.isUser() {
		return nil, fmt.Errorf("unmap target: %w", ErrNotUserEvent)
	}

	mode := q.defaultMode
	if b.modeSet {
		mode = b.mode
	}

	req := driver.MapRequest{
		Buffer:      b.buffer.db,
		OffsetBytes: int64(b.offset) * int64(elemSize),
		LengthBytes: int64(length) * int64(elemSize),
		Flags:       b.flags,
		WaitList:    b.wait.driverEvents(),
	}

	start := time.Now()
	mapping, mapErr := q.dq.EnqueueMap(ctx, req)
	q.metrics.RecordMap(req.LengthBytes, time.Since(start), mapErr)
	if mapErr != nil {
		q.logger.LogMap(ctx, b.buffer.ID(), 0, req.LengthBytes, mapErr)
		return nil, fmt.Errorf("enqueue map: %w", mapErr)
	}

	base := mapping.Bytes()
	addr := uintptr(unsafe.Pointer(&base[0]))
	if align := alignOf[T](); addr%uintptr(align) != 0 {
		// The mapping is unusable for T; release it before reporting.
		_, _ = q.dq.EnqueueUnmap(ctx, b.buffer.db, mapping, nil, false)
		return nil, &ErrMisalignedMapping{Addr: addr, Align: align}
	}

	q.logger.LogMap(ctx, b.buffer.ID(), mapping.ID(), req.LengthBytes, nil)
	q.record(ctx, trace.Record{
		Op:        trace.OpMap,
		QueueID:   q.dq.ID(),
		BufferID:  b.buffer.ID(),
		MappingID: mapping.ID(),
		Wait:      b.wait.ids(),
	})

	r := &MappedRegion[T]{
		mapping:    mapping,
		length:     length,
		buffer:     b.buffer,
		queue:      q,
		unmapWaits: b.unmapWaits,
		target:     b.target,
		mode:       mode,
	}
	runtime.SetFinalizer(r, (*MappedRegion[T]).finalize)
	return r, nil
}
