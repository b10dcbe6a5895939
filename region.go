package ocl

import (
	"context"
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"github.com/math-rock/ocl/driver"
	"github.com/math-rock/ocl/trace"
)

// noCopy triggers the copylocks vet check for types embedding it.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// MappedRegion is a buffer region mapped into host memory and accessed as a
// typed slice. Its lifecycle is fixed: map, access, unmap exactly once.
// After the unmap is enqueued only metadata queries remain legal; Slice
// panics.
//
// A region exclusively owns its native mapping. It must be used from one
// goroutine at a time and must not be copied; use it behind the pointer
// returned by MapBuilder.Enq. Dropping the last reference without unmapping
// is backstopped by a finalizer, but deterministic cleanup with Close (or an
// explicit unmap) is the intended protocol.
type MappedRegion[T Prm] struct {
	noCopy noCopy

	mapping driver.Mapping
	length  int // elements
	buffer  *Buffer
	queue   *Queue

	unmapWaits    *EventList
	target        *Event
	mode          CompletionMode
	callbackArmed bool
	unmapped      bool
}

// Slice returns the region as a typed slice backed by the mapping. The
// slice aliases device-visible memory and stays valid until the region is
// unmapped.
//
// Slice panics once the region is unmapped: access after unmap is a
// programming error, not a recoverable condition.
func (r *MappedRegion[T]) Slice() []T {
	if r.unmapped {
		panic("ocl: mapped region accessed after unmap")
	}
	data := r.mapping.Bytes()
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), r.length)
}

// Len returns the region length in elements.
func (r *MappedRegion[T]) Len() int {
	return r.length
}

// SizeBytes returns the region size in bytes.
func (r *MappedRegion[T]) SizeBytes() int64 {
	return int64(r.length) * int64(SizeOf[T]())
}

// IsUnmapped reports whether the unmap has been enqueued.
func (r *MappedRegion[T]) IsUnmapped() bool {
	return r.unmapped
}

// Buffer returns the buffer backing the region.
func (r *MappedRegion[T]) Buffer() *Buffer {
	return r.buffer
}

// Queue returns the region's default queue.
func (r *MappedRegion[T]) Queue() *Queue {
	return r.queue
}

// UnmapWaitList returns the wait list preloaded at map time for the unmap,
// or nil.
func (r *MappedRegion[T]) UnmapWaitList() *EventList {
	return r.unmapWaits
}

// UnmapTarget returns the completion target preloaded at map time, or nil.
func (r *MappedRegion[T]) UnmapTarget() *Event {
	return r.target
}

// Mode returns the region's completion mode.
func (r *MappedRegion[T]) Mode() CompletionMode {
	return r.mode
}

// Ptr returns the base address of the mapping. It stays legal after unmap
// as a metadata query, but the memory it points to must not be dereferenced
// once the region is unmapped; it may return nil then.
func (r *MappedRegion[T]) Ptr() unsafe.Pointer {
	data := r.mapping.Bytes()
	if len(data) == 0 {
		return nil
	}
	return unsafe.Pointer(&data[0])
}

// Unmap returns a single-use builder for the region's unmap command.
func (r *MappedRegion[T]) Unmap() UnmapBuilder[T] {
	return UnmapBuilder[T]{region: r}
}

// EnqueueUnmap enqueues the region's unmap command. Every parameter except
// ctx is optional: queue overrides the region's default queue, wait
// overrides a wait list for the command, and dest, when non-nil, is filled
// with the command's completion event.
//
// On success the region counts as unmapped immediately, in every completion
// mode; only the completion signal differs:
//
//   - Deferred: the call returns once the command is enqueued. When the
//     device finishes, a driver callback settles the region's completion
//     target (if any).
//   - Blocking: the call waits for the device to finish the unmap, settles
//     the target, and only then returns.
//
// A second call returns ErrAlreadyUnmapped and changes nothing. Passing
// wait when the region already carries a map-time unmap wait list is a
// programming error and panics before any command is issued.
func (r *MappedRegion[T]) EnqueueUnmap(ctx context.Context, queue *Queue, wait *EventList, dest *Event) (err error) {
	if r.unmapped {
		return ErrAlreadyUnmapped
	}
	if wait != nil && r.unmapWaits != nil {
		panic("ocl: conflicting unmap wait lists: one was preloaded at map time and another passed to the unmap")
	}

	q := r.queue
	if queue != nil {
		q = queue
	}
	waits := r.unmapWaits
	if wait != nil {
		waits = wait
	}

	start := time.Now()
	defer func() {
		q.metrics.RecordUnmap(time.Since(start), err)
		q.logger.LogUnmap(ctx, r.mapping.ID(), r.mode, err)
	}()

	// A completion handle is created only if someone will observe it.
	wantEvent := r.target != nil || dest != nil

	// The payload has to be captured before the device reclaims the pages.
	var payload []byte
	if q.recorder != nil && q.recorder.CapturesPayload() {
		payload = append([]byte(nil), r.mapping.Bytes()...)
	}

	fresh, enqErr := q.dq.EnqueueUnmap(ctx, r.buffer.db, r.mapping, waits.driverEvents(), wantEvent)
	if enqErr != nil {
		return fmt.Errorf("enqueue unmap: %w", translateError(enqErr))
	}
	r.unmapped = true

	q.record(ctx, trace.Record{
		Op:        trace.OpUnmap,
		QueueID:   q.dq.ID(),
		BufferID:  r.buffer.ID(),
		MappingID: r.mapping.ID(),
		EventID:   eventID(fresh),
		Wait:      waits.ids(),
		Payload:   payload,
	})

	if !wantEvent {
		return nil
	}

	if dest != nil {
		dest.fill(fresh)
	}

	if r.target == nil {
		return nil
	}

	switch r.mode {
	case Blocking:
		if waitErr := fresh.Wait(ctx); waitErr != nil {
			return fmt.Errorf("wait for unmap: %w", waitErr)
		}
		if setErr := r.target.SetComplete(); setErr != nil {
			return fmt.Errorf("settle unmap target: %w", setErr)
		}
		return nil
	default:
		return r.registerEventTrigger(fresh)
	}
}

// registerEventTrigger arms the deferred completion path: one driver
// callback that settles the region's target when the unmap command fires.
// The driver holds the completion event until the callback has run, so
// there is nothing to release afterwards.
func (r *MappedRegion[T]) registerEventTrigger(fresh driver.Event) error {
	if r.callbackArmed {
		return ErrCallbackAlreadySet
	}

	target := r.target
	logger := r.queue.logger
	err := fresh.OnComplete(func(status driver.CommandStatus) {
		var setErr error
		if status == driver.StatusFailed {
			setErr = target.SetError(ErrUnmapFailed)
		} else {
			setErr = target.SetComplete()
		}
		if setErr != nil {
			logger.Debug("unmap target already settled", "target", target.ID(), "error", setErr)
		}
	})
	if err != nil {
		return fmt.Errorf("register completion trigger: %w", err)
	}
	r.callbackArmed = true
	return nil
}

// Close unmaps the region if it is still mapped: a bare best-effort unmap
// with no wait list and no completion event, errors logged at debug level
// and swallowed, so scope-exit cleanup (defer region.Close()) never aborts
// the caller. Close is idempotent; a finalizer runs it as a backstop for
// forgotten regions.
func (r *MappedRegion[T]) Close() error {
	if r == nil {
		return nil
	}
	runtime.SetFinalizer(r, nil)
	if r.unmapped {
		return nil
	}

	ctx := context.Background()
	start := time.Now()
	_, err := r.queue.dq.EnqueueUnmap(ctx, r.buffer.db, r.mapping, nil, false)
	r.queue.metrics.RecordUnmap(time.Since(start), err)
	if err != nil {
		r.queue.logger.LogCleanup(ctx, r.mapping.ID(), err)
		return nil
	}
	r.unmapped = true

	r.queue.record(ctx, trace.Record{
		Op:        trace.OpUnmap,
		QueueID:   r.queue.dq.ID(),
		BufferID:  r.buffer.ID(),
		MappingID: r.mapping.ID(),
	})
	return nil
}

func (r *MappedRegion[T]) finalize() {
	_ = r.Close()
}

func eventID(ev driver.Event) uint64 {
	if ev == nil {
		return 0
	}
	return ev.ID()
}
