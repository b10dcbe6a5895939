package driver

import (
	"context"
)

// Device is one compute device: it owns memory and creates queues.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Name returns a human-readable device name.
	Name() string

	// GlobalMemSize returns the device memory capacity in bytes.
	GlobalMemSize() uint64

	// CreateQueue creates a command queue on the device.
	CreateQueue(cfg QueueConfig) (Queue, error)

	// CreateBuffer allocates a device buffer of size bytes. The call may
	// block until capacity frees up, honoring ctx.
	CreateBuffer(ctx context.Context, size int64) (Buffer, error)

	// NewUserEvent creates an event settled by the host via SetComplete
	// or SetError rather than by a command.
	NewUserEvent() (UserEvent, error)

	// Close releases the device and everything it owns. Outstanding
	// queues are drained first. Close is idempotent.
	Close() error
}

// Queue executes commands against a device, asynchronously relative to
// the caller.
//
// Implementations must be safe for concurrent use.
type Queue interface {
	// EnqueueMap maps a buffer region into host memory. The call blocks
	// until the wait list has settled and the mapping is host-visible,
	// honoring ctx for cancellation. The returned Mapping stays valid
	// until passed to EnqueueUnmap.
	EnqueueMap(ctx context.Context, req MapRequest) (Mapping, error)

	// EnqueueUnmap submits an unmap command for a mapping and returns
	// without waiting for it to execute. The command runs after every
	// event in wait has settled. When wantEvent is true the returned
	// Event tracks the command's completion; otherwise the returned
	// Event is nil and no completion handle exists for the command.
	//
	// The mapping is consumed: a second EnqueueUnmap of the same mapping
	// fails with ErrDoubleUnmap.
	EnqueueUnmap(ctx context.Context, buf Buffer, m Mapping, wait []Event, wantEvent bool) (Event, error)

	// Finish blocks until every command previously enqueued on this
	// queue has settled, honoring ctx.
	Finish(ctx context.Context) error

	// ID returns an identity unique within the owning device.
	ID() uint64

	// Close drains the queue and releases it. Close is idempotent.
	Close() error
}

// Buffer is a device memory allocation.
type Buffer interface {
	// Size returns the buffer size in bytes.
	Size() int64

	// ID returns an identity unique within the owning device.
	ID() uint64

	// Release frees the buffer. Live mappings of the buffer become
	// invalid. Release is idempotent.
	Release() error
}

// Mapping is a buffer region made host-addressable by EnqueueMap.
type Mapping interface {
	// Bytes returns the host-visible bytes of the mapped region. The
	// slice stays valid until the mapping is unmapped.
	Bytes() []byte

	// ID returns an identity unique within the owning device.
	ID() uint64
}

// Event tracks the completion of one enqueued command.
//
// Implementations must be safe for concurrent use.
type Event interface {
	// Wait blocks until the event settles or ctx is done. It returns
	// nil on completion, the command's error if it failed, and the ctx
	// error on cancellation.
	Wait(ctx context.Context) error

	// Done returns a channel closed when the event settles.
	Done() <-chan struct{}

	// Status returns the current command status.
	Status() CommandStatus

	// ID returns an identity unique within the owning device.
	ID() uint64

	// OnComplete registers fn to run when the event settles. Each
	// registered fn runs exactly once, on a driver-owned goroutine. A
	// fn registered after the event settled still runs. Registration
	// never blocks.
	OnComplete(fn func(CommandStatus)) error
}

// UserEvent is an Event settled by the host.
type UserEvent interface {
	Event

	// SetComplete settles the event successfully. A second settle
	// returns ErrEventSettled.
	SetComplete() error

	// SetError settles the event with err. A second settle returns
	// ErrEventSettled.
	SetError(err error) error
}
