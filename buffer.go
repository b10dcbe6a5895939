package ocl

import (
	"context"
	"fmt"

	"github.com/math-rock/ocl/driver"
)

// Buffer is a device memory allocation, sized in bytes and accessed through
// typed mapped regions.
type Buffer struct {
	db    driver.Buffer
	queue *Queue
}

// NewBuffer allocates a size-byte buffer on q's device. The queue becomes
// the buffer's default queue for maps and unmaps. The call may block until
// device capacity frees up, honoring ctx.
func NewBuffer(ctx context.Context, q *Queue, size int64) (*Buffer, error) {
	db, err := q.device.dd.CreateBuffer(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("create buffer: %w", err)
	}
	return &Buffer{db: db, queue: q}, nil
}

// NewBufferOf allocates a buffer holding elems elements of T on q's device.
func NewBufferOf[T Prm](ctx context.Context, q *Queue, elems int) (*Buffer, error) {
	if elems <= 0 {
		return nil, &ErrInvalidLength{Length: elems}
	}
	return NewBuffer(ctx, q, int64(elems)*int64(SizeOf[T]()))
}

// SizeBytes returns the buffer size in bytes.
func (b *Buffer) SizeBytes() int64 {
	return b.db.Size()
}

// ID returns the buffer's identity within its device.
func (b *Buffer) ID() uint64 {
	return b.db.ID()
}

// Queue returns the buffer's default queue.
func (b *Buffer) Queue() *Queue {
	return b.queue
}

// Driver returns the underlying driver buffer.
func (b *Buffer) Driver() driver.Buffer {
	return b.db
}

// Release frees the buffer. Live mappings of the buffer become invalid.
// It is idempotent.
func (b *Buffer) Release() error {
	return b.db.Release()
}
