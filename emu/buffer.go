package emu

import (
	"sync"
	"sync/atomic"

	"github.com/math-rock/ocl/driver"
	"github.com/math-rock/ocl/internal/hostmem"
)

// buffer simulates device memory with a page-backed host allocation.
// The lock keeps Release from unmapping the arena while a transfer is
// copying into or out of it.
type buffer struct {
	id       uint64
	size     int64
	device   *Device
	released atomic.Bool

	mu    sync.RWMutex
	arena *hostmem.Arena
}

func (b *buffer) ID() uint64 { return b.id }

func (b *buffer) Size() int64 { return b.size }

// bytes returns the backing storage, nil once released. Callers must
// hold mu for the lifetime of the returned slice.
func (b *buffer) bytes() []byte { return b.arena.Bytes() }

// Release returns the buffer's memory to the device. It is idempotent.
func (b *buffer) Release() error {
	if b.released.Swap(true) {
		return nil
	}
	b.device.buffers.Remove(b.id)
	b.mu.Lock()
	err := b.arena.Close()
	b.mu.Unlock()
	b.device.memSem.Release(b.size)
	return err
}

// mapping is one live map of a buffer region. The staging arena holds
// the host-visible bytes; the copy back to the buffer happens when the
// unmap command executes.
type mapping struct {
	id      uint64
	buffer  *buffer
	offset  int
	length  int
	flags   driver.MapFlags
	staging *hostmem.Arena
}

func (m *mapping) ID() uint64 { return m.id }

func (m *mapping) Bytes() []byte { return m.staging.Bytes() }
