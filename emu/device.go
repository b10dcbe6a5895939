// Package emu implements an in-process device for development and tests.
//
// The emulated device backs buffers with page-backed host memory and
// executes commands on background goroutines, so the full asynchronous
// surface of the driver interfaces behaves like a real device: wait
// lists defer execution, events settle out of band, and in-order queues
// run commands strictly in submission order.
//
// Map commands copy the requested region into a staging allocation;
// unmap commands copy it back (for writable maps) when they execute.
// A configurable transfer rate can slow these copies down to make
// command overlap visible in tests.
package emu

import (
	"context"
	"fmt"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/semaphore"

	"github.com/math-rock/ocl/driver"
	"github.com/math-rock/ocl/internal/conv"
	"github.com/math-rock/ocl/internal/hostmem"
)

// Bounds for the self-sized device memory.
const (
	minDefaultMemSize = 256 << 20 // 256 MB
	maxDefaultMemSize = 4 << 30   // 4 GB
)

// Options contains configuration for the emulated device.
type Options struct {
	// Name is the device name reported to callers.
	Name string

	// MemSize is the simulated device memory in bytes. When 0 the
	// device sizes itself from the host: a quarter of total RAM,
	// clamped between 256 MB and 4 GB.
	MemSize uint64

	// TransferRate caps simulated map and unmap bandwidth in bytes per
	// second. 0 leaves transfers at memcpy speed.
	TransferRate int64

	// PinStaging requests page-locked staging memory for mappings.
	// When the host refuses the lock, staging memory is used unpinned.
	PinStaging bool
}

// DefaultOptions returns default device options.
var DefaultOptions = Options{
	Name: "ocl-emu",
}

// Device is an in-process driver.Device backed by host memory.
type Device struct {
	name         string
	memSize      uint64
	memSem       *semaphore.Weighted
	transferRate int64
	pinStaging   bool

	nextID  atomic.Uint64 // one ID space for queues, buffers, mappings, events
	queues  cmap.ConcurrentMap[uint64, *queue]
	buffers cmap.ConcurrentMap[uint64, *buffer]
	closed  atomic.Bool
}

// New creates an emulated device.
func New(optFns ...func(o *Options)) (*Device, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	size := opts.MemSize
	if size == 0 {
		size = defaultMemSize()
	}

	weight, err := conv.Uint64ToInt64(size)
	if err != nil {
		return nil, fmt.Errorf("invalid device memory size: %w", err)
	}

	return &Device{
		name:         opts.Name,
		memSize:      size,
		memSem:       semaphore.NewWeighted(weight),
		transferRate: opts.TransferRate,
		pinStaging:   opts.PinStaging,
		queues:       cmap.NewWithCustomShardingFunction[uint64, *queue](shardID),
		buffers:      cmap.NewWithCustomShardingFunction[uint64, *buffer](shardID),
	}, nil
}

func shardID(key uint64) uint32 {
	return uint32(key ^ key>>32)
}

// defaultMemSize derives the simulated device memory from host RAM.
func defaultMemSize() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return minDefaultMemSize
	}
	size := vm.Total / 4
	if size < minDefaultMemSize {
		size = minDefaultMemSize
	}
	if size > maxDefaultMemSize {
		size = maxDefaultMemSize
	}
	return size
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// GlobalMemSize returns the simulated device memory capacity in bytes.
func (d *Device) GlobalMemSize() uint64 { return d.memSize }

// CreateQueue creates a command queue on the device.
func (d *Device) CreateQueue(cfg driver.QueueConfig) (driver.Queue, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}

	q, err := newQueue(d, cfg)
	if err != nil {
		return nil, err
	}
	d.queues.Set(q.id, q)
	return q, nil
}

// CreateBuffer allocates a buffer of size bytes, blocking while the
// device is out of memory until enough buffers are released or ctx is
// canceled.
func (d *Device) CreateBuffer(ctx context.Context, size int64) (driver.Buffer, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	if uint64(size) > d.memSize {
		// Larger than the whole device; waiting cannot help.
		return nil, driver.ErrOutOfDeviceMemory
	}

	if err := d.memSem.Acquire(ctx, size); err != nil {
		return nil, err
	}

	length, err := conv.Int64ToInt(size)
	if err != nil {
		d.memSem.Release(size)
		return nil, err
	}
	arena, err := hostmem.Alloc(length, false)
	if err != nil {
		d.memSem.Release(size)
		return nil, fmt.Errorf("failed to allocate device memory: %w", err)
	}

	b := &buffer{
		id:     d.nextID.Add(1),
		size:   size,
		arena:  arena,
		device: d,
	}
	d.buffers.Set(b.id, b)
	return b, nil
}

// NewUserEvent creates an event settled by the host.
func (d *Device) NewUserEvent() (driver.UserEvent, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	return newUserEvent(d.nextID.Add(1)), nil
}

// Close shuts the device down: queues are drained and closed first,
// then all remaining buffers are released. Close is idempotent.
func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}

	for item := range d.queues.IterBuffered() {
		_ = item.Val.Close()
	}
	d.queues.Clear()

	for item := range d.buffers.IterBuffered() {
		_ = item.Val.Release()
	}
	d.buffers.Clear()

	return nil
}
