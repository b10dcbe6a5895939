package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/math-rock/ocl/driver"
)

// Options configures a fake device.
type Options struct {
	// Name is the reported device name.
	Name string

	// MemSize is the reported device memory capacity in bytes. The fake
	// hands out host memory and never enforces it.
	MemSize uint64

	// ManualSettle keeps unmap completion events unsettled until the test
	// settles them through Event.Complete or Event.Fail. By default the
	// fake settles them before EnqueueUnmap returns.
	ManualSettle bool
}

// DefaultOptions are the default fake device options.
var DefaultOptions = Options{
	Name:    "fake",
	MemSize: 1 << 30,
}

// Device is a fake driver device. Every handle it creates records the calls
// made against it, so tests can assert exactly what the code under test
// asked the driver to do.
type Device struct {
	name    string
	memSize uint64
	manual  bool

	// One ID space for queues, buffers, mappings, and events.
	nextID atomic.Uint64
	closed atomic.Bool

	mu     sync.Mutex
	queues []*Queue
}

// NewDevice creates a fake device.
func NewDevice(optFns ...func(o *Options)) *Device {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Device{
		name:    opts.Name,
		memSize: opts.MemSize,
		manual:  opts.ManualSettle,
	}
}

// Name returns the configured device name.
func (d *Device) Name() string { return d.name }

// GlobalMemSize returns the configured capacity.
func (d *Device) GlobalMemSize() uint64 { return d.memSize }

// CreateQueue creates a fake queue. The returned driver.Queue is always a
// *Queue; tests may assert the concrete type or use Queues.
func (d *Device) CreateQueue(cfg driver.QueueConfig) (driver.Queue, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}

	q := &Queue{
		id:      d.nextID.Add(1),
		device:  d,
		inOrder: cfg.InOrder,
		manual:  d.manual,
	}

	d.mu.Lock()
	d.queues = append(d.queues, q)
	d.mu.Unlock()

	return q, nil
}

// CreateBuffer allocates a host-backed fake buffer.
func (d *Device) CreateBuffer(_ context.Context, size int64) (driver.Buffer, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}

	return &Buffer{
		id:   d.nextID.Add(1),
		size: size,
		data: make([]byte, size),
	}, nil
}

// NewUserEvent creates a host-settled fake event.
func (d *Device) NewUserEvent() (driver.UserEvent, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}

	ue := &UserEvent{}
	ue.init(d.nextID.Add(1))
	return ue, nil
}

// Queues returns every queue created on the device, in creation order.
func (d *Device) Queues() []*Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Queue(nil), d.queues...)
}

// Close closes the device and its queues. It is idempotent.
func (d *Device) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	for _, q := range d.Queues() {
		_ = q.Close()
	}
	return nil
}

// MapCall records one EnqueueMap seen by a fake queue.
type MapCall struct {
	BufferID    uint64
	OffsetBytes int64
	LengthBytes int64
	Flags       driver.MapFlags
	Wait        []uint64
}

// UnmapCall records one EnqueueUnmap seen by a fake queue.
type UnmapCall struct {
	BufferID  uint64
	MappingID uint64
	Wait      []uint64
	WantEvent bool
}

// Queue is a fake driver queue. It records calls instead of executing them.
type Queue struct {
	id      uint64
	device  *Device
	inOrder bool
	manual  bool

	mu       sync.Mutex
	closed   bool
	maps     []MapCall
	unmaps   []UnmapCall
	finishes int
	events   []*Event
	mapErr   error
	unmapErr error
	misalign bool
}

// ID returns the queue identity.
func (q *Queue) ID() uint64 { return q.id }

// InOrder reports the ordering mode the queue was created with.
func (q *Queue) InOrder() bool { return q.inOrder }

// FailNextMap makes the next EnqueueMap return err. The call is still
// recorded.
func (q *Queue) FailNextMap(err error) {
	q.mu.Lock()
	q.mapErr = err
	q.mu.Unlock()
}

// FailNextUnmap makes the next EnqueueUnmap return err. The call is still
// recorded and no completion event is created.
func (q *Queue) FailNextUnmap(err error) {
	q.mu.Lock()
	q.unmapErr = err
	q.mu.Unlock()
}

// MisalignNextMap makes the next EnqueueMap return a mapping whose base
// address is odd, so alignment checks for any element type wider than one
// byte fail.
func (q *Queue) MisalignNextMap() {
	q.mu.Lock()
	q.misalign = true
	q.mu.Unlock()
}

// MapCalls returns the recorded map calls.
func (q *Queue) MapCalls() []MapCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]MapCall(nil), q.maps...)
}

// UnmapCalls returns the recorded unmap calls.
func (q *Queue) UnmapCalls() []UnmapCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]UnmapCall(nil), q.unmaps...)
}

// FinishCount returns how many times Finish was called.
func (q *Queue) FinishCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finishes
}

// Events returns the unmap completion events the queue has created, in
// creation order. With ManualSettle the test settles them from here.
func (q *Queue) Events() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Event(nil), q.events...)
}

// EnqueueMap records the call and returns a mapping view of the buffer's
// host memory. It blocks on the wait list, honoring ctx.
func (q *Queue) EnqueueMap(ctx context.Context, req driver.MapRequest) (driver.Mapping, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, driver.ErrQueueClosed
	}
	failErr := q.mapErr
	q.mapErr = nil
	misalign := q.misalign
	q.misalign = false
	q.maps = append(q.maps, MapCall{
		BufferID:    bufferID(req.Buffer),
		OffsetBytes: req.OffsetBytes,
		LengthBytes: req.LengthBytes,
		Flags:       req.Flags,
		Wait:        eventIDs(req.WaitList),
	})
	q.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}

	for _, ev := range req.WaitList {
		if ev == nil {
			continue
		}
		if err := ev.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait event %d: %w", ev.ID(), err)
		}
	}

	b, ok := req.Buffer.(*Buffer)
	if !ok || b.released.Load() {
		return nil, driver.ErrInvalidHandle
	}
	if req.OffsetBytes < 0 || req.LengthBytes <= 0 || req.OffsetBytes+req.LengthBytes > b.size {
		return nil, driver.ErrOutOfRange
	}

	data := b.data[req.OffsetBytes : req.OffsetBytes+req.LengthBytes]
	if misalign {
		data = misalignedBytes(req.LengthBytes)
	}

	return &Mapping{id: q.device.nextID.Add(1), data: data}, nil
}

// EnqueueUnmap records the call and consumes the mapping. When wantEvent is
// true it creates a completion event, settled immediately unless the device
// was created with ManualSettle. The wait list is recorded, not awaited.
func (q *Queue) EnqueueUnmap(_ context.Context, buf driver.Buffer, m driver.Mapping, wait []driver.Event, wantEvent bool) (driver.Event, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, driver.ErrQueueClosed
	}
	failErr := q.unmapErr
	q.unmapErr = nil
	q.unmaps = append(q.unmaps, UnmapCall{
		BufferID:  bufferID(buf),
		MappingID: mappingID(m),
		Wait:      eventIDs(wait),
		WantEvent: wantEvent,
	})
	manual := q.manual
	q.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}

	fm, ok := m.(*Mapping)
	if !ok {
		return nil, driver.ErrInvalidHandle
	}
	if fm.consumed.Swap(true) {
		return nil, driver.ErrDoubleUnmap
	}

	if !wantEvent {
		return nil, nil
	}

	ev := newEvent(q.device.nextID.Add(1))
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	if !manual {
		_ = ev.Complete()
	}
	return ev, nil
}

// Finish counts the call and returns. The fake executes nothing, so there
// is never anything to wait for.
func (q *Queue) Finish(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return driver.ErrQueueClosed
	}
	q.finishes++
	return nil
}

// Close closes the queue and fails every event still unsettled, so armed
// completion callbacks observe the shutdown. It is idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	pending := append([]*Event(nil), q.events...)
	q.mu.Unlock()

	for _, ev := range pending {
		_ = ev.Fail(driver.ErrQueueClosed)
	}
	return nil
}

// Buffer is a fake device buffer backed by host memory.
type Buffer struct {
	id       uint64
	size     int64
	data     []byte
	released atomic.Bool
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() int64 { return b.size }

// ID returns the buffer identity.
func (b *Buffer) ID() uint64 { return b.id }

// Release marks the buffer released. It is idempotent. The backing memory
// stays alive so stale mappings read zeroes instead of faulting.
func (b *Buffer) Release() error {
	b.released.Store(true)
	return nil
}

// Released reports whether Release was called.
func (b *Buffer) Released() bool { return b.released.Load() }

// Mapping is a fake mapping view over a buffer's host memory.
type Mapping struct {
	id       uint64
	data     []byte
	consumed atomic.Bool
}

// Bytes returns the mapped bytes.
func (m *Mapping) Bytes() []byte { return m.data }

// ID returns the mapping identity.
func (m *Mapping) ID() uint64 { return m.id }

// Consumed reports whether the mapping was passed to EnqueueUnmap.
func (m *Mapping) Consumed() bool { return m.consumed.Load() }

// Event is a fake completion event, settled by the fake queue or by the
// test through Complete and Fail.
type Event struct {
	id   uint64
	done chan struct{}

	mu        sync.Mutex
	status    driver.CommandStatus
	err       error
	callbacks []func(driver.CommandStatus)
}

func newEvent(id uint64) *Event {
	e := &Event{}
	e.init(id)
	return e
}

func (e *Event) init(id uint64) {
	e.id = id
	e.status = driver.StatusSubmitted
	e.done = make(chan struct{})
}

// ID returns the event identity.
func (e *Event) ID() uint64 { return e.id }

// Status returns the current status.
func (e *Event) Status() driver.CommandStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Done returns a channel closed when the event settles.
func (e *Event) Done() <-chan struct{} { return e.done }

// Wait blocks until the event settles or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnComplete registers fn to run when the event settles. Registered
// functions run exactly once, on a separate goroutine, even when the event
// already settled.
func (e *Event) OnComplete(fn func(driver.CommandStatus)) error {
	e.mu.Lock()
	if e.status.Settled() {
		status := e.status
		e.mu.Unlock()
		go fn(status)
		return nil
	}
	e.callbacks = append(e.callbacks, fn)
	e.mu.Unlock()
	return nil
}

// Complete settles the event successfully. A second settle returns
// driver.ErrEventSettled.
func (e *Event) Complete() error {
	return e.settle(driver.StatusComplete, nil)
}

// Fail settles the event with err. A second settle returns
// driver.ErrEventSettled.
func (e *Event) Fail(err error) error {
	if err == nil {
		err = errors.New("event failed")
	}
	return e.settle(driver.StatusFailed, err)
}

func (e *Event) settle(status driver.CommandStatus, err error) error {
	e.mu.Lock()
	if e.status.Settled() {
		e.mu.Unlock()
		return driver.ErrEventSettled
	}
	e.status = status
	e.err = err
	callbacks := e.callbacks
	e.callbacks = nil
	e.mu.Unlock()

	close(e.done)

	if len(callbacks) > 0 {
		go func() {
			for _, fn := range callbacks {
				fn(status)
			}
		}()
	}
	return nil
}

// UserEvent is a fake host-settled event.
type UserEvent struct {
	Event
}

// SetComplete settles the event successfully.
func (u *UserEvent) SetComplete() error {
	return u.Complete()
}

// SetError settles the event with err.
func (u *UserEvent) SetError(err error) error {
	if err == nil {
		err = errors.New("user event failed")
	}
	return u.Fail(err)
}

// misalignedBytes returns a length-byte slice whose base address is odd.
func misalignedBytes(length int64) []byte {
	raw := make([]byte, length+2)
	off := int64(1)
	if uintptr(unsafe.Pointer(&raw[0]))%2 != 0 {
		off = 2
	}
	return raw[off : off+length]
}

func bufferID(b driver.Buffer) uint64 {
	if b == nil {
		return 0
	}
	return b.ID()
}

func mappingID(m driver.Mapping) uint64 {
	if m == nil {
		return 0
	}
	return m.ID()
}

func eventIDs(evs []driver.Event) []uint64 {
	if len(evs) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(evs))
	for _, ev := range evs {
		if ev != nil {
			ids = append(ids, ev.ID())
		}
	}
	return ids
}
