package emu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/math-rock/ocl/driver"
)

// event is a channel-backed driver.Event. The status field is the
// single source of truth; done closes when the status turns terminal.
type event struct {
	id     uint64
	status atomic.Int32
	done   chan struct{}

	mu        sync.Mutex
	err       error
	callbacks []func(driver.CommandStatus)
}

func newEvent(id uint64) *event {
	ev := &event{id: id, done: make(chan struct{})}
	ev.status.Store(int32(driver.StatusQueued))
	return ev
}

func (e *event) ID() uint64 { return e.id }

func (e *event) Status() driver.CommandStatus {
	return driver.CommandStatus(e.status.Load())
}

func (e *event) Done() <-chan struct{} { return e.done }

func (e *event) Wait(ctx context.Context) error {
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// OnComplete registers fn to run once the event settles. When the event
// already settled, fn still runs, on its own goroutine so registration
// never blocks and never runs callbacks on the caller's goroutine.
func (e *event) OnComplete(fn func(driver.CommandStatus)) error {
	e.mu.Lock()
	if s := driver.CommandStatus(e.status.Load()); s.Settled() {
		e.mu.Unlock()
		go fn(s)
		return nil
	}
	e.callbacks = append(e.callbacks, fn)
	e.mu.Unlock()
	return nil
}

// setStatus publishes a non-terminal state transition. Terminal states
// go through settle.
func (e *event) setStatus(s driver.CommandStatus) {
	e.status.Store(int32(s))
}

// settle moves the event to a terminal state, unblocks waiters, and
// schedules the registered callbacks. Only the first settle wins.
func (e *event) settle(status driver.CommandStatus, err error) bool {
	e.mu.Lock()
	if driver.CommandStatus(e.status.Load()).Settled() {
		e.mu.Unlock()
		return false
	}
	e.err = err
	e.status.Store(int32(status))
	close(e.done)
	callbacks := e.callbacks
	e.callbacks = nil
	e.mu.Unlock()

	if len(callbacks) > 0 {
		go func() {
			for _, fn := range callbacks {
				fn(status)
			}
		}()
	}
	return true
}

// userEvent is an event settled by the host instead of a command.
type userEvent struct {
	event
}

func newUserEvent(id uint64) *userEvent {
	ue := &userEvent{event: event{id: id, done: make(chan struct{})}}
	ue.status.Store(int32(driver.StatusSubmitted))
	return ue
}

func (u *userEvent) SetComplete() error {
	if !u.settle(driver.StatusComplete, nil) {
		return driver.ErrEventSettled
	}
	return nil
}

func (u *userEvent) SetError(err error) error {
	if err == nil {
		err = errors.New("user event failed")
	}
	if !u.settle(driver.StatusFailed, err) {
		return driver.ErrEventSettled
	}
	return nil
}
