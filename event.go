package ocl

import (
	"context"
	"fmt"

	"github.com/math-rock/ocl/driver"
)

// Event tracks the completion of one enqueued command, or, for user events,
// a host-controlled signal.
//
// The zero value is an empty event: a slot that an unmap enqueue fills with
// the command's completion event (see UnmapBuilder.ResultEvent). An empty
// event cannot be waited on.
type Event struct {
	ev   driver.Event
	user driver.UserEvent
}

func newEvent(ev driver.Event) *Event {
	e := &Event{}
	e.fill(ev)
	return e
}

func (e *Event) fill(ev driver.Event) {
	e.ev = ev
	if ue, ok := ev.(driver.UserEvent); ok {
		e.user = ue
	}
}

// IsEmpty reports whether the event tracks anything yet.
func (e *Event) IsEmpty() bool {
	return e == nil || e.ev == nil
}

// Wait blocks until the event settles or ctx is done. It returns nil on
// completion, the command's error if it failed, and the ctx error on
// cancellation.
func (e *Event) Wait(ctx context.Context) error {
	if e.IsEmpty() {
		return ErrEmptyEvent
	}
	return e.ev.Wait(ctx)
}

// Done returns a channel closed when the event settles, or nil for an
// empty event.
func (e *Event) Done() <-chan struct{} {
	if e.IsEmpty() {
		return nil
	}
	return e.ev.Done()
}

// IsComplete reports whether the event settled successfully.
func (e *Event) IsComplete() bool {
	if e.IsEmpty() {
		return false
	}
	return e.ev.Status() == driver.StatusComplete
}

// SetComplete settles a user event successfully. It returns ErrNotUserEvent
// for command events and empty events.
func (e *Event) SetComplete() error {
	if e.IsEmpty() || e.user == nil {
		return ErrNotUserEvent
	}
	return e.user.SetComplete()
}

// SetError settles a user event with err. It returns ErrNotUserEvent for
// command events and empty events.
func (e *Event) SetError(err error) error {
	if e.IsEmpty() || e.user == nil {
		return ErrNotUserEvent
	}
	return e.user.SetError(err)
}

// OnComplete registers fn to run on a driver-owned goroutine when the event
// settles. A fn registered after the event settled still runs, exactly once.
func (e *Event) OnComplete(fn func(driver.CommandStatus)) error {
	if e.IsEmpty() {
		return ErrEmptyEvent
	}
	return e.ev.OnComplete(fn)
}

// ID returns the event's identity within its device, 0 for an empty event.
func (e *Event) ID() uint64 {
	if e.IsEmpty() {
		return 0
	}
	return e.ev.ID()
}

// Driver returns the underlying driver event, nil for an empty event.
func (e *Event) Driver() driver.Event {
	if e == nil {
		return nil
	}
	return e.ev
}

func (e *Event) isUser() bool {
	return e != nil && e.user != nil
}

// NewUserEvent creates a host-settled event on d. User events serve as
// completion targets for unmaps and as manual gates in wait lists.
func NewUserEvent(d *Device) (*Event, error) {
	ue, err := d.dd.NewUserEvent()
	if err != nil {
		return nil, fmt.Errorf("new user event: %w", err)
	}
	return &Event{ev: ue, user: ue}, nil
}

// EventList is an ordered list of events used as a command wait list.
// A nil *EventList is a valid empty wait list.
type EventList struct {
	events []*Event
}

// NewEventList creates a wait list from evs. Nil and empty events are
// skipped.
func NewEventList(evs ...*Event) *EventList {
	l := &EventList{}
	l.Append(evs...)
	return l
}

// Append adds events to the list. Nil and empty events are skipped.
func (l *EventList) Append(evs ...*Event) {
	for _, ev := range evs {
		if ev.IsEmpty() {
			continue
		}
		l.events = append(l.events, ev)
	}
}

// Len returns the number of events, 0 for a nil list.
func (l *EventList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.events)
}

// Events returns the listed events.
func (l *EventList) Events() []*Event {
	if l == nil {
		return nil
	}
	return l.events
}

// driverEvents flattens the list for a driver call.
func (l *EventList) driverEvents() []driver.Event {
	if l.Len() == 0 {
		return nil
	}
	out := make([]driver.Event, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.ev)
	}
	return out
}

// ids returns the listed event identities, for logging and tracing.
func (l *EventList) ids() []uint64 {
	if l.Len() == 0 {
		return nil
	}
	out := make([]uint64, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.ID())
	}
	return out
}
