package ocl

import (
	"errors"
	"fmt"

	"github.com/math-rock/ocl/driver"
)

var (
	// ErrAlreadyUnmapped is returned when enqueueing an unmap for a region
	// that has already been unmapped. The region state is unchanged and no
	// command is issued.
	ErrAlreadyUnmapped = errors.New("mapped region is already unmapped")

	// ErrCallbackAlreadySet is returned when a completion trigger is
	// registered twice for the same region.
	ErrCallbackAlreadySet = errors.New("completion callback already set")

	// ErrNotUserEvent is returned when an event that must be host-settled
	// (a completion target) is not a user event.
	ErrNotUserEvent = errors.New("event is not a user event")

	// ErrEmptyEvent is returned when waiting on an event that does not
	// track any command yet.
	ErrEmptyEvent = errors.New("event is empty")

	// ErrUnmapFailed settles a completion target whose unmap command
	// failed on the device.
	ErrUnmapFailed = errors.New("unmap command failed")
)

// ErrOutOfRange indicates a map request outside its buffer's bounds.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrOutOfRange struct {
	Offset   int // requested start, in elements
	Length   int // requested length, in elements
	Capacity int // buffer capacity, in elements
	cause    error
}

func (e *ErrOutOfRange) Error() string {
	return fmt.Sprintf("map range out of bounds: [%d, %d) exceeds capacity %d", e.Offset, e.Offset+e.Length, e.Capacity)
}

func (e *ErrOutOfRange) Unwrap() error { return e.cause }

// ErrInvalidLength indicates a non-positive map length.
type ErrInvalidLength struct {
	Length int
}

func (e *ErrInvalidLength) Error() string {
	return fmt.Sprintf("invalid map length: %d", e.Length)
}

// ErrMisalignedMapping indicates that the substrate returned a mapping whose
// base address is not aligned for the requested element type. The mapping is
// released before this error is returned.
type ErrMisalignedMapping struct {
	Addr  uintptr
	Align int
}

func (e *ErrMisalignedMapping) Error() string {
	return fmt.Sprintf("mapping base address %#x is not %d-byte aligned", e.Addr, e.Align)
}

// translateError normalizes driver errors at the public API boundary.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// A device-level double unmap means the region handle outlived its
	// mapping; surface it as the region-level condition.
	if errors.Is(err, driver.ErrDoubleUnmap) {
		return fmt.Errorf("%w: %w", ErrAlreadyUnmapped, err)
	}

	return err
}
