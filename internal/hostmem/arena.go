package hostmem

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrClosed is returned when attempting to use a closed arena.
	ErrClosed = errors.New("hostmem: arena is closed")
	// ErrInvalidSize is returned when the requested size is negative.
	ErrInvalidSize = errors.New("hostmem: invalid size")
)

// Arena is a block of page-backed host memory outside the Go heap.
// It owns the underlying byte slice and is responsible for releasing it.
type Arena struct {
	data   []byte
	size   int
	pinned bool
	closed atomic.Bool
	// unmap is the platform-specific function to release the memory.
	unmap func([]byte) error
}

// Alloc obtains size bytes of anonymous page-backed memory.
// When pin is true the pages are locked into physical memory if the
// platform and process limits allow it; a failed lock is not an error,
// the arena simply reports Pinned() == false.
func Alloc(size int, pin bool) (*Arena, error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}
	if size == 0 {
		return &Arena{data: nil, size: 0}, nil
	}

	data, unmapFunc, err := osMapAnon(size)
	if err != nil {
		return nil, err
	}

	a := &Arena{
		data:  data,
		size:  size,
		unmap: unmapFunc,
	}

	if pin {
		if err := osPin(data); err == nil {
			a.pinned = true
		}
	}

	return a, nil
}

// Close releases the memory. It is idempotent.
func (a *Arena) Close() error {
	if a.closed.Swap(true) {
		return nil // Already closed
	}
	if a.data == nil {
		return nil
	}
	var err error
	if a.pinned {
		err = osUnpin(a.data)
	}
	if a.unmap != nil {
		if unmapErr := a.unmap(a.data); unmapErr != nil && err == nil {
			err = unmapErr
		}
	}
	a.data = nil
	return err
}

// Bytes returns the underlying byte slice.
// Warning: The slice is valid only until Close() is called.
func (a *Arena) Bytes() []byte {
	if a.closed.Load() {
		return nil
	}
	return a.data
}

// Size returns the size of the arena in bytes.
func (a *Arena) Size() int {
	return a.size
}

// Pinned reports whether the pages are locked into physical memory.
func (a *Arena) Pinned() bool {
	return a.pinned
}
