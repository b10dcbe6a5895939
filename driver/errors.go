package driver

import "errors"

var (
	// ErrDeviceClosed is returned when operating on a closed device.
	ErrDeviceClosed = errors.New("driver: device is closed")
	// ErrQueueClosed is returned when enqueueing on a closed queue.
	ErrQueueClosed = errors.New("driver: queue is closed")
	// ErrInvalidHandle is returned when a buffer or mapping is not known
	// to the device, typically because it was already released.
	ErrInvalidHandle = errors.New("driver: invalid handle")
	// ErrDoubleUnmap is returned when unmapping a mapping that was
	// already unmapped at the device level.
	ErrDoubleUnmap = errors.New("driver: mapping already unmapped")
	// ErrEventSettled is returned when settling a user event twice.
	ErrEventSettled = errors.New("driver: event already settled")
	// ErrOutOfDeviceMemory is returned when an allocation exceeds the
	// device's remaining capacity.
	ErrOutOfDeviceMemory = errors.New("driver: out of device memory")
	// ErrOutOfRange is returned when a map request lies outside its
	// buffer's bounds.
	ErrOutOfRange = errors.New("driver: map request out of range")
)
