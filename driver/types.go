package driver

// MapFlags selects the host access mode of a mapping.
type MapFlags uint32

const (
	// MapRead maps for host reads.
	MapRead MapFlags = 1 << iota
	// MapWrite maps for host writes.
	MapWrite
)

// String returns a human-readable flag set like "read|write".
func (f MapFlags) String() string {
	switch f {
	case MapRead:
		return "read"
	case MapWrite:
		return "write"
	case MapRead | MapWrite:
		return "read|write"
	default:
		return "none"
	}
}

// CommandStatus is the execution state of an enqueued command.
type CommandStatus int32

const (
	// StatusQueued means the command sits in the queue, not yet submitted.
	StatusQueued CommandStatus = iota
	// StatusSubmitted means the command was handed to the device.
	StatusSubmitted
	// StatusRunning means the device is executing the command.
	StatusRunning
	// StatusComplete means the command finished successfully.
	StatusComplete
	// StatusFailed means the command finished with an error.
	StatusFailed
)

// String returns a human-readable status name.
func (s CommandStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusSubmitted:
		return "submitted"
	case StatusRunning:
		return "running"
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settled reports whether the command reached a terminal state.
func (s CommandStatus) Settled() bool {
	return s == StatusComplete || s == StatusFailed
}

// MapRequest describes a region of a buffer to map into host memory.
type MapRequest struct {
	Buffer      Buffer   // buffer to map
	OffsetBytes int64    // byte offset of the region start
	LengthBytes int64    // byte length of the region
	Flags       MapFlags // host access mode
	WaitList    []Event  // commands that must settle before the map runs
}

// QueueConfig carries queue creation properties.
type QueueConfig struct {
	// InOrder makes the queue execute commands strictly in submission
	// order. When false the queue may run commands concurrently, ordered
	// only by their wait lists.
	InOrder bool
}
