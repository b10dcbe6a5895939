package ocl

// CompletionMode defines how an unmap reports device-side completion to its
// completion target.
type CompletionMode int

const (
	// Deferred represents callback-driven completion.
	// The enqueue returns immediately; when the device finishes the unmap, a
	// driver callback marks the completion target complete. The caller may
	// only order against the unmap through that target.
	// Default, and the right choice for pipelined workloads.
	Deferred CompletionMode = iota

	// Blocking represents synchronous completion.
	// The enqueue waits for the device to finish the unmap and marks the
	// completion target complete before returning. Simplest to reason about,
	// stalls the calling goroutine.
	Blocking
)

// String returns a human-readable mode name.
func (m CompletionMode) String() string {
	switch m {
	case Deferred:
		return "deferred"
	case Blocking:
		return "blocking"
	default:
		return "unknown"
	}
}
