// Package driver defines the interface between the ocl user API and a
// compute-device implementation.
//
// # Overview
//
// The ocl package never talks to a device directly. Every native operation
// it needs (creating buffers, mapping them into host memory, enqueueing
// unmaps, observing command completion) goes through the small capability
// set declared here. Device vendors, emulators, and test doubles implement
// these interfaces; the emu package ships a complete in-process
// implementation and the testutil package a recording stub.
//
// The split mirrors database/sql and database/sql/driver: user code imports
// ocl, substrate code imports driver, and the two meet only at construction.
//
// # Completion
//
// Commands complete asynchronously. An Event tracks one command; its Done
// channel closes and its registered OnComplete callbacks fire exactly once
// when the command settles (complete or failed). Callbacks run on
// driver-owned goroutines, never on the caller's.
//
// UserEvent is an event settled by the host instead of a command. It is the
// substrate half of user-visible completion targets.
package driver
