package host

import "errors"

// Sentinel errors returned by the host.
var (
	// ErrHostClosed is returned when the host has been shut down.
	ErrHostClosed = errors.New("host is closed")

	// ErrBufferNotFound is returned for an unknown buffer handle.
	ErrBufferNotFound = errors.New("buffer not found")

	// ErrBufferNotLoaded is returned when an operation needs a loaded buffer.
	ErrBufferNotLoaded = errors.New("buffer is not loaded")

	// ErrLoopPanic is returned when an operation panicked on the event loop.
	ErrLoopPanic = errors.New("host operation panicked")
)
