package lua

import "errors"

// Errors for Lua state and subscriber operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when a script runs past its deadline.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrSubscriberClosed is returned when notifying a closed subscriber.
	ErrSubscriberClosed = errors.New("lua subscriber is closed")

	// ErrTooManyErrors is returned when a script has failed too often in a row.
	ErrTooManyErrors = errors.New("lua script failed too many times")
)
