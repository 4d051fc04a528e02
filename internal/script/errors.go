package script

import "errors"

// Errors for script compilation and execution.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrCompile is returned when a script does not parse.
	ErrCompile = errors.New("lua compile error")

	// ErrRuntime is returned when a script raises an error.
	ErrRuntime = errors.New("lua runtime error")

	// ErrTimeout is returned when a script exceeds its deadline.
	ErrTimeout = errors.New("lua execution timeout")

	// ErrNotBoolean is returned when a condition yields a non-boolean value.
	ErrNotBoolean = errors.New("condition did not return a boolean")
)
