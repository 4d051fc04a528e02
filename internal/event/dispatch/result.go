package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPanic is matched by the error returned from Result.Err for handlers
// that panicked.
var ErrPanic = errors.New("handler panicked")

// Handler is anything that can process an event of type E.
type Handler[E any] interface {
	Handle(ctx context.Context, event E) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc[E any] func(ctx context.Context, event E) error

// Handle implements Handler.
func (f HandlerFunc[E]) Handle(ctx context.Context, event E) error {
	return f(ctx, event)
}

// Result represents the outcome of a handler execution.
type Result struct {
	// Success is true if the handler completed without error or panic.
	Success bool

	// Error is the error returned by the handler, if any.
	Error error

	// Panicked is true if the handler panicked.
	Panicked bool

	// PanicValue is the value passed to panic(), if Panicked is true.
	PanicValue any

	// PanicStack is the stack trace at the point of panic.
	PanicStack []byte

	// Duration is how long the handler took to execute.
	Duration time.Duration

	// Skipped is true if the handler was not executed (e.g., context cancelled).
	Skipped bool
}

// IsSuccess returns true if the result indicates successful execution.
func (r Result) IsSuccess() bool {
	return r.Success && !r.Panicked && r.Error == nil
}

// IsError returns true if the result indicates an error (not panic).
func (r Result) IsError() bool {
	return r.Error != nil && !r.Panicked
}

// IsPanic returns true if the result indicates a panic.
func (r Result) IsPanic() bool {
	return r.Panicked
}

// Err folds the result into a single error: nil on success, the handler's
// error, or an error wrapping ErrPanic that carries the panic value.
func (r Result) Err() error {
	switch {
	case r.Panicked:
		return fmt.Errorf("%w: %v", ErrPanic, r.PanicValue)
	case r.Error != nil:
		return r.Error
	case !r.Success:
		return errors.New("handler did not run")
	default:
		return nil
	}
}

// PanicHandler is called when a handler panics during execution.
// It receives the event being processed, the panic value, and the stack trace.
type PanicHandler[E any] func(event E, panicValue any, stack []byte)
