package event

import (
	"errors"
	"fmt"
)

// Sentinel errors for the event bus.
var (
	// ErrBusClosed is returned when publishing to a bus that has been closed.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrQueueFull is returned when the queue is at capacity and the overflow
	// policy refuses the event.
	ErrQueueFull = errors.New("event queue is full")

	// ErrInvalidEvent is returned when an event is malformed or missing required fields.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilCondition is returned when a rule has no condition.
	ErrNilCondition = errors.New("rule condition cannot be nil")

	// ErrHandlerPanic is matched by errors produced from recovered panics.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrFlushInHandler is returned when Flush or Close is called from a
	// handler running on the drain goroutine.
	ErrFlushInHandler = errors.New("flush called from inside a handler")
)

// HandlerError wraps a failure from a subscription handler or its filter.
type HandlerError struct {
	// SubscriptionID is the ID of the subscription whose handler failed.
	SubscriptionID string

	// EventType is the type the handler was subscribed to.
	EventType Type

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler error for subscription %s on %s: %v", e.SubscriptionID, e.EventType, e.Err)
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// RuleError wraps a failure from a rule condition or one of its actions.
type RuleError struct {
	RuleID   string
	RuleName string

	// Action is the index of the failing action, or -1 when the condition failed.
	Action int

	Err error
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	if e.Action < 0 {
		return fmt.Sprintf("rule %q (%s) condition: %v", e.RuleName, e.RuleID, e.Err)
	}
	return fmt.Sprintf("rule %q (%s) action %d: %v", e.RuleName, e.RuleID, e.Action, e.Err)
}

// Unwrap returns the underlying error.
func (e *RuleError) Unwrap() error {
	return e.Err
}

// PanicError wraps a recovered panic value as an error.
type PanicError struct {
	// Value is the value passed to panic().
	Value any

	// Stack is the stack trace at the time of the panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Is reports whether target is ErrHandlerPanic.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanic
}
