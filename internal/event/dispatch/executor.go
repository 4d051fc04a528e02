package dispatch

import (
	"context"
	"runtime/debug"
	"time"
)

// Executor runs handlers with panic recovery, timing and an optional
// per-handler deadline.
type Executor[E any] struct {
	panicHandler PanicHandler[E]
	timeout      time.Duration
}

// NewExecutor creates a new executor with the given options.
func NewExecutor[E any](opts ...ExecutorOption[E]) *Executor[E] {
	x := &Executor[E]{}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// ExecutorOption configures an Executor.
type ExecutorOption[E any] func(*Executor[E])

// WithPanicHandler sets the callback invoked after a handler panics.
func WithPanicHandler[E any](h PanicHandler[E]) ExecutorOption[E] {
	return func(x *Executor[E]) {
		x.panicHandler = h
	}
}

// WithTimeout bounds every Execute call. Zero disables the bound.
// Handlers must respect context cancellation for this to be effective.
func WithTimeout[E any](d time.Duration) ExecutorOption[E] {
	return func(x *Executor[E]) {
		x.timeout = d
	}
}

// Timeout returns the configured per-handler timeout.
func (x *Executor[E]) Timeout() time.Duration {
	return x.timeout
}

// Execute runs a handler with the given event and returns the result.
// It recovers from panics and captures timing information.
func (x *Executor[E]) Execute(ctx context.Context, event E, handler Handler[E]) Result {
	return x.ExecuteWithTimeout(ctx, event, handler, x.timeout)
}

// ExecuteWithTimeout runs a handler under its own deadline.
// A non-positive timeout runs the handler with ctx unchanged.
func (x *Executor[E]) ExecuteWithTimeout(ctx context.Context, event E, handler Handler[E], timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return x.run(ctx, event, handler)
}

func (x *Executor[E]) run(ctx context.Context, event E, handler Handler[E]) (result Result) {
	select {
	case <-ctx.Done():
		return Result{
			Error:   ctx.Err(),
			Skipped: true,
		}
	default:
	}

	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()

			result.Success = false
			result.Panicked = true
			result.PanicValue = r
			result.PanicStack = stack

			if x.panicHandler != nil {
				func() {
					// a panicking panic handler must not take down the caller
					defer func() { _ = recover() }()
					x.panicHandler(event, r, stack)
				}()
			}
		}
	}()

	if err := handler.Handle(ctx, event); err != nil {
		result.Error = err
		return result
	}
	result.Success = true
	return result
}

// ExecuteAll runs multiple handlers sequentially and returns all results.
// Execution stops early if the context is cancelled; the remaining handlers
// are marked skipped.
func (x *Executor[E]) ExecuteAll(ctx context.Context, event E, handlers []Handler[E]) []Result {
	results := make([]Result, len(handlers))

	for i, handler := range handlers {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(handlers); j++ {
				results[j] = Result{Error: err, Skipped: true}
			}
			return results
		}
		results[i] = x.Execute(ctx, event, handler)
	}

	return results
}
