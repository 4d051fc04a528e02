// Package dispatch runs event handlers in isolation.
//
// An Executor invokes one handler at a time, recovers panics, records how
// long the handler ran and, when configured, bounds it with a deadline. The
// outcome is reported as a Result instead of being propagated, so a caller
// iterating over many handlers can keep going after one of them fails.
//
//	x := dispatch.NewExecutor[event.Event](
//	    dispatch.WithTimeout[event.Event](5 * time.Second),
//	)
//	res := x.Execute(ctx, e, handler)
//	if err := res.Err(); err != nil {
//	    // report and continue
//	}
//
// Executors are stateless after construction and safe for concurrent use.
package dispatch
