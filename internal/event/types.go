package event

import (
	"context"
	"fmt"
	"strings"
)

// Handler is the interface for event handlers.
// Handlers run on the bus's drain goroutine, one at a time. A handler that
// blocks holds up every event queued behind it.
type Handler interface {
	// Handle processes an event. A returned error (or a panic) is reported
	// as a diagnostic event and does not stop dispatch.
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, e Event) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// FilterFunc is a predicate over events.
// Return true to allow the event, false to filter it out.
type FilterFunc func(e Event) bool

// Metrics is a point-in-time snapshot of bus statistics.
type Metrics struct {
	// Published is the number of events accepted by Publish.
	Published uint64 `json:"published"`

	// Processed is the number of events that completed their rule and
	// subscription pass.
	Processed uint64 `json:"processed"`

	// Failed is the number of rule actions and handlers that failed.
	Failed uint64 `json:"failed"`

	// Dropped is the number of events lost to the overflow policy.
	Dropped uint64 `json:"dropped"`

	// AvgProcessingTime is the running mean per-event processing time in
	// milliseconds.
	AvgProcessingTime float64 `json:"avgProcessingTime"`

	QueueDepth    int `json:"queueDepth"`
	HistorySize   int `json:"historySize"`
	Subscriptions int `json:"subscriptions"`
	Rules         int `json:"rules"`
}

// OverflowPolicy decides what Publish does when the queue is at capacity.
type OverflowPolicy int

const (
	// OverflowReject refuses the new event with ErrQueueFull.
	OverflowReject OverflowPolicy = iota

	// OverflowDropOldest evicts the oldest queued event to make room.
	OverflowDropOldest

	// OverflowBlock waits for space or context cancellation.
	OverflowBlock
)

// String returns the policy's configuration name.
func (p OverflowPolicy) String() string {
	switch p {
	case OverflowReject:
		return "reject"
	case OverflowDropOldest:
		return "drop-oldest"
	case OverflowBlock:
		return "block"
	default:
		return "unknown"
	}
}

// ParseOverflowPolicy parses a configuration name into a policy.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return OverflowReject, nil
	case "drop-oldest", "drop_oldest", "dropoldest":
		return OverflowDropOldest, nil
	case "block":
		return OverflowBlock, nil
	default:
		return OverflowReject, fmt.Errorf("unknown overflow policy %q", s)
	}
}
