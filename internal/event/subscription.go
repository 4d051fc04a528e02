package event

import (
	"context"
	"sync/atomic"
)

// SubscriptionConfig contains configuration for a subscription.
type SubscriptionConfig struct {
	// Priority determines execution order. Higher values run first; equal
	// priorities run in registration order.
	Priority int

	// Filter is an optional predicate. When set, events are only delivered
	// if Filter returns true.
	Filter FilterFunc

	// Metadata is opaque information stored with the subscription.
	Metadata map[string]any

	// Disabled registers the subscription in the disabled state.
	Disabled bool

	// Once removes the subscription after its first delivery.
	Once bool
}

// SubscriptionOption is a function that configures a subscription.
type SubscriptionOption func(*SubscriptionConfig)

// WithPriority sets the subscription priority.
func WithPriority(p int) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Priority = p
	}
}

// WithFilter sets a filter predicate.
func WithFilter(f FilterFunc) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Filter = f
	}
}

// WithMetadata attaches opaque metadata to the subscription.
func WithMetadata(md map[string]any) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Metadata = md
	}
}

// WithDisabled registers the subscription disabled. Enable it later with
// Bus.SetSubscriptionEnabled.
func WithDisabled() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Disabled = true
	}
}

// WithOnce removes the subscription after the first event it receives.
func WithOnce() SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.Once = true
	}
}

// SubscriptionInfo is a read-only description of a registered subscription.
type SubscriptionInfo struct {
	ID        string         `json:"id"`
	EventType Type           `json:"eventType"`
	Priority  int            `json:"priority"`
	Enabled   bool           `json:"enabled"`
	Once      bool           `json:"once,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// subscription is the registry's record of one handler.
type subscription struct {
	id        string
	eventType Type
	handler   Handler
	config    SubscriptionConfig
	enabled   atomic.Bool
	removed   atomic.Bool
}

func newSubscription(id string, t Type, h Handler, opts ...SubscriptionOption) *subscription {
	var config SubscriptionConfig
	for _, opt := range opts {
		opt(&config)
	}

	s := &subscription{
		id:        id,
		eventType: t,
		handler:   h,
		config:    config,
	}
	s.enabled.Store(!config.Disabled)
	return s
}

// ID returns the subscription ID.
func (s *subscription) ID() string {
	return s.id
}

// Priority returns the subscription's ordering priority.
func (s *subscription) Priority() int {
	return s.config.Priority
}

// isActive reports whether the subscription should still receive events.
// A subscription removed while an event is mid-dispatch is skipped for the
// rest of that event.
func (s *subscription) isActive() bool {
	return s.enabled.Load() && !s.removed.Load()
}

// Handle implements Handler so a subscription can be passed straight to an
// executor.
func (s *subscription) Handle(ctx context.Context, e Event) error {
	return s.handler.Handle(ctx, e)
}

func (s *subscription) info() SubscriptionInfo {
	return SubscriptionInfo{
		ID:        s.id,
		EventType: s.eventType,
		Priority:  s.config.Priority,
		Enabled:   s.enabled.Load(),
		Once:      s.config.Once,
		Metadata:  s.config.Metadata,
	}
}
