package event

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// Option configures an event Bus.
type Option func(*busConfig)

// busConfig contains configuration for the event bus.
type busConfig struct {
	historyCapacity int
	queueCapacity   int
	overflow        OverflowPolicy
	handlerTimeout  time.Duration
	loopGuard       bool
	logger          *logging.Logger
	tracer          trace.Tracer
	now             func() time.Time
}

// defaultBusConfig returns sensible default configuration.
func defaultBusConfig() busConfig {
	return busConfig{
		historyCapacity: DefaultHistoryCapacity,
		queueCapacity:   DefaultQueueCapacity,
		overflow:        OverflowReject,
		loopGuard:       true,
		now:             time.Now,
	}
}

// WithHistoryCapacity sets how many published events are retained.
func WithHistoryCapacity(n int) Option {
	return func(c *busConfig) {
		if n > 0 {
			c.historyCapacity = n
		}
	}
}

// WithQueueCapacity bounds the pending queue. Zero means unbounded.
func WithQueueCapacity(n int) Option {
	return func(c *busConfig) {
		if n >= 0 {
			c.queueCapacity = n
		}
	}
}

// WithOverflowPolicy sets what Publish does when the queue is full.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(c *busConfig) {
		c.overflow = p
	}
}

// WithHandlerTimeout bounds each handler and rule action. Zero disables it.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *busConfig) {
		c.handlerTimeout = d
	}
}

// WithDiagnosticLoopGuard controls whether failures while handling a
// diagnostic event are themselves reported as diagnostic events. The guard
// is on by default; turning it off lets a failing error handler feed itself.
func WithDiagnosticLoopGuard(enabled bool) Option {
	return func(c *busConfig) {
		c.loopGuard = enabled
	}
}

// WithLogger sets the bus logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *busConfig) {
		c.logger = l
	}
}

// WithTracer sets the tracer used to create one span per processed event.
func WithTracer(t trace.Tracer) Option {
	return func(c *busConfig) {
		c.tracer = t
	}
}

// WithClock overrides the time source used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *busConfig) {
		if now != nil {
			c.now = now
		}
	}
}
