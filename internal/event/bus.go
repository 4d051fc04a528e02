package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Alnajaar/nilelink-sub003/internal/event/dispatch"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// TracerName is the instrumentation name used for the default tracer.
const TracerName = "github.com/Alnajaar/nilelink-sub003/internal/event"

// SpanName names the span created for each processed event.
const SpanName = "nilebus.process"

// Publisher is the publishing half of the bus, accepted by components that
// only emit events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus is an in-process publish/subscribe dispatcher.
//
// Published events are queued and drained by a single goroutine, strictly in
// publish order. For each event every enabled matching rule runs first, then
// every enabled subscription for the event's type. A failing rule action or
// handler is reported as a diagnostic event and never stops the loop.
//
// All methods are safe for concurrent use.
type Bus struct {
	mu       sync.Mutex
	pending  *queue
	draining bool
	closed   bool
	idle     chan struct{} // closed when the current drain goroutine exits
	space    chan struct{} // closed whenever a queued event is popped

	registry *Registry
	rules    ruleSet
	history  *History
	executor *dispatch.Executor[Event]

	config busConfig
	logger *logging.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	statsMu   sync.Mutex
	processed uint64
	avgMs     float64
}

// New creates an event bus with the given options.
func New(opts ...Option) *Bus {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.logger == nil {
		config.logger = logging.Nop()
	}
	if config.tracer == nil {
		config.tracer = noop.NewTracerProvider().Tracer(TracerName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pending:  newQueue(),
		space:    make(chan struct{}),
		registry: NewRegistry(),
		history:  NewHistory(config.historyCapacity),
		executor: dispatch.NewExecutor(dispatch.WithTimeout[Event](config.handlerTimeout)),
		config:   config,
		logger:   config.logger.WithComponent("bus"),
		tracer:   config.tracer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Initialize announces the bus. Construction already makes it usable.
func (b *Bus) Initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.logger.WithFields(map[string]any{
		"history":  b.history.Capacity(),
		"queue":    b.config.queueCapacity,
		"overflow": b.config.overflow.String(),
	}).Info("event bus initialized")
	return nil
}

// Publish enriches and enqueues an event, then returns. Handler failures are
// never reported to the publisher.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	e.enrich(b.config.now())
	inDrain := fromDrain(ctx)

	b.mu.Lock()
	for {
		if b.closed && !inDrain {
			b.mu.Unlock()
			return ErrBusClosed
		}
		if b.config.queueCapacity == 0 || b.pending.len() < b.config.queueCapacity {
			break
		}

		switch {
		case b.config.overflow == OverflowDropOldest:
			old, _ := b.pending.pop()
			b.dropped.Add(1)
			b.logger.Warn("queue full, dropped oldest event %s (%s)", old.Metadata.ID, old.Type)
		case b.config.overflow == OverflowBlock && !inDrain:
			wait := b.space
			b.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return ctx.Err()
			}
			b.mu.Lock()
		default:
			b.dropped.Add(1)
			b.mu.Unlock()
			return ErrQueueFull
		}
	}

	b.published.Add(1)
	b.history.Append(e)
	b.pending.push(e)
	if !b.draining {
		b.draining = true
		b.idle = make(chan struct{})
		go b.drain()
	}
	b.mu.Unlock()
	return nil
}

// PublishBatch publishes events in order and stops at the first error.
// Events published before the failure stay published.
func (b *Bus) PublishBatch(ctx context.Context, events []Event) error {
	for i, e := range events {
		if err := b.Publish(ctx, e); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// Subscribe registers a handler for exactly one event type and returns the
// subscription ID.
func (b *Bus) Subscribe(t Type, h Handler, opts ...SubscriptionOption) (string, error) {
	if t == "" {
		return "", fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	if h == nil {
		return "", ErrNilHandler
	}

	id := generateID("sub")
	b.registry.Add(newSubscription(id, t, h, opts...))
	b.logger.Debug("subscribed %s to %s", id, t)
	return id, nil
}

// On is an alias for Subscribe.
func (b *Bus) On(t Type, h Handler, opts ...SubscriptionOption) (string, error) {
	return b.Subscribe(t, h, opts...)
}

// SubscribeFunc registers a plain function as a handler.
func (b *Bus) SubscribeFunc(t Type, fn func(ctx context.Context, e Event) error, opts ...SubscriptionOption) (string, error) {
	if fn == nil {
		return "", ErrNilHandler
	}
	return b.Subscribe(t, HandlerFunc(fn), opts...)
}

// Unsubscribe removes a subscription. It reports whether the ID was known;
// removing an unknown or already removed ID is a no-op.
func (b *Bus) Unsubscribe(id string) bool {
	ok := b.registry.Remove(id)
	if ok {
		b.logger.Debug("unsubscribed %s", id)
	}
	return ok
}

// SetSubscriptionEnabled toggles delivery to a subscription.
func (b *Bus) SetSubscriptionEnabled(id string, enabled bool) bool {
	return b.registry.SetEnabled(id, enabled)
}

// Subscriptions describes the subscriptions for t, or all of them when t is empty.
func (b *Bus) Subscriptions(t Type) []SubscriptionInfo {
	return b.registry.Infos(t)
}

// AddRule registers a rule and returns its generated ID.
func (b *Bus) AddRule(r Rule) (string, error) {
	if r.Condition == nil {
		return "", ErrNilCondition
	}

	id := generateID("rule")
	b.rules.add(newRuleEntry(id, r))
	b.logger.Debug("added rule %q as %s", r.Name, id)
	return id, nil
}

// RemoveRule removes a rule. It reports whether the ID was known.
func (b *Bus) RemoveRule(id string) bool {
	ok := b.rules.remove(id)
	if ok {
		b.logger.Debug("removed rule %s", id)
	}
	return ok
}

// SetRuleEnabled toggles a rule. It reports whether the ID was known.
func (b *Bus) SetRuleEnabled(id string, enabled bool) bool {
	r, ok := b.rules.get(id)
	if !ok {
		return false
	}
	r.enabled.Store(enabled)
	return true
}

// Rules lists the registered rules in evaluation order.
func (b *Bus) Rules() []RuleInfo {
	rules := b.rules.snapshot()
	infos := make([]RuleInfo, len(rules))
	for i, r := range rules {
		infos[i] = r.info()
	}
	return infos
}

// EventHistory returns up to limit of the most recent published events that
// match filter, oldest first. A nil filter matches everything and a
// non-positive limit means DefaultHistoryLimit.
func (b *Bus) EventHistory(filter FilterFunc, limit int) []Event {
	return b.history.Recent(filter, limit)
}

// ClearHistory empties the history. Counters are not reset.
func (b *Bus) ClearHistory() {
	b.history.Clear()
}

// Metrics returns a snapshot of the bus counters.
func (b *Bus) Metrics() Metrics {
	b.statsMu.Lock()
	processed, avg := b.processed, b.avgMs
	b.statsMu.Unlock()

	b.mu.Lock()
	depth := b.pending.len()
	b.mu.Unlock()

	return Metrics{
		Published:         b.published.Load(),
		Processed:         processed,
		Failed:            b.failed.Load(),
		Dropped:           b.dropped.Load(),
		AvgProcessingTime: avg,
		QueueDepth:        depth,
		HistorySize:       b.history.Len(),
		Subscriptions:     b.registry.Count(),
		Rules:             b.rules.count(),
	}
}

// Flush blocks until the queue is empty and no event is being processed, or
// until ctx is done. It must not be called from a handler.
func (b *Bus) Flush(ctx context.Context) error {
	if fromDrain(ctx) {
		return ErrFlushInHandler
	}
	for {
		b.mu.Lock()
		if !b.draining {
			b.mu.Unlock()
			return nil
		}
		idle := b.idle
		b.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting new events and waits for queued ones to be
// processed. If ctx expires first, running handlers see their context
// cancelled and the rest of the queue is dropped.
func (b *Bus) Close(ctx context.Context) error {
	if fromDrain(ctx) {
		return ErrFlushInHandler
	}

	b.mu.Lock()
	if !b.closed {
		b.closed = true
		// wake blocked publishers so they observe closed
		close(b.space)
		b.space = make(chan struct{})
	}
	b.mu.Unlock()

	err := b.Flush(ctx)
	if err != nil {
		b.cancel()
		b.logger.Warn("close: %v", err)
		return err
	}
	b.cancel()
	b.logger.Info("event bus closed")
	return nil
}

// drain processes queued events until the queue is empty.
func (b *Bus) drain() {
	for {
		b.mu.Lock()
		e, ok := b.pending.pop()
		if !ok {
			b.draining = false
			close(b.idle)
			b.mu.Unlock()
			return
		}
		if b.config.overflow == OverflowBlock {
			close(b.space)
			b.space = make(chan struct{})
		}
		b.mu.Unlock()

		if b.ctx.Err() != nil {
			b.dropped.Add(1)
			continue
		}
		b.process(e)
	}
}

// process runs rules then subscriptions for one event.
func (b *Bus) process(e Event) {
	start := time.Now()

	ctx, span := b.tracer.Start(withDrain(b.ctx), SpanName,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.type", string(e.Type)),
			attribute.String("event.id", e.Metadata.ID),
			attribute.String("event.source", e.Metadata.Source),
			attribute.String("event.priority", string(e.Metadata.Priority)),
		),
	)

	failures := b.applyRules(ctx, e) + b.notify(ctx, e)
	if failures > 0 {
		span.SetAttributes(attribute.Int("event.failures", failures))
		span.SetStatus(codes.Error, fmt.Sprintf("%d handler failures", failures))
	}
	span.End()

	b.recordProcessed(time.Since(start))
}

func (b *Bus) applyRules(ctx context.Context, e Event) int {
	failures := 0
	for _, r := range b.rules.snapshot() {
		if !r.isActive() {
			continue
		}

		matched, err := evaluate(r.condition, e)
		if err != nil {
			failures++
			b.reportRuleFailure(ctx, e, r, -1, err)
			continue
		}
		if !matched {
			continue
		}

		for i, res := range b.executor.ExecuteAll(ctx, e, r.actions) {
			if res.IsSuccess() {
				continue
			}
			failures++
			b.reportRuleFailure(ctx, e, r, i, resultError(res))
		}
	}
	return failures
}

func (b *Bus) notify(ctx context.Context, e Event) int {
	failures := 0
	for _, s := range b.registry.Match(e.Type) {
		if !s.isActive() {
			continue
		}

		if s.config.Filter != nil {
			ok, err := evaluate(s.config.Filter, e)
			if err != nil {
				failures++
				b.reportHandlerFailure(ctx, e, s, err)
				continue
			}
			if !ok {
				continue
			}
		}

		if s.config.Once {
			b.registry.Remove(s.id)
		}

		res := b.executor.Execute(ctx, e, s)
		if !res.IsSuccess() {
			failures++
			b.reportHandlerFailure(ctx, e, s, resultError(res))
		}
	}
	return failures
}

func (b *Bus) recordProcessed(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	b.processed++
	b.avgMs += (ms - b.avgMs) / float64(b.processed)
}

// evaluate runs a predicate, turning a panic into an error.
func evaluate(f FilterFunc, e Event) (matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return f(e), nil
}

// resultError converts a failed execution into the error that is reported.
func resultError(res dispatch.Result) error {
	if res.Panicked {
		return &PanicError{Value: res.PanicValue, Stack: string(res.PanicStack)}
	}
	if err := res.Err(); err != nil {
		return err
	}
	return errors.New("handler failed")
}

type drainKey struct{}

// withDrain marks ctx as belonging to the drain goroutine.
func withDrain(ctx context.Context) context.Context {
	return context.WithValue(ctx, drainKey{}, true)
}

// fromDrain reports whether ctx was handed to a handler by the drain loop.
func fromDrain(ctx context.Context) bool {
	v, _ := ctx.Value(drainKey{}).(bool)
	return v
}

// SubscribeToEvents subscribes one handler to several types. On error the
// subscriptions already made are removed.
func SubscribeToEvents(b *Bus, types []Type, h Handler, opts ...SubscriptionOption) ([]string, error) {
	ids := make([]string, 0, len(types))
	for _, t := range types {
		id, err := b.Subscribe(t, h, opts...)
		if err != nil {
			for _, done := range ids {
				b.Unsubscribe(done)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
