// Package event provides the NileLink event bus.
//
// The bus decouples the parts of the platform that react to user actions
// (notifications, audit logs, hardware, sync) from the code that performs
// those actions. Publishers hand an Event to the bus and return immediately;
// the bus delivers it later on its own goroutine.
//
// # Architecture
//
//	Publish ──► enrich ──► history ring ──► FIFO queue
//	                                          │
//	                                   drain goroutine
//	                                          │
//	                    ┌─────────────────────┴─────────────────────┐
//	                    ▼                                           ▼
//	          rules (any type, by priority)       subscriptions (one type, by priority)
//	                    │                                           │
//	                    └──── failures ──► EVENT_PROCESSING_ERROR / EVENT_HANDLER_ERROR
//
// # Events
//
// An event has a Type, an opaque Payload and Metadata. Publish fills in a
// missing ID ("evt_" + UUID), Timestamp (milliseconds), Priority (NORMAL)
// and Scope (LOCAL). Types are open strings; the conventional vocabulary is
// in the events subpackage.
//
// # Ordering
//
// Events are processed one at a time in publish order. For each event every
// enabled rule whose condition matches runs first, then every enabled
// subscription for the event's type. Within each group higher priorities run
// first and equal priorities keep registration order. Events published by a
// handler are queued behind the current one.
//
// # Failures
//
// A handler or rule action that returns an error or panics is isolated: the
// bus counts it, logs it and publishes a diagnostic event carrying the
// original event and the error. Failures while handling a diagnostic event
// are only logged unless the loop guard is disabled.
//
// # Usage
//
//	bus := event.New(event.WithLogger(logger))
//	id, _ := bus.Subscribe("ORDER_CREATED", event.HandlerFunc(
//	    func(ctx context.Context, e event.Event) error {
//	        return notify(ctx, e.Payload)
//	    }),
//	    event.WithPriority(10),
//	)
//	defer bus.Unsubscribe(id)
//
//	_ = bus.Publish(ctx, event.Event{Type: "ORDER_CREATED", Payload: order})
package event
