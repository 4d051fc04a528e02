package event

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/trace"
)

// Diagnostic event types published by the bus itself.
const (
	// TypeHandlerError reports a failed subscription handler or filter.
	TypeHandlerError Type = "EVENT_HANDLER_ERROR"

	// TypeProcessingError reports a failed rule condition or action.
	TypeProcessingError Type = "EVENT_PROCESSING_ERROR"
)

// DiagnosticSource is the Metadata.Source of events published by the bus.
const DiagnosticSource = "event-bus"

// IsDiagnostic reports whether t is one of the bus's own failure events.
func IsDiagnostic(t Type) bool {
	return t == TypeHandlerError || t == TypeProcessingError
}

// ErrorPayload is the payload of a diagnostic event.
type ErrorPayload struct {
	OriginalEvent Event  `json:"originalEvent"`
	Error         string `json:"error"`

	// Stack is the panicking goroutine's stack for a panic, otherwise the
	// stack at which the bus recorded the returned error.
	Stack string `json:"stack,omitempty"`

	SubscriptionID string `json:"subscriptionId,omitempty"`
	RuleID         string `json:"ruleId,omitempty"`
	RuleName       string `json:"ruleName,omitempty"`

	// Action is the failing action index; -1 for a failing condition.
	Action *int `json:"action,omitempty"`
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: string(debug.Stack())}
}

func (b *Bus) reportHandlerFailure(ctx context.Context, e Event, s *subscription, err error) {
	b.logger.WithFields(map[string]any{
		"event":        e.Type,
		"eventId":      e.Metadata.ID,
		"subscription": s.id,
	}).Warn("%v", &HandlerError{SubscriptionID: s.id, EventType: e.Type, Err: err})

	b.report(ctx, TypeHandlerError, e, err, ErrorPayload{SubscriptionID: s.id})
}

func (b *Bus) reportRuleFailure(ctx context.Context, e Event, r *ruleEntry, action int, err error) {
	b.logger.WithFields(map[string]any{
		"event":   e.Type,
		"eventId": e.Metadata.ID,
		"rule":    r.id,
	}).Warn("%v", &RuleError{RuleID: r.id, RuleName: r.name, Action: action, Err: err})

	b.report(ctx, TypeProcessingError, e, err, ErrorPayload{
		RuleID:   r.id,
		RuleName: r.name,
		Action:   &action,
	})
}

// report counts a failure and, unless the loop guard suppresses it,
// publishes the diagnostic event.
func (b *Bus) report(ctx context.Context, diag Type, e Event, err error, p ErrorPayload) {
	b.failed.Add(1)
	trace.SpanFromContext(ctx).RecordError(err)

	if b.config.loopGuard && IsDiagnostic(e.Type) {
		b.logger.Error("failure while handling %s %s not re-reported: %v", e.Type, e.Metadata.ID, err)
		return
	}

	p.OriginalEvent = e
	p.Error = err.Error()
	var pe *PanicError
	if errors.As(err, &pe) {
		p.Stack = pe.Stack
	} else {
		p.Stack = string(debug.Stack())
	}

	diagEvent := Event{
		Type:    diag,
		Payload: p,
		Metadata: Metadata{
			Source:        DiagnosticSource,
			Priority:      PriorityHigh,
			CorrelationID: e.Metadata.CorrelationID,
			SessionID:     e.Metadata.SessionID,
			BranchID:      e.Metadata.BranchID,
			BusinessID:    e.Metadata.BusinessID,
		},
	}
	if perr := b.Publish(ctx, diagEvent); perr != nil {
		b.logger.Error("%s", fmt.Errorf("publish %s: %w", diag, perr))
	}
}
