package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies the category of an event (e.g., "ORDER_CREATED").
// The namespace is open: any non-empty string is a valid type. The
// conventional vocabulary lives in the events subpackage.
type Type string

// String returns the type as a plain string.
func (t Type) String() string {
	return string(t)
}

// Priority classifies the urgency of an event. It is advisory metadata and
// does not change queue order, which is always FIFO.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Rank orders priorities from LOW (0) to CRITICAL (3).
// Unknown priorities rank -1.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	return p.Rank() >= 0
}

// ParsePriority parses a priority name, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidEvent, s)
	}
	return p, nil
}

// Scope describes how far an event is meant to travel. Routing ignores it.
type Scope string

const (
	ScopeLocal    Scope = "LOCAL"
	ScopeSession  Scope = "SESSION"
	ScopeBranch   Scope = "BRANCH"
	ScopeBusiness Scope = "BUSINESS"
	ScopeGlobal   Scope = "GLOBAL"
)

// Valid reports whether s is one of the defined scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeLocal, ScopeSession, ScopeBranch, ScopeBusiness, ScopeGlobal:
		return true
	}
	return false
}

// ParseScope parses a scope name, case-insensitively.
func ParseScope(s string) (Scope, error) {
	sc := Scope(strings.ToUpper(strings.TrimSpace(s)))
	if !sc.Valid() {
		return "", fmt.Errorf("%w: unknown scope %q", ErrInvalidEvent, s)
	}
	return sc, nil
}

// Metadata is the envelope attached to every event.
//
// TTL, RetryCount, Persistent and Encrypted are carried through the bus
// untouched; dispatch does not act on them.
type Metadata struct {
	// ID is unique per event. Generated at publish time when empty.
	ID string `json:"id"`

	// Timestamp is milliseconds since the Unix epoch. Defaulted at publish time.
	Timestamp int64 `json:"timestamp"`

	// Source is a free-text description of the publisher.
	Source string `json:"source,omitempty"`

	// Target optionally names the intended consumer.
	Target string `json:"target,omitempty"`

	Priority Priority `json:"priority"`
	Scope    Scope    `json:"scope"`

	BranchID      string `json:"branchId,omitempty"`
	BusinessID    string `json:"businessId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`

	// TTL is a lifetime in milliseconds.
	TTL        int64 `json:"ttl,omitempty"`
	RetryCount int   `json:"retryCount,omitempty"`
	Persistent bool  `json:"persistent,omitempty"`
	Encrypted  bool  `json:"encrypted,omitempty"`
}

// Event is the unit of communication on the bus.
type Event struct {
	Type     Type     `json:"type"`
	Payload  any      `json:"payload,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// NewEvent creates a well-formed event: missing ID, timestamp, priority and
// scope are filled with their defaults.
func NewEvent(eventType Type, payload any, meta Metadata) Event {
	e := Event{
		Type:     eventType,
		Payload:  payload,
		Metadata: meta,
	}
	e.enrich(time.Now())
	return e
}

// enrich fills the metadata defaults in place.
func (e *Event) enrich(now time.Time) {
	if e.Metadata.ID == "" {
		e.Metadata.ID = generateID("evt")
	}
	if e.Metadata.Timestamp == 0 {
		e.Metadata.Timestamp = now.UnixMilli()
	}
	if e.Metadata.Priority == "" {
		e.Metadata.Priority = PriorityNormal
	}
	if e.Metadata.Scope == "" {
		e.Metadata.Scope = ScopeLocal
	}
}

// Time returns the event timestamp as a time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Metadata.Timestamp)
}

// WithCorrelation returns a copy of the event with a correlation ID set.
func (e Event) WithCorrelation(correlationID string) Event {
	e.Metadata.CorrelationID = correlationID
	return e
}

// WithSource returns a copy of the event with a different source.
func (e Event) WithSource(source string) Event {
	e.Metadata.Source = source
	return e
}

// WithPriority returns a copy of the event with a different priority.
func (e Event) WithPriority(p Priority) Event {
	e.Metadata.Priority = p
	return e
}

// generateID returns a unique identifier such as "evt_6f1c...".
func generateID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
