package event

import (
	"strings"
	"time"
)

// Common filter predicates for subscriptions, rules and history queries.

// BySource allows events from the specified source.
func BySource(source string) FilterFunc {
	return func(e Event) bool {
		return e.Metadata.Source == source
	}
}

// BySourcePrefix allows events whose source starts with prefix.
func BySourcePrefix(prefix string) FilterFunc {
	return func(e Event) bool {
		return e.Metadata.Source != "" && strings.HasPrefix(e.Metadata.Source, prefix)
	}
}

// ExcludeSource rejects events from the specified source.
func ExcludeSource(source string) FilterFunc {
	return func(e Event) bool {
		return e.Metadata.Source != source
	}
}

// ByPriority allows events with any of the given priorities.
func ByPriority(priorities ...Priority) FilterFunc {
	set := make(map[Priority]bool, len(priorities))
	for _, p := range priorities {
		set[p] = true
	}
	return func(e Event) bool {
		return set[e.Metadata.Priority]
	}
}

// ByMinPriority allows events at or above the given priority.
func ByMinPriority(p Priority) FilterFunc {
	rank := p.Rank()
	return func(e Event) bool {
		return e.Metadata.Priority.Rank() >= rank
	}
}

// ByScope allows events with any of the given scopes.
func ByScope(scopes ...Scope) FilterFunc {
	set := make(map[Scope]bool, len(scopes))
	for _, s := range scopes {
		set[s] = true
	}
	return func(e Event) bool {
		return set[e.Metadata.Scope]
	}
}

// ByBranch allows events for the given branch.
func ByBranch(branchID string) FilterFunc {
	return func(e Event) bool {
		return e.Metadata.BranchID == branchID
	}
}

// ByBusiness allows events for the given business.
func ByBusiness(businessID string) FilterFunc {
	return func(e Event) bool {
		return e.Metadata.BusinessID == businessID
	}
}

// ByUser allows events for the given user.
func ByUser(userID string) FilterFunc {
	return func(e Event) bool {
		return e.Metadata.UserID == userID
	}
}

// BySession allows events for the given session.
func BySession(sessionID string) FilterFunc {
	return func(e Event) bool {
		return e.Metadata.SessionID == sessionID
	}
}

// ByCorrelation allows events with the given correlation ID.
func ByCorrelation(correlationID string) FilterFunc {
	return func(e Event) bool {
		return e.Metadata.CorrelationID == correlationID
	}
}

// ByType allows events of any of the given types.
func ByType(types ...Type) FilterFunc {
	set := make(map[Type]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(e Event) bool {
		return set[e.Type]
	}
}

// ByTypePrefix allows events whose type starts with prefix (e.g., "ORDER_").
func ByTypePrefix(prefix string) FilterFunc {
	return func(e Event) bool {
		return strings.HasPrefix(string(e.Type), prefix)
	}
}

// NewerThan allows events stamped strictly after t.
func NewerThan(t time.Time) FilterFunc {
	ms := t.UnixMilli()
	return func(e Event) bool {
		return e.Metadata.Timestamp > ms
	}
}

// OlderThan allows events stamped strictly before t.
func OlderThan(t time.Time) FilterFunc {
	ms := t.UnixMilli()
	return func(e Event) bool {
		return e.Metadata.Timestamp < ms
	}
}

// FilterPayload allows events whose payload is a T satisfying predicate.
func FilterPayload[T any](predicate func(payload T) bool) FilterFunc {
	return func(e Event) bool {
		p, ok := e.Payload.(T)
		return ok && predicate(p)
	}
}

// Combine allows events that pass every filter. Nil filters are ignored.
func Combine(filters ...FilterFunc) FilterFunc {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}

// Or allows events that pass at least one filter. Nil filters are ignored.
func Or(filters ...FilterFunc) FilterFunc {
	return func(e Event) bool {
		for _, f := range filters {
			if f != nil && f(e) {
				return true
			}
		}
		return false
	}
}

// Not inverts a filter.
func Not(filter FilterFunc) FilterFunc {
	return func(e Event) bool {
		return !filter(e)
	}
}

// All allows every event.
func All() FilterFunc {
	return func(Event) bool { return true }
}

// None rejects every event.
func None() FilterFunc {
	return func(Event) bool { return false }
}
