package event

import (
	"sort"
	"sync"
)

// Registry manages subscriptions organized by event type.
// It is thread-safe for concurrent access.
//
// Slices stored per type are never modified in place, so a slice returned by
// Match stays valid while handlers subscribe and unsubscribe.
type Registry struct {
	mu   sync.RWMutex
	subs map[Type][]*subscription
	byID map[string]*subscription
}

// NewRegistry creates a new subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		subs: make(map[Type][]*subscription),
		byID: make(map[string]*subscription),
	}
}

// Add adds a subscription. It is placed after every existing subscription
// with an equal or higher priority.
func (r *Registry) Add(sub *subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.subs[sub.eventType]
	idx := sort.Search(len(old), func(i int) bool {
		return old[i].Priority() < sub.Priority()
	})

	subs := make([]*subscription, 0, len(old)+1)
	subs = append(subs, old[:idx]...)
	subs = append(subs, sub)
	subs = append(subs, old[idx:]...)

	r.subs[sub.eventType] = subs
	r.byID[sub.id] = sub
}

// Remove removes a subscription by ID. It reports whether the subscription
// existed.
func (r *Registry) Remove(subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, exists := r.byID[subID]
	if !exists {
		return false
	}
	sub.removed.Store(true)
	delete(r.byID, subID)

	old := r.subs[sub.eventType]
	if len(old) <= 1 {
		delete(r.subs, sub.eventType)
		return true
	}

	subs := make([]*subscription, 0, len(old)-1)
	for _, s := range old {
		if s.id != subID {
			subs = append(subs, s)
		}
	}
	r.subs[sub.eventType] = subs
	return true
}

// Get returns a subscription by ID.
func (r *Registry) Get(subID string) (*subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byID[subID]
	return sub, ok
}

// Match returns the subscriptions for an event type in dispatch order.
// The returned slice must not be modified.
func (r *Registry) Match(t Type) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.subs[t]
}

// SetEnabled toggles a subscription. It reports whether the subscription exists.
func (r *Registry) SetEnabled(subID string, enabled bool) bool {
	sub, ok := r.Get(subID)
	if !ok {
		return false
	}
	sub.enabled.Store(enabled)
	return true
}

// Count returns the total number of subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// CountByType returns the number of subscriptions for a type.
func (r *Registry) CountByType(t Type) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subs[t])
}

// Types returns every event type with at least one subscription, sorted.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]Type, 0, len(r.subs))
	for t := range r.subs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Infos describes the subscriptions for t, or every subscription when t is
// empty, in dispatch order per type.
func (r *Registry) Infos(t Type) []SubscriptionInfo {
	var types []Type
	if t != "" {
		types = []Type{t}
	} else {
		types = r.Types()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var infos []SubscriptionInfo
	for _, typ := range types {
		for _, s := range r.subs[typ] {
			infos = append(infos, s.info())
		}
	}
	return infos
}

// Clear removes all subscriptions.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.byID {
		s.removed.Store(true)
	}
	r.subs = make(map[Type][]*subscription)
	r.byID = make(map[string]*subscription)
}
