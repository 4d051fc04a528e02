package event

import "sync"

// DefaultHistoryCapacity is the number of events retained when no capacity
// is configured.
const DefaultHistoryCapacity = 1000

// DefaultHistoryLimit is the number of events EventHistory returns for a
// non-positive limit.
const DefaultHistoryLimit = 100

// History is a fixed-capacity ring of the most recently published events.
// When full, appending evicts the oldest entry.
type History struct {
	mu    sync.RWMutex
	buf   []Event
	start int
	size  int
}

// NewHistory creates a history holding up to capacity events.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]Event, capacity)}
}

// Append records an event.
func (h *History) Append(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := (h.start + h.size) % len(h.buf)
	h.buf[idx] = e
	if h.size < len(h.buf) {
		h.size++
		return
	}
	h.start = (h.start + 1) % len(h.buf)
}

// Recent returns up to limit of the most recent events matching filter, in
// chronological order. A nil filter matches everything; a non-positive limit
// means DefaultHistoryLimit.
func (h *History) Recent(filter FilterFunc, limit int) []Event {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	// walk backwards so the limit keeps the newest matches
	picked := make([]Event, 0, min(limit, h.size))
	for i := h.size - 1; i >= 0 && len(picked) < limit; i-- {
		e := h.buf[(h.start+i)%len(h.buf)]
		if filter == nil || filter(e) {
			picked = append(picked, e)
		}
	}

	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.size
}

// Capacity returns the maximum number of retained events.
func (h *History) Capacity() int {
	return len(h.buf)
}

// Clear drops every retained event.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buf)
	h.start = 0
	h.size = 0
}
