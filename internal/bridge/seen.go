package bridge

import "github.com/google/uuid"

// idSet remembers the last n IDs added, evicting the oldest.
type idSet struct {
	ring  []string
	next  int
	index map[string]struct{}
}

func newIDSet(n int) *idSet {
	return &idSet{
		ring:  make([]string, n),
		index: make(map[string]struct{}, n),
	}
}

func (s *idSet) add(id string) {
	if _, ok := s.index[id]; ok {
		return
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.index, old)
	}
	s.ring[s.next] = id
	s.index[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
}

func (s *idSet) has(id string) bool {
	_, ok := s.index[id]
	return ok
}

func newInboundID() string {
	return "evt_" + uuid.NewString()
}
