package event

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Alnajaar/nilelink-sub003/internal/event/dispatch"
)

// Rule runs a list of actions against every event that satisfies its
// condition, whatever the event's type. Rules are evaluated before
// subscriptions.
type Rule struct {
	// ID is assigned by Bus.AddRule; any value set by the caller is replaced.
	ID string

	Name      string
	Condition FilterFunc
	Actions   []Handler
	Enabled   bool

	// Priority orders rules. Higher values run first; equal priorities run
	// in insertion order.
	Priority int
}

// NewRule returns an enabled rule with priority zero.
func NewRule(name string, condition FilterFunc, actions ...Handler) Rule {
	return Rule{
		Name:      name,
		Condition: condition,
		Actions:   actions,
		Enabled:   true,
	}
}

// RuleInfo is a read-only description of a registered rule.
type RuleInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`
	Actions  int    `json:"actions"`
}

type ruleEntry struct {
	id        string
	name      string
	priority  int
	condition FilterFunc
	actions   []dispatch.Handler[Event]
	enabled   atomic.Bool
	removed   atomic.Bool
}

func newRuleEntry(id string, r Rule) *ruleEntry {
	actions := make([]dispatch.Handler[Event], 0, len(r.Actions))
	for _, a := range r.Actions {
		if a != nil {
			actions = append(actions, a)
		}
	}
	entry := &ruleEntry{
		id:        id,
		name:      r.Name,
		priority:  r.Priority,
		condition: r.Condition,
		actions:   actions,
	}
	entry.enabled.Store(r.Enabled)
	return entry
}

func (r *ruleEntry) isActive() bool {
	return r.enabled.Load() && !r.removed.Load()
}

func (r *ruleEntry) info() RuleInfo {
	return RuleInfo{
		ID:       r.id,
		Name:     r.name,
		Priority: r.priority,
		Enabled:  r.enabled.Load(),
		Actions:  len(r.actions),
	}
}

// ruleSet is a copy-on-write, priority-ordered list of rules.
type ruleSet struct {
	mu    sync.RWMutex
	rules []*ruleEntry
}

func (s *ruleSet) add(entry *ruleEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.rules
	idx := sort.Search(len(old), func(i int) bool {
		return old[i].priority < entry.priority
	})

	rules := make([]*ruleEntry, 0, len(old)+1)
	rules = append(rules, old[:idx]...)
	rules = append(rules, entry)
	rules = append(rules, old[idx:]...)
	s.rules = rules
}

func (s *ruleSet) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.rules {
		if r.id != id {
			continue
		}
		r.removed.Store(true)
		rules := make([]*ruleEntry, 0, len(s.rules)-1)
		rules = append(rules, s.rules[:i]...)
		rules = append(rules, s.rules[i+1:]...)
		s.rules = rules
		return true
	}
	return false
}

func (s *ruleSet) get(id string) (*ruleEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.rules {
		if r.id == id {
			return r, true
		}
	}
	return nil, false
}

// snapshot returns the current ordered list. It must not be modified.
func (s *ruleSet) snapshot() []*ruleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.rules
}

func (s *ruleSet) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.rules)
}
