package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
)

type capture struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (c *capture) Publish(_ context.Context, e event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, e)
	return nil
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestParseSpec(t *testing.T) {
	for _, spec := range []string{"0 2 * * *", "*/10 * * * * *", "@daily", "@every 30s"} {
		_, err := ParseSpec(spec)
		assert.NoError(t, err, spec)
	}
	for _, spec := range []string{"", "61 * * * *", "@fortnightly", "* * *"} {
		_, err := ParseSpec(spec)
		assert.Error(t, err, spec)
	}
}

func TestAddValidates(t *testing.T) {
	s := New(&capture{})

	assert.ErrorIs(t, s.Add(Job{Spec: "@daily", Type: "SYNC_REQUESTED"}), ErrInvalidJob)
	assert.ErrorIs(t, s.Add(Job{Name: "sync", Spec: "@daily"}), ErrInvalidJob)
	assert.ErrorIs(t, s.Add(Job{Name: "sync", Spec: "@daily", Type: "SYNC_REQUESTED", Priority: "URGENT"}), ErrInvalidJob)
	assert.Error(t, s.Add(Job{Name: "sync", Spec: "never", Type: "SYNC_REQUESTED"}))

	require.NoError(t, s.Add(Job{Name: "sync", Spec: "@daily", Type: "SYNC_REQUESTED"}))
	assert.ErrorIs(t, s.Add(Job{Name: "sync", Spec: "@hourly", Type: "SYNC_REQUESTED"}), ErrDuplicateJob)
}

func TestFirePublishesConfiguredEvent(t *testing.T) {
	bus := &capture{}
	s := New(bus)
	payload := map[string]any{"full": true}
	require.NoError(t, s.Add(Job{
		Name:     "nightly-sync",
		Spec:     "0 2 * * *",
		Type:     "SYNC_REQUESTED",
		Priority: event.PriorityHigh,
		Payload:  payload,
	}))

	require.NoError(t, s.Fire(context.Background(), "nightly-sync"))
	require.Len(t, bus.events, 1)
	got := bus.events[0]
	assert.Equal(t, event.Type("SYNC_REQUESTED"), got.Type)
	assert.Equal(t, DefaultSource, got.Metadata.Source)
	assert.Equal(t, event.PriorityHigh, got.Metadata.Priority)
	assert.Equal(t, payload, got.Payload)

	// each run gets its own payload map
	got.Payload.(map[string]any)["full"] = false
	assert.Equal(t, true, payload["full"])

	assert.ErrorIs(t, s.Fire(context.Background(), "missing"), ErrUnknownJob)

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, jobs[0].Runs)
	assert.False(t, jobs[0].LastRun.IsZero())
	assert.Empty(t, jobs[0].LastErr)
}

func TestFireRecordsPublishError(t *testing.T) {
	bus := &capture{err: errors.New("bus is closed")}
	s := New(bus)
	require.NoError(t, s.Add(Job{Name: "j", Spec: "@hourly", Type: "X", Source: "ops"}))

	assert.ErrorContains(t, s.Fire(context.Background(), "j"), "bus is closed")
	assert.Equal(t, "bus is closed", s.Jobs()[0].LastErr)
}

func TestRemove(t *testing.T) {
	s := New(&capture{})
	require.NoError(t, s.Add(Job{Name: "a", Spec: "@hourly", Type: "X"}))
	require.NoError(t, s.Add(Job{Name: "b", Spec: "@hourly", Type: "X"}))

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].Name)
}

func TestStartRunsOnSchedule(t *testing.T) {
	bus := &capture{}
	s := New(bus)
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1s", Type: "HEARTBEAT"}))

	s.Start()
	s.Start()
	require.Eventually(t, func() bool { return bus.count() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, s.Jobs()[0].NextRun.IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestRealBus(t *testing.T) {
	ctx := context.Background()
	bus := event.New()
	defer bus.Close(ctx)

	s := New(bus)
	require.NoError(t, s.Add(Job{Name: "nightly-sync", Spec: "@midnight", Type: "SYNC_REQUESTED"}))
	require.NoError(t, s.Fire(ctx, "nightly-sync"))
	require.NoError(t, bus.Flush(ctx))

	history := bus.EventHistory(event.BySource(DefaultSource), 0)
	require.Len(t, history, 1)
	assert.Equal(t, event.PriorityNormal, history[0].Metadata.Priority)
}
