package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
)

type recordingOut struct {
	mu   sync.Mutex
	msgs []*nats.Msg
	err  error
}

func (r *recordingOut) PublishMsg(m *nats.Msg) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *recordingOut) sent() []*nats.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*nats.Msg(nil), r.msgs...)
}

type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordingBus) Publish(_ context.Context, e event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestSubject(t *testing.T) {
	b := newBridge(Config{SubjectPrefix: "nilelink.events."}, &recordingBus{}, &recordingOut{}, nil)
	assert.Equal(t, "nilelink.events.ORDER_CREATED", b.Subject("ORDER_CREATED"))
	assert.Equal(t, "nilelink.events.BAD_TYPE_x_", b.Subject("BAD TYPE*x>"))

	bare := newBridge(Config{}, &recordingBus{}, &recordingOut{}, nil)
	assert.Equal(t, "ORDER_CREATED", bare.Subject("ORDER_CREATED"))
}

func TestForwardSetsOriginHeader(t *testing.T) {
	out := &recordingOut{}
	b := newBridge(Config{SubjectPrefix: "nilelink.events", Origin: "cairo"}, &recordingBus{}, out, nil)

	e := event.NewEvent("ORDER_CREATED", map[string]any{"orderId": "o-1"}, event.Metadata{Source: "pos"})
	require.NoError(t, b.Forward(context.Background(), e))

	sent := out.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "nilelink.events.ORDER_CREATED", sent[0].Subject)
	assert.Equal(t, "cairo", sent[0].Header.Get(OriginHeader))

	var got event.Event
	require.NoError(t, json.Unmarshal(sent[0].Data, &got))
	assert.Equal(t, e.Metadata.ID, got.Metadata.ID)
	assert.Equal(t, map[string]any{"orderId": "o-1"}, got.Payload)
}

func TestForwardErrors(t *testing.T) {
	out := &recordingOut{err: errors.New("no responders")}
	b := newBridge(Config{}, &recordingBus{}, out, nil)

	err := b.Forward(context.Background(), event.NewEvent("X", nil, event.Metadata{}))
	assert.ErrorContains(t, err, "no responders")

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Forward(context.Background(), event.NewEvent("X", nil, event.Metadata{})), ErrClosed)
}

func TestReceive(t *testing.T) {
	bus := &recordingBus{}
	out := &recordingOut{}
	b := newBridge(Config{SubjectPrefix: "nilelink.events", Origin: "cairo"}, bus, out, nil)

	own := nats.NewMsg("nilelink.events.ORDER_CREATED")
	own.Header.Set(OriginHeader, "cairo")
	own.Data = []byte(`{"orderId":"o-1"}`)
	b.receive(own)

	foreign := nats.NewMsg("nilelink.events.ORDER_CREATED")
	foreign.Header.Set(OriginHeader, "alex")
	foreign.Data = []byte(`{"orderId":"o-2"}`)
	b.receive(foreign)

	b.receive(&nats.Msg{Subject: "nilelink.events.ORDER_CREATED", Data: []byte("{not json")})

	require.Len(t, bus.events, 1)
	got := bus.events[0]
	assert.Equal(t, event.Type("ORDER_CREATED"), got.Type)
	assert.Equal(t, DefaultSource, got.Metadata.Source)
	assert.Contains(t, got.Metadata.ID, "evt_")
	assert.Equal(t, map[string]any{"orderId": "o-2"}, got.Payload)

	// the bus would hand the inbound event back to the forward rule
	require.NoError(t, b.Forward(context.Background(), got))
	assert.Empty(t, out.sent())
}

func TestDecode(t *testing.T) {
	full := []byte(`{"type":"PAYMENT_FAILED","payload":{"amount":12},"metadata":{"id":"evt_1","source":"pay","priority":"HIGH"}}`)
	e, err := Decode("anything", full)
	require.NoError(t, err)
	assert.Equal(t, event.Type("PAYMENT_FAILED"), e.Type)
	assert.Equal(t, "evt_1", e.Metadata.ID)
	assert.Equal(t, event.PriorityHigh, e.Metadata.Priority)

	e, err = Decode("nilelink.events.SYNC_REQUESTED", []byte(`[1,2]`))
	require.NoError(t, err)
	assert.Equal(t, event.Type("SYNC_REQUESTED"), e.Type)
	assert.Equal(t, []any{float64(1), float64(2)}, e.Payload)

	e, err = Decode("PING", nil)
	require.NoError(t, err)
	assert.Equal(t, event.Type("PING"), e.Type)
	assert.Nil(t, e.Payload)

	_, err = Decode("a.", []byte(`{}`))
	assert.Error(t, err)
	_, err = Decode("a.b", []byte(`nope`))
	assert.Error(t, err)
}

func TestSeenEvictsOldest(t *testing.T) {
	s := newIDSet(2)
	s.add("a")
	s.add("b")
	s.add("a")
	assert.True(t, s.has("a"))
	s.add("c")
	assert.False(t, s.has("a"))
	assert.True(t, s.has("b"))
	assert.True(t, s.has("c"))
}

// TestBridgeAgainstNATS needs a scratch server; set NILEBUS_TEST_NATS_URL.
func TestBridgeAgainstNATS(t *testing.T) {
	url := os.Getenv("NILEBUS_TEST_NATS_URL")
	if url == "" {
		t.Skip("NILEBUS_TEST_NATS_URL not set")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("nilebus.test.t%d", time.Now().UnixNano())

	busA := event.New()
	defer busA.Close(ctx)
	busB := event.New()
	defer busB.Close(ctx)

	a, err := Connect(Config{URL: url, SubjectPrefix: prefix, Origin: "a", Subscribe: []string{prefix + ".>"}}, busA, nil)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Attach(busA)
	require.NoError(t, err)

	b, err := Connect(Config{URL: url, SubjectPrefix: prefix, Origin: "b", Subscribe: []string{prefix + ".>"}}, busB, nil)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, busA.Publish(ctx, event.NewEvent("ORDER_CREATED", map[string]any{"n": 1}, event.Metadata{})))

	require.Eventually(t, func() bool {
		return len(busB.EventHistory(event.ByType("ORDER_CREATED"), 0)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	got := busB.EventHistory(event.ByType("ORDER_CREATED"), 0)[0]
	assert.Equal(t, map[string]any{"n": float64(1)}, got.Payload)

	// a ignores its own forwarded message
	require.NoError(t, busA.Flush(ctx))
	assert.Len(t, busA.EventHistory(event.ByType("ORDER_CREATED"), 0), 1)
}
