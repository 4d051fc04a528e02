package script

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func sampleEvent() event.Event {
	return event.Event{
		Type: "ORDER_CREATED",
		Payload: map[string]any{
			"orderId": "o-1",
			"amount":  250,
			"items":   []any{"tea", "bread"},
		},
		Metadata: event.Metadata{
			ID:         "evt_1",
			Timestamp:  1700000000000,
			Source:     "pos",
			Priority:   event.PriorityHigh,
			Scope:      event.ScopeBranch,
			BranchID:   "cairo-1",
			BusinessID: "biz-9",
		},
	}
}

func TestStateSandbox(t *testing.T) {
	s := NewState()
	defer s.Close()

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "io", "os", "debug"} {
		if v := s.GetGlobal(name); v != lua.LNil {
			t.Errorf("global %s = %v, want nil", name, v)
		}
	}
	for _, name := range []string{"string", "table", "math", "pairs", "tostring"} {
		if v := s.GetGlobal(name); v == lua.LNil {
			t.Errorf("global %s missing", name)
		}
	}
}

func TestStateDoString(t *testing.T) {
	s := NewState()
	defer s.Close()

	v, err := s.DoString(context.Background(), `return string.upper("cairo") .. math.floor(2.7)`)
	if err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if got := v.String(); got != "CAIRO2" {
		t.Errorf("DoString() = %q, want CAIRO2", got)
	}
}

func TestStateErrors(t *testing.T) {
	s := NewState(WithTimeout(50 * time.Millisecond))
	defer s.Close()

	ctx := context.Background()
	if _, err := s.DoString(ctx, `this is not lua`); !errors.Is(err, ErrCompile) {
		t.Errorf("syntax error = %v, want ErrCompile", err)
	}
	if _, err := s.DoString(ctx, `error("nope")`); !errors.Is(err, ErrRuntime) {
		t.Errorf("runtime error = %v, want ErrRuntime", err)
	}
	if _, err := s.DoString(ctx, `while true do end`); !errors.Is(err, ErrTimeout) {
		t.Errorf("infinite loop = %v, want ErrTimeout", err)
	}

	// The state stays usable after a timeout.
	v, err := s.DoString(ctx, `return 1 + 1`)
	if err != nil {
		t.Fatalf("DoString() after timeout error = %v", err)
	}
	if v != lua.LNumber(2) {
		t.Errorf("DoString() = %v, want 2", v)
	}

	s.Close()
	if _, err := s.DoString(ctx, `return 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("closed state error = %v, want ErrStateClosed", err)
	}
}

func TestValueConversion(t *testing.T) {
	s := NewState()
	defer s.Close()

	in := map[string]any{
		"name":   "koshari",
		"price":  42,
		"ratio":  0.5,
		"tags":   []any{"hot", "vegan"},
		"active": true,
		"nested": map[string]any{"k": "v"},
	}
	lv := ToLuaValue(s.L, in)
	out, ok := ToGoValue(lv).(map[string]any)
	if !ok {
		t.Fatalf("ToGoValue() = %T, want map", ToGoValue(lv))
	}

	if out["name"] != "koshari" {
		t.Errorf("name = %v", out["name"])
	}
	if out["price"] != int64(42) {
		t.Errorf("price = %#v, want int64(42)", out["price"])
	}
	if out["ratio"] != 0.5 {
		t.Errorf("ratio = %v", out["ratio"])
	}
	if out["active"] != true {
		t.Errorf("active = %v", out["active"])
	}
	tags, ok := out["tags"].([]any)
	if !ok || len(tags) != 2 || tags[1] != "vegan" {
		t.Errorf("tags = %#v", out["tags"])
	}
	nested, ok := out["nested"].(map[string]any)
	if !ok || nested["k"] != "v" {
		t.Errorf("nested = %#v", out["nested"])
	}
}

func TestValueConversionStruct(t *testing.T) {
	s := NewState()
	defer s.Close()

	type line struct {
		SKU string `json:"sku"`
		Qty int    `json:"qty"`
	}
	lv := ToLuaValue(s.L, line{SKU: "A1", Qty: 3})
	out, ok := ToGoValue(lv).(map[string]any)
	if !ok {
		t.Fatalf("ToGoValue() = %T, want map", ToGoValue(lv))
	}
	if out["sku"] != "A1" || out["qty"] != int64(3) {
		t.Errorf("struct roundtrip = %#v", out)
	}
}

func TestCondition(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"payload number", `event.payload.amount > 100`, true},
		{"payload number false", `event.payload.amount > 1000`, false},
		{"metadata", `event.metadata.branchId == "cairo-1" and event.metadata.priority == "HIGH"`, true},
		{"type", `event.type == "ORDER_CREATED"`, true},
		{"sequence", `#event.payload.items == 2`, true},
		{"explicit return", `return event.metadata.source == "pos"`, true},
		{"missing field is nil", `event.metadata.userId`, false},
		{"string library", `string.sub(event.metadata.id, 1, 4) == "evt_"`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CompileCondition(tt.expr)
			if err != nil {
				t.Fatalf("CompileCondition() error = %v", err)
			}
			defer c.Close()

			got, err := c.Match(context.Background(), sampleEvent())
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConditionErrors(t *testing.T) {
	if _, err := CompileCondition("   "); !errors.Is(err, ErrCompile) {
		t.Errorf("empty condition error = %v, want ErrCompile", err)
	}
	if _, err := CompileCondition("event.payload.amount >"); !errors.Is(err, ErrCompile) {
		t.Errorf("bad condition error = %v, want ErrCompile", err)
	}

	c, err := CompileCondition(`event.payload.orderId`, WithName("not-bool"))
	if err != nil {
		t.Fatalf("CompileCondition() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Match(context.Background(), sampleEvent()); !errors.Is(err, ErrNotBoolean) {
		t.Errorf("Match() error = %v, want ErrNotBoolean", err)
	}
	if c.Filter()(sampleEvent()) {
		t.Error("Filter() = true for a failing condition")
	}
}

func TestConditionTimeout(t *testing.T) {
	c, err := CompileCondition(`(function() while true do end end)()`, WithDeadline(30*time.Millisecond))
	if err != nil {
		t.Fatalf("CompileCondition() error = %v", err)
	}
	defer c.Close()

	if _, err := c.Match(context.Background(), sampleEvent()); !errors.Is(err, ErrTimeout) {
		t.Errorf("Match() error = %v, want ErrTimeout", err)
	}
}

func TestActionPublish(t *testing.T) {
	pub := &capturePublisher{}
	a, err := CompileAction(`
		if event.payload.amount > 100 then
			bus.publish("LARGE_ORDER", {orderId = event.payload.orderId, amount = event.payload.amount})
		end
		bus.publish("AUDIT", "seen", {source = "auditor", priority = "low", correlationId = "c-7"})
		bus.log("processed " .. event.payload.orderId)
	`, pub, WithName("large-order"))
	if err != nil {
		t.Fatalf("CompileAction() error = %v", err)
	}
	defer a.Close()

	if err := a.Handle(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}

	large := pub.events[0]
	if large.Type != "LARGE_ORDER" {
		t.Errorf("first type = %s", large.Type)
	}
	payload, ok := large.Payload.(map[string]any)
	if !ok || payload["orderId"] != "o-1" || payload["amount"] != int64(250) {
		t.Errorf("payload = %#v", large.Payload)
	}
	if large.Metadata.Source != DefaultActionSource {
		t.Errorf("source = %q, want %q", large.Metadata.Source, DefaultActionSource)
	}
	if large.Metadata.CorrelationID != "evt_1" {
		t.Errorf("correlationId = %q, want trigger ID", large.Metadata.CorrelationID)
	}
	if large.Metadata.BranchID != "cairo-1" || large.Metadata.BusinessID != "biz-9" {
		t.Errorf("inherited ids = %q/%q", large.Metadata.BranchID, large.Metadata.BusinessID)
	}

	audit := pub.events[1]
	if audit.Payload != "seen" {
		t.Errorf("audit payload = %#v", audit.Payload)
	}
	if audit.Metadata.Source != "auditor" || audit.Metadata.Priority != event.PriorityLow || audit.Metadata.CorrelationID != "c-7" {
		t.Errorf("audit metadata = %+v", audit.Metadata)
	}
}

func TestActionInheritsCorrelation(t *testing.T) {
	pub := &capturePublisher{}
	a, err := CompileAction(`bus.publish("FOLLOW_UP")`, pub)
	if err != nil {
		t.Fatalf("CompileAction() error = %v", err)
	}
	defer a.Close()

	e := sampleEvent()
	e.Metadata.CorrelationID = "flow-1"
	if err := a.Handle(context.Background(), e); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.events))
	}
	if got := pub.events[0].Metadata.CorrelationID; got != "flow-1" {
		t.Errorf("correlationId = %q, want flow-1", got)
	}
	if pub.events[0].Payload != nil {
		t.Errorf("payload = %#v, want nil", pub.events[0].Payload)
	}
}

func TestActionErrors(t *testing.T) {
	if _, err := CompileAction(`bus.publish(`, &capturePublisher{}); !errors.Is(err, ErrCompile) {
		t.Errorf("syntax error = %v, want ErrCompile", err)
	}
	if _, err := CompileAction(`return`, nil); !errors.Is(err, ErrCompile) {
		t.Errorf("nil publisher error = %v, want ErrCompile", err)
	}

	pub := &capturePublisher{err: errors.New("queue full")}
	a, err := CompileAction(`bus.publish("X", 1)`, pub)
	if err != nil {
		t.Fatalf("CompileAction() error = %v", err)
	}
	defer a.Close()

	err = a.Handle(context.Background(), sampleEvent())
	if !errors.Is(err, ErrRuntime) {
		t.Fatalf("Handle() error = %v, want ErrRuntime", err)
	}
	if !strings.Contains(err.Error(), "queue full") {
		t.Errorf("Handle() error = %v, want publisher error in message", err)
	}

	bad, err := CompileAction(`bus.publish("X", 1, {priority = "URGENT"})`, &capturePublisher{})
	if err != nil {
		t.Fatalf("CompileAction() error = %v", err)
	}
	defer bad.Close()
	if err := bad.Handle(context.Background(), sampleEvent()); !errors.Is(err, ErrRuntime) {
		t.Errorf("invalid priority error = %v, want ErrRuntime", err)
	}
}

func TestActionOnBus(t *testing.T) {
	bus := event.New()
	defer bus.Close(context.Background())

	a, err := CompileAction(`bus.publish("PAYMENT_RETRY_SCHEDULED", {attempt = 1})`, bus)
	if err != nil {
		t.Fatalf("CompileAction() error = %v", err)
	}
	defer a.Close()

	if _, err := bus.AddRule(event.NewRule("retry", event.ByType("PAYMENT_FAILED"), a)); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	ctx := context.Background()
	if err := bus.Publish(ctx, event.NewEvent("PAYMENT_FAILED", nil, event.Metadata{})); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := bus.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	retries := bus.EventHistory(event.ByType("PAYMENT_RETRY_SCHEDULED"), 0)
	if len(retries) != 1 {
		t.Fatalf("retries = %d, want 1", len(retries))
	}
	if retries[0].Metadata.Source != DefaultActionSource {
		t.Errorf("source = %q", retries[0].Metadata.Source)
	}
}
