package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alnajaar/nilelink-sub003/internal/archive"
	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/metrics"
	"github.com/Alnajaar/nilelink-sub003/internal/scheduler"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, cfg Config, opts ...Option) (*Server, *event.Bus) {
	t.Helper()
	bus := event.New()
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	s, err := New(cfg, bus, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, bus
}

func token(t *testing.T) string {
	t.Helper()
	tok, err := IssueToken([]byte(testSecret), "pos-terminal", time.Minute)
	require.NoError(t, err)
	return tok
}

func do(s *Server, method, target, body, tok string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	rec := do(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestPublishRequiresToken(t *testing.T) {
	s, _ := newTestServer(t, Config{JWTSecret: testSecret})
	body := `{"type":"ORDER_CREATED","payload":{"orderId":"o-1"}}`

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/v1/events", body, "").Code)

	forged, err := IssueToken([]byte("other"), "x", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/v1/events", body, forged).Code)

	noExpiry, err := IssueToken([]byte(testSecret), "x", 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/v1/events", body, noExpiry).Code)

	rec := do(s, http.MethodPost, "/v1/events", body, token(t))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, strings.HasPrefix(decodeBody(t, rec)["id"].(string), "evt_"))

	// reads stay open
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/events", "", "").Code)
}

func TestPublishWaitAndDefaults(t *testing.T) {
	s, bus := newTestServer(t, Config{})

	rec := do(s, http.MethodPost, "/v1/events?wait=true",
		`{"type":"ORDER_CREATED","payload":{"total":42},"metadata":{"branchId":"cairo-1"}}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["id"].(string)

	history := bus.EventHistory(event.ByType("ORDER_CREATED"), 0)
	require.Len(t, history, 1)
	got := history[0]
	assert.Equal(t, id, got.Metadata.ID)
	assert.Equal(t, DefaultSource, got.Metadata.Source)
	assert.Equal(t, event.PriorityNormal, got.Metadata.Priority)
	assert.Equal(t, event.ScopeLocal, got.Metadata.Scope)
	assert.Equal(t, "cairo-1", got.Metadata.BranchID)
	assert.Equal(t, uint64(1), bus.Metrics().Processed)
}

func TestPublishRejectsBadEvents(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	for name, body := range map[string]string{
		"not json":     `{`,
		"no type":      `{"payload":1}`,
		"bad priority": `{"type":"X","metadata":{"priority":"URGENT"}}`,
		"bad scope":    `{"type":"X","metadata":{"scope":"PLANET"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/v1/events", body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestPublishBatch(t *testing.T) {
	s, bus := newTestServer(t, Config{})

	rec := do(s, http.MethodPost, "/v1/events/batch?wait=1",
		`[{"type":"ORDER_CREATED"},{"type":"ORDER_PAID","metadata":{"source":"pos"}}]`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	history := bus.EventHistory(nil, 0)
	require.Len(t, history, 2)
	assert.Equal(t, event.Type("ORDER_CREATED"), history[0].Type)
	assert.Equal(t, "pos", history[1].Metadata.Source)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/v1/events/batch", `[]`, "").Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/v1/events/batch", `[{"type":"A"},{}]`, "").Code)
	assert.Len(t, bus.EventHistory(nil, 0), 2)
}

func TestListEventsFilters(t *testing.T) {
	s, bus := newTestServer(t, Config{})
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, event.NewEvent("ORDER_CREATED", nil, event.Metadata{Source: "pos", Timestamp: 1000})))
	require.NoError(t, bus.Publish(ctx, event.NewEvent("ORDER_PAID", nil, event.Metadata{Source: "pos", Priority: event.PriorityHigh, Timestamp: 2000})))
	require.NoError(t, bus.Publish(ctx, event.NewEvent("ORDER_CREATED", nil, event.Metadata{Source: "web", Timestamp: 3000})))
	require.NoError(t, bus.Flush(ctx))

	count := func(query string) float64 {
		rec := do(s, http.MethodGet, "/v1/events"+query, "", "")
		require.Equal(t, http.StatusOK, rec.Code, query)
		return decodeBody(t, rec)["count"].(float64)
	}
	assert.Equal(t, float64(3), count(""))
	assert.Equal(t, float64(2), count("?type=ORDER_CREATED"))
	assert.Equal(t, float64(3), count("?type=ORDER_CREATED,ORDER_PAID"))
	assert.Equal(t, float64(1), count("?type=ORDER_CREATED&source=web"))
	assert.Equal(t, float64(1), count("?priority=HIGH"))
	assert.Equal(t, float64(1), count("?since=2000"))
	assert.Equal(t, float64(2), count("?limit=2"))

	for _, bad := range []string{"?limit=-1", "?limit=x", "?priority=URGENT", "?since=yesterday"} {
		assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/v1/events"+bad, "", "").Code, bad)
	}

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodDelete, "/v1/events", "", "").Code)
	assert.Equal(t, float64(0), count(""))
}

func TestRules(t *testing.T) {
	s, bus := newTestServer(t, Config{})

	id, err := bus.AddRule(event.NewRule("retry", event.ByType("PAYMENT_FAILED"), event.HandlerFunc(
		func(context.Context, event.Event) error { return nil })))
	require.NoError(t, err)

	rec := do(s, http.MethodGet, "/v1/rules", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["count"])

	assert.Equal(t, http.StatusConflict, do(s, http.MethodDelete, "/v1/rules/"+s.ruleID, "", "").Code)
	assert.Equal(t, http.StatusNoContent, do(s, http.MethodDelete, "/v1/rules/"+id, "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodDelete, "/v1/rules/"+id, "", "").Code)
	assert.Equal(t, 1, bus.Metrics().Rules)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{RateLimit: 0.001, RateBurst: 1})
	body := `{"type":"X"}`

	assert.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/v1/events", body, "").Code)
	rec := do(s, http.MethodPost, "/v1/events", body, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// reads are not limited
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/v1/events", "", "").Code)
}

func TestMetricsRoutes(t *testing.T) {
	bus := event.New()
	defer bus.Close(context.Background())
	reg, err := metrics.NewRegistry(bus)
	require.NoError(t, err)

	s, err := New(Config{}, bus, WithRegistry(reg))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, bus.Publish(context.Background(), event.NewEvent("X", nil, event.Metadata{})))
	require.NoError(t, bus.Flush(context.Background()))

	rec := do(s, http.MethodGet, "/v1/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["published"])

	rec = do(s, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nilebus_events_published_total 1")
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, Config{CORSOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://pos.nilelink.example")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	plain, _ := newTestServer(t, Config{})
	rec = httptest.NewRecorder()
	plain.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type fakeArchive struct {
	got archive.Query
	err error
}

func (f *fakeArchive) Recent(_ context.Context, q archive.Query) ([]event.Event, error) {
	f.got = q
	if f.err != nil {
		return nil, f.err
	}
	return []event.Event{{Type: "ORDER_CREATED"}}, nil
}

func TestArchiveRoute(t *testing.T) {
	a := &fakeArchive{}
	s, _ := newTestServer(t, Config{}, WithArchive(a))

	rec := do(s, http.MethodGet, "/v1/archive?type=ORDER_CREATED&branch=cairo-1&correlation=flow-1&since=1000&limit=5", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
	assert.Equal(t, archive.Query{
		Type:          "ORDER_CREATED",
		BranchID:      "cairo-1",
		CorrelationID: "flow-1",
		Since:         time.UnixMilli(1000),
		Limit:         5,
	}, a.got)

	a.err = errors.New("disk full")
	assert.Equal(t, http.StatusInternalServerError, do(s, http.MethodGet, "/v1/archive", "", "").Code)

	without, _ := newTestServer(t, Config{})
	assert.Equal(t, http.StatusNotFound, do(without, http.MethodGet, "/v1/archive", "", "").Code)
}

func TestScheduleRoutes(t *testing.T) {
	bus := event.New()
	defer bus.Close(context.Background())
	sch := scheduler.New(bus)
	require.NoError(t, sch.Add(scheduler.Job{Name: "nightly-sync", Spec: "@midnight", Type: "SYNC_REQUESTED"}))

	s, err := New(Config{JWTSecret: testSecret}, bus, WithScheduler(sch))
	require.NoError(t, err)
	defer s.Close()

	rec := do(s, http.MethodGet, "/v1/schedules", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/v1/schedules/nightly-sync/fire", "", "").Code)
	assert.Equal(t, http.StatusAccepted, do(s, http.MethodPost, "/v1/schedules/nightly-sync/fire", "", token(t)).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/v1/schedules/missing/fire", "", token(t)).Code)

	require.NoError(t, bus.Flush(context.Background()))
	assert.Len(t, bus.EventHistory(event.ByType("SYNC_REQUESTED"), 0), 1)
}

func TestStream(t *testing.T) {
	s, bus := newTestServer(t, Config{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream?type=ORDER_CREATED"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello streamHello
	require.NoError(t, conn.ReadJSON(&hello))
	assert.True(t, hello.Connected)
	assert.Equal(t, []event.Type{"ORDER_CREATED"}, hello.Types)
	assert.Equal(t, 1, s.hub.count())

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, event.NewEvent("ORDER_PAID", nil, event.Metadata{})))
	require.NoError(t, bus.Publish(ctx, event.NewEvent("ORDER_CREATED", map[string]any{"orderId": "o-9"}, event.Metadata{})))

	var got event.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, event.Type("ORDER_CREATED"), got.Type)
	assert.Equal(t, map[string]any{"orderId": "o-9"}, got.Payload)

	conn.Close()
	require.Eventually(t, func() bool { return s.hub.count() == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestStreamChecksOrigin(t *testing.T) {
	s, _ := newTestServer(t, Config{CORSOrigins: []string{"https://pos.nilelink.example"}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"listed", "https://pos.nilelink.example", true},
		{"no origin", "", true},
		{"other", "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if resp != nil {
				defer resp.Body.Close()
			}
			if !tt.ok {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	assert.Nil(t, checkOrigin(nil))

	req := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, checkOrigin([]string{"*"})(req))
	assert.True(t, checkOrigin([]string{"HTTPS://ANYWHERE.EXAMPLE"})(req))
	assert.False(t, checkOrigin([]string{"https://pos.nilelink.example"})(req))
}

func TestServeShutsDown(t *testing.T) {
	s, _ := newTestServer(t, Config{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
