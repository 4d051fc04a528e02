package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// StreamRuleName names the bus rule feeding websocket clients.
const StreamRuleName = "api-stream"

const (
	clientBuffer = 256
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
)

func newUpgrader(origins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     checkOrigin(origins),
	}
}

// checkOrigin admits browser upgrades from the CORS origins. Requests
// without an Origin header come from non-browser clients and pass. With no
// origins configured, only same-host upgrades are accepted.
func checkOrigin(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowAll := slices.Contains(origins, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		for _, o := range origins {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// streamHello is the first message on every stream.
type streamHello struct {
	Connected bool         `json:"connected"`
	Types     []event.Type `json:"types,omitempty"`
}

type streamClient struct {
	filter event.FilterFunc
	send   chan []byte
	once   sync.Once
	done   chan struct{}
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.done) })
}

// hub fans processed events out to websocket clients. It runs as a bus
// rule action, so it never blocks: a client whose buffer is full misses
// the event.
type hub struct {
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
}

func newHub(logger *logging.Logger) *hub {
	return &hub{logger: logger, clients: make(map[*streamClient]struct{})}
}

// Handle implements event.Handler.
func (h *hub) Handle(_ context.Context, e event.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	for c := range h.clients {
		if c.filter != nil && !c.filter(e) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.Warn("stream client is slow, dropped %s", e.Metadata.ID)
		}
	}
	return nil
}

func (h *hub) add(c *streamClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *streamClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*streamClient]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (s *Server) stream(c *gin.Context) {
	var types []event.Type
	for _, t := range splitList(c.Query("type")) {
		types = append(types, event.Type(t))
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("stream upgrade from %s: %v", c.ClientIP(), err)
		return
	}

	client := &streamClient{
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}
	if len(types) > 0 {
		client.filter = event.ByType(types...)
	}
	s.hub.add(client)
	defer s.hub.remove(client)

	hello, _ := json.Marshal(streamHello{Connected: true, Types: types})
	if err := writeFrame(conn, websocket.TextMessage, hello); err != nil {
		_ = conn.Close()
		return
	}

	go readPump(conn, client)
	writePump(conn, client)
}

// readPump discards client frames and notices disconnects.
func readPump(conn *websocket.Conn, client *streamClient) {
	defer client.close()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, client *streamClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data := <-client.send:
			if err := writeFrame(conn, websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := writeFrame(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, kind int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(kind, data)
}
