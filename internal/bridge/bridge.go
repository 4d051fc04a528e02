// Package bridge connects the bus to NATS.
//
// Outbound, a bus rule forwards every event as JSON to
// "<prefix>.<TYPE>". Inbound, messages on the configured subjects are
// decoded and published onto the bus. Each outbound message carries an
// origin header; messages bearing this bridge's own origin are ignored on
// the way in, and events that arrived from NATS are not forwarded back.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// OriginHeader carries the forwarding bridge's origin.
const OriginHeader = "Nilebus-Origin"

// DefaultSource is set on inbound events that have no source.
const DefaultSource = "nats"

// RuleName names the outbound bus rule.
const RuleName = "nats-bridge-forward"

// seenCapacity bounds the set of inbound IDs kept to stop echoes.
const seenCapacity = 4096

// ErrClosed is returned after Close.
var ErrClosed = errors.New("nats bridge is closed")

// Config configures a Bridge.
type Config struct {
	URL           string
	SubjectPrefix string
	Subscribe     []string
	Origin        string
	Name          string
}

// msgPublisher is satisfied by *nats.Conn.
type msgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Bridge forwards bus events to NATS and NATS messages to the bus.
type Bridge struct {
	prefix string
	origin string
	bus    event.Publisher
	logger *logging.Logger

	conn *nats.Conn
	out  msgPublisher

	mu     sync.Mutex
	subs   []*nats.Subscription
	seen   *idSet
	closed bool
}

// Connect dials NATS and subscribes to cfg.Subscribe. Inbound events are
// published on bus.
func Connect(cfg Config, bus event.Publisher, logger *logging.Logger) (*Bridge, error) {
	name := cfg.Name
	if name == "" {
		name = "nilebus"
	}
	if logger == nil {
		logger = logging.Nop()
	}
	log := logger.WithComponent("nats")

	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", cfg.URL, err)
	}

	b := newBridge(cfg, bus, conn, logger)
	b.conn = conn
	for _, subject := range cfg.Subscribe {
		if err := b.subscribe(subject); err != nil {
			_ = b.Close()
			return nil, err
		}
	}
	return b, nil
}

func newBridge(cfg Config, bus event.Publisher, out msgPublisher, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Nop()
	}
	origin := cfg.Origin
	if origin == "" {
		origin = "nilebus"
	}
	return &Bridge{
		prefix: strings.TrimSuffix(cfg.SubjectPrefix, "."),
		origin: origin,
		bus:    bus,
		out:    out,
		seen:   newIDSet(seenCapacity),
		logger: logger.WithComponent("nats"),
	}
}

func (b *Bridge) subscribe(subject string) error {
	sub, err := b.conn.Subscribe(subject, b.receive)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	b.logger.Info("bridging %s onto the bus", subject)
	return nil
}

// Subject returns the outbound subject for an event type.
func (b *Bridge) Subject(t event.Type) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '*', '>':
			return '_'
		}
		return r
	}, string(t))
	if b.prefix == "" {
		return token
	}
	return b.prefix + "." + token
}

// Forward publishes e to NATS unless it arrived from NATS.
func (b *Bridge) Forward(_ context.Context, e event.Event) error {
	b.mu.Lock()
	closed := b.closed
	echo := b.seen.has(e.Metadata.ID)
	b.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if echo {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", e.Metadata.ID, err)
	}
	msg := nats.NewMsg(b.Subject(e.Type))
	msg.Header.Set(OriginHeader, b.origin)
	msg.Data = data
	if err := b.out.PublishMsg(msg); err != nil {
		return fmt.Errorf("forwarding %s: %w", e.Metadata.ID, err)
	}
	return nil
}

// Handle implements event.Handler.
func (b *Bridge) Handle(ctx context.Context, e event.Event) error {
	return b.Forward(ctx, e)
}

// receive handles one inbound message.
func (b *Bridge) receive(msg *nats.Msg) {
	if msg.Header != nil && msg.Header.Get(OriginHeader) == b.origin {
		return
	}

	e, err := Decode(msg.Subject, msg.Data)
	if err != nil {
		b.logger.Warn("dropping message on %s: %v", msg.Subject, err)
		return
	}
	if e.Metadata.Source == "" {
		e.Metadata.Source = DefaultSource
	}
	if e.Metadata.ID == "" {
		// the ID must be known before publish to suppress the echo
		e.Metadata.ID = newInboundID()
	}

	b.mu.Lock()
	b.seen.add(e.Metadata.ID)
	b.mu.Unlock()

	if err := b.bus.Publish(context.Background(), e); err != nil {
		b.logger.Warn("publishing %s from %s: %v", e.Type, msg.Subject, err)
	}
}

// RuleRegistrar is the part of the bus Attach needs.
type RuleRegistrar interface {
	AddRule(r event.Rule) (string, error)
}

// Attach installs the outbound rule and returns its ID.
func (b *Bridge) Attach(bus RuleRegistrar) (string, error) {
	id, err := bus.AddRule(event.NewRule(RuleName, event.All(), b))
	if err != nil {
		return "", fmt.Errorf("attaching nats bridge: %w", err)
	}
	b.logger.Info("forwarding events to %s.>", b.prefix)
	return id, nil
}

// Close unsubscribes and drains the connection.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	if b.conn != nil {
		return b.conn.Drain()
	}
	return nil
}

// Decode reads an inbound message. A bare JSON event is accepted as is.
// Any other JSON value becomes the payload of an event whose type is the
// last subject token.
func Decode(subject string, data []byte) (event.Event, error) {
	var e event.Event
	if err := json.Unmarshal(data, &e); err == nil && e.Type != "" {
		return e, nil
	}

	var payload any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return event.Event{}, fmt.Errorf("invalid json: %w", err)
		}
	}
	token := subject
	if i := strings.LastIndex(subject, "."); i >= 0 {
		token = subject[i+1:]
	}
	if token == "" {
		return event.Event{}, fmt.Errorf("cannot derive an event type from subject %q", subject)
	}
	return event.Event{Type: event.Type(token), Payload: payload}, nil
}
