// Package mirror copies bus activity into a capped Redis list so other
// NileLink services can read recent events without talking to the bus.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// RuleName names the bus rule installed by Attach.
const RuleName = "redis-history-mirror"

// Defaults.
const (
	DefaultKey    = "nilebus:history"
	DefaultMaxLen = 1000
)

// ErrInvalidMaxLen is returned for a non-positive list length.
var ErrInvalidMaxLen = errors.New("mirror max length must be positive")

// Config configures a Mirror.
type Config struct {
	Addr     string
	Password string
	DB       int

	// Key is the Redis list holding the newest events first.
	Key    string
	MaxLen int64

	// Timeout bounds each Redis round trip.
	Timeout time.Duration
}

// Mirror pushes events onto a Redis list trimmed to MaxLen entries.
type Mirror struct {
	client  redis.UniversalClient
	key     string
	maxLen  int64
	timeout time.Duration
	logger  *logging.Logger
	ownsCli bool
}

// Dial connects to Redis and verifies the connection.
func Dial(ctx context.Context, cfg Config, logger *logging.Logger) (*Mirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}

	m, err := New(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	m.ownsCli = true
	return m, nil
}

// New wraps an existing client. Close leaves the client open.
func New(client redis.UniversalClient, cfg Config, logger *logging.Logger) (*Mirror, error) {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	if cfg.MaxLen < 0 {
		return nil, ErrInvalidMaxLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Mirror{
		client:  client,
		key:     cfg.Key,
		maxLen:  cfg.MaxLen,
		timeout: cfg.Timeout,
		logger:  logger.WithComponent("mirror"),
	}, nil
}

// Key returns the Redis list key.
func (m *Mirror) Key() string {
	return m.key
}

// Push records e at the head of the list and trims the tail in one
// pipeline round trip.
func (m *Mirror) Push(ctx context.Context, e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", e.Metadata.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, m.key, data)
	pipe.LTrim(ctx, m.key, 0, m.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirroring %s: %w", e.Metadata.ID, err)
	}
	return nil
}

// Handle implements event.Handler.
func (m *Mirror) Handle(ctx context.Context, e event.Event) error {
	return m.Push(ctx, e)
}

// Recent returns up to n mirrored events, oldest first.
func (m *Mirror) Recent(ctx context.Context, n int64) ([]event.Event, error) {
	if n <= 0 || n > m.maxLen {
		n = m.maxLen
	}
	raw, err := m.client.LRange(ctx, m.key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", m.key, err)
	}
	return decode(raw)
}

// decode turns newest-first list entries into oldest-first events.
// Entries that do not decode are skipped.
func decode(raw []string) ([]event.Event, error) {
	events := make([]event.Event, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var e event.Event
		if err := json.Unmarshal([]byte(raw[i]), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Clear deletes the list.
func (m *Mirror) Clear(ctx context.Context) error {
	return m.client.Del(ctx, m.key).Err()
}

// RuleRegistrar is the part of the bus Attach needs.
type RuleRegistrar interface {
	AddRule(r event.Rule) (string, error)
}

// Attach mirrors every processed event and returns the rule ID.
func (m *Mirror) Attach(bus RuleRegistrar) (string, error) {
	id, err := bus.AddRule(event.NewRule(RuleName, event.All(), m))
	if err != nil {
		return "", fmt.Errorf("attaching mirror: %w", err)
	}
	m.logger.Info("mirroring events to redis list %s (max %d)", m.key, m.maxLen)
	return id, nil
}

// Close closes the client if Dial created it.
func (m *Mirror) Close() error {
	if m.ownsCli {
		return m.client.Close()
	}
	return nil
}
