package config

import (
	"fmt"
	"time"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
)

// Config is the complete nilebus configuration.
type Config struct {
	Log       LogConfig      `toml:"log"`
	Bus       BusConfig      `toml:"bus"`
	HTTP      HTTPConfig     `toml:"http"`
	Archive   ArchiveConfig  `toml:"archive"`
	Mirror    MirrorConfig   `toml:"mirror"`
	NATS      NATSConfig     `toml:"nats"`
	Rules     RulesConfig    `toml:"rules"`
	Schedules []ScheduleSpec `toml:"schedules"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`

	// Output is "stderr", "stdout" or a file path.
	Output string `toml:"output"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	HistoryCapacity int `toml:"history_capacity"`

	// QueueCapacity bounds pending events. Zero means unbounded.
	QueueCapacity int `toml:"queue_capacity"`

	// Overflow is reject, drop-oldest or block.
	Overflow string `toml:"overflow"`

	// HandlerTimeout bounds each handler's context. Zero disables it.
	HandlerTimeout Duration `toml:"handler_timeout"`

	LoopGuard bool `toml:"loop_guard"`

	// CloseTimeout bounds the drain on shutdown.
	CloseTimeout Duration `toml:"close_timeout"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`

	// JWTSecret enables HS256 bearer auth on mutating routes when set.
	JWTSecret string `toml:"jwt_secret"`

	CORSOrigins []string `toml:"cors_origins"`

	// RateLimit is publish requests per second; RateBurst the bucket size.
	// A zero RateLimit disables limiting.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`

	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// ArchiveConfig configures the SQL archive of persistent events.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`

	// Driver is "sqlite3" or "postgres".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// MirrorConfig configures the Redis history mirror.
type MirrorConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Key      string `toml:"key"`
	MaxLen   int64  `toml:"max_len"`
}

// NATSConfig configures the NATS bridge.
type NATSConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`

	// SubjectPrefix is prepended to event types on outbound subjects.
	SubjectPrefix string `toml:"subject_prefix"`

	// Subscribe lists inbound subjects; wildcards are allowed.
	Subscribe []string `toml:"subscribe"`

	// Origin marks events this process forwarded so they are not echoed.
	Origin string `toml:"origin"`
}

// RulesConfig lists declarative rule files.
type RulesConfig struct {
	// Paths are files or directories of *.yaml / *.yml rule files.
	Paths []string `toml:"paths"`
	Watch bool     `toml:"watch"`
}

// ScheduleSpec publishes an event on a cron schedule.
type ScheduleSpec struct {
	Name     string         `toml:"name"`
	Spec     string         `toml:"spec"`
	Type     string         `toml:"type"`
	Source   string         `toml:"source"`
	Priority string         `toml:"priority"`
	Payload  map[string]any `toml:"payload"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Output: "stderr",
		},
		Bus: BusConfig{
			HistoryCapacity: 1000,
			QueueCapacity:   10000,
			Overflow:        "reject",
			HandlerTimeout:  Duration{},
			LoopGuard:       true,
			CloseTimeout:    Duration{5 * time.Second},
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Addr:            ":8080",
			CORSOrigins:     []string{"*"},
			RateLimit:       100,
			RateBurst:       200,
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Archive: ArchiveConfig{
			Driver: "sqlite3",
			DSN:    "file:nilebus.db?cache=shared",
		},
		Mirror: MirrorConfig{
			Addr:   "localhost:6379",
			Key:    "nilebus:history",
			MaxLen: 1000,
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "nilelink.events",
			Origin:        "nilebus",
		},
	}
}

// Duration is a time.Duration that reads and writes as a Go duration
// string ("250ms", "5s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Options translates the bus section into event bus options. The overflow
// name must already be valid.
func (b BusConfig) Options() []event.Option {
	overflow, _ := event.ParseOverflowPolicy(b.Overflow)
	return []event.Option{
		event.WithHistoryCapacity(b.HistoryCapacity),
		event.WithQueueCapacity(b.QueueCapacity),
		event.WithOverflowPolicy(overflow),
		event.WithHandlerTimeout(b.HandlerTimeout.Duration),
		event.WithDiagnosticLoopGuard(b.LoopGuard),
	}
}
