package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// binding maps one environment variable onto a setting.
type binding struct {
	path string
	set  func(c *Config, v string) error
}

// envBindings maps NILEBUS_* variables to settings. The variable name is
// the upper-cased setting path with dots replaced by underscores.
var envBindings = []binding{
	{"log.level", str(func(c *Config) *string { return &c.Log.Level })},
	{"log.output", str(func(c *Config) *string { return &c.Log.Output })},

	{"bus.history_capacity", integer(func(c *Config) *int { return &c.Bus.HistoryCapacity })},
	{"bus.queue_capacity", integer(func(c *Config) *int { return &c.Bus.QueueCapacity })},
	{"bus.overflow", str(func(c *Config) *string { return &c.Bus.Overflow })},
	{"bus.handler_timeout", duration(func(c *Config) *Duration { return &c.Bus.HandlerTimeout })},
	{"bus.loop_guard", boolean(func(c *Config) *bool { return &c.Bus.LoopGuard })},
	{"bus.close_timeout", duration(func(c *Config) *Duration { return &c.Bus.CloseTimeout })},

	{"http.enabled", boolean(func(c *Config) *bool { return &c.HTTP.Enabled })},
	{"http.addr", str(func(c *Config) *string { return &c.HTTP.Addr })},
	{"http.jwt_secret", str(func(c *Config) *string { return &c.HTTP.JWTSecret })},
	{"http.cors_origins", list(func(c *Config) *[]string { return &c.HTTP.CORSOrigins })},
	{"http.rate_limit", float(func(c *Config) *float64 { return &c.HTTP.RateLimit })},
	{"http.rate_burst", integer(func(c *Config) *int { return &c.HTTP.RateBurst })},
	{"http.shutdown_timeout", duration(func(c *Config) *Duration { return &c.HTTP.ShutdownTimeout })},

	{"archive.enabled", boolean(func(c *Config) *bool { return &c.Archive.Enabled })},
	{"archive.driver", str(func(c *Config) *string { return &c.Archive.Driver })},
	{"archive.dsn", str(func(c *Config) *string { return &c.Archive.DSN })},

	{"mirror.enabled", boolean(func(c *Config) *bool { return &c.Mirror.Enabled })},
	{"mirror.addr", str(func(c *Config) *string { return &c.Mirror.Addr })},
	{"mirror.password", str(func(c *Config) *string { return &c.Mirror.Password })},
	{"mirror.db", integer(func(c *Config) *int { return &c.Mirror.DB })},
	{"mirror.key", str(func(c *Config) *string { return &c.Mirror.Key })},
	{"mirror.max_len", integer64(func(c *Config) *int64 { return &c.Mirror.MaxLen })},

	{"nats.enabled", boolean(func(c *Config) *bool { return &c.NATS.Enabled })},
	{"nats.url", str(func(c *Config) *string { return &c.NATS.URL })},
	{"nats.subject_prefix", str(func(c *Config) *string { return &c.NATS.SubjectPrefix })},
	{"nats.subscribe", list(func(c *Config) *[]string { return &c.NATS.Subscribe })},
	{"nats.origin", str(func(c *Config) *string { return &c.NATS.Origin })},

	{"rules.paths", list(func(c *Config) *[]string { return &c.Rules.Paths })},
	{"rules.watch", boolean(func(c *Config) *bool { return &c.Rules.Watch })},
}

// EnvName returns the environment variable for a setting path.
func EnvName(path string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(path, ".", "_"))
}

// EnvNames lists every recognized environment variable, sorted.
func EnvNames() []string {
	names := make([]string, 0, len(envBindings))
	for _, b := range envBindings {
		names = append(names, EnvName(b.path))
	}
	sort.Strings(names)
	return names
}

func applyEnv(cfg *Config, env map[string]string) error {
	errs := &ValidationErrors{}
	for _, b := range envBindings {
		v, ok := env[EnvName(b.path)]
		if !ok {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			errs.Add(b.path, "%s: %v", EnvName(b.path), err)
		}
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func integer64(field func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func float(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", v)
		}
		*field(c) = f
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func duration(field func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not a duration: %q", v)
		}
		field(c).Duration = d
		return nil
	}
}

// list splits a comma-separated value, dropping empty items.
func list(field func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var items []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		*field(c) = items
		return nil
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}
