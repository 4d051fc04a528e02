package config

import (
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// scheduleParser accepts five or six fields and @descriptors.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if !logging.ValidLevel(c.Log.Level) {
		errs.Add("log.level", "unknown level %q", c.Log.Level)
	}
	if c.Log.Output == "" {
		errs.Add("log.output", "must not be empty")
	}

	if c.Bus.HistoryCapacity <= 0 {
		errs.Add("bus.history_capacity", "must be positive, got %d", c.Bus.HistoryCapacity)
	}
	if c.Bus.QueueCapacity < 0 {
		errs.Add("bus.queue_capacity", "must not be negative, got %d", c.Bus.QueueCapacity)
	}
	if _, err := event.ParseOverflowPolicy(c.Bus.Overflow); err != nil {
		errs.Add("bus.overflow", "%v", err)
	}
	if c.Bus.HandlerTimeout.Duration < 0 {
		errs.Add("bus.handler_timeout", "must not be negative")
	}
	if c.Bus.CloseTimeout.Duration < 0 {
		errs.Add("bus.close_timeout", "must not be negative")
	}

	if c.HTTP.Enabled {
		if c.HTTP.Addr == "" {
			errs.Add("http.addr", "required when http is enabled")
		}
		if c.HTTP.RateLimit < 0 {
			errs.Add("http.rate_limit", "must not be negative")
		}
		if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst <= 0 {
			errs.Add("http.rate_burst", "must be positive when rate_limit is set")
		}
	}

	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case "sqlite3", "postgres":
		default:
			errs.Add("archive.driver", "unsupported driver %q (want sqlite3 or postgres)", c.Archive.Driver)
		}
		if c.Archive.DSN == "" {
			errs.Add("archive.dsn", "required when archive is enabled")
		}
	}

	if c.Mirror.Enabled {
		if c.Mirror.Addr == "" {
			errs.Add("mirror.addr", "required when mirror is enabled")
		}
		if c.Mirror.Key == "" {
			errs.Add("mirror.key", "required when mirror is enabled")
		}
		if c.Mirror.MaxLen <= 0 {
			errs.Add("mirror.max_len", "must be positive, got %d", c.Mirror.MaxLen)
		}
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			errs.Add("nats.url", "required when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" || strings.ContainsAny(c.NATS.SubjectPrefix, " *>") {
			errs.Add("nats.subject_prefix", "must be a literal subject, got %q", c.NATS.SubjectPrefix)
		}
	}

	names := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		path := "schedules[" + s.Name + "]"
		if s.Name == "" {
			path = "schedules"
			errs.Add(path, "entry %d has no name", i)
		} else if names[s.Name] {
			errs.Add(path, "duplicate name")
		}
		names[s.Name] = true

		if _, err := scheduleParser.Parse(s.Spec); err != nil {
			errs.Add(path+".spec", "%v", err)
		}
		if s.Type == "" {
			errs.Add(path+".type", "required")
		}
		if s.Priority != "" {
			if _, err := event.ParsePriority(s.Priority); err != nil {
				errs.Add(path+".priority", "%v", err)
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
