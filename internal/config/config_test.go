package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
	return path
}

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Bus.HistoryCapacity != 1000 {
		t.Errorf("HistoryCapacity = %d, want 1000", cfg.Bus.HistoryCapacity)
	}
	if !cfg.Bus.LoopGuard {
		t.Error("LoopGuard = false, want true")
	}
	if cfg.Bus.Overflow != "reject" {
		t.Errorf("Overflow = %q, want reject", cfg.Bus.Overflow)
	}
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load(LoadOptions{Environ: environ()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want :8080", cfg.HTTP.Addr)
	}
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "nilebus.toml", `
[log]
level = "debug"

[bus]
queue_capacity = 50
overflow = "block"
handler_timeout = "250ms"

[http]
addr = ":9000"
jwt_secret = "from-file"

[rules]
paths = ["rules.d"]

[[schedules]]
name = "nightly-sync"
spec = "@daily"
type = "SYNC_REQUESTED"
payload = { full = true }
`)
	envFile := writeFile(t, dir, ".env", `
NILEBUS_HTTP_ADDR=:9100
NILEBUS_BUS_QUEUE_CAPACITY=75
`)

	cfg, err := Load(LoadOptions{
		Path:    path,
		EnvFile: envFile,
		Environ: environ(
			"NILEBUS_BUS_QUEUE_CAPACITY=99",
			"NILEBUS_HTTP_CORS_ORIGINS=https://a.example, https://b.example",
			"UNRELATED=1",
		),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug (file)", cfg.Log.Level)
	}
	if cfg.Bus.Overflow != "block" {
		t.Errorf("Bus.Overflow = %q, want block (file)", cfg.Bus.Overflow)
	}
	if cfg.Bus.HandlerTimeout.Duration != 250*time.Millisecond {
		t.Errorf("Bus.HandlerTimeout = %v, want 250ms", cfg.Bus.HandlerTimeout)
	}
	if cfg.HTTP.Addr != ":9100" {
		t.Errorf("HTTP.Addr = %q, want :9100 (dotenv)", cfg.HTTP.Addr)
	}
	if cfg.Bus.QueueCapacity != 99 {
		t.Errorf("Bus.QueueCapacity = %d, want 99 (process env)", cfg.Bus.QueueCapacity)
	}
	if cfg.HTTP.JWTSecret != "from-file" {
		t.Errorf("HTTP.JWTSecret = %q", cfg.HTTP.JWTSecret)
	}
	if got := strings.Join(cfg.HTTP.CORSOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("HTTP.CORSOrigins = %q", got)
	}
	if cfg.Bus.HistoryCapacity != 1000 {
		t.Errorf("Bus.HistoryCapacity = %d, want default 1000", cfg.Bus.HistoryCapacity)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Payload["full"] != true {
		t.Errorf("Schedules = %+v", cfg.Schedules)
	}
}

func TestLoadMissingFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(LoadOptions{Path: filepath.Join(dir, "absent.toml"), Environ: environ()}); err == nil {
		t.Error("Load() with missing config file should fail")
	}

	cfg, err := Load(LoadOptions{EnvFile: filepath.Join(dir, ".env"), Environ: environ()})
	if err != nil {
		t.Fatalf("Load() with missing dotenv error = %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config")
	}
}

func TestLoadParseError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.toml", "[bus\nqueue_capacity = 1\n")

	_, err := Load(LoadOptions{Path: path, Environ: environ()})
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Load() error = %v, want *ParseError", err)
	}
	if perr.Path != path {
		t.Errorf("ParseError.Path = %q, want %q", perr.Path, path)
	}
	if perr.Line <= 0 {
		t.Errorf("ParseError.Line = %d, want a position", perr.Line)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	_, err := Parse([]byte("[bus]\nqueue_size = 10\n"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("Parse() error = %v, want *ParseError", err)
	}
	if !strings.Contains(perr.Error(), "queue_size") {
		t.Errorf("error %q should name the unknown key", perr.Error())
	}
}

func TestLoadBadEnv(t *testing.T) {
	_, err := Load(LoadOptions{Environ: environ(
		"NILEBUS_BUS_QUEUE_CAPACITY=lots",
		"NILEBUS_BUS_LOOP_GUARD=maybe",
		"NILEBUS_BUS_HANDLER_TIMEOUT=soon",
	)})

	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Load() error = %v, want *ValidationErrors", err)
	}
	if len(verrs.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(verrs.Errors), err)
	}
	if !errors.Is(err, ErrValidationFailed) {
		t.Error("errors.Is(err, ErrValidationFailed) = false")
	}
}

func TestEnvBooleans(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"1", true},
		{"on", true},
		{"YES", true},
		{"false", false},
		{"0", false},
		{"off", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg, err := Load(LoadOptions{Environ: environ("NILEBUS_BUS_LOOP_GUARD=" + tt.value)})
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Bus.LoopGuard != tt.want {
				t.Errorf("LoopGuard = %v, want %v", cfg.Bus.LoopGuard, tt.want)
			}
		})
	}
}

func TestValidateAggregates(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Bus.HistoryCapacity = 0
	cfg.Bus.Overflow = "spill"
	cfg.Archive.Enabled = true
	cfg.Archive.Driver = "mysql"
	cfg.Mirror.Enabled = true
	cfg.Mirror.MaxLen = 0
	cfg.NATS.Enabled = true
	cfg.NATS.SubjectPrefix = "events.>"
	cfg.Schedules = []ScheduleSpec{
		{Name: "a", Spec: "not a cron", Type: "X"},
		{Name: "a", Spec: "@hourly", Type: "", Priority: "URGENT"},
	}

	err := cfg.Validate()
	var verrs *ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("Validate() error = %v, want *ValidationErrors", err)
	}

	want := []string{
		"log.level",
		"bus.history_capacity",
		"bus.overflow",
		"archive.driver",
		"mirror.max_len",
		"nats.subject_prefix",
		"schedules[a].spec",
		"schedules[a]",
		"schedules[a].type",
		"schedules[a].priority",
	}
	got := make(map[string]bool)
	for _, e := range verrs.Errors {
		got[e.Path] = true
	}
	for _, path := range want {
		if !got[path] {
			t.Errorf("missing validation error for %s in %v", path, err)
		}
	}
}

func TestScheduleSpecs(t *testing.T) {
	for _, spec := range []string{"*/5 * * * *", "0 30 2 * * *", "@every 1h", "@midnight"} {
		cfg := Default()
		cfg.Schedules = []ScheduleSpec{{Name: "s", Spec: spec, Type: "SYNC_REQUESTED"}}
		if err := cfg.Validate(); err != nil {
			t.Errorf("spec %q: Validate() error = %v", spec, err)
		}
	}
}

func TestEnvNames(t *testing.T) {
	names := EnvNames()
	if len(names) != len(envBindings) {
		t.Fatalf("EnvNames() = %d names, want %d", len(names), len(envBindings))
	}
	if EnvName("bus.history_capacity") != "NILEBUS_BUS_HISTORY_CAPACITY" {
		t.Errorf("EnvName() = %q", EnvName("bus.history_capacity"))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("EnvNames() not sorted at %d", i)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Bus.HandlerTimeout = Duration{3 * time.Second}

	data, err := Encode(cfg)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse(Encode()) error = %v\n%s", err, data)
	}
	if back.Bus.HandlerTimeout.Duration != 3*time.Second {
		t.Errorf("HandlerTimeout = %v, want 3s", back.Bus.HandlerTimeout)
	}
	if back.Bus.CloseTimeout.Duration != 5*time.Second {
		t.Errorf("CloseTimeout = %v, want 5s", back.Bus.CloseTimeout)
	}
}

func TestBusOptions(t *testing.T) {
	cfg := Default()
	if got := len(cfg.Bus.Options()); got != 5 {
		t.Errorf("Options() = %d options, want 5", got)
	}
}
