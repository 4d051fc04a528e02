package app

import (
	"context"
	"strings"
	"time"

	"github.com/Alnajaar/nilelink-sub003/internal/api"
	"github.com/Alnajaar/nilelink-sub003/internal/archive"
	"github.com/Alnajaar/nilelink-sub003/internal/bridge"
	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/metrics"
	"github.com/Alnajaar/nilelink-sub003/internal/mirror"
	"github.com/Alnajaar/nilelink-sub003/internal/monitor"
	"github.com/Alnajaar/nilelink-sub003/internal/rules"
	"github.com/Alnajaar/nilelink-sub003/internal/scheduler"
)

// connectTimeout bounds each connection attempt during startup.
const connectTimeout = 10 * time.Second

// bootstrapper initializes components in dependency order and releases
// the ones already started when a later one fails.
type bootstrapper struct {
	app       *App
	initOrder []string
}

func newBootstrapper(app *App) *bootstrapper {
	return &bootstrapper{app: app, initOrder: make([]string, 0, 10)}
}

func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		init func() error
	}{
		{"event bus", b.initBus},
		{"archive", b.initArchive},
		{"mirror", b.initMirror},
		{"nats bridge", b.initBridge},
		{"rules", b.initRules},
		{"rules watcher", b.initWatcher},
		{"scheduler", b.initScheduler},
		{"metrics", b.initMetrics},
		{"http api", b.initAPI},
		{"monitor", b.initMonitor},
	}
	for _, step := range steps {
		if err := step.init(); err != nil {
			b.cleanup()
			return &InitError{Component: step.name, Err: err}
		}
		b.initOrder = append(b.initOrder, step.name)
	}
	b.app.logger.Debug("components started: %s", strings.Join(b.initOrder, ", "))
	return nil
}

func (b *bootstrapper) initBus() error {
	a := b.app
	opts := append(a.cfg.Bus.Options(), event.WithLogger(a.logger))
	a.bus = event.New(opts...)
	return a.bus.Initialize(context.Background())
}

func (b *bootstrapper) initArchive() error {
	a := b.app
	if !a.cfg.Archive.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	arc, err := archive.Open(ctx, a.cfg.Archive.Driver, a.cfg.Archive.DSN, a.logger)
	if err != nil {
		return err
	}
	a.archive = arc
	_, err = arc.Attach(a.bus)
	return err
}

func (b *bootstrapper) initMirror() error {
	a := b.app
	mc := a.cfg.Mirror
	if !mc.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	m, err := mirror.Dial(ctx, mirror.Config{
		Addr:     mc.Addr,
		Password: mc.Password,
		DB:       mc.DB,
		Key:      mc.Key,
		MaxLen:   mc.MaxLen,
	}, a.logger)
	if err != nil {
		return err
	}
	a.mirror = m
	_, err = m.Attach(a.bus)
	return err
}

func (b *bootstrapper) initBridge() error {
	a := b.app
	nc := a.cfg.NATS
	if !nc.Enabled {
		return nil
	}
	br, err := bridge.Connect(bridge.Config{
		URL:           nc.URL,
		SubjectPrefix: nc.SubjectPrefix,
		Subscribe:     nc.Subscribe,
		Origin:        nc.Origin,
		Name:          "nilebus",
	}, a.bus, a.logger)
	if err != nil {
		return err
	}
	a.bridge = br
	_, err = br.Attach(a.bus)
	return err
}

func (b *bootstrapper) initRules() error {
	a := b.app
	a.installer = rules.NewInstaller(a.bus, a.logger)
	if len(a.cfg.Rules.Paths) == 0 {
		return nil
	}
	return a.installer.InstallAll(a.cfg.Rules.Paths)
}

func (b *bootstrapper) initWatcher() error {
	a := b.app
	if !a.cfg.Rules.Watch || len(a.cfg.Rules.Paths) == 0 {
		return nil
	}
	w, err := rules.NewWatcher(a.installer, 0, a.logger)
	if err != nil {
		return err
	}
	a.watcher = w
	for _, p := range a.cfg.Rules.Paths {
		if err := w.Watch(p); err != nil {
			return err
		}
	}
	return nil
}

func (b *bootstrapper) initScheduler() error {
	a := b.app
	a.scheduler = scheduler.New(a.bus, scheduler.WithLogger(a.logger))
	for _, s := range a.cfg.Schedules {
		err := a.scheduler.Add(scheduler.Job{
			Name:     s.Name,
			Spec:     s.Spec,
			Type:     event.Type(s.Type),
			Source:   s.Source,
			Priority: event.Priority(strings.ToUpper(strings.TrimSpace(s.Priority))),
			Payload:  s.Payload,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *bootstrapper) initMetrics() error {
	reg, err := metrics.NewRegistry(b.app.bus)
	if err != nil {
		return err
	}
	b.app.registry = reg
	return nil
}

func (b *bootstrapper) initAPI() error {
	a := b.app
	hc := a.cfg.HTTP
	if !hc.Enabled {
		return nil
	}
	opts := []api.Option{
		api.WithLogger(a.logger),
		api.WithRegistry(a.registry),
		api.WithScheduler(a.scheduler),
	}
	if a.archive != nil {
		opts = append(opts, api.WithArchive(a.archive))
	}
	srv, err := api.New(api.Config{
		Addr:            hc.Addr,
		JWTSecret:       hc.JWTSecret,
		CORSOrigins:     hc.CORSOrigins,
		RateLimit:       hc.RateLimit,
		RateBurst:       hc.RateBurst,
		ShutdownTimeout: hc.ShutdownTimeout.Duration,
	}, a.bus, opts...)
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

func (b *bootstrapper) initMonitor() error {
	a := b.app
	if !a.opts.Monitor {
		return nil
	}
	if a.opts.Screen != nil {
		a.monitor = monitor.New(a.opts.Screen, a.bus, a.opts.MonitorOptions...)
		return nil
	}
	m, err := monitor.NewTerminal(a.bus, a.opts.MonitorOptions...)
	if err != nil {
		return err
	}
	a.monitor = m
	return nil
}

// cleanup releases whatever bootstrap had started.
func (b *bootstrapper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), b.app.closeTimeout())
	defer cancel()
	if err := b.app.release(ctx); err != nil {
		b.app.logger.Warn("cleanup after failed start: %v", err)
	}
}
