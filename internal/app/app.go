// Package app wires the bus and its surrounding services into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Alnajaar/nilelink-sub003/internal/api"
	"github.com/Alnajaar/nilelink-sub003/internal/archive"
	"github.com/Alnajaar/nilelink-sub003/internal/bridge"
	"github.com/Alnajaar/nilelink-sub003/internal/config"
	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/event/events"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
	"github.com/Alnajaar/nilelink-sub003/internal/mirror"
	"github.com/Alnajaar/nilelink-sub003/internal/monitor"
	"github.com/Alnajaar/nilelink-sub003/internal/rules"
	"github.com/Alnajaar/nilelink-sub003/internal/scheduler"
)

// Source is the metadata source of lifecycle events.
const Source = "nilebus"

// Options configures an App beyond its config file.
type Options struct {
	// Logger replaces the logger built from the log section.
	Logger *logging.Logger

	// Monitor draws the terminal dashboard while running.
	Monitor bool

	// Screen is the monitor's screen. Nil means the controlling terminal.
	Screen tcell.Screen

	// MonitorOptions are passed to the monitor.
	MonitorOptions []monitor.Option

	// Listener serves the HTTP API instead of listening on http.addr.
	Listener net.Listener

	// Version is reported in the APP_STARTED payload.
	Version string
}

// App owns every component of a running nilebus process.
type App struct {
	cfg    *config.Config
	opts   Options
	logger *logging.Logger
	logOut io.Closer

	bus       *event.Bus
	archive   *archive.Archive
	mirror    *mirror.Mirror
	bridge    *bridge.Bridge
	installer *rules.Installer
	watcher   *rules.Watcher
	scheduler *scheduler.Scheduler
	registry  *prometheus.Registry
	server    *api.Server
	monitor   *monitor.Monitor

	running  atomic.Bool
	stopOnce sync.Once
	stopErr  error
}

// New validates cfg and starts every enabled component. On error nothing
// is left running.
func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, opts: opts}
	if opts.Logger != nil {
		a.logger = opts.Logger
	} else {
		l, closer, err := openLogger(cfg.Log)
		if err != nil {
			return nil, &InitError{Component: "logger", Err: err}
		}
		a.logger, a.logOut = l, closer
	}

	if err := newBootstrapper(a).bootstrap(); err != nil {
		return nil, err
	}
	return a, nil
}

// Bus returns the event bus.
func (a *App) Bus() *event.Bus { return a.bus }

// Installer returns the rule installer.
func (a *App) Installer() *rules.Installer { return a.installer }

// Scheduler returns the scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Archive returns the archive, or nil when disabled.
func (a *App) Archive() *archive.Archive { return a.archive }

// Server returns the HTTP server, or nil when disabled.
func (a *App) Server() *api.Server { return a.server }

// Run serves until ctx is done, the HTTP server fails or the monitor is
// quit, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.scheduler.Start()
	a.announce(ctx, events.AppStarted)

	var wg sync.WaitGroup
	errc := make(chan error, 2)

	if a.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if a.opts.Listener != nil {
				err = a.server.Serve(ctx, a.opts.Listener)
			} else {
				err = a.server.Run(ctx)
			}
			if err != nil {
				errc <- fmt.Errorf("http api: %w", err)
				return
			}
			errc <- nil
		}()
	}

	if a.monitor != nil {
		quiet := logsToTerminal(a.cfg.Log) && a.opts.Logger == nil
		if quiet {
			a.logger.Disable()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.monitor.Run(ctx)
			if quiet {
				a.logger.Enable()
			}
			errc <- err
		}()
	}

	var runErr error
	if a.server == nil && a.monitor == nil {
		<-ctx.Done()
	} else {
		select {
		case <-ctx.Done():
		case runErr = <-errc:
		}
	}
	cancel()
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.closeTimeout())
	defer stop()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

func (a *App) announce(ctx context.Context, t event.Type) {
	payload := map[string]any{"version": a.opts.Version}
	if err := a.bus.Publish(ctx, event.NewEvent(t, payload, event.Metadata{Source: Source})); err != nil {
		a.logger.Warn("publishing %s: %v", t, err)
	}
}

// Shutdown stops every component. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		if a.bus != nil {
			a.announce(ctx, events.AppStopped)
		}
		a.stopErr = a.release(ctx)
		if a.stopErr == nil {
			a.logger.Info("shut down cleanly")
		}
		if a.logOut != nil {
			_ = a.logOut.Close()
		}
	})
	return a.stopErr
}

// release stops the producers, drains the bus, then closes the sinks the
// drain was feeding. Components that never started are skipped.
func (a *App) release(ctx context.Context) error {
	var errs []error
	collect := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if a.server != nil {
		a.server.Close()
	}
	if a.scheduler != nil {
		collect("scheduler", a.scheduler.Stop(ctx))
	}
	if a.watcher != nil {
		collect("rules watcher", a.watcher.Close())
	}
	if a.bus != nil {
		collect("event bus", a.bus.Close(ctx))
	}
	if a.installer != nil {
		collect("rules", a.installer.Close(ctx))
	}
	if a.bridge != nil {
		collect("nats bridge", a.bridge.Close())
	}
	if a.mirror != nil {
		collect("mirror", a.mirror.Close())
	}
	if a.archive != nil {
		collect("archive", a.archive.Close())
	}
	return errors.Join(errs...)
}

func (a *App) closeTimeout() time.Duration {
	if d := a.cfg.Bus.CloseTimeout.Duration; d > 0 {
		return d
	}
	return 5 * time.Second
}
