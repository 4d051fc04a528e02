// Package scheduler publishes configured events on cron schedules.
//
// Specs take five or six fields (seconds optional) or a descriptor such as
// "@hourly" or "@every 30s".
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

// DefaultSource is the source of scheduled events that do not name one.
const DefaultSource = "scheduler"

var (
	// ErrDuplicateJob is returned when a job name is already registered.
	ErrDuplicateJob = errors.New("duplicate job name")

	// ErrUnknownJob is returned by Fire for a name that is not registered.
	ErrUnknownJob = errors.New("unknown job")

	// ErrInvalidJob is returned for a job missing its name or type.
	ErrInvalidJob = errors.New("invalid job")
)

var parser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSpec parses a cron spec.
func ParseSpec(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing cron spec %q: %w", spec, err)
	}
	return sched, nil
}

// Job describes one scheduled publication.
type Job struct {
	Name     string
	Spec     string
	Type     event.Type
	Source   string
	Priority event.Priority
	Payload  map[string]any
}

// JobStatus is a snapshot of a registered job.
type JobStatus struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Type    string    `json:"type"`
	NextRun time.Time `json:"nextRun"`
	LastRun time.Time `json:"lastRun"`
	LastErr string    `json:"lastError,omitempty"`
	Runs    int       `json:"runs"`
}

type entry struct {
	job Job
	id  cron.EntryID

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLocation sets the time zone specs are evaluated in. The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// Scheduler runs jobs that publish events on a bus.
type Scheduler struct {
	bus      event.Publisher
	logger   *logging.Logger
	location *time.Location
	cron     *cron.Cron

	mu      sync.RWMutex
	jobs    map[string]*entry
	started bool
}

// New creates a stopped scheduler that publishes on bus.
func New(bus event.Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		bus:      bus,
		logger:   logging.Nop(),
		location: time.UTC,
		jobs:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scheduler")
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.location),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
		cron.WithLogger(cronLogger{s.logger}),
	)
	return s
}

// Add registers a job. It may be called before or after Start.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Type == "" {
		return fmt.Errorf("%w: name and type are required", ErrInvalidJob)
	}
	if job.Priority != "" && !job.Priority.Valid() {
		return fmt.Errorf("%w: %s: priority %q", ErrInvalidJob, job.Name, job.Priority)
	}
	sched, err := ParseSpec(job.Spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	if job.Source == "" {
		job.Source = DefaultSource
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	e := &entry{job: job}
	e.id = s.cron.Schedule(sched, cron.FuncJob(func() {
		s.run(context.Background(), e)
	}))
	s.jobs[job.Name] = e

	s.logger.Info("scheduled %s (%s) publishing %s", job.Name, job.Spec, job.Type)
	return nil
}

// Remove unregisters a job. It reports whether the job existed.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	delete(s.jobs, name)
	return true
}

// Fire runs a job immediately, outside its schedule.
func (s *Scheduler) Fire(ctx context.Context, name string) error {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(ctx, e)
}

func (s *Scheduler) run(ctx context.Context, e *entry) error {
	job := e.job
	evt := event.Event{
		Type: job.Type,
		Metadata: event.Metadata{
			Source:   job.Source,
			Priority: job.Priority,
		},
	}
	if job.Payload != nil {
		evt.Payload = maps.Clone(job.Payload)
	}
	err := s.bus.Publish(ctx, evt)

	e.mu.Lock()
	e.lastRun = time.Now().In(s.location)
	e.lastErr = err
	e.runs++
	e.mu.Unlock()

	if err != nil {
		s.logger.Warn("job %s: publishing %s: %v", job.Name, job.Type, err)
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	s.logger.Debug("job %s published %s", job.Name, job.Type)
	return nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("started with %d jobs", len(s.jobs))
}

// Stop halts scheduling and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs returns the status of every job, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		st := JobStatus{
			Name:    e.job.Name,
			Spec:    e.job.Spec,
			Type:    string(e.job.Type),
			NextRun: s.cron.Entry(e.id).Next,
		}
		e.mu.Lock()
		st.LastRun = e.lastRun
		st.Runs = e.runs
		if e.lastErr != nil {
			st.LastErr = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts the process logger to cron.Logger.
type cronLogger struct {
	l *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.WithFields(pairs(keysAndValues)).Debug("%s", msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.WithFields(pairs(keysAndValues)).Error("%s: %v", msg, err)
}

func pairs(kv []any) map[string]any {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
