// Package api serves the bus over HTTP.
//
// Reads are open. Routes that publish or delete require an HS256 bearer
// token when a secret is configured, and publish routes are rate limited
// per client address. GET /v1/stream upgrades to a websocket that receives
// every processed event.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Alnajaar/nilelink-sub003/internal/archive"
	"github.com/Alnajaar/nilelink-sub003/internal/event"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
	"github.com/Alnajaar/nilelink-sub003/internal/metrics"
	"github.com/Alnajaar/nilelink-sub003/internal/scheduler"
)

// DefaultSource is set on published events that do not name a source.
const DefaultSource = "api"

// Bus is the part of the event bus the server uses. *event.Bus satisfies it.
type Bus interface {
	event.Publisher
	PublishBatch(ctx context.Context, events []event.Event) error
	EventHistory(filter event.FilterFunc, limit int) []event.Event
	ClearHistory()
	Metrics() event.Metrics
	Flush(ctx context.Context) error
	Rules() []event.RuleInfo
	AddRule(r event.Rule) (string, error)
	RemoveRule(id string) bool
}

// Archive reads stored events.
type Archive interface {
	Recent(ctx context.Context, q archive.Query) ([]event.Event, error)
}

// Scheduler lists and fires scheduled jobs.
type Scheduler interface {
	Jobs() []scheduler.JobStatus
	Fire(ctx context.Context, name string) error
}

// Config configures a Server.
type Config struct {
	Addr string

	// JWTSecret enables bearer authentication on mutating routes.
	JWTSecret string

	// CORSOrigins lists allowed origins. "*" allows all; empty disables CORS.
	CORSOrigins []string

	// RateLimit is publish requests per second per client; zero disables it.
	RateLimit float64
	RateBurst int

	ShutdownTimeout time.Duration
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithArchive serves GET /v1/archive from a.
func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

// WithScheduler serves the /v1/schedules routes from sch.
func WithScheduler(sch Scheduler) Option {
	return func(s *Server) { s.scheduler = sch }
}

// WithRegistry serves GET /metrics from reg.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// Server is the HTTP front end of the bus.
type Server struct {
	cfg       Config
	bus       Bus
	archive   Archive
	scheduler Scheduler
	registry  *prometheus.Registry
	logger    *logging.Logger

	engine   *gin.Engine
	limiter  *limiter
	hub      *hub
	upgrader *websocket.Upgrader
	ruleID   string
}

// New builds the server and attaches the stream rule to bus.
func New(cfg Config, bus Bus, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		bus:    bus,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")
	if cfg.ShutdownTimeout <= 0 {
		s.cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.RateLimit > 0 {
		s.limiter = newLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.hub = newHub(s.logger)
	s.upgrader = newUpgrader(cfg.CORSOrigins)

	id, err := bus.AddRule(event.NewRule(StreamRuleName, event.All(), s.hub))
	if err != nil {
		return nil, fmt.Errorf("attaching stream: %w", err)
	}
	s.ruleID = id

	s.engine = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	if c, ok := corsConfig(s.cfg.CORSOrigins); ok {
		r.Use(cors.New(c))
	}

	r.GET("/health", s.health)
	if s.registry != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))
	}

	v1 := r.Group("/v1")
	v1.GET("/metrics", s.busMetrics)
	v1.GET("/events", s.listEvents)
	v1.GET("/rules", s.listRules)
	v1.GET("/stream", s.stream)
	if s.archive != nil {
		v1.GET("/archive", s.listArchive)
	}
	if s.scheduler != nil {
		v1.GET("/schedules", s.listSchedules)
	}

	protected := v1.Group("")
	protected.Use(authenticate([]byte(s.cfg.JWTSecret)))
	{
		publish := protected.Group("")
		publish.Use(s.limiter.middleware())
		publish.POST("/events", s.publishEvent)
		publish.POST("/events/batch", s.publishBatch)

		protected.DELETE("/events", s.clearHistory)
		protected.DELETE("/rules/:id", s.removeRule)
		if s.scheduler != nil {
			protected.POST("/schedules/:name/fire", s.fireSchedule)
		}
	}
	return r
}

func corsConfig(origins []string) (cors.Config, bool) {
	if len(origins) == 0 {
		return cors.Config{}, false
	}
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c, true
		}
	}
	c.AllowOrigins = origins
	return c, true
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening on %s", ln.Addr())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// Close detaches the stream rule and disconnects stream clients.
func (s *Server) Close() {
	s.bus.RemoveRule(s.ruleID)
	s.hub.closeAll()
}

func requestLogger(l *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.WithFields(map[string]any{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}).Debug("request")
	}
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
