package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/tphakala/gordon-go/internal/capture"
	"github.com/tphakala/gordon-go/internal/category"
	"github.com/tphakala/gordon-go/internal/datastore"
	"github.com/tphakala/gordon-go/internal/errors"
	"github.com/tphakala/gordon-go/internal/logger"
	"github.com/tphakala/gordon-go/internal/quotes"
	"github.com/tphakala/gordon-go/internal/session"
)

// CaptureControl starts and stops the capture loop.
type CaptureControl interface {
	Start(ctx context.Context) (capture.StartResult, error)
	Stop(ctx context.Context) error
	Status() capture.Snapshot
}

// SessionControl drives narration sessions.
type SessionControl interface {
	StartSession(id string, events []session.QuoteEvent, start time.Time) (session.StartResult, error)
	StopSession(id string) session.StopResult
	Status(id string) session.Status
	Sessions() []string
}

// CategoryReader exposes stored frames.
type CategoryReader interface {
	Stats() map[string]category.Stats
	Entries(label string) ([]category.Entry, error)
	ReadBlob(label, name string) ([]byte, error)
}

// History reads persisted observations and sessions.
type History interface {
	RecentObservations(ctx context.Context, limit int) ([]datastore.Observation, error)
	AcceptedByLabel(ctx context.Context, since time.Time) ([]datastore.LabelCount, error)
	RecentSessions(ctx context.Context, limit int) ([]datastore.SessionRecord, error)
}

// Server is the HTTP control surface.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	capture    CaptureControl
	sessions   SessionControl
	categories CategoryReader
	generator  quotes.Generator
	history    History
	metrics    http.Handler
	ttsEnabled bool

	statsCache *cache.Cache
	startTime  time.Time
	now        func() time.Time

	mu             sync.Mutex
	currentSession string
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithCapture sets the capture controller.
func WithCapture(c CaptureControl) ServerOption {
	return func(s *Server) { s.capture = c }
}

// WithSessions sets the session controller.
func WithSessions(sc SessionControl) ServerOption {
	return func(s *Server) { s.sessions = sc }
}

// WithCategories sets the category reader.
func WithCategories(cr CategoryReader) ServerOption {
	return func(s *Server) { s.categories = cr }
}

// WithGenerator sets the quote generator used when a start request carries
// a timeline but no quotes.
func WithGenerator(g quotes.Generator) ServerOption {
	return func(s *Server) { s.generator = g }
}

// WithHistory enables the history endpoints.
func WithHistory(h History) ServerOption {
	return func(s *Server) { s.history = h }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithTTSEnabled reports whether narration is audible.
func WithTTSEnabled(enabled bool) ServerOption {
	return func(s *Server) { s.ttsEnabled = enabled }
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// New creates a new HTTP server with the given configuration and options.
func New(config *Config, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:    config,
		log:       GetLogger(),
		startTime: time.Now(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.capture == nil || s.sessions == nil || s.categories == nil {
		return nil, errors.Newf("capture, session and category components are required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if config.StatsCacheTTL > 0 {
		s.statsCache = cache.New(config.StatsCacheTTL, 2*config.StatsCacheTTL)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Logger.SetLevel(log.OFF)
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout
	s.echo.HTTPErrorHandler = s.errorHandler

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Bool("rate_limited", config.RateLimit > 0))
	return s, nil
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(requestContext)
	s.echo.Use(newRequestLogger(s.log))
	s.echo.Use(echomw.BodyLimit(s.config.BodyLimit))

	if s.config.RateLimit > 0 {
		s.echo.Use(echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
			Skipper: func(c echo.Context) bool {
				p := c.Path()
				return p == "/api/health" || p == "/metrics"
			},
			Store: echomw.NewRateLimiterMemoryStoreWithConfig(
				echomw.RateLimiterMemoryStoreConfig{
					Rate:      rate.Limit(s.config.RateLimit),
					Burst:     rateLimitBurst,
					ExpiresIn: rateLimitWindow,
				},
			),
			IdentifierExtractor: func(c echo.Context) (string, error) {
				return c.RealIP(), nil
			},
			DenyHandler: func(c echo.Context, _ string, _ error) error {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "too many requests, please slow down",
				})
			},
		}))
	}
}

func (s *Server) setupRoutes() {
	s.echo.GET("/api/health", s.health)

	g := s.echo.Group("/api")
	g.POST("/session/start", s.startSession)
	g.POST("/session/stop", s.stopSession)
	g.GET("/session/status", s.sessionStatus)
	g.GET("/categories", s.listCategories)
	g.GET("/categories/:label/images", s.listImages)
	g.GET("/categories/:label/images/:name", s.getImage)

	if s.history != nil {
		g.GET("/history/observations", s.recentObservations)
		g.GET("/history/labels", s.labelCounts)
		g.GET("/history/sessions", s.recentSessions)
	}
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server starting", logger.String("address", s.config.Listen))
		errCh <- s.echo.Start(s.config.Listen)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Component("api").
				Category(errors.CategoryNetwork).
				Context("address", s.config.Listen).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if s.statsCache != nil {
		s.statsCache.Flush()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryTimeout).
			Context("operation", "shutdown").
			Build()
	}
	s.log.Info("HTTP server stopped")
	return nil
}
