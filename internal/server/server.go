// Package server hosts keeperd's HTTP surface: the echo engine, shared
// middleware, health and readiness endpoints, and graceful lifecycle.
// Feature packages register their routes on Echo().
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/finderskeepers/keeperd/internal/logging"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// ShutdownTimeout bounds graceful drain on stop. Default 30s.
	ShutdownTimeout time.Duration

	// BodyLimit is the echo body-limit spec for uploads. Default "64M".
	BodyLimit string

	// WebhookRPS / WebhookBurst tune the per-IP webhook rate limit.
	// Defaults: 50 events/s with bursts of 100.
	WebhookRPS   float64
	WebhookBurst int
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	// Port 0 binds an ephemeral port; the daemon config layer supplies the
	// real default.
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.BodyLimit == "" {
		c.BodyLimit = "64M"
	}
	if c.WebhookRPS <= 0 {
		c.WebhookRPS = 50
	}
	if c.WebhookBurst <= 0 {
		c.WebhookBurst = 100
	}
	return c
}

// ReadyCheck reports whether one dependency is usable.
type ReadyCheck func(ctx context.Context) error

// Server wraps echo with keeperd's middleware stack and lifecycle.
type Server struct {
	echo *echo.Echo
	cfg  Config
	log  *logging.Logger

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastSweep   time.Time
	readyChecks map[string]ReadyCheck
}

// New builds the server with recovery, request IDs, request logging, and
// a body limit installed. Routes /health and /ready are registered.
func New(cfg Config, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	cfg = cfg.withDefaults()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:        e,
		cfg:         cfg,
		log:         log.Named("http"),
		limiters:    map[string]*rate.Limiter{},
		lastSweep:   time.Now(),
		readyChecks: map[string]ReadyCheck{},
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestLogger)
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	e.GET("/health", s.handleHealth)
	e.GET("/ready", s.handleReady)

	return s
}

// Echo exposes the router for route registration.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// RegisterReadiness adds a named dependency probe to /ready.
func (s *Server) RegisterReadiness(name string, check ReadyCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyChecks[name] = check
}

// Start serves until ctx is cancelled, then drains gracefully. Returns
// http.ErrServerClosed on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.Addr()); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "keeperd",
	})
}

// handleReady runs the registered dependency probes. Any failure yields
// 503 with the failing dependency names.
func (s *Server) handleReady(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	s.mu.Lock()
	checks := make(map[string]ReadyCheck, len(s.readyChecks))
	for name, check := range s.readyChecks {
		checks[name] = check
	}
	s.mu.Unlock()

	failing := map[string]string{}
	for name, check := range checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":  "unavailable",
			"failing": failing,
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		req := c.Request()
		res := c.Response()
		s.log.Info(req.Context(), "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", res.Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

// WebhookRateLimit returns per-IP rate limiting middleware for the webhook
// endpoints. Over-limit requests get 429 without touching the handler.
func (s *Server) WebhookRateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !s.limiterFor(ip).Allow() {
				s.log.Warn(c.Request().Context(), "rate limit exceeded", zap.String("ip", ip))
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": "rate limit exceeded",
				})
			}
			return next(c)
		}
	}
}

// limiterFor returns the per-IP limiter, resetting the table hourly so it
// cannot grow without bound.
func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastSweep) > time.Hour {
		s.limiters = map[string]*rate.Limiter{}
		s.lastSweep = time.Now()
	}

	limiter, ok := s.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.WebhookRPS), s.cfg.WebhookBurst)
		s.limiters[ip] = limiter
	}
	return limiter
}
