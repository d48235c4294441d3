// Package httpapi exposes the admission pipeline over HTTP.
package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout is the maximum time to wait for in-flight requests during
// graceful shutdown.
const shutdownTimeout = 30 * time.Second

var exposedHeaders = []string{
	"Retry-After",
	"X-RateLimit-Remaining",
	"X-RateLimit-Reset",
	echo.HeaderXRequestID,
}

// Config holds the HTTP server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., ":8080").
	Listen string

	// MaxBodyBytes bounds the request body; larger bodies get 413.
	MaxBodyBytes int64

	// CORSAllowedOrigins enables CORS for the listed origins. Empty
	// disables the CORS middleware.
	CORSAllowedOrigins []string

	// TrustProxyHeaders makes CF-Connecting-IP and X-Forwarded-For the
	// client identity.
	TrustProxyHeaders bool

	// ThrottleRPS and ThrottleBurst configure the per-client token bucket
	// applied before the pipeline. Zero RPS disables it.
	ThrottleRPS   float64
	ThrottleBurst int

	// TLSConfig enables HTTPS when non-nil.
	TLSConfig *tls.Config
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHealthCheck makes /healthz depend on fn.
func WithHealthCheck(fn HealthFunc) Option {
	return func(s *Server) { s.health = fn }
}

// WithClock overrides the time source used for response timestamps and the
// throttle.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server serves the contact endpoint, health and metrics.
type Server struct {
	cfg      Config
	echo     *echo.Echo
	throttle *ThrottleStore
	health   HealthFunc
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server that hands submissions to sub.
func New(cfg Config, sub Submitter, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.ThrottleRPS > 0 {
		s.throttle = NewThrottleStore(cfg.ThrottleRPS, cfg.ThrottleBurst, WithThrottleClock(s.now))
	}
	s.echo = s.newRouter(sub)
	return s
}

func (s *Server) newRouter(sub Submitter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(s.logger, s.now)

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(RequestLoggerMiddleware(s.logger))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			s.logger.Error("panic in http handler",
				"error", err,
				"path", c.Request().URL.Path,
				"stack", string(stack),
			)
			return err
		},
	}))
	if len(s.cfg.CORSAllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  s.cfg.CORSAllowedOrigins,
			AllowMethods:  []string{http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderContentType, HeaderAPIKey},
			ExposeHeaders: exposedHeaders,
			MaxAge:        86400,
		}))
	}

	identity := ClientIP(s.cfg.TrustProxyHeaders)
	h := &contactHandler{
		submitter: sub,
		identity:  identity,
		health:    s.health,
		logger:    s.logger,
	}

	var submitMW []echo.MiddlewareFunc
	if s.cfg.MaxBodyBytes > 0 {
		submitMW = append(submitMW, middleware.BodyLimit(strconv.FormatInt(s.cfg.MaxBodyBytes, 10)))
	}
	if s.throttle != nil {
		submitMW = append(submitMW, ThrottleMiddleware(s.throttle, identity))
	}

	e.POST("/", h.Submit, submitMW...)
	e.POST("/contact", h.Submit, submitMW...)
	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// ListenAndServe starts the server and blocks until the context is cancelled
// or the listener fails. On cancellation it stops accepting connections and
// waits up to 30 seconds for in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	if s.cfg.TLSConfig != nil {
		ln = tls.NewListener(ln, s.cfg.TLSConfig)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	if s.throttle != nil {
		s.throttle.StartJanitor(ctx)
	}

	s.logger.Info("HTTP server listening",
		"addr", ln.Addr().String(),
		"tls_enabled", s.cfg.TLSConfig != nil,
		"cors_origins", len(s.cfg.CORSAllowedOrigins),
		"throttle_enabled", s.throttle != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown timeout reached, forcing close", "error", err)
		_ = srv.Close()
		return nil
	}
	s.logger.Info("all requests completed")
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
