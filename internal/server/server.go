// Package server exposes the scoring engine over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crimson-sun/fraudlens/internal/health"
	"github.com/crimson-sun/fraudlens/internal/logging"
	"github.com/crimson-sun/fraudlens/internal/metrics"
	"github.com/crimson-sun/fraudlens/internal/model"
	"github.com/crimson-sun/fraudlens/internal/output"
	"github.com/crimson-sun/fraudlens/internal/output/realtime"
)

const serviceName = "fraudlens"

// Scorer is the subset of the engine the server needs.
type Scorer interface {
	Predict(ctx context.Context, txn model.Transaction) (model.ScoredTransaction, error)
	PredictBatch(ctx context.Context, txns []model.Transaction) model.BatchResult
}

// readier is implemented by scorers whose models can be released.
type readier interface {
	Ready() bool
}

// Config holds listener settings.
type Config struct {
	Addr            string
	Version         string
	ShutdownTimeout time.Duration
}

// Server is the HTTP front end: predictions, health, metrics and the live
// result feed.
type Server struct {
	cfg    Config
	scorer Scorer
	hub    *realtime.Hub // nil disables /stream
	out    output.Output // nil disables result mirroring
	health *health.Registry
	logger *slog.Logger
	router *gin.Engine

	mu      sync.Mutex
	httpSrv *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHub enables the /stream WebSocket feed. Every scored result is
// broadcast to it.
func WithHub(h *realtime.Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithOutput mirrors every scored result to out.
func WithOutput(out output.Output) Option {
	return func(s *Server) { s.out = out }
}

// WithHealth replaces the health registry. The "models" check is always
// registered on top of it.
func WithHealth(r *health.Registry) Option {
	return func(s *Server) { s.health = r }
}

// New creates a server over sc. sc must be non-nil: the server is only
// built once artifacts have loaded.
func New(cfg Config, sc Scorer, opts ...Option) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		scorer: sc,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = health.NewRegistry()
	}
	s.health.Register("models", s.modelsCheck)

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// modelsCheck fails once a scorer that reports readiness has released its
// models. Scorers without a Ready method always pass.
func (s *Server) modelsCheck(context.Context) health.Status {
	if r, ok := s.scorer.(readier); ok && !r.Ready() {
		return health.Status{Healthy: false, Detail: "artifacts not loaded"}
	}
	return health.Status{Healthy: true}
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.rootHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.POST("/predict", s.predictHandler)
	s.router.POST("/predict/batch", s.predictBatchHandler)

	if s.hub != nil {
		s.router.GET("/stream", gin.WrapF(s.hub.HandleWebSocket))
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully. The hub,
// if any, runs for the lifetime of the server.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	if s.hub != nil {
		go s.hub.Run(runCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.cfg.Addr, "version", s.cfg.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown requested")
	}
	return s.Shutdown()
}

// Shutdown stops accepting requests and waits for in-flight ones up to the
// configured timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
