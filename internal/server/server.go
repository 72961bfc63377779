package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/semantrix/genroute/internal/config"
	"github.com/semantrix/genroute/internal/observability"
	"github.com/semantrix/genroute/internal/router"
	"github.com/semantrix/genroute/internal/router/health"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// Server represents the HTTP API of the genroute service.
type Server struct {
	config        config.ServerConfig
	router        *chi.Mux
	manager       *router.Manager
	healthChecker *health.HealthChecker
	logger        *zap.Logger
	metrics       *observability.Metrics
	tracing       *observability.Tracing
	validate      *validator.Validate
	server        *http.Server
	version       string
	startedAt     time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records HTTP metrics and exposes the registry on /metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithTracing sets the tracing helper used for request spans.
func WithTracing(tracing *observability.Tracing) Option {
	return func(s *Server) {
		s.tracing = tracing
	}
}

// WithHealthChecker attaches the background probe sweep.
func WithHealthChecker(hc *health.HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(s *Server) {
		s.version = version
	}
}

// NewServer creates a new server instance over manager.
func NewServer(cfg config.ServerConfig, manager *router.Manager, opts ...Option) *Server {
	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		manager:   manager,
		logger:    zap.NewNop(),
		validate:  validator.New(),
		version:   "dev",
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracing == nil {
		s.tracing = observability.NewTracing(observability.TracingConfig{ServiceName: "genroute"})
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// setupRoutes configures the HTTP routes and middleware.
func (s *Server) setupRoutes() {
	origins := s.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Add middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.observabilityMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))

	// Health check endpoint
	s.router.Get("/health", s.handleHealthCheck)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	// API v1 routes
	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/providers", s.handleListProviders)
		r.Get("/providers/info", s.handleProvidersInfo)
		r.Get("/stats", s.handleStats)
		r.Get("/costs", s.handleCosts)
	})

	// Admin routes
	s.router.Route("/admin", func(r chi.Router) {
		r.Post("/providers/test", s.handleTestProviders)
	})
}

// requestIDMiddleware propagates the caller's request ID or assigns a new one.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// requestID returns the request ID assigned by requestIDMiddleware.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// observabilityMiddleware adds observability features to requests.
func (s *Server) observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := s.tracing.StartSpanWithAttributes(r.Context(), "http_request", map[string]string{
			"http.method":     r.Method,
			"http.url":        r.URL.String(),
			"http.user_agent": r.UserAgent(),
			"http.request_id": requestID(r.Context()),
		}, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		// Wrap response writer to capture status code
		wrappedWriter := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		duration := time.Since(start)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.RecordRequest(r.Method, route, wrappedWriter.statusCode, duration)

		span.SetAttributes(
			attribute.Int("http.status_code", wrappedWriter.statusCode),
			attribute.Int64("http.duration_ms", duration.Milliseconds()),
		)

		s.logger.Info("HTTP request",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", route),
			zap.Int("status", wrappedWriter.statusCode),
			zap.Duration("duration", duration))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the health checker and begins accepting requests.
func (s *Server) Start() error {
	if s.healthChecker != nil {
		s.healthChecker.Start()
	}

	s.logger.Info("Starting genroute server",
		zap.Int("port", s.config.Port),
		zap.Strings("providers", s.manager.ListProviders()))

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server and releases the providers.
func (s *Server) Stop() error {
	s.logger.Info("Shutting down server...")

	if s.healthChecker != nil {
		s.healthChecker.Stop()
	}

	// Create shutdown context
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Shutdown server
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Error during server shutdown", zap.Error(err))
		return err
	}

	// Close providers
	if err := s.manager.Close(); err != nil {
		s.logger.Error("Error closing providers", zap.Error(err))
	}

	s.logger.Info("Server stopped")
	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM and then stops the server.
func (s *Server) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	return s.Stop()
}
