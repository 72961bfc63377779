package observability

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MetricsConfig holds configuration for metrics collection.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Metrics provides Prometheus metrics for the router. All Record methods are
// safe to call on a nil *Metrics.
type Metrics struct {
	config   MetricsConfig
	logger   *zap.Logger
	registry *prometheus.Registry
	exporter *otelprometheus.Exporter
	provider *metric.MeterProvider

	// HTTP metrics
	requestsTotal    *prometheus.CounterVec
	requestsDuration *prometheus.HistogramVec
	requestsErrors   *prometheus.CounterVec

	// Generation metrics
	generationsTotal *prometheus.CounterVec
	fallbacksTotal   *prometheus.CounterVec
	routingDecisions *prometheus.CounterVec

	// Provider metrics
	providerHealth  *prometheus.GaugeVec
	providerLatency *prometheus.HistogramVec
	providerErrors  *prometheus.CounterVec

	// Cost metrics
	providerCost   *prometheus.CounterVec
	providerTokens *prometheus.CounterVec
	costCounter    otelmetric.Float64Counter
}

// NewMetrics creates a new metrics instance backed by its own registry.
func NewMetrics(config MetricsConfig, logger *zap.Logger) (*Metrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Create Prometheus registry
	registry := prometheus.NewRegistry()

	// Create OpenTelemetry Prometheus exporter
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	// Create meter provider
	provider := metric.NewMeterProvider(metric.WithReader(exporter))

	m := &Metrics{
		config:   config,
		logger:   logger,
		registry: registry,
		exporter: exporter,
		provider: provider,
	}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() error {
	// HTTP metrics
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genroute_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	m.requestsDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genroute_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	m.requestsErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genroute_http_request_errors_total",
			Help: "Total number of HTTP request errors",
		},
		[]string{"method", "endpoint", "error_type"},
	)

	// Generation metrics
	m.generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genroute_generations_total",
			Help: "Total number of generation attempts by provider and outcome",
		},
		[]string{"provider_name", "outcome"},
	)

	m.fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genroute_fallbacks_total",
			Help: "Total number of requests served by a fallback provider",
		},
		[]string{"original_provider", "provider_name"},
	)

	m.routingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genroute_routing_decisions_total",
			Help: "Total number of routing decisions made",
		},
		[]string{"strategy", "provider_name"},
	)

	// Provider metrics
	m.providerHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "genroute_provider_health",
			Help: "Provider health status (1 = healthy, 0 = unhealthy)",
		},
		[]string{"provider_name"},
	)

	m.providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "genroute_provider_latency_seconds",
			Help:    "Provider response latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider_name", "model"},
	)

	m.providerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genroute_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider_name", "error_type"},
	)

	// Cost metrics
	m.providerCost = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genroute_provider_cost_usd_total",
			Help: "Estimated spend in USD",
		},
		[]string{"provider_name"},
	)

	m.providerTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "genroute_provider_tokens_total",
			Help: "Tokens consumed by kind",
		},
		[]string{"provider_name", "kind"},
	)

	// Register all metrics
	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.requestsDuration,
		m.requestsErrors,
		m.generationsTotal,
		m.fallbacksTotal,
		m.routingDecisions,
		m.providerHealth,
		m.providerLatency,
		m.providerErrors,
		m.providerCost,
		m.providerTokens,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}

	// Cost is also exported through the OpenTelemetry meter
	counter, err := m.provider.Meter("genroute").Float64Counter(
		"genroute.generation.cost",
		otelmetric.WithDescription("Estimated generation spend in USD"),
	)
	if err != nil {
		return err
	}
	m.costCounter = counter
	return nil
}

// RecordRequest records metrics for an HTTP request.
func (m *Metrics) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.requestsDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRequestError records metrics for a request error.
func (m *Metrics) RecordRequestError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.requestsErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// RecordGeneration records one generation attempt against a provider.
func (m *Metrics) RecordGeneration(providerName, model string, success bool, latency time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "error"
	}
	m.generationsTotal.WithLabelValues(providerName, outcome).Inc()
	if success {
		m.providerLatency.WithLabelValues(providerName, model).Observe(latency.Seconds())
	}
}

// RecordFallback records a request served by a provider other than the one first selected.
func (m *Metrics) RecordFallback(originalProvider, providerName string) {
	if m == nil {
		return
	}
	m.fallbacksTotal.WithLabelValues(originalProvider, providerName).Inc()
}

// RecordRoutingDecision records the provider chosen by a strategy.
func (m *Metrics) RecordRoutingDecision(strategy, providerName string) {
	if m == nil {
		return
	}
	m.routingDecisions.WithLabelValues(strategy, providerName).Inc()
}

// RecordProviderHealth updates the health status of a provider.
func (m *Metrics) RecordProviderHealth(providerName string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.providerHealth.WithLabelValues(providerName).Set(value)
}

// RecordProviderError records an error from a provider.
func (m *Metrics) RecordProviderError(providerName, errorType string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(providerName, errorType).Inc()
}

// RecordCost records spend and token usage for a provider.
func (m *Metrics) RecordCost(ctx context.Context, providerName string, cost float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	if cost > 0 {
		m.providerCost.WithLabelValues(providerName).Add(cost)
		m.costCounter.Add(ctx, cost, otelmetric.WithAttributes(attribute.String("provider", providerName)))
	}
	if promptTokens > 0 {
		m.providerTokens.WithLabelValues(providerName, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.providerTokens.WithLabelValues(providerName, "completion").Add(float64(completionTokens))
	}
}

// GetRegistry returns the Prometheus registry.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the OpenTelemetry meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// StartMetricsServer serves the registry on its own port until ctx is done.
func (m *Metrics) StartMetricsServer(ctx context.Context) error {
	if !m.config.Enabled {
		m.logger.Info("Metrics server disabled")
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(m.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	m.logger.Info("Metrics server started",
		zap.Int("port", m.config.Port),
		zap.String("path", path))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("Error shutting down metrics server", zap.Error(err))
	}
	return nil
}
