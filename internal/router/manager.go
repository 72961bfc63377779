// Package router selects a provider for each generation request, falls back
// through a configured order on failure and keeps health, usage and cost
// bookkeeping for every call.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/semantrix/genroute/internal/cost"
	"github.com/semantrix/genroute/internal/models"
	"github.com/semantrix/genroute/internal/observability"
	"github.com/semantrix/genroute/internal/providers"
	"github.com/semantrix/genroute/internal/router/health"
	"github.com/semantrix/genroute/internal/router/policies"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const probePrompt = "ping"

// Config holds the routing configuration.
type Config struct {
	DefaultProvider string        `mapstructure:"default_provider"`
	FallbackOrder   []string      `mapstructure:"fallback_order"`
	Strategy        string        `mapstructure:"strategy" validate:"omitempty,oneof=fallback round-robin best-performance"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
}

// ProviderInfo describes a provider for callers and operators.
type ProviderInfo struct {
	Model        string        `json:"model"`
	Configured   bool          `json:"configured"`
	Healthy      bool          `json:"healthy"`
	SuccessRate  float64       `json:"success_rate"`
	AvgLatency   time.Duration `json:"avg_latency"`
	SuccessCount int64         `json:"success_count"`
	ErrorCount   int64         `json:"error_count"`
	LastChecked  time.Time     `json:"last_checked,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats is the manager-wide usage snapshot.
type Stats struct {
	TotalRequests int64                   `json:"total_requests"`
	Strategy      string                  `json:"strategy"`
	Providers     map[string]ProviderInfo `json:"providers"`
}

// CostStats bundles the cost tracker views.
type CostStats struct {
	Summary   map[string]cost.ProviderCost `json:"summary"`
	Projected map[string]float64           `json:"projected"`
	Daily     map[string]float64           `json:"daily"`
	Monthly   map[string]float64           `json:"monthly"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer sets the tracer used for generation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// WithCostTracker replaces the default cost tracker.
func WithCostTracker(tracker *cost.Tracker) Option {
	return func(m *Manager) {
		m.costs = tracker
	}
}

// WithClock overrides the time source for health staleness and latency.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager routes generation requests across providers.
type Manager struct {
	config    Config
	providers map[string]providers.Provider
	order     []string
	fallback  []string
	policy    policies.RoutingPolicy

	health *health.Tracker
	stats  *statsRegistry
	costs  *cost.Tracker

	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time

	totalRequests atomic.Int64
}

// New creates a manager over provs, which are registered in slice order.
func New(cfg Config, provs []providers.Provider, opts ...Option) (*Manager, error) {
	m := &Manager{
		config:    cfg,
		providers: make(map[string]providers.Provider, len(provs)),
		stats:     newStatsRegistry(),
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/semantrix/genroute/internal/router"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.costs == nil {
		m.costs = cost.NewTracker(nil, cost.WithClock(m.now))
	}

	for _, p := range provs {
		if p == nil {
			continue
		}
		name := p.Name()
		if _, dup := m.providers[name]; dup {
			m.logger.Warn("Duplicate provider ignored", zap.String("provider", name))
			continue
		}
		m.providers[name] = p
		m.order = append(m.order, name)
	}
	if len(m.order) == 0 {
		return nil, ErrNoProviders
	}

	policy, err := policies.New(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	m.policy = policy
	m.config.Strategy = policy.GetName()

	if m.config.DefaultProvider == "" {
		m.config.DefaultProvider = m.order[0]
	}
	if _, ok := m.providers[m.config.DefaultProvider]; !ok {
		return nil, fmt.Errorf("%w: default provider %q (available: %s)",
			ErrUnknownProvider, m.config.DefaultProvider, strings.Join(m.order, ", "))
	}

	for _, name := range cfg.FallbackOrder {
		if _, ok := m.providers[name]; !ok {
			m.logger.Warn("Fallback provider not configured, dropping", zap.String("provider", name))
			continue
		}
		m.fallback = append(m.fallback, name)
	}
	if len(cfg.FallbackOrder) == 0 {
		m.fallback = append([]string(nil), m.order...)
	}

	m.health = health.NewTracker(cfg.StaleAfter, m.now)
	m.config.StaleAfter = m.health.StaleAfter()
	m.config.FallbackOrder = m.fallback

	m.logger.Info("Provider manager initialized",
		zap.Strings("providers", m.order),
		zap.String("default_provider", m.config.DefaultProvider),
		zap.Strings("fallback_order", m.fallback),
		zap.String("strategy", m.config.Strategy))

	return m, nil
}

// Generate serves req. A non-empty preferred provider bypasses the strategy.
// The caller receives either a result or a single error: ErrUnknownProvider
// for an unregistered preferred provider, or *AllProvidersFailedError once
// every candidate failed or was skipped.
func (m *Manager) Generate(ctx context.Context, req *models.GenerationRequest, preferred string) (*models.GenerationResult, error) {
	m.totalRequests.Add(1)
	if req == nil {
		return nil, ErrInvalidRequest
	}

	ctx, span := m.tracer.Start(ctx, "router.Generate", trace.WithAttributes(
		attribute.String("genroute.strategy", m.config.Strategy),
		attribute.String("genroute.preferred_provider", preferred),
	))
	defer span.End()

	target := preferred
	if target == "" {
		decision := m.policy.DecideRoute(m.candidates(), m.config.DefaultProvider)
		target = decision.ProviderName
		m.metrics.RecordRoutingDecision(m.config.Strategy, target)
		m.logger.Debug("Routing decision",
			zap.String("request_id", req.RequestID),
			zap.String("provider", target),
			zap.String("reason", decision.Reason))
	}

	p, ok := m.providers[target]
	if !ok {
		err := fmt.Errorf("%w: %q (available: %s)", ErrUnknownProvider, target, strings.Join(m.order, ", "))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var attempts []Attempt
	if m.health.IsAvailable(target) {
		result, err := m.attempt(ctx, p, req)
		if err == nil {
			m.complete(ctx, result, "")
			span.SetAttributes(attribute.String("genroute.provider", result.ProviderUsed))
			return result, nil
		}
		attempts = append(attempts, Attempt{Provider: target, Err: err})
		m.logger.Warn("Provider failed, falling back",
			zap.String("request_id", req.RequestID),
			zap.String("provider", target),
			zap.Error(err))
	} else {
		attempts = append(attempts, Attempt{Provider: target, Err: ErrProviderUnhealthy, Skipped: true})
		m.logger.Info("Provider unhealthy, skipping to fallback",
			zap.String("request_id", req.RequestID),
			zap.String("provider", target))
	}

	result, err := m.runFallback(ctx, req, target, attempts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("genroute.provider", result.ProviderUsed),
		attribute.Bool("genroute.fallback", true),
	)
	return result, nil
}

// runFallback tries the fallback order sequentially, never retrying excluded.
func (m *Manager) runFallback(ctx context.Context, req *models.GenerationRequest, excluded string, attempts []Attempt) (*models.GenerationResult, error) {
	for _, name := range m.fallback {
		if name == excluded {
			continue
		}
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Provider: name, Err: err, Skipped: true})
			break
		}
		if !m.health.IsAvailable(name) {
			attempts = append(attempts, Attempt{Provider: name, Err: ErrProviderUnhealthy, Skipped: true})
			continue
		}

		result, err := m.attempt(ctx, m.providers[name], req)
		if err != nil {
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			m.logger.Warn("Fallback provider failed",
				zap.String("request_id", req.RequestID),
				zap.String("provider", name),
				zap.Error(err))
			continue
		}

		m.complete(ctx, result, excluded)
		m.metrics.RecordFallback(excluded, name)
		m.logger.Info("Request served by fallback provider",
			zap.String("request_id", req.RequestID),
			zap.String("original_provider", excluded),
			zap.String("provider", name))
		return result, nil
	}

	err := newAllProvidersFailedError(excluded, attempts)
	m.logger.Error("All providers failed",
		zap.String("request_id", req.RequestID),
		zap.Int("attempts", len(attempts)),
		zap.Error(err))
	return nil, err
}

// attempt calls one provider and records stats and health for the outcome.
func (m *Manager) attempt(ctx context.Context, p providers.Provider, req *models.GenerationRequest) (*models.GenerationResult, error) {
	name := p.Name()
	ctx, span := m.tracer.Start(ctx, "provider.Generate", trace.WithAttributes(
		attribute.String("genroute.provider", name),
		attribute.String("genroute.model", p.Model()),
	))
	defer span.End()

	start := m.now()
	result, err := p.Generate(ctx, req)
	latency := m.now().Sub(start)
	if err == nil && result == nil {
		err = fmt.Errorf("provider %s returned no result", name)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.stats.recordFailure(name)
		m.metrics.RecordGeneration(name, p.Model(), false, 0)
		m.metrics.RecordProviderError(name, errorType(err))
		if ctx.Err() == nil {
			m.markUnhealthy(name, err)
		}
		return nil, err
	}

	m.stats.recordSuccess(name, latency)
	m.metrics.RecordGeneration(name, p.Model(), true, latency)
	m.markHealthy(name)

	if result.ProviderUsed == "" {
		result.ProviderUsed = name
	}
	if result.RequestID == "" {
		result.RequestID = req.RequestID
	}
	result.Latency = latency
	return result, nil
}

// complete annotates result and applies cost accounting. Accounting failures
// are reported on the result and never fail the request.
func (m *Manager) complete(ctx context.Context, result *models.GenerationResult, originalProvider string) {
	result.FallbackUsed = originalProvider != ""
	result.OriginalProvider = originalProvider
	result.Cost = m.costs.CalculateCost(result.ProviderUsed, result.Usage)

	if result.Usage.Empty() {
		return
	}
	if err := m.costs.RecordCost(result.ProviderUsed, result.Usage, result.Cost); err != nil {
		result.Accounting = models.SideEffect{Err: err}
		m.logger.Warn("Cost accounting failed",
			zap.String("request_id", result.RequestID),
			zap.String("provider", result.ProviderUsed),
			zap.Error(err))
		return
	}
	result.Accounting = models.SideEffect{Applied: true}
	m.metrics.RecordCost(ctx, result.ProviderUsed, result.Cost, result.Usage.PromptTokens, result.Usage.CompletionTokens)
}

func (m *Manager) markHealthy(name string) {
	m.health.MarkHealthy(name)
	m.metrics.RecordProviderHealth(name, true)
}

func (m *Manager) markUnhealthy(name string, err error) {
	m.health.MarkUnhealthy(name, err)
	m.metrics.RecordProviderHealth(name, false)
}

// candidates builds the routing view of every provider in registration order.
func (m *Manager) candidates() []policies.Candidate {
	out := make([]policies.Candidate, 0, len(m.order))
	for _, name := range m.order {
		s := m.stats.get(name)
		out = append(out, policies.Candidate{
			Name:         name,
			Available:    m.health.IsAvailable(name),
			SuccessCount: s.SuccessCount,
			ErrorCount:   s.ErrorCount,
			AvgLatency:   s.AvgLatency(),
		})
	}
	return out
}

// ListProviders returns provider names in registration order.
func (m *Manager) ListProviders() []string {
	return append([]string(nil), m.order...)
}

// Config returns the effective configuration after defaults were applied.
func (m *Manager) Config() Config {
	cfg := m.config
	cfg.FallbackOrder = append([]string(nil), m.fallback...)
	return cfg
}

// ProvidersInfo describes every registered provider.
func (m *Manager) ProvidersInfo() map[string]ProviderInfo {
	info := make(map[string]ProviderInfo, len(m.order))
	for _, name := range m.order {
		p := m.providers[name]
		s := m.stats.get(name)
		pi := ProviderInfo{
			Model:        p.Model(),
			Configured:   p.Configured(),
			Healthy:      m.health.IsAvailable(name),
			SuccessRate:  s.SuccessRate(),
			AvgLatency:   s.AvgLatency(),
			SuccessCount: s.SuccessCount,
			ErrorCount:   s.ErrorCount,
		}
		if rec, ok := m.health.Record(name); ok {
			pi.LastChecked = rec.LastChecked
			pi.LastError = rec.Error
		}
		info[name] = pi
	}
	return info
}

// Stats returns request totals and per-provider information.
func (m *Manager) Stats() Stats {
	return Stats{
		TotalRequests: m.totalRequests.Load(),
		Strategy:      m.config.Strategy,
		Providers:     m.ProvidersInfo(),
	}
}

// CostStats returns the cost summary, projection and raw ledgers.
func (m *Manager) CostStats() CostStats {
	return CostStats{
		Summary:   m.costs.Summary(),
		Projected: m.costs.ProjectedMonthlyCost(),
		Daily:     m.costs.Daily(),
		Monthly:   m.costs.Monthly(),
	}
}

// CostTracker returns the tracker used for accounting.
func (m *Manager) CostTracker() *cost.Tracker {
	return m.costs
}

// TestAllProviders sends a trivial prompt to every provider concurrently and
// records each outcome as a health verdict. A provider is healthy when it
// answers with non-empty text.
func (m *Manager) TestAllProviders(ctx context.Context) map[string]models.ProbeResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]models.ProbeResult, len(m.order))
	)

	maxTokens := 5
	for _, name := range m.order {
		wg.Add(1)
		go func(name string, p providers.Provider) {
			defer wg.Done()

			req := &models.GenerationRequest{
				Messages:  []models.Message{{Role: models.RoleUser, Content: probePrompt}},
				Options:   models.Options{MaxTokens: &maxTokens},
				RequestID: "probe-" + name,
			}

			start := m.now()
			res, err := p.Generate(ctx, req)
			probe := models.ProbeResult{Latency: m.now().Sub(start)}

			switch {
			case err != nil:
				probe.Error = err.Error()
				m.markUnhealthy(name, err)
			case res == nil || strings.TrimSpace(res.Text) == "":
				probe.Error = "empty response"
				m.markUnhealthy(name, fmt.Errorf("empty response"))
			default:
				probe.Healthy = true
				m.markHealthy(name)
			}

			mu.Lock()
			results[name] = probe
			mu.Unlock()
		}(name, m.providers[name])
	}
	wg.Wait()

	return results
}

// Close releases every provider.
func (m *Manager) Close() error {
	var err error
	for _, name := range m.order {
		err = multierr.Append(err, m.providers[name].Close())
	}
	return err
}
