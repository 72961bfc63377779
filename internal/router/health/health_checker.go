package health

import (
	"context"
	"sync"
	"time"

	"github.com/semantrix/genroute/internal/models"
	"go.uber.org/zap"
)

// ProbeFunc probes every registered provider and reports per-provider results.
type ProbeFunc func(ctx context.Context) map[string]models.ProbeResult

// HealthChecker periodically runs a probe sweep over all providers.
type HealthChecker struct {
	probe         ProbeFunc
	checkInterval time.Duration
	timeout       time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	logger        *zap.Logger
	metrics       map[string]*ProviderMetrics
	metricsMutex  sync.RWMutex
}

// ProviderMetrics tracks sweep results for a provider.
type ProviderMetrics struct {
	TotalChecks      int64         `json:"total_checks"`
	SuccessfulChecks int64         `json:"successful_checks"`
	FailedChecks     int64         `json:"failed_checks"`
	LastCheck        time.Time     `json:"last_check"`
	LastLatency      time.Duration `json:"last_latency"`
	LastError        string        `json:"last_error,omitempty"`
	Uptime           float64       `json:"uptime"`
}

// NewHealthChecker creates a new health checker instance.
func NewHealthChecker(probe ProbeFunc, checkInterval, timeout time.Duration, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		probe:         probe,
		checkInterval: checkInterval,
		timeout:       timeout,
		stopChan:      make(chan struct{}),
		logger:        logger,
		metrics:       make(map[string]*ProviderMetrics),
	}
}

// Start begins the health checking loop. It is a no-op when the interval is not positive.
func (hc *HealthChecker) Start() {
	if hc.checkInterval <= 0 {
		hc.logger.Info("Health checker disabled")
		return
	}
	hc.wg.Add(1)
	go hc.run()
	hc.logger.Info("Health checker started", zap.Duration("interval", hc.checkInterval))
}

// Stop stops the health checking loop and waits for an in-flight sweep.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() {
		close(hc.stopChan)
	})
	hc.wg.Wait()
	hc.logger.Info("Health checker stopped")
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hc.checkAllProviders(context.Background())
		case <-hc.stopChan:
			return
		}
	}
}

// checkAllProviders runs one sweep bounded by ctx and the configured timeout,
// and folds the results into the metrics.
func (hc *HealthChecker) checkAllProviders(ctx context.Context) map[string]models.ProbeResult {
	if hc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.timeout)
		defer cancel()
	}

	results := hc.probe(ctx)
	now := time.Now()

	hc.metricsMutex.Lock()
	defer hc.metricsMutex.Unlock()

	for name, res := range results {
		metrics := hc.metrics[name]
		if metrics == nil {
			metrics = &ProviderMetrics{}
			hc.metrics[name] = metrics
		}

		metrics.TotalChecks++
		metrics.LastCheck = now
		metrics.LastLatency = res.Latency
		metrics.LastError = res.Error

		if res.Healthy {
			metrics.SuccessfulChecks++
			hc.logger.Debug("Provider health check successful",
				zap.String("provider", name),
				zap.Duration("latency", res.Latency))
		} else {
			metrics.FailedChecks++
			hc.logger.Warn("Provider health check failed",
				zap.String("provider", name),
				zap.Duration("latency", res.Latency),
				zap.String("error", res.Error))
		}

		metrics.Uptime = float64(metrics.SuccessfulChecks) / float64(metrics.TotalChecks) * 100
	}

	return results
}

// ForceHealthCheck runs a sweep immediately and returns its results. Cancelling
// ctx cancels the in-flight probes.
func (hc *HealthChecker) ForceHealthCheck(ctx context.Context) map[string]models.ProbeResult {
	hc.logger.Info("Forcing health check for all providers")
	return hc.checkAllProviders(ctx)
}

// GetAllProviderMetrics returns a copy of the sweep metrics for all providers.
func (hc *HealthChecker) GetAllProviderMetrics() map[string]ProviderMetrics {
	hc.metricsMutex.RLock()
	defer hc.metricsMutex.RUnlock()

	result := make(map[string]ProviderMetrics, len(hc.metrics))
	for name, metrics := range hc.metrics {
		result[name] = *metrics
	}
	return result
}

// GetCheckInterval returns the sweep interval.
func (hc *HealthChecker) GetCheckInterval() time.Duration {
	return hc.checkInterval
}
