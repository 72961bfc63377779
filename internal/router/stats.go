package router

import (
	"sync"
	"time"
)

// ProviderStats accumulates call outcomes for one provider.
type ProviderStats struct {
	SuccessCount int64         `json:"success_count"`
	ErrorCount   int64         `json:"error_count"`
	TotalLatency time.Duration `json:"total_latency"`
}

// SuccessRate returns the success ratio, or 1 before any call completed.
func (s ProviderStats) SuccessRate() float64 {
	total := s.SuccessCount + s.ErrorCount
	if total == 0 {
		return 1
	}
	return float64(s.SuccessCount) / float64(total)
}

// AvgLatency returns cumulative latency divided by the number of calls.
// Failed calls contribute zero latency.
func (s ProviderStats) AvgLatency() time.Duration {
	total := s.SuccessCount + s.ErrorCount
	if total == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(total)
}

// statsRegistry holds ProviderStats per provider behind a mutex.
type statsRegistry struct {
	mu         sync.Mutex
	byProvider map[string]*ProviderStats
}

func newStatsRegistry() *statsRegistry {
	return &statsRegistry{byProvider: make(map[string]*ProviderStats)}
}

func (r *statsRegistry) recordSuccess(provider string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entry(provider)
	s.SuccessCount++
	s.TotalLatency += latency
}

func (r *statsRegistry) recordFailure(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entry(provider).ErrorCount++
}

func (r *statsRegistry) get(provider string) ProviderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byProvider[provider]; ok {
		return *s
	}
	return ProviderStats{}
}

// entry must be called with mu held.
func (r *statsRegistry) entry(provider string) *ProviderStats {
	s, ok := r.byProvider[provider]
	if !ok {
		s = &ProviderStats{}
		r.byProvider[provider] = s
	}
	return s
}
