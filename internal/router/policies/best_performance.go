package policies

import (
	"fmt"
	"math"
	"time"
)

// BestPerformancePolicy routes to the available provider with the best mix of
// success rate and latency.
type BestPerformancePolicy struct {
	*BasePolicy
	latencyCeiling time.Duration
	maxPenalty     float64
}

// NewBestPerformancePolicy creates a new best-performance routing policy.
func NewBestPerformancePolicy() *BestPerformancePolicy {
	return &BestPerformancePolicy{
		BasePolicy: NewBasePolicy(
			StrategyBestPerformance,
			"Routes to the healthy provider with the highest success rate weighted by average latency",
		),
		latencyCeiling: 5 * time.Second,
		maxPenalty:     0.5,
	}
}

// Score returns successRate × (1 − min(avgLatency/5s, 0.5)).
func (p *BestPerformancePolicy) Score(c Candidate) float64 {
	penalty := float64(c.AvgLatency) / float64(p.latencyCeiling)
	penalty = math.Min(math.Max(penalty, 0), p.maxPenalty)
	return c.SuccessRate() * (1 - penalty)
}

// DecideRoute picks the highest scoring available provider. Ties, or no
// available provider, resolve to the default provider.
func (p *BestPerformancePolicy) DecideRoute(candidates []Candidate, defaultProvider string) RoutingDecision {
	best, bestScore, tied := "", -1.0, false

	for _, c := range candidates {
		if !c.Available {
			continue
		}
		score := p.Score(c)
		switch {
		case score > bestScore:
			best, bestScore, tied = c.Name, score, false
		case score == bestScore:
			tied = true
		}
	}

	if best == "" {
		return RoutingDecision{ProviderName: defaultProvider, Reason: "no healthy provider scored"}
	}
	if tied {
		return RoutingDecision{
			ProviderName: defaultProvider,
			Reason:       fmt.Sprintf("tie at score %.4f", bestScore),
			Score:        bestScore,
		}
	}
	return RoutingDecision{
		ProviderName: best,
		Reason:       fmt.Sprintf("highest score %.4f", bestScore),
		Score:        bestScore,
	}
}
