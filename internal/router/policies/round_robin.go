package policies

import (
	"fmt"
	"sync/atomic"
)

// RoundRobinPolicy cycles through the registered providers using its own
// cursor, advanced once per decision.
type RoundRobinPolicy struct {
	*BasePolicy
	cursor atomic.Uint64
}

// NewRoundRobinPolicy creates a new round-robin routing policy.
func NewRoundRobinPolicy() *RoundRobinPolicy {
	return &RoundRobinPolicy{
		BasePolicy: NewBasePolicy(
			StrategyRoundRobin,
			"Distributes requests evenly across providers in registration order",
		),
	}
}

// DecideRoute returns the next provider in rotation.
func (p *RoundRobinPolicy) DecideRoute(candidates []Candidate, defaultProvider string) RoutingDecision {
	if len(candidates) == 0 {
		return RoutingDecision{ProviderName: defaultProvider, Reason: "no candidates"}
	}

	n := p.cursor.Add(1) - 1
	idx := n % uint64(len(candidates))
	return RoutingDecision{
		ProviderName: candidates[idx].Name,
		Reason:       fmt.Sprintf("round-robin slot %d of %d", idx+1, len(candidates)),
	}
}
