// Package policies implements the strategies used to pick the first provider
// attempted for a generation request.
package policies

import (
	"errors"
	"fmt"
	"time"
)

// Strategy names.
const (
	StrategyFallback        = "fallback"
	StrategyRoundRobin      = "round-robin"
	StrategyBestPerformance = "best-performance"
)

// ErrUnknownStrategy is returned by New for an unrecognised strategy name.
var ErrUnknownStrategy = errors.New("unknown routing strategy")

// Candidate is the routing view of one registered provider.
type Candidate struct {
	Name         string
	Available    bool // false while a fresh health record marks it unhealthy
	SuccessCount int64
	ErrorCount   int64
	AvgLatency   time.Duration
}

// SuccessRate returns the observed success ratio, or 1 when nothing was observed.
func (c Candidate) SuccessRate() float64 {
	total := c.SuccessCount + c.ErrorCount
	if total == 0 {
		return 1
	}
	return float64(c.SuccessCount) / float64(total)
}

// RoutingDecision represents the result of a routing policy decision.
type RoutingDecision struct {
	ProviderName string  `json:"provider_name"`
	Reason       string  `json:"reason"`
	Score        float64 `json:"score,omitempty"`
}

// RoutingPolicy selects the provider to try first. Candidates are given in
// registration order; defaultProvider is always one of them.
type RoutingPolicy interface {
	// DecideRoute picks a provider name from candidates.
	DecideRoute(candidates []Candidate, defaultProvider string) RoutingDecision

	// GetName returns the name of this routing policy.
	GetName() string

	// GetDescription returns a description of how this policy works.
	GetDescription() string
}

// BasePolicy provides common functionality for all routing policies.
type BasePolicy struct {
	name        string
	description string
}

// NewBasePolicy creates a new base policy.
func NewBasePolicy(name, description string) *BasePolicy {
	return &BasePolicy{
		name:        name,
		description: description,
	}
}

// GetName returns the policy name.
func (p *BasePolicy) GetName() string {
	return p.name
}

// GetDescription returns the policy description.
func (p *BasePolicy) GetDescription() string {
	return p.description
}

// New returns the policy registered under name. An empty name selects the
// fallback policy.
func New(name string) (RoutingPolicy, error) {
	switch name {
	case StrategyFallback, "":
		return NewFallbackPolicy(), nil
	case StrategyRoundRobin:
		return NewRoundRobinPolicy(), nil
	case StrategyBestPerformance:
		return NewBestPerformancePolicy(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
}
