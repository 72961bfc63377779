package policies

// FallbackPolicy always routes to the default provider. Recovery from a
// failure is left to the manager's fallback order.
type FallbackPolicy struct {
	*BasePolicy
}

// NewFallbackPolicy creates a new fallback routing policy.
func NewFallbackPolicy() *FallbackPolicy {
	return &FallbackPolicy{
		BasePolicy: NewBasePolicy(
			StrategyFallback,
			"Routes every request to the default provider and relies on the fallback order when it fails",
		),
	}
}

// DecideRoute returns the default provider.
func (p *FallbackPolicy) DecideRoute(_ []Candidate, defaultProvider string) RoutingDecision {
	return RoutingDecision{
		ProviderName: defaultProvider,
		Reason:       "default provider",
	}
}
