// Package cost converts token usage into cost estimates and keeps per-provider
// daily, monthly and all-time ledgers in memory.
package cost

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/semantrix/genroute/internal/models"
)

const (
	keySeparator  = ":"
	dayLayout     = "2006-01-02"
	monthLayout   = "2006-01"
	tokensPerUnit = 1_000_000
)

var (
	// ErrInvalidProvider is returned when a provider name cannot be used as a ledger key.
	ErrInvalidProvider = errors.New("invalid provider name for cost ledger")

	// ErrInvalidCost is returned for negative or non-finite costs.
	ErrInvalidCost = errors.New("invalid cost")
)

// ProviderCost summarises the cost recorded for one provider.
type ProviderCost struct {
	Total     float64 `json:"total"`
	Today     float64 `json:"today"`
	ThisMonth float64 `json:"this_month"`
	Tokens    int64   `json:"tokens"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source used to pick ledger periods.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithRetention drops daily ledger entries older than the given number of days.
func WithRetention(days int) Option {
	return func(t *Tracker) {
		t.retentionDays = days
	}
}

// Tracker accumulates costs per provider. It is safe for concurrent use.
type Tracker struct {
	mu            sync.RWMutex
	pricing       PricingTable
	daily         map[string]float64
	monthly       map[string]float64
	total         map[string]float64
	tokens        map[string]int64
	now           func() time.Time
	retentionDays int
}

// NewTracker creates a tracker using the given pricing table. A nil table
// selects DefaultPricing.
func NewTracker(pricing PricingTable, opts ...Option) *Tracker {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	t := &Tracker{
		pricing: pricing.Clone(),
		daily:   make(map[string]float64),
		monthly: make(map[string]float64),
		total:   make(map[string]float64),
		tokens:  make(map[string]int64),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// CalculateCost returns the cost of usage for provider. Unknown providers and
// empty usage cost nothing.
func (t *Tracker) CalculateCost(provider string, usage models.Usage) float64 {
	if usage.Empty() {
		return 0
	}

	t.mu.RLock()
	p, ok := t.pricing[provider]
	t.mu.RUnlock()
	if !ok {
		return 0
	}

	prompt := float64(max(usage.PromptTokens, 0))
	completion := float64(max(usage.CompletionTokens, 0))
	return prompt/tokensPerUnit*p.InputPerMillion + completion/tokensPerUnit*p.OutputPerMillion
}

// RecordCost adds cost to the provider's ledgers for the current UTC day and month.
func (t *Tracker) RecordCost(provider string, usage models.Usage, cost float64) error {
	if provider == "" || strings.Contains(provider, keySeparator) {
		return fmt.Errorf("%w: %q", ErrInvalidProvider, provider)
	}
	if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}

	now := t.now().UTC()
	day := now.Format(dayLayout)
	month := now.Format(monthLayout)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.daily[ledgerKey(provider, day)] += cost
	t.monthly[ledgerKey(provider, month)] += cost
	t.total[provider] += cost
	if usage.TotalTokens > 0 {
		t.tokens[provider] += int64(usage.TotalTokens)
	} else {
		t.tokens[provider] += int64(max(usage.PromptTokens, 0) + max(usage.CompletionTokens, 0))
	}

	if t.retentionDays > 0 {
		t.pruneLocked(now.AddDate(0, 0, -t.retentionDays).Format(dayLayout))
	}
	return nil
}

// pruneLocked removes daily entries for periods before cutoff.
func (t *Tracker) pruneLocked(cutoff string) {
	for key := range t.daily {
		if _, period, ok := splitKey(key); ok && period < cutoff {
			delete(t.daily, key)
		}
	}
}

// Summary returns total, today and this-month cost per provider.
func (t *Tracker) Summary() map[string]ProviderCost {
	now := t.now().UTC()
	day := now.Format(dayLayout)
	month := now.Format(monthLayout)

	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := make(map[string]ProviderCost, len(t.total))
	for provider, total := range t.total {
		summary[provider] = ProviderCost{Total: total, Tokens: t.tokens[provider]}
	}
	for key, v := range t.daily {
		provider, period, ok := splitKey(key)
		if !ok || period != day {
			continue
		}
		pc := summary[provider]
		pc.Today += v
		summary[provider] = pc
	}
	for key, v := range t.monthly {
		provider, period, ok := splitKey(key)
		if !ok || period != month {
			continue
		}
		pc := summary[provider]
		pc.ThisMonth += v
		summary[provider] = pc
	}
	return summary
}

// ProjectedMonthlyCost extrapolates today's cost linearly over the current
// month. Providers with no cost today are omitted.
func (t *Tracker) ProjectedMonthlyCost() map[string]float64 {
	now := t.now().UTC()
	dayOfMonth := float64(now.Day())
	days := float64(daysInMonth(now))

	projected := make(map[string]float64)
	for provider, pc := range t.Summary() {
		if pc.Today == 0 {
			continue
		}
		projected[provider] = pc.Today / dayOfMonth * days
	}
	return projected
}

// Daily returns a copy of the daily ledger keyed by "provider:YYYY-MM-DD".
func (t *Tracker) Daily() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyLedger(t.daily)
}

// Monthly returns a copy of the monthly ledger keyed by "provider:YYYY-MM".
func (t *Tracker) Monthly() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyLedger(t.monthly)
}

// ReloadPricing replaces the pricing table. Costs already recorded are kept.
func (t *Tracker) ReloadPricing(pricing PricingTable) error {
	if err := pricing.Validate(); err != nil {
		return err
	}
	clone := pricing.Clone()

	t.mu.Lock()
	t.pricing = clone
	t.mu.Unlock()
	return nil
}

func ledgerKey(provider, period string) string {
	return provider + keySeparator + period
}

// splitKey splits on the first separator only; the period may contain it too.
func splitKey(key string) (provider, period string, ok bool) {
	return strings.Cut(key, keySeparator)
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func copyLedger(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
