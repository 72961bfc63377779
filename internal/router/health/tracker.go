// Package health tracks per-provider health verdicts and runs background
// connectivity sweeps.
package health

import (
	"time"

	"github.com/semantrix/genroute/internal/cache"
	"github.com/semantrix/genroute/internal/models"
)

// DefaultStaleAfter is how long a health verdict stays authoritative.
const DefaultStaleAfter = 5 * time.Minute

// Tracker stores the latest health verdict per provider. Verdicts older than
// the staleness window are ignored, so a provider without a fresh record is
// treated as available.
type Tracker struct {
	records    cache.Cache[models.HealthRecord]
	staleAfter time.Duration
	now        func() time.Time
}

// NewTracker creates a tracker. A non-positive staleAfter selects
// DefaultStaleAfter; a nil clock selects time.Now.
func NewTracker(staleAfter time.Duration, now func() time.Time) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		records:    cache.NewMemoryCache[models.HealthRecord](cache.CacheConfig{TTL: staleAfter}, cache.WithClock(now)),
		staleAfter: staleAfter,
		now:        now,
	}
}

// StaleAfter returns the staleness window.
func (t *Tracker) StaleAfter() time.Duration {
	return t.staleAfter
}

// MarkHealthy records a successful interaction with provider.
func (t *Tracker) MarkHealthy(provider string) {
	t.records.Set(provider, models.HealthRecord{Healthy: true, LastChecked: t.now()}, 0)
}

// MarkUnhealthy records a failed interaction with provider.
func (t *Tracker) MarkUnhealthy(provider string, err error) {
	rec := models.HealthRecord{Healthy: false, LastChecked: t.now()}
	if err != nil {
		rec.Error = err.Error()
	}
	t.records.Set(provider, rec, 0)
}

// Record returns the fresh health record for provider, if any.
func (t *Tracker) Record(provider string) (models.HealthRecord, bool) {
	rec, ok := t.records.Get(provider)
	if !ok || !rec.Fresh(t.now(), t.staleAfter) {
		return models.HealthRecord{}, false
	}
	return rec, true
}

// IsAvailable reports whether provider may be selected: true unless a fresh
// record marks it unhealthy.
func (t *Tracker) IsAvailable(provider string) bool {
	rec, ok := t.Record(provider)
	return !ok || rec.Healthy
}

// Snapshot returns all fresh records keyed by provider.
func (t *Tracker) Snapshot() map[string]models.HealthRecord {
	out := make(map[string]models.HealthRecord)
	for _, name := range t.records.Keys() {
		if rec, ok := t.Record(name); ok {
			out[name] = rec
		}
	}
	return out
}

// Reset forgets every recorded verdict.
func (t *Tracker) Reset() {
	t.records.Clear()
}
