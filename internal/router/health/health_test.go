package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/semantrix/genroute/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTracker_UnknownProviderIsAvailable(t *testing.T) {
	tracker := NewTracker(0, nil)

	assert.True(t, tracker.IsAvailable("gemini"))
	_, ok := tracker.Record("gemini")
	assert.False(t, ok)
	assert.Equal(t, DefaultStaleAfter, tracker.StaleAfter())
}

func TestTracker_MarkUnhealthy(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	tracker := NewTracker(5*time.Minute, clock.Now)

	tracker.MarkUnhealthy("gemini", errors.New("quota exceeded"))
	assert.False(t, tracker.IsAvailable("gemini"))

	rec, ok := tracker.Record("gemini")
	require.True(t, ok)
	assert.False(t, rec.Healthy)
	assert.Equal(t, "quota exceeded", rec.Error)
	assert.Equal(t, clock.Now(), rec.LastChecked)

	tracker.MarkHealthy("gemini")
	assert.True(t, tracker.IsAvailable("gemini"))
}

func TestTracker_StaleRecordIsIgnored(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	tracker := NewTracker(5*time.Minute, clock.Now)

	tracker.MarkUnhealthy("claude", nil)

	clock.Advance(5 * time.Minute)
	assert.False(t, tracker.IsAvailable("claude"), "record is still authoritative at the window edge")

	clock.Advance(time.Millisecond)
	assert.True(t, tracker.IsAvailable("claude"))
	assert.NotContains(t, tracker.Snapshot(), "claude")
}

func TestTracker_Snapshot(t *testing.T) {
	tracker := NewTracker(time.Minute, nil)
	tracker.MarkHealthy("gemini")
	tracker.MarkUnhealthy("chatgpt", errors.New("boom"))

	snap := tracker.Snapshot()
	require.Len(t, snap, 2)
	assert.True(t, snap["gemini"].Healthy)
	assert.False(t, snap["chatgpt"].Healthy)

	tracker.Reset()
	assert.Empty(t, tracker.Snapshot())
}

func TestHealthChecker_ForceHealthCheck(t *testing.T) {
	probe := func(ctx context.Context) map[string]models.ProbeResult {
		return map[string]models.ProbeResult{
			"gemini": {Healthy: true, Latency: 20 * time.Millisecond},
			"claude": {Healthy: false, Error: "unauthorized"},
		}
	}
	hc := NewHealthChecker(probe, 0, time.Second, zaptest.NewLogger(t))

	results := hc.ForceHealthCheck(context.Background())
	assert.Len(t, results, 2)

	hc.ForceHealthCheck(context.Background())
	metrics := hc.GetAllProviderMetrics()
	require.Contains(t, metrics, "gemini")
	require.Contains(t, metrics, "claude")

	assert.Equal(t, int64(2), metrics["gemini"].TotalChecks)
	assert.Equal(t, int64(2), metrics["gemini"].SuccessfulChecks)
	assert.Equal(t, 100.0, metrics["gemini"].Uptime)
	assert.Equal(t, int64(2), metrics["claude"].FailedChecks)
	assert.Equal(t, 0.0, metrics["claude"].Uptime)
	assert.Equal(t, "unauthorized", metrics["claude"].LastError)
}

func TestHealthChecker_ProbeGetsDeadline(t *testing.T) {
	var hasDeadline bool
	probe := func(ctx context.Context) map[string]models.ProbeResult {
		_, hasDeadline = ctx.Deadline()
		return nil
	}
	NewHealthChecker(probe, 0, time.Second, nil).ForceHealthCheck(context.Background())
	assert.True(t, hasDeadline)
}

func TestHealthChecker_ForceHealthCheckHonoursCallerContext(t *testing.T) {
	var probeErr error
	probe := func(ctx context.Context) map[string]models.ProbeResult {
		probeErr = ctx.Err()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewHealthChecker(probe, 0, time.Minute, nil).ForceHealthCheck(ctx)
	assert.ErrorIs(t, probeErr, context.Canceled)
}

func TestHealthChecker_StartStop(t *testing.T) {
	var sweeps int32
	probe := func(ctx context.Context) map[string]models.ProbeResult {
		atomic.AddInt32(&sweeps, 1)
		return map[string]models.ProbeResult{"gemini": {Healthy: true}}
	}
	hc := NewHealthChecker(probe, 5*time.Millisecond, time.Second, zaptest.NewLogger(t))

	hc.Start()
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sweeps) >= 2
	}, time.Second, time.Millisecond)
	hc.Stop()
	hc.Stop()

	stopped := atomic.LoadInt32(&sweeps)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&sweeps))
}

func TestHealthChecker_DisabledInterval(t *testing.T) {
	hc := NewHealthChecker(func(ctx context.Context) map[string]models.ProbeResult {
		t.Fatal("probe must not run")
		return nil
	}, 0, 0, nil)

	hc.Start()
	hc.Stop()
	assert.Zero(t, hc.GetCheckInterval())
}
