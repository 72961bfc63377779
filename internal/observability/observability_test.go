package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger_FileOutput(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(LoggerConfig{
		Level:      "debug",
		Format:     "json",
		OutputPath: filepath.Join(dir, "app.log"),
		ErrorPath:  filepath.Join(dir, "error.log"),
		MaxSizeMB:  1,
	})
	require.NoError(t, err)

	logger.Info("routing ready", zap.String("provider", "gemini"))
	logger.Error("provider failed")
	SyncLogger(logger)

	app, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(app), `"msg":"routing ready"`)
	assert.Contains(t, string(app), `"provider":"gemini"`)
	assert.Contains(t, string(app), `"timestamp"`)

	errs, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(errs), "routing ready")
	assert.Contains(t, string(errs), "provider failed")
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger(LoggerConfig{Level: "verbose", Format: "console"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}

func TestMetrics_Record(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{}, zap.NewNop())
	require.NoError(t, err)

	m.RecordGeneration("gemini", "gemini-1.5-flash", true, 200*time.Millisecond)
	m.RecordGeneration("gemini", "gemini-1.5-flash", false, 0)
	m.RecordFallback("gemini", "chatgpt")
	m.RecordRoutingDecision("fallback", "gemini")
	m.RecordProviderHealth("gemini", false)
	m.RecordProviderError("gemini", "rate_limited")
	m.RecordCost(context.Background(), "chatgpt", 0.75, 1000, 500)
	m.RecordRequest(http.MethodPost, "/v1/generate", http.StatusOK, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationsTotal.WithLabelValues("gemini", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generationsTotal.WithLabelValues("gemini", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacksTotal.WithLabelValues("gemini", "chatgpt")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.providerHealth.WithLabelValues("gemini")))
	assert.Equal(t, 0.75, testutil.ToFloat64(m.providerCost.WithLabelValues("chatgpt")))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.providerTokens.WithLabelValues("chatgpt", "completion")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "genroute_generations_total"))
	assert.True(t, strings.Contains(body, "genroute_generation_cost"), "otel counter is exported through the same registry")

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordGeneration("gemini", "m", true, time.Second)
		m.RecordCost(context.Background(), "gemini", 1, 1, 1)
		m.RecordProviderHealth("gemini", true)
	})
}

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewSpanExporter(t *testing.T) {
	var buf bytes.Buffer

	exp, err := newSpanExporter(context.Background(), TracingConfig{Exporter: "stdout"}, &buf)
	require.NoError(t, err)
	assert.NoError(t, exp.Shutdown(context.Background()))

	_, err = newSpanExporter(context.Background(), TracingConfig{Exporter: "zipkin"}, &buf)
	assert.Error(t, err)
}

func TestTracing_Helpers(t *testing.T) {
	tr := NewTracing(TracingConfig{ServiceName: "genroute"})
	assert.False(t, tr.IsEnabled())

	ctx, span := tr.StartSpanWithAttributes(context.Background(), "op", map[string]string{"k": "v"})
	defer span.End()
	assert.NotPanics(t, func() {
		tr.RecordError(ctx, assert.AnError, nil)
	})
}
