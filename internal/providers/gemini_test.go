package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/semantrix/genroute/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc, retries int) *GeminiProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewGeminiProvider(ProviderConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		MaxRetries: retries,
		RetryDelay: time.Millisecond,
	})
}

func TestGemini_Generate(t *testing.T) {
	var got geminiRequest
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.RawQuery)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		resp := geminiResponse{
			Candidates: []geminiCandidate{{
				Content: geminiContent{Parts: []geminiPart{{Text: "  Hello "}, {Text: "from mock!\n"}}},
			}},
			UsageMetadata: geminiUsageMetadata{PromptTokenCount: 10, CandidatesTokenCount: 20},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}, 0)

	topK := 40
	result, err := p.Generate(context.Background(), &models.GenerationRequest{
		SystemPrompt: "be brief",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
			{Role: models.RoleUser, Content: "again"},
		},
		Options: models.Options{TopK: &topK},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello from mock!", result.Text)
	assert.Equal(t, "gemini", result.ProviderUsed)
	assert.Equal(t, "gemini-1.5-flash", result.Model)
	assert.Equal(t, models.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30}, result.Usage)
	assert.NotNil(t, result.Raw)

	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "be brief", got.SystemInstruction.Parts[0].Text)
	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, 0.7, got.GenerationConfig.Temperature)
	assert.Equal(t, 1000, got.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, 0.95, got.GenerationConfig.TopP)
	require.NotNil(t, got.GenerationConfig.TopK)
	assert.Equal(t, 40, *got.GenerationConfig.TopK)
}

func TestGemini_ErrorStatusPropagates(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}, 0)

	_, err := p.Generate(context.Background(), &models.GenerationRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusUnauthorized, perr.StatusCode)
	assert.Equal(t, "gemini", perr.Provider)
	assert.False(t, perr.Retryable)
	assert.True(t, strings.Contains(err.Error(), "bad key"))
}

func TestGemini_RetriesTransientFailures(t *testing.T) {
	var calls int32
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(geminiResponse{
			Candidates: []geminiCandidate{{Content: geminiContent{Parts: []geminiPart{{Text: "ok"}}}}},
		})
	}, 2)

	result, err := p.Generate(context.Background(), &models.GenerationRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGemini_NoCandidates(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}, 0)

	_, err := p.Generate(context.Background(), &models.GenerationRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestGemini_BlockedPrompt(t *testing.T) {
	p := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	}, 0)

	_, err := p.Generate(context.Background(), &models.GenerationRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGemini_TransportErrorOmitsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	p := NewGeminiProvider(ProviderConfig{
		APIKey:     "SUPERSECRETKEY",
		BaseURL:    server.URL,
		RetryDelay: time.Millisecond,
	})

	_, err := p.Generate(context.Background(), &models.GenerationRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SUPERSECRETKEY")

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Retryable)
}
