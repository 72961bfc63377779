package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/semantrix/genroute/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaude_Generate(t *testing.T) {
	var got claudeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, claudeAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(claudeResponse{
			ID:    "msg_1",
			Model: "claude-3-haiku-20240307",
			Content: []claudeContent{
				{Type: "text", Text: " Bonjour "},
			},
			Usage: claudeUsage{InputTokens: 12, OutputTokens: 4},
		})
	}))
	defer server.Close()

	p := NewClaudeProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

	temp := 0.1
	result, err := p.Generate(context.Background(), &models.GenerationRequest{
		SystemPrompt: "translate to french",
		Messages:     []models.Message{{Role: models.RoleUser, Content: "hello"}},
		Options:      models.Options{Temperature: &temp, Stop: []string{"END"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bonjour", result.Text)
	assert.Equal(t, "claude", result.ProviderUsed)
	assert.Equal(t, models.Usage{PromptTokens: 12, CompletionTokens: 4, TotalTokens: 16}, result.Usage)

	assert.Equal(t, "translate to french", got.System)
	assert.Equal(t, 0.1, got.Temperature)
	assert.Equal(t, 1.0, got.TopP)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.Equal(t, []string{"END"}, got.StopSequences)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestClaude_RateLimitIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error"}}`))
	}))
	defer server.Close()

	p := NewClaudeProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

	_, err := p.Generate(context.Background(), &models.GenerationRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	})
	require.Error(t, err)

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	assert.True(t, perr.Retryable)
	assert.Contains(t, err.Error(), "rate_limit_error")
}

func TestClaude_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	p := NewClaudeProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL})

	_, err := p.Generate(context.Background(), &models.GenerationRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}
