package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/semantrix/genroute/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatGPT_Generate(t *testing.T) {
	var got openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "\n42 "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 2, "total_tokens": 9}
		}`))
	}))
	defer server.Close()

	p := NewChatGPTProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})

	penalty := 0.5
	result, err := p.Generate(context.Background(), &models.GenerationRequest{
		SystemPrompt: "answer with a number",
		Messages:     []models.Message{{Role: models.RoleUser, Content: "meaning of life?"}},
		Options:      models.Options{FrequencyPenalty: &penalty},
	})
	require.NoError(t, err)

	assert.Equal(t, "42", result.Text)
	assert.Equal(t, "chatgpt", result.ProviderUsed)
	assert.Equal(t, "gpt-4o-mini", result.Model)
	assert.Equal(t, models.Usage{PromptTokens: 7, CompletionTokens: 2, TotalTokens: 9}, result.Usage)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "answer with a number", got.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, got.Messages[1].Role)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.InDelta(t, 0.7, got.Temperature, 1e-6)
	assert.InDelta(t, 0.5, got.FrequencyPenalty, 1e-6)
}

func TestChatGPT_APIErrorKeepsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "upstream exploded", "type": "server_error"}}`))
	}))
	defer server.Close()

	p := NewChatGPTProvider(ProviderConfig{APIKey: "test-key", BaseURL: server.URL + "/v1"})

	_, err := p.Generate(context.Background(), &models.GenerationRequest{
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var perr *models.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusInternalServerError, perr.StatusCode)
	assert.True(t, perr.Retryable)
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestChatGPT_ClientIsCreatedOnce(t *testing.T) {
	p := NewChatGPTProvider(ProviderConfig{APIKey: "k"})
	assert.Same(t, p.openAIClient(), p.openAIClient())
}
