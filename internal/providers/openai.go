package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
	"github.com/semantrix/genroute/internal/models"
)

const chatGPTDefaultModel = "gpt-4o-mini"

// ChatGPTProvider implements the Provider interface for OpenAI chat completions.
type ChatGPTProvider struct {
	*BaseProvider

	once   sync.Once
	client *openai.Client
}

// NewChatGPTProvider creates a new ChatGPT provider instance.
func NewChatGPTProvider(config ProviderConfig) *ChatGPTProvider {
	if config.Name == "" {
		config.Name = NameChatGPT
	}
	if config.Model == "" {
		config.Model = chatGPTDefaultModel
	}
	return &ChatGPTProvider{BaseProvider: NewBaseProvider(config)}
}

// openAIClient lazily creates the vendor client on first use.
func (p *ChatGPTProvider) openAIClient() *openai.Client {
	p.once.Do(func() {
		clientConfig := openai.DefaultConfig(p.config.APIKey)
		if p.config.BaseURL != "" {
			clientConfig.BaseURL = p.config.BaseURL
		}
		clientConfig.HTTPClient = p.httpClient()
		p.client = openai.NewClientWithConfig(clientConfig)
	})
	return p.client
}

// Generate creates a chat completion using OpenAI's API.
func (p *ChatGPTProvider) Generate(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	openAIReq := p.convertToOpenAIRequest(req)

	var resp openai.ChatCompletionResponse
	err := p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		resp, err = p.openAIClient().CreateChatCompletion(ctx, openAIReq)
		if err != nil {
			return p.providerError(req, statusCodeOf(err), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, p.providerError(req, 0, fmt.Errorf("openai api returned no choices"))
	}

	model := resp.Model
	if model == "" {
		model = p.Model()
	}

	return &models.GenerationResult{
		RequestID:    req.RequestID,
		Text:         strings.TrimSpace(resp.Choices[0].Message.Content),
		ProviderUsed: p.Name(),
		Model:        model,
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Raw: resp,
	}, nil
}

// convertToOpenAIRequest converts the unified request to OpenAI format.
func (p *ChatGPTProvider) convertToOpenAIRequest(req *models.GenerationRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	openAIReq := openai.ChatCompletionRequest{
		Model:       p.Model(),
		Messages:    messages,
		Temperature: float32(req.Options.TemperatureOr(models.DefaultTemperature)),
		MaxTokens:   req.Options.MaxTokensOr(models.DefaultMaxTokens),
		TopP:        float32(req.Options.TopPOr(models.DefaultTopP)),
		Stop:        req.Options.Stop,
	}
	if req.Options.FrequencyPenalty != nil {
		openAIReq.FrequencyPenalty = float32(*req.Options.FrequencyPenalty)
	}
	if req.Options.PresencePenalty != nil {
		openAIReq.PresencePenalty = float32(*req.Options.PresencePenalty)
	}

	return openAIReq
}

// statusCodeOf extracts the HTTP status from go-openai errors.
func statusCodeOf(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
