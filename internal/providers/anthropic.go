package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/semantrix/genroute/internal/models"
)

const (
	claudeDefaultModel   = "claude-3-haiku-20240307"
	claudeDefaultBaseURL = "https://api.anthropic.com/v1"
	claudeAPIVersion     = "2023-06-01"
)

// ClaudeProvider implements the Provider interface for Anthropic Claude.
type ClaudeProvider struct {
	*BaseProvider
}

type claudeRequest struct {
	Model         string          `json:"model"`
	MaxTokens     int             `json:"max_tokens"`
	System        string          `json:"system,omitempty"`
	Messages      []claudeMessage `json:"messages"`
	Temperature   float64         `json:"temperature"`
	TopP          float64         `json:"top_p"`
	TopK          *int            `json:"top_k,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Content    []claudeContent `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      claudeUsage     `json:"usage"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// NewClaudeProvider creates a new Claude provider instance.
func NewClaudeProvider(config ProviderConfig) *ClaudeProvider {
	if config.Name == "" {
		config.Name = NameClaude
	}
	if config.Model == "" {
		config.Model = claudeDefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = claudeDefaultBaseURL
	}
	return &ClaudeProvider{BaseProvider: NewBaseProvider(config)}
}

// Generate creates a completion using the Messages API.
func (p *ClaudeProvider) Generate(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	body, err := json.Marshal(p.convertToClaudeRequest(req))
	if err != nil {
		return nil, p.providerError(req, 0, err)
	}

	var claudeResp *claudeResponse
	err = p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		claudeResp, err = p.makeClaudeRequest(ctx, req, body)
		return err
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range claudeResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 && len(claudeResp.Content) == 0 {
		return nil, p.providerError(req, 0, fmt.Errorf("claude api returned no content"))
	}

	model := claudeResp.Model
	if model == "" {
		model = p.Model()
	}

	return &models.GenerationResult{
		RequestID:    req.RequestID,
		Text:         strings.TrimSpace(text.String()),
		ProviderUsed: p.Name(),
		Model:        model,
		Usage: models.Usage{
			PromptTokens:     claudeResp.Usage.InputTokens,
			CompletionTokens: claudeResp.Usage.OutputTokens,
			TotalTokens:      claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
		},
		Raw: claudeResp,
	}, nil
}

// convertToClaudeRequest converts the unified request to Anthropic format.
func (p *ClaudeProvider) convertToClaudeRequest(req *models.GenerationRequest) claudeRequest {
	messages := make([]claudeMessage, len(req.Messages))
	for i, m := range req.Messages {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "assistant"
		}
		messages[i] = claudeMessage{Role: role, Content: m.Content}
	}

	return claudeRequest{
		Model:         p.Model(),
		MaxTokens:     req.Options.MaxTokensOr(models.DefaultMaxTokens),
		System:        req.SystemPrompt,
		Messages:      messages,
		Temperature:   req.Options.TemperatureOr(models.DefaultTemperature),
		TopP:          req.Options.TopPOr(models.DefaultTopP),
		TopK:          req.Options.TopK,
		StopSequences: req.Options.Stop,
	}
}

// makeClaudeRequest performs a single HTTP call.
func (p *ClaudeProvider) makeClaudeRequest(ctx context.Context, req *models.GenerationRequest, body []byte) (*claudeResponse, error) {
	endpoint := fmt.Sprintf("%s/messages", strings.TrimRight(p.config.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, p.providerError(req, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := p.httpClient().Do(httpReq)
	if err != nil {
		return nil, p.providerError(req, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.providerError(req, resp.StatusCode,
			fmt.Errorf("claude api error (status %d): %s", resp.StatusCode, string(respBody)))
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, p.providerError(req, resp.StatusCode, fmt.Errorf("claude api malformed response: %w", err))
	}

	return &claudeResp, nil
}
