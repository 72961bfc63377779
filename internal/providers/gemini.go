package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/semantrix/genroute/internal/models"
)

const (
	geminiDefaultModel   = "gemini-1.5-flash"
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"
	geminiDefaultTopP    = 0.95
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	*BaseProvider
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64  `json:"temperature"`
	MaxOutputTokens int      `json:"maxOutputTokens"`
	TopP            float64  `json:"topP"`
	TopK            *int     `json:"topK,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate     `json:"candidates"`
	UsageMetadata  geminiUsageMetadata   `json:"usageMetadata"`
	PromptFeedback *geminiPromptFeedback `json:"promptFeedback,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiPromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// NewGeminiProvider creates a new Gemini provider instance.
func NewGeminiProvider(config ProviderConfig) *GeminiProvider {
	if config.Name == "" {
		config.Name = NameGemini
	}
	if config.Model == "" {
		config.Model = geminiDefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = geminiDefaultBaseURL
	}
	return &GeminiProvider{BaseProvider: NewBaseProvider(config)}
}

// Generate creates a completion using the generateContent endpoint.
func (p *GeminiProvider) Generate(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error) {
	body, err := json.Marshal(p.convertToGeminiRequest(req))
	if err != nil {
		return nil, p.providerError(req, 0, err)
	}

	var geminiResp *geminiResponse
	err = p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		geminiResp, err = p.makeGeminiRequest(ctx, req, body)
		return err
	})
	if err != nil {
		return nil, err
	}

	if geminiResp.PromptFeedback != nil && geminiResp.PromptFeedback.BlockReason != "" {
		return nil, p.providerError(req, 0, fmt.Errorf("gemini blocked prompt: %s", geminiResp.PromptFeedback.BlockReason))
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, p.providerError(req, 0, fmt.Errorf("gemini api returned no candidates"))
	}

	var text strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	usage := models.Usage{
		PromptTokens:     geminiResp.UsageMetadata.PromptTokenCount,
		CompletionTokens: geminiResp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      geminiResp.UsageMetadata.TotalTokenCount,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &models.GenerationResult{
		RequestID:    req.RequestID,
		Text:         strings.TrimSpace(text.String()),
		ProviderUsed: p.Name(),
		Model:        p.Model(),
		Usage:        usage,
		Raw:          geminiResp,
	}, nil
}

// convertToGeminiRequest converts the unified request to Gemini format.
func (p *GeminiProvider) convertToGeminiRequest(req *models.GenerationRequest) geminiRequest {
	contents := make([]geminiContent, len(req.Messages))
	for i, m := range req.Messages {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		contents[i] = geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		}
	}

	geminiReq := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Options.TemperatureOr(models.DefaultTemperature),
			MaxOutputTokens: req.Options.MaxTokensOr(models.DefaultMaxTokens),
			TopP:            req.Options.TopPOr(geminiDefaultTopP),
			TopK:            req.Options.TopK,
			StopSequences:   req.Options.Stop,
		},
	}
	if req.SystemPrompt != "" {
		geminiReq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}

	return geminiReq
}

// makeGeminiRequest performs a single HTTP call.
func (p *GeminiProvider) makeGeminiRequest(ctx context.Context, req *models.GenerationRequest, body []byte) (*geminiResponse, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.config.BaseURL, "/"), url.PathEscape(p.Model()))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, p.providerError(req, 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The key stays out of the URL so transport errors never quote it.
	httpReq.Header.Set("x-goog-api-key", p.config.APIKey)

	resp, err := p.httpClient().Do(httpReq)
	if err != nil {
		return nil, p.providerError(req, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, p.providerError(req, resp.StatusCode,
			fmt.Errorf("gemini api error (status %d): %s", resp.StatusCode, string(respBody)))
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, p.providerError(req, resp.StatusCode, fmt.Errorf("gemini api malformed response: %w", err))
	}

	return &geminiResp, nil
}
