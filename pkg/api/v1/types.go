package v1

import (
	"time"
)

// GenerateRequest represents a text generation request from a client. Prompt
// is shorthand for a single user message appended after Messages.
type GenerateRequest struct {
	Prompt           string    `json:"prompt,omitempty"`
	SystemPrompt     string    `json:"system_prompt,omitempty"`
	Messages         []Message `json:"messages,omitempty" validate:"omitempty,dive"`
	Provider         string    `json:"provider,omitempty"`
	Temperature      *float64  `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxTokens        *int      `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	TopP             *float64  `json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	TopK             *int      `json:"top_k,omitempty" validate:"omitempty,gt=0"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty" validate:"omitempty,gte=-2,lte=2"`
	Stop             []string  `json:"stop,omitempty"`
	RequestID        string    `json:"request_id,omitempty"`
}

// Message represents a single message in a conversation.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// GenerateResponse represents a successful generation.
type GenerateResponse struct {
	RequestID        string  `json:"request_id"`
	Text             string  `json:"text"`
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	Usage            Usage   `json:"usage"`
	Cost             float64 `json:"cost"`
	CostRecorded     bool    `json:"cost_recorded"`
	FallbackUsed     bool    `json:"fallback_used"`
	OriginalProvider string  `json:"original_provider,omitempty"`
	LatencyMS        int64   `json:"latency_ms"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ErrorResponse represents an error response from the API.
type ErrorResponse struct {
	Error     ErrorDetails `json:"error"`
	RequestID string       `json:"request_id,omitempty"`
}

// ErrorDetails provides detailed error information.
type ErrorDetails struct {
	Type       string            `json:"type"`
	Message    string            `json:"message"`
	StatusCode int               `json:"status_code"`
	Provider   string            `json:"provider,omitempty"`
	Retryable  bool              `json:"retryable"`
	Attempts   []Attempt         `json:"attempts,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Attempt describes one provider tried while serving a failed request.
type Attempt struct {
	Provider string `json:"provider"`
	Error    string `json:"error"`
	Skipped  bool   `json:"skipped"`
}

// HealthResponse represents the health status of the service.
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp time.Time                 `json:"timestamp"`
	Uptime    string                    `json:"uptime"`
	Providers map[string]ProviderHealth `json:"providers"`
	Version   string                    `json:"version"`
}

// ProviderHealth represents the health status of a provider.
type ProviderHealth struct {
	Status    string    `json:"status"`
	LastCheck time.Time `json:"last_check,omitempty"`
	Error     string    `json:"error,omitempty"`
	Uptime    float64   `json:"uptime,omitempty"`
}

// ProvidersResponse lists the registered providers and routing setup.
type ProvidersResponse struct {
	Providers       []string `json:"providers"`
	DefaultProvider string   `json:"default_provider"`
	FallbackOrder   []string `json:"fallback_order"`
	Strategy        string   `json:"strategy"`
}

// ProviderInfo describes one provider.
type ProviderInfo struct {
	Model        string    `json:"model"`
	Configured   bool      `json:"configured"`
	Healthy      bool      `json:"healthy"`
	SuccessRate  float64   `json:"success_rate"`
	AvgLatencyMS float64   `json:"avg_latency_ms"`
	SuccessCount int64     `json:"success_count"`
	ErrorCount   int64     `json:"error_count"`
	LastChecked  time.Time `json:"last_checked,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// StatsResponse represents routing statistics.
type StatsResponse struct {
	TotalRequests int64                   `json:"total_requests"`
	Strategy      string                  `json:"strategy"`
	Providers     map[string]ProviderInfo `json:"providers"`
	Timestamp     time.Time               `json:"timestamp"`
}

// ProviderCost is the accumulated spend of one provider in USD.
type ProviderCost struct {
	Total     float64 `json:"total"`
	Today     float64 `json:"today"`
	ThisMonth float64 `json:"this_month"`
	Projected float64 `json:"projected_month"`
	Tokens    int64   `json:"tokens"`
}

// CostsResponse represents the cost report.
type CostsResponse struct {
	Providers map[string]ProviderCost `json:"providers"`
	Total     float64                 `json:"total"`
	Daily     map[string]float64      `json:"daily"`
	Monthly   map[string]float64      `json:"monthly"`
	Timestamp time.Time               `json:"timestamp"`
}

// ProbeResult is the outcome of a connectivity probe.
type ProbeResult struct {
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// ProbeResponse represents the result of testing every provider.
type ProbeResponse struct {
	Results   map[string]ProbeResult `json:"results"`
	Healthy   int                    `json:"healthy"`
	Total     int                    `json:"total"`
	Timestamp time.Time              `json:"timestamp"`
}
