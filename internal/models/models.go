package models

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options holds optional generation parameters. A nil field means the adapter default applies.
type Options struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
	Stop             []string `json:"stop,omitempty"`
}

// Default generation parameters shared by all adapters.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultTopP        = 1.0
)

// TemperatureOr returns the configured temperature or def.
func (o Options) TemperatureOr(def float64) float64 {
	if o.Temperature != nil {
		return *o.Temperature
	}
	return def
}

// MaxTokensOr returns the configured output token limit or def.
func (o Options) MaxTokensOr(def int) int {
	if o.MaxTokens != nil && *o.MaxTokens > 0 {
		return *o.MaxTokens
	}
	return def
}

// TopPOr returns the configured nucleus sampling value or def.
func (o Options) TopPOr(def float64) float64 {
	if o.TopP != nil {
		return *o.TopP
	}
	return def
}

// GenerationRequest represents a unified text generation request.
type GenerationRequest struct {
	SystemPrompt string    `json:"system_prompt"`
	Messages     []Message `json:"messages"`
	Options      Options   `json:"options"`
	RequestID    string    `json:"request_id,omitempty"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Empty reports whether the vendor returned no usable token counts.
func (u Usage) Empty() bool {
	return u.PromptTokens <= 0 && u.CompletionTokens <= 0
}

// SideEffect describes the outcome of a best-effort operation performed
// alongside a successful generation. A failed side effect never fails the generation.
type SideEffect struct {
	Applied bool  `json:"applied"`
	Err     error `json:"-"`
}

// GenerationResult represents a unified successful response.
type GenerationResult struct {
	RequestID        string        `json:"request_id,omitempty"`
	Text             string        `json:"text"`
	ProviderUsed     string        `json:"provider_used"`
	Model            string        `json:"model"`
	Usage            Usage         `json:"usage"`
	Raw              interface{}   `json:"raw,omitempty"`
	Cost             float64       `json:"cost"`
	FallbackUsed     bool          `json:"fallback_used"`
	OriginalProvider string        `json:"original_provider,omitempty"`
	Latency          time.Duration `json:"latency"`
	Accounting       SideEffect    `json:"accounting"`
}

// ProviderError represents a failed vendor call. Error returns the vendor message unchanged.
type ProviderError struct {
	StatusCode int    `json:"status_code"`
	Err        error  `json:"error"`
	Provider   string `json:"provider"`
	RequestID  string `json:"request_id,omitempty"`
	Retryable  bool   `json:"retryable"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// HealthRecord is the cached health verdict for a provider.
type HealthRecord struct {
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"last_checked"`
	Error       string    `json:"error,omitempty"`
}

// Fresh reports whether the record is still authoritative at now.
func (r HealthRecord) Fresh(now time.Time, window time.Duration) bool {
	return !r.LastChecked.IsZero() && now.Sub(r.LastChecked) <= window
}

// ProbeResult is the outcome of a connectivity probe against one provider.
type ProbeResult struct {
	Healthy bool          `json:"healthy"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}
