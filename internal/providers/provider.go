package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/semantrix/genroute/internal/models"
	"github.com/sethvargo/go-retry"
)

// Known provider names.
const (
	NameGemini  = "gemini"
	NameChatGPT = "chatgpt"
	NameClaude  = "claude"
)

// ErrUnknownProviderType is returned by New for a name with no adapter.
var ErrUnknownProviderType = errors.New("unknown provider type")

// Provider defines the interface that all text generation backends must implement.
type Provider interface {
	// Name returns the unique name identifier for this provider.
	Name() string

	// Model returns the default model identifier used for generation.
	Model() string

	// Configured reports whether the provider has the credentials it needs.
	Configured() bool

	// Generate performs one remote generation call. Vendor failures are
	// returned as *models.ProviderError without further translation.
	Generate(ctx context.Context, req *models.GenerationRequest) (*models.GenerationResult, error)

	// Close performs any necessary cleanup when the provider is no longer needed.
	Close() error
}

// ProviderConfig holds common configuration for all providers.
type ProviderConfig struct {
	Name       string        `mapstructure:"name"`
	APIKey     string        `mapstructure:"api_key"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Enabled    bool          `mapstructure:"enabled"`
}

// BaseProvider provides common functionality for all providers.
type BaseProvider struct {
	config ProviderConfig

	mu     sync.Mutex
	client *http.Client
}

// NewBaseProvider creates a new base provider with the given configuration.
func NewBaseProvider(config ProviderConfig) *BaseProvider {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &BaseProvider{config: config}
}

// Name returns the provider name.
func (p *BaseProvider) Name() string {
	return p.config.Name
}

// Model returns the default model.
func (p *BaseProvider) Model() string {
	return p.config.Model
}

// Configured reports whether an API key is present.
func (p *BaseProvider) Configured() bool {
	return p.config.APIKey != ""
}

// GetConfig returns the provider configuration.
func (p *BaseProvider) GetConfig() ProviderConfig {
	return p.config
}

// httpClient lazily creates the HTTP client shared by all calls of this provider.
func (p *BaseProvider) httpClient() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		p.client = &http.Client{Timeout: p.config.Timeout}
	}
	return p.client
}

// Close performs cleanup for the base provider.
func (p *BaseProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

// withRetry runs call, retrying transient vendor failures up to MaxRetries times.
func (p *BaseProvider) withRetry(ctx context.Context, call func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(p.config.MaxRetries), retry.NewConstant(p.config.RetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := call(ctx)
		if err != nil && isRetryableError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// providerError builds a ProviderError for this provider.
func (p *BaseProvider) providerError(req *models.GenerationRequest, statusCode int, err error) *models.ProviderError {
	return &models.ProviderError{
		StatusCode: statusCode,
		Err:        err,
		Provider:   p.Name(),
		RequestID:  req.RequestID,
		Retryable:  statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError || isNetworkError(err),
	}
}

// isRetryableError determines if an error should trigger a retry.
func isRetryableError(err error) bool {
	var perr *models.ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable
	}
	return isNetworkError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

// New creates the adapter registered under name.
func New(name string, config ProviderConfig) (Provider, error) {
	config.Name = name
	switch name {
	case NameGemini:
		return NewGeminiProvider(config), nil
	case NameChatGPT:
		return NewChatGPTProvider(config), nil
	case NameClaude:
		return NewClaudeProvider(config), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProviderType, name)
	}
}
