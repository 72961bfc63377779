package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/semantrix/genroute/internal/cost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearKeys(t *testing.T) {
	t.Helper()
	for _, env := range apiKeyEnv {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearKeys(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "fallback", cfg.Router.Strategy)
	assert.Equal(t, []string{"gemini", "chatgpt", "claude"}, cfg.Router.FallbackOrder)
	assert.Equal(t, 5*time.Minute, cfg.Router.StaleAfter)
	assert.Equal(t, cost.DefaultReportSchedule, cfg.Cost.ReportSchedule)
	assert.Equal(t, "genroute", cfg.Observability.Tracing.ServiceName)
	assert.Empty(t, cfg.Providers)
}

func TestLoad_FileAndEnvKeys(t *testing.T) {
	clearKeys(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("ANTHROPIC_API_KEY", "ant-env")

	path := writeConfig(t, `
server:
  port: 9000
router:
  default_provider: chatgpt
  strategy: round-robin
  fallback_order: [chatgpt, claude]
providers:
  gemini:
    api_key: g-file
    model: gemini-1.5-pro
    timeout: 10s
  chatgpt:
    max_retries: 4
  claude: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "round-robin", cfg.Router.Strategy)
	assert.Equal(t, []string{"chatgpt", "claude"}, cfg.Router.FallbackOrder)

	require.Len(t, cfg.Providers, 2)
	gemini := cfg.Providers["gemini"]
	assert.Equal(t, "g-file", gemini.APIKey)
	assert.Equal(t, "gemini-1.5-pro", gemini.Model)
	assert.Equal(t, 10*time.Second, gemini.Timeout)
	assert.Equal(t, 0, gemini.MaxRetries, "a single attempt unless retries are configured")

	chatgpt := cfg.Providers["chatgpt"]
	assert.Equal(t, "sk-env", chatgpt.APIKey)
	assert.Equal(t, 4, chatgpt.MaxRetries)
	assert.Equal(t, "chatgpt", chatgpt.Name)

	assert.NotContains(t, cfg.Providers, "claude", "false disables a provider even with a key in the environment")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearKeys(t)
	t.Setenv("GENROUTE_SERVER_PORT", "7070")
	t.Setenv("GENROUTE_ROUTER_STRATEGY", "best-performance")
	t.Setenv("GENROUTE_PROVIDERS_CLAUDE_API_KEY", "ant-prefixed")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "best-performance", cfg.Router.Strategy)
	require.Contains(t, cfg.Providers, "claude")
	assert.Equal(t, "ant-prefixed", cfg.Providers["claude"].APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	clearKeys(t)

	tests := []struct {
		name    string
		content string
	}{
		{name: "bad strategy", content: "router:\n  strategy: random\n"},
		{name: "bad port", content: "server:\n  port: 70000\n"},
		{name: "unknown provider", content: "providers:\n  mistral:\n    api_key: x\n"},
		{name: "unknown provider field", content: "providers:\n  gemini:\n    api_kee: x\n"},
		{name: "bad base url", content: "providers:\n  gemini:\n    api_key: x\n    base_url: '::not a url'\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestValidate_ReportsFields(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 0
	cfg.Cost.RetentionDays = -1

	err := Validate(cfg)
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "Config.Server.Port")
	assert.Contains(t, verr.Fields, "Config.Cost.RetentionDays")
}

func TestCostConfig_PricingTable(t *testing.T) {
	inline := CostConfig{Pricing: cost.PricingTable{"gemini": {InputPerMillion: 1, OutputPerMillion: 2}}}
	table, err := inline.PricingTable()
	require.NoError(t, err)
	assert.Equal(t, cost.Pricing{InputPerMillion: 1, OutputPerMillion: 2}, table["gemini"])
	assert.Equal(t, cost.DefaultPricing()["claude"], table["claude"])

	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pricing:\n  claude:\n    input_per_million: 3\n    output_per_million: 15\n"), 0o600))
	table, err = CostConfig{PricingFile: path}.PricingTable()
	require.NoError(t, err)
	assert.Equal(t, cost.Pricing{InputPerMillion: 3, OutputPerMillion: 15}, table["claude"])
}

func TestLoadDotEnv(t *testing.T) {
	clearKeys(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_API_KEY=from-dotenv\n"), 0o600))

	// godotenv does not override variables that are already set, even to empty.
	require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))

	cfg, err := Load("")
	require.NoError(t, err)
	require.Contains(t, cfg.Providers, "gemini")
	assert.Equal(t, "from-dotenv", cfg.Providers["gemini"].APIKey)
}

func TestLoader_Watch(t *testing.T) {
	clearKeys(t)
	path := writeConfig(t, "cost:\n  pricing:\n    gemini:\n      input_per_million: 1\n      output_per_million: 1\n")

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	changes := make(chan *Config, 4)
	loader.Watch(func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("cost:\n  pricing:\n    gemini:\n      input_per_million: 9\n      output_per_million: 9\n"), 0o600))

	// Truncation and write may arrive as separate events; wait for the final content.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Cost.Pricing["gemini"].InputPerMillion == 9 {
				return
			}
		case <-timeout:
			t.Fatal("config change was not observed")
		}
	}
}
