// Package config loads the service configuration from a YAML file, a .env
// file and GENROUTE_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/semantrix/genroute/internal/cost"
	"github.com/semantrix/genroute/internal/observability"
	"github.com/semantrix/genroute/internal/providers"
	"github.com/semantrix/genroute/internal/router"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GENROUTE_SERVER_PORT.
const EnvPrefix = "GENROUTE"

// apiKeyEnv lists the conventional vendor variables used when no key is configured.
var apiKeyEnv = map[string]string{
	providers.NameGemini:  "GEMINI_API_KEY",
	providers.NameChatGPT: "OPENAI_API_KEY",
	providers.NameClaude:  "ANTHROPIC_API_KEY",
}

// Config is the full service configuration.
type Config struct {
	Server ServerConfig  `mapstructure:"server"`
	Router router.Config `mapstructure:"router"`

	// Providers holds the enabled providers with credentials, keyed by name.
	Providers map[string]providers.ProviderConfig `mapstructure:"-"`

	HealthCheck HealthCheckConfig `mapstructure:"health_check"`
	Cost        CostConfig        `mapstructure:"cost"`

	Observability struct {
		Logging observability.LoggerConfig  `mapstructure:"logging"`
		Metrics observability.MetricsConfig `mapstructure:"metrics"`
		Tracing observability.TracingConfig `mapstructure:"tracing"`
	} `mapstructure:"observability"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// HealthCheckConfig controls the background probe sweep. A zero interval disables it.
type HealthCheckConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CostConfig controls pricing and cost reporting.
type CostConfig struct {
	PricingFile    string            `mapstructure:"pricing_file"`
	Pricing        cost.PricingTable `mapstructure:"pricing"`
	ReportSchedule string            `mapstructure:"report_schedule"`
	RetentionDays  int               `mapstructure:"retention_days" validate:"gte=0"`
}

// PricingTable resolves the effective pricing: the pricing file when set,
// otherwise the defaults overlaid with inline entries.
func (c CostConfig) PricingTable() (cost.PricingTable, error) {
	if c.PricingFile != "" {
		return cost.LoadPricingFile(c.PricingFile)
	}
	table := cost.DefaultPricing()
	for name, p := range c.Pricing {
		table[name] = p
	}
	return table, table.Validate()
}

// Loader reads configuration through a dedicated viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader for the given config file. An empty path means
// environment and defaults only.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads, decodes and validates the configuration.
func Load(configFile string) (*Config, error) {
	return NewLoader(configFile).Load()
}

// Load reads, decodes and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.v.ConfigFileUsed() != "" {
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}
	return l.decode()
}

// Watch reloads the configuration whenever the config file changes. onChange
// receives either the new configuration or the error that prevented loading it.
func (l *Loader) Watch(onChange func(*Config, error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		onChange(l.decode())
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	provs, err := decodeProviders(l.v)
	if err != nil {
		return nil, err
	}
	cfg.Providers = provs

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeProviders builds the enabled provider set. Each entry under
// "providers" may be a map, true, or false to disable the provider even when
// its vendor API key is present in the environment. Providers without an
// API key are left out.
func decodeProviders(v *viper.Viper) (map[string]providers.ProviderConfig, error) {
	raw := v.GetStringMap("providers")

	names := make([]string, 0, len(apiKeyEnv)+len(raw))
	for name := range apiKeyEnv {
		names = append(names, name)
	}
	for name := range raw {
		if _, known := apiKeyEnv[name]; !known {
			return nil, fmt.Errorf("%w: %s", providers.ErrUnknownProviderType, name)
		}
	}
	sort.Strings(names)

	out := make(map[string]providers.ProviderConfig)
	for _, name := range names {
		pc := defaultProviderConfig(name)

		switch entry := raw[name].(type) {
		case nil:
		case bool:
			pc.Enabled = entry
		case string:
			enabled, err := strconv.ParseBool(entry)
			if err != nil {
				return nil, fmt.Errorf("provider %s: expected a map or boolean, got %q", name, entry)
			}
			pc.Enabled = enabled
		case map[string]interface{}:
			if err := decodeProvider(entry, &pc); err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
		default:
			return nil, fmt.Errorf("provider %s: unsupported value of type %T", name, entry)
		}

		if !pc.Enabled {
			continue
		}
		if pc.APIKey == "" {
			pc.APIKey = v.GetString("providers." + name + ".api_key")
		}
		if pc.APIKey == "" {
			pc.APIKey = os.Getenv(apiKeyEnv[name])
		}
		if pc.APIKey == "" {
			continue
		}
		pc.Name = name
		out[name] = pc
	}
	return out, nil
}

func decodeProvider(entry map[string]interface{}, pc *providers.ProviderConfig) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           pc,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(entry)
}

func defaultProviderConfig(name string) providers.ProviderConfig {
	return providers.ProviderConfig{
		Name:       name,
		Timeout:    30 * time.Second,
		MaxRetries: 0,
		RetryDelay: time.Second,
		Enabled:    true,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("router.default_provider", "")
	v.SetDefault("router.fallback_order", []string{providers.NameGemini, providers.NameChatGPT, providers.NameClaude})
	v.SetDefault("router.strategy", "fallback")
	v.SetDefault("router.stale_after", 5*time.Minute)

	v.SetDefault("health_check.interval", time.Duration(0))
	v.SetDefault("health_check.timeout", 30*time.Second)

	v.SetDefault("cost.pricing_file", "")
	v.SetDefault("cost.report_schedule", cost.DefaultReportSchedule)
	v.SetDefault("cost.retention_days", 0)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.output_path", "stdout")
	v.SetDefault("observability.logging.error_path", "")
	v.SetDefault("observability.logging.development", false)
	v.SetDefault("observability.logging.max_size_mb", 100)
	v.SetDefault("observability.logging.max_backups", 5)
	v.SetDefault("observability.logging.max_age_days", 28)

	v.SetDefault("observability.metrics.enabled", false)
	v.SetDefault("observability.metrics.port", 9090)
	v.SetDefault("observability.metrics.path", "/metrics")

	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.service_name", "genroute")
	v.SetDefault("observability.tracing.environment", "development")
	v.SetDefault("observability.tracing.exporter", "stdout")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)
}
