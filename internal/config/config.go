// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file ($COPILOT_CONFIG_DIR or ~/.supplymind-copilot/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, chat model, embedder model, temperature, max tokens
//   - Storage: PostgreSQL connection (see database.go)
//   - Search: top-K bounds and default similarity threshold
//   - Chat: history window, context budget
//   - Server: listen address, CORS, rate limits
//   - Ingest: crawl parallelism and limits
//   - Observability: Datadog APM tracing
//
// Security: sensitive values (passwords, API keys) are masked in MarshalJSON.
// Validation: fail-fast range checks in validation.go with sentinel errors.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedder indicates the embedder model or dimension is invalid.
	ErrInvalidEmbedder = errors.New("invalid embedder configuration")

	// ErrInvalidSearchConfig indicates the search bounds are invalid.
	ErrInvalidSearchConfig = errors.New("invalid search configuration")

	// ErrInvalidChatConfig indicates the chat window or budget is invalid.
	ErrInvalidChatConfig = errors.New("invalid chat configuration")

	// ErrInvalidRetryConfig indicates the retry backoff settings are invalid.
	ErrInvalidRetryConfig = errors.New("invalid retry configuration")

	// ErrInvalidBreakerConfig indicates the circuit breaker settings are invalid.
	ErrInvalidBreakerConfig = errors.New("invalid breaker configuration")

	// ErrInvalidRateLimitConfig indicates the outbound rate limit is invalid.
	ErrInvalidRateLimitConfig = errors.New("invalid rate limit configuration")

	// ErrInvalidServerConfig indicates the HTTP server settings are invalid.
	ErrInvalidServerConfig = errors.New("invalid server configuration")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// text-embedding-004 outputs 768 dimensions, matching the vector(768)
	// column created by the migrations.
	DefaultEmbedderModel = "text-embedding-004"

	// DefaultEmbedderDimension must match the migration's vector(N) column.
	DefaultEmbedderDimension = 768
)

// SearchConfig bounds similarity search requests.
type SearchConfig struct {
	// DefaultTopK is used when a request omits top_k (default: 5)
	DefaultTopK int `mapstructure:"default_top_k" json:"default_top_k"`
	// MaxTopK is the hard upper bound for top_k (default: 100)
	MaxTopK int `mapstructure:"max_top_k" json:"max_top_k"`
	// DefaultThreshold is the minimum similarity when unset (default: 0.7)
	DefaultThreshold float32 `mapstructure:"default_threshold" json:"default_threshold"`
}

// ChatConfig controls prompt construction for the conversation pipeline.
type ChatConfig struct {
	// HistoryWindow is how many prior messages enter the prompt (default: 10)
	HistoryWindow int `mapstructure:"history_window" json:"history_window"`
	// ContextBudget is the retrieval context budget in runes (default: 6000)
	ContextBudget int `mapstructure:"context_budget" json:"context_budget"`
	// FallbackMessage is persisted as the assistant reply when the provider
	// stays down after retries. Must be a fixed user-safe string.
	FallbackMessage string `mapstructure:"fallback_message" json:"fallback_message"`
}

// RetryConfig bounds retries of transient provider failures.
type RetryConfig struct {
	// MaxRetries is how many times a transient failure is retried (default: 1)
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	// InitialInterval is the first backoff delay (default: 500ms)
	InitialInterval time.Duration `mapstructure:"initial_interval" json:"initial_interval"`
	// MaxInterval caps the exponential backoff (default: 10s)
	MaxInterval time.Duration `mapstructure:"max_interval" json:"max_interval"`
}

// BreakerConfig controls the circuit breaker in front of the model provider.
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before the circuit opens (default: 5)
	FailureThreshold int `mapstructure:"failure_threshold" json:"failure_threshold"`
	// SuccessThreshold is half-open successes required to close (default: 2)
	SuccessThreshold int `mapstructure:"success_threshold" json:"success_threshold"`
	// Cooldown is how long the circuit stays open before probing (default: 30s)
	Cooldown time.Duration `mapstructure:"cooldown" json:"cooldown"`
}

// RateLimitConfig is the token bucket applied to outbound model calls.
// The per-client HTTP limit lives in ServerConfig; this one protects the
// provider quota shared by every caller.
type RateLimitConfig struct {
	// RPS is the sustained outbound call rate (default: 10)
	RPS float64 `mapstructure:"rps" json:"rps"`
	// Burst is the bucket size (default: 30)
	Burst int `mapstructure:"burst" json:"burst"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address (default: 127.0.0.1:8080)
	Addr string `mapstructure:"addr" json:"addr"`
	// CORSOrigins are the allowed browser origins
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	// TrustProxy trusts X-Real-IP/X-Forwarded-For (set true behind a reverse proxy)
	TrustProxy bool `mapstructure:"trust_proxy" json:"trust_proxy"`
	// RateRPS is the per-client request rate (default: 10)
	RateRPS float64 `mapstructure:"rate_rps" json:"rate_rps"`
	// RateBurst is the per-client burst size (default: 20)
	RateBurst int `mapstructure:"rate_burst" json:"rate_burst"`
}

// IngestConfig holds knowledge ingestion (crawl) settings.
type IngestConfig struct {
	// MaxPages caps pages fetched per AddURL call (default: 10)
	MaxPages int `mapstructure:"max_pages" json:"max_pages"`
	// Parallelism is max concurrent requests per domain (default: 2)
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	// Delay is the politeness delay between requests (default: 1s)
	Delay time.Duration `mapstructure:"delay" json:"delay"`
	// Timeout is the per-request timeout (default: 30s)
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// DatadogConfig holds Datadog APM tracing configuration.
//
// Tracing uses the local Datadog Agent for OTLP ingestion.
// See internal/observability for setup details.
type DatadogConfig struct {
	// APIKey is the Datadog API key (optional)
	APIKey string `mapstructure:"api_key" json:"api_key"`
	// AgentHost is the Datadog Agent OTLP endpoint (default: localhost:4318)
	AgentHost string `mapstructure:"agent_host" json:"agent_host"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name in Datadog APM (default: supplymind-copilot)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// MarshalJSON implements json.Marshaler with API key masking.
func (d DatadogConfig) MarshalJSON() ([]byte, error) {
	type alias DatadogConfig
	a := alias(d)
	a.APIKey = maskSecret(a.APIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal datadog config: %w", err)
	}
	return data, nil
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider       string        `mapstructure:"provider" json:"provider"` // "gemini" (default), "ollama", "openai"
	ModelName      string        `mapstructure:"model_name" json:"model_name"`
	EmbedderModel  string        `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDim    int           `mapstructure:"embedder_dim" json:"embedder_dim"`
	Temperature    float32       `mapstructure:"temperature" json:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens" json:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see database.go)
	DatabaseURL      string `mapstructure:"database_url" json:"database_url"` // SENSITIVE: masked in MarshalJSON
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Feature sections
	Search    SearchConfig    `mapstructure:"search" json:"search"`
	Chat      ChatConfig      `mapstructure:"chat" json:"chat"`
	Retry     RetryConfig     `mapstructure:"retry" json:"retry"`
	Breaker   BreakerConfig   `mapstructure:"breaker" json:"breaker"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit" json:"ratelimit"`
	Server    ServerConfig    `mapstructure:"server" json:"server"`
	Ingest    IngestConfig    `mapstructure:"ingest" json:"ingest"`
	Datadog   DatadogConfig   `mapstructure:"datadog" json:"datadog"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	configDir := os.Getenv("COPILOT_CONFIG_DIR")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(home, ".supplymind-copilot")
	}

	// Ensure directory exists (0750 keeps credentials unreadable to others)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".") // Also support current directory

	setDefaults(v)
	bindEnvVariables(v)

	// Read configuration file (if exists)
	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL (env or file) overrides the individual postgres_* settings
	if err := cfg.applyDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	// CRITICAL: validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)
	v.SetDefault("embedder_dim", DefaultEmbedderDimension)
	v.SetDefault("temperature", 0.7)
	v.SetDefault("max_tokens", 1000)
	v.SetDefault("request_timeout", "30s")

	// Ollama defaults
	v.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "copilot")
	v.SetDefault("postgres_password", "copilot_dev_password")
	v.SetDefault("postgres_db_name", "copilot")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Search defaults
	v.SetDefault("search.default_top_k", 5)
	v.SetDefault("search.max_top_k", 100)
	v.SetDefault("search.default_threshold", 0.7)

	// Chat defaults
	v.SetDefault("chat.history_window", 10)
	v.SetDefault("chat.context_budget", 6000)
	v.SetDefault("chat.fallback_message",
		"I'm having trouble reaching the language model right now. Your message was saved; please try again in a moment.")

	// Resilience defaults
	v.SetDefault("retry.max_retries", 1)
	v.SetDefault("retry.initial_interval", "500ms")
	v.SetDefault("retry.max_interval", "10s")
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 2)
	v.SetDefault("breaker.cooldown", "30s")
	v.SetDefault("ratelimit.rps", 10.0)
	v.SetDefault("ratelimit.burst", 30)

	// Server defaults
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.rate_rps", 10.0)
	v.SetDefault("server.rate_burst", 20)

	// Ingest defaults
	v.SetDefault("ingest.max_pages", 10)
	v.SetDefault("ingest.parallelism", 2)
	v.SetDefault("ingest.delay", "1s")
	v.SetDefault("ingest.timeout", "30s")

	// Datadog defaults
	v.SetDefault("datadog.agent_host", "localhost:4318")
	v.SetDefault("datadog.environment", "dev")
	v.SetDefault("datadog.service_name", "supplymind-copilot")
}

// bindEnvVariables binds environment overrides explicitly.
//
// Provider API keys are NOT routed through Viper:
// GEMINI_API_KEY and OPENAI_API_KEY are read directly by the Genkit plugins;
// Validate() only checks their presence for the selected provider.
func bindEnvVariables(v *viper.Viper) {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("database_url", "DATABASE_URL")
	mustBind("datadog.api_key", "DD_API_KEY")

	mustBind("provider", "COPILOT_PROVIDER")
	mustBind("model_name", "COPILOT_MODEL_NAME")
	mustBind("embedder_model", "COPILOT_EMBEDDER_MODEL")
	mustBind("ollama_host", "COPILOT_OLLAMA_HOST")

	mustBind("server.addr", "COPILOT_ADDR")
	mustBind("server.cors_origins", "COPILOT_CORS_ORIGINS")
	mustBind("server.trust_proxy", "COPILOT_TRUST_PROXY")
	mustBind("server.rate_rps", "COPILOT_RATE_RPS")
	mustBind("server.rate_burst", "COPILOT_RATE_BURST")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against the
// real secret.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or less are fully masked; longer ones keep the first and
// last 2 characters for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// It is not cryptographically secure - if logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - DatabaseURL (may embed credentials)
//   - PostgresPassword
//   - Datadog.APIKey (via DatadogConfig.MarshalJSON)
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.DatabaseURL = maskSecret(a.DatabaseURL)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
