package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// validSSLModes are the PostgreSQL SSL modes we accept.
// "allow" and "prefer" are excluded: they silently downgrade to plaintext,
// which hides misconfiguration until an incident.
var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks configuration validity (fail-fast principle).
// All checks use sentinel errors so callers can match with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Validate provider and its credentials
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable not set "+
				"(get one at https://aistudio.google.com/apikey)", ErrMissingAPIKey)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable not set", ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host must not be empty", ErrInvalidOllamaHost)
		}
		if !strings.HasPrefix(c.OllamaHost, "http://") && !strings.HasPrefix(c.OllamaHost, "https://") {
			return fmt.Errorf("%w: ollama_host %q must start with http:// or https://",
				ErrInvalidOllamaHost, c.OllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	// 2. Validate model names
	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model_name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder_model must not be empty", ErrInvalidEmbedder)
	}
	if c.EmbedderDim <= 0 {
		return fmt.Errorf("%w: embedder_dim must be positive, got %d", ErrInvalidEmbedder, c.EmbedderDim)
	}

	// 3. Validate generation parameters
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2, got %.2f",
			ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 4000 {
		return fmt.Errorf("%w: max_tokens must be between 1 and 4000, got %d",
			ErrInvalidMaxTokens, c.MaxTokens)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request_timeout must be positive, got %s",
			ErrInvalidChatConfig, c.RequestTimeout)
	}

	// 4. Validate search bounds
	if c.Search.MaxTopK < 1 {
		return fmt.Errorf("%w: max_top_k must be at least 1, got %d",
			ErrInvalidSearchConfig, c.Search.MaxTopK)
	}
	if c.Search.DefaultTopK < 1 || c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("%w: default_top_k must be between 1 and %d, got %d",
			ErrInvalidSearchConfig, c.Search.MaxTopK, c.Search.DefaultTopK)
	}
	if c.Search.DefaultThreshold < 0 || c.Search.DefaultThreshold > 1 {
		return fmt.Errorf("%w: default_threshold must be between 0 and 1, got %.2f",
			ErrInvalidSearchConfig, c.Search.DefaultThreshold)
	}

	// 5. Validate chat settings
	if c.Chat.HistoryWindow < 0 {
		return fmt.Errorf("%w: history_window must not be negative, got %d",
			ErrInvalidChatConfig, c.Chat.HistoryWindow)
	}
	if c.Chat.ContextBudget < 1 {
		return fmt.Errorf("%w: context_budget must be positive, got %d",
			ErrInvalidChatConfig, c.Chat.ContextBudget)
	}
	if strings.TrimSpace(c.Chat.FallbackMessage) == "" {
		return fmt.Errorf("%w: fallback_message must not be empty", ErrInvalidChatConfig)
	}

	// 6. Validate resilience settings
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative, got %d",
			ErrInvalidRetryConfig, c.Retry.MaxRetries)
	}
	if c.Retry.InitialInterval <= 0 {
		return fmt.Errorf("%w: initial_interval must be positive, got %s",
			ErrInvalidRetryConfig, c.Retry.InitialInterval)
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("%w: max_interval %s is below initial_interval %s",
			ErrInvalidRetryConfig, c.Retry.MaxInterval, c.Retry.InitialInterval)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure_threshold must be at least 1, got %d",
			ErrInvalidBreakerConfig, c.Breaker.FailureThreshold)
	}
	if c.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("%w: success_threshold must be at least 1, got %d",
			ErrInvalidBreakerConfig, c.Breaker.SuccessThreshold)
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("%w: cooldown must be positive, got %s",
			ErrInvalidBreakerConfig, c.Breaker.Cooldown)
	}
	if c.RateLimit.RPS <= 0 {
		return fmt.Errorf("%w: rps must be positive, got %.2f",
			ErrInvalidRateLimitConfig, c.RateLimit.RPS)
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("%w: burst must be at least 1, got %d",
			ErrInvalidRateLimitConfig, c.RateLimit.Burst)
	}

	// 7. Validate server settings
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("%w: addr %q is not host:port: %v",
			ErrInvalidServerConfig, c.Server.Addr, err)
	}
	if c.Server.RateRPS <= 0 {
		return fmt.Errorf("%w: rate_rps must be positive, got %.2f",
			ErrInvalidServerConfig, c.Server.RateRPS)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("%w: rate_burst must be at least 1, got %d",
			ErrInvalidServerConfig, c.Server.RateBurst)
	}

	// 8. Validate PostgreSQL settings
	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port must be between 1 and 65535, got %d",
			ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "copilot_dev_password" && c.Datadog.Environment != "dev" {
		slog.Warn("using default development password outside dev environment",
			"environment", c.Datadog.Environment)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q (supported: disable, require, verify-ca, verify-full)",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	// 9. Validate ingest settings
	if c.Ingest.MaxPages < 1 {
		return fmt.Errorf("%w: ingest.max_pages must be at least 1, got %d",
			ErrInvalidServerConfig, c.Ingest.MaxPages)
	}
	if c.Ingest.Parallelism < 1 {
		return fmt.Errorf("%w: ingest.parallelism must be at least 1, got %d",
			ErrInvalidServerConfig, c.Ingest.Parallelism)
	}

	return nil
}
