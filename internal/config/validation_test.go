package config

import (
	"errors"
	"testing"
	"time"
)

func TestValidate_NilConfig(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() error = %v, want ErrConfigNil", err)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_ProviderRules(t *testing.T) {
	t.Run("missing gemini key", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("GOOGLE_API_KEY", "")
		err := validConfig().Validate()
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("Validate() error = %v, want ErrMissingAPIKey", err)
		}
	})

	t.Run("google key satisfies gemini", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("GOOGLE_API_KEY", "test-key")
		if err := validConfig().Validate(); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("missing openai key", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		cfg := validConfig()
		cfg.Provider = ProviderOpenAI
		err := cfg.Validate()
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("Validate() error = %v, want ErrMissingAPIKey", err)
		}
	})

	t.Run("ollama needs no key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Provider = ProviderOllama
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("ollama host without scheme", func(t *testing.T) {
		cfg := validConfig()
		cfg.Provider = ProviderOllama
		cfg.OllamaHost = "localhost:11434"
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidOllamaHost) {
			t.Errorf("Validate() error = %v, want ErrInvalidOllamaHost", err)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.Provider = "anthropic"
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidProvider) {
			t.Errorf("Validate() error = %v, want ErrInvalidProvider", err)
		}
	})
}

func TestValidate_FieldRules(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty model name", func(c *Config) { c.ModelName = " " }, ErrInvalidModelName},
		{"empty embedder model", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedder},
		{"zero embedder dim", func(c *Config) { c.EmbedderDim = 0 }, ErrInvalidEmbedder},
		{"temperature below range", func(c *Config) { c.Temperature = -0.1 }, ErrInvalidTemperature},
		{"temperature above range", func(c *Config) { c.Temperature = 2.5 }, ErrInvalidTemperature},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, ErrInvalidMaxTokens},
		{"excessive max tokens", func(c *Config) { c.MaxTokens = 5000 }, ErrInvalidMaxTokens},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }, ErrInvalidChatConfig},
		{"zero max top k", func(c *Config) { c.Search.MaxTopK = 0 }, ErrInvalidSearchConfig},
		{"default top k above max", func(c *Config) { c.Search.DefaultTopK = 101 }, ErrInvalidSearchConfig},
		{"zero default top k", func(c *Config) { c.Search.DefaultTopK = 0 }, ErrInvalidSearchConfig},
		{"threshold above one", func(c *Config) { c.Search.DefaultThreshold = 1.1 }, ErrInvalidSearchConfig},
		{"negative threshold", func(c *Config) { c.Search.DefaultThreshold = -0.1 }, ErrInvalidSearchConfig},
		{"negative history window", func(c *Config) { c.Chat.HistoryWindow = -1 }, ErrInvalidChatConfig},
		{"zero context budget", func(c *Config) { c.Chat.ContextBudget = 0 }, ErrInvalidChatConfig},
		{"blank fallback message", func(c *Config) { c.Chat.FallbackMessage = "  " }, ErrInvalidChatConfig},
		{"negative max retries", func(c *Config) { c.Retry.MaxRetries = -1 }, ErrInvalidRetryConfig},
		{"zero initial interval", func(c *Config) { c.Retry.InitialInterval = 0 }, ErrInvalidRetryConfig},
		{"max interval below initial", func(c *Config) { c.Retry.MaxInterval = 100 * time.Millisecond }, ErrInvalidRetryConfig},
		{"zero failure threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, ErrInvalidBreakerConfig},
		{"zero success threshold", func(c *Config) { c.Breaker.SuccessThreshold = 0 }, ErrInvalidBreakerConfig},
		{"zero cooldown", func(c *Config) { c.Breaker.Cooldown = 0 }, ErrInvalidBreakerConfig},
		{"zero outbound rps", func(c *Config) { c.RateLimit.RPS = 0 }, ErrInvalidRateLimitConfig},
		{"zero outbound burst", func(c *Config) { c.RateLimit.Burst = 0 }, ErrInvalidRateLimitConfig},
		{"addr without port", func(c *Config) { c.Server.Addr = "localhost" }, ErrInvalidServerConfig},
		{"zero rate rps", func(c *Config) { c.Server.RateRPS = 0 }, ErrInvalidServerConfig},
		{"zero rate burst", func(c *Config) { c.Server.RateBurst = 0 }, ErrInvalidServerConfig},
		{"empty postgres host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"postgres port too high", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"postgres port zero", func(c *Config) { c.PostgresPort = 0 }, ErrInvalidPostgresPort},
		{"empty postgres db name", func(c *Config) { c.PostgresDBName = "" }, ErrInvalidPostgresDBName},
		{"short postgres password", func(c *Config) { c.PostgresPassword = "short" }, ErrInvalidPostgresPassword},
		{"bogus ssl mode", func(c *Config) { c.PostgresSSLMode = "prefer" }, ErrInvalidPostgresSSLMode},
		{"zero ingest max pages", func(c *Config) { c.Ingest.MaxPages = 0 }, ErrInvalidServerConfig},
		{"zero ingest parallelism", func(c *Config) { c.Ingest.Parallelism = 0 }, ErrInvalidServerConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
