package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/supplymind/copilot/db"
	"github.com/supplymind/copilot/internal/chat"
	"github.com/supplymind/copilot/internal/config"
	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/ingest"
	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/observability"
	"github.com/supplymind/copilot/internal/search"
	"github.com/supplymind/copilot/internal/session"
	"github.com/supplymind/copilot/internal/suggest"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	client, err := llm.New(llm.Config{
		Genkit:      g,
		Embedder:    embedder,
		Provider:    cfg.Provider,
		ModelName:   cfg.FullModelName(),
		EmbedDim:    cfg.EmbedderDim,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Logger:      logger.With("component", "llm"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating model client: %w", err)
	}
	a.LLM = client

	if err := provideServices(a); err != nil {
		return nil, err
	}

	// Background work (session titling) runs on its own context, detached
	// from the request-serving one so a signal does not kill writes that
	// are already in flight. Close cancels it after the drain.
	bgCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Chat, err = chat.New(chat.Config{
		Store:          a.Sessions,
		Search:         a.Search,
		LLM:            client,
		Logger:         logger.With("component", "chat"),
		HistoryWindow:  cfg.Chat.HistoryWindow,
		ContextBudget:  cfg.Chat.ContextBudget,
		Fallback:       cfg.Chat.FallbackMessage,
		RequestTimeout: cfg.RequestTimeout,
		Retry: chat.RetryConfig{
			MaxRetries:      cfg.Retry.MaxRetries,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
		Breaker: chat.BreakerConfig{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		},
		Limiter:       rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
		BackgroundCtx: bgCtx,
		WG:            &a.wg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat service: %w", err)
	}

	return a, nil
}

// provideOtelShutdown sets up Datadog tracing before Genkit initialization,
// so the TracerProvider carries the exporter by the time flows register.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := observability.SetupDatadog(ctx, observability.Config{
		AgentHost:   cfg.Datadog.AgentHost,
		Environment: cfg.Datadog.Environment,
		ServiceName: cfg.Datadog.ServiceName,
	})
	if err != nil {
		logger.Warn("datadog setup failed, tracing disabled", "error", err)
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider plugin.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = config.ProviderGemini
	}

	var g *genkit.Genkit

	switch provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the AI provider plugin.
// Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideServices builds the store and service layer on the pool and model
// client. The chat service is wired separately in Setup because it owns the
// background context.
func provideServices(a *App) error {
	cfg := a.Config

	docs, err := embedding.NewStore(a.Pool, a.LLM, a.Logger.With("component", "embedding"))
	if err != nil {
		return fmt.Errorf("creating embedding store: %w", err)
	}
	a.Embeddings = docs

	engine, err := search.New(a.Pool, a.LLM, search.Config{
		DefaultTopK:      cfg.Search.DefaultTopK,
		MaxTopK:          cfg.Search.MaxTopK,
		DefaultThreshold: cfg.Search.DefaultThreshold,
	}, a.Logger.With("component", "search"))
	if err != nil {
		return fmt.Errorf("creating search engine: %w", err)
	}
	a.Search = engine

	sessions, err := session.NewStore(a.Pool, a.Logger.With("component", "session"))
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	a.Sessions = sessions

	suggestions, err := suggest.New(a.Pool, a.LLM, a.Logger.With("component", "suggest"))
	if err != nil {
		return fmt.Errorf("creating suggestion service: %w", err)
	}
	a.Suggest = suggestions

	indexer, err := ingest.New(docs, ingest.Config{
		MaxPages:    cfg.Ingest.MaxPages,
		Parallelism: cfg.Ingest.Parallelism,
		Delay:       cfg.Ingest.Delay,
		Timeout:     cfg.Ingest.Timeout,
	}, a.Logger.With("component", "ingest"))
	if err != nil {
		return fmt.Errorf("creating indexer: %w", err)
	}
	a.Ingest = indexer

	return nil
}
