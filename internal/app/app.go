// Package app is the composition root: it builds every service from
// configuration and owns their shutdown order.
//
// Setup wires the dependency graph bottom-up (tracing, database, Genkit,
// model client, stores, services) and returns an App whose exported fields
// are ready to use. Close tears the graph down in reverse: background
// goroutines drain first, traces flush, the pool closes last so nothing
// writes into a closed database.
package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supplymind/copilot/internal/chat"
	"github.com/supplymind/copilot/internal/config"
	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/ingest"
	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/search"
	"github.com/supplymind/copilot/internal/session"
	"github.com/supplymind/copilot/internal/suggest"
)

// App is the application container. Fields are set by Setup and valid until
// Close.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure
	Pool   *pgxpool.Pool
	Genkit *genkit.Genkit
	LLM    *llm.Client

	// Services
	Embeddings *embedding.Store
	Search     *search.Engine
	Sessions   *session.Store
	Chat       *chat.Service
	Suggest    *suggest.Service
	Ingest     *ingest.Indexer

	// wg tracks background goroutines (session titling) so Close can
	// drain them before the pool goes away.
	wg          sync.WaitGroup
	otelCleanup func()
	cancel      context.CancelFunc
}

// closeTimeout bounds the drain of background goroutines during Close.
// Title generation is capped well below this; the timeout only fires when
// a provider call wedges past its own deadline.
const closeTimeout = 10 * time.Second

// Close releases all resources. Safe to call on a partially initialized
// App (Setup calls it on its own failure path) and safe to call twice.
func (a *App) Close() error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("shutting down application")

	// 1. Drain background goroutines; they still use the pool.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		logger.Warn("background goroutines did not drain in time", "timeout", closeTimeout)
	}

	// 2. Release the background context.
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}

	// 3. Flush pending trace spans to the agent.
	if a.otelCleanup != nil {
		a.otelCleanup()
		a.otelCleanup = nil
	}

	// 4. Close the pool last.
	if a.Pool != nil {
		a.Pool.Close()
		a.Pool = nil
		logger.Info("database pool closed")
	}

	return nil
}
