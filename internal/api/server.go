package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supplymind/copilot/internal/chat"
	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/search"
	"github.com/supplymind/copilot/internal/session"
	"github.com/supplymind/copilot/internal/suggest"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger     *slog.Logger
	Chat       *chat.Service    // Required
	Embeddings *embedding.Store // Required
	Search     *search.Engine   // Required
	Sessions   *session.Store   // Required
	Suggest    *suggest.Service // Optional: nil disables the suggestion API
	Pool       *pgxpool.Pool    // Optional: nil degrades /ready to a liveness check

	CORSOrigins []string // Allowed origins for CORS
	TrustProxy  bool     // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateRPS     float64  // Rate limiter refill per client (0 = default 10/s)
	RateBurst   int      // Rate limiter burst size per client (0 = default 20)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Chat == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.Embeddings == nil {
		return nil, errors.New("embedding store is required")
	}
	if cfg.Search == nil {
		return nil, errors.New("search engine is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	// Chat
	ch := &chatHandler{svc: cfg.Chat, logger: logger}
	mux.HandleFunc("POST /api/v1/chat", ch.converse)

	// Knowledge store and search
	eh := &embeddingHandler{store: cfg.Embeddings, logger: logger}
	mux.HandleFunc("POST /api/v1/embed", eh.put)
	mux.HandleFunc("GET /api/v1/embeddings/{id}", eh.get)
	mux.HandleFunc("DELETE /api/v1/embeddings/{id}", eh.delete)

	sh := &searchHandler{engine: cfg.Search, logger: logger}
	mux.HandleFunc("POST /api/v1/search", sh.search)

	// Suggestions (optional — only registered if the service is provided)
	if cfg.Suggest != nil {
		gh := &suggestHandler{svc: cfg.Suggest, logger: logger}
		mux.HandleFunc("POST /api/v1/suggest", gh.generate)
		mux.HandleFunc("GET /api/v1/suggestions", gh.list)
		mux.HandleFunc("PATCH /api/v1/suggestions/{id}", gh.updateStatus)
	}

	// Session management
	sm := &sessionHandler{store: cfg.Sessions, logger: logger}
	mux.HandleFunc("GET /api/v1/sessions", sm.list)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sm.get)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", sm.messages)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", sm.update)

	// Stats
	st := &statsHandler{
		sessions:   cfg.Sessions,
		embeddings: cfg.Embeddings,
		logger:     logger,
	}
	mux.HandleFunc("GET /api/v1/stats", st.stats)

	// Rate limiter: per-tenant token bucket
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	rl := newRateLimiter(rps, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Identity → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = identityMiddleware(logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Wrap with security headers
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to separate health probes from the middleware stack
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.HandleFunc("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
