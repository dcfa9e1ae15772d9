package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/search"
	"github.com/supplymind/copilot/internal/tenant"
)

// Searcher answers similarity queries. Satisfied by *search.Engine.
type Searcher interface {
	SearchText(ctx context.Context, scope tenant.Scope, query string, opts ...search.Option) ([]search.Hit, error)
}

// Store persists new knowledge texts. Satisfied by *embedding.Store.
type Store interface {
	Put(ctx context.Context, scope tenant.Scope, req embedding.PutRequest) (*embedding.PutResult, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	// Scope is the fixed tenant identity every tool call runs under.
	Scope  tenant.Scope
	Search Searcher
	Store  Store
	Logger *slog.Logger
}

// Server wraps the MCP SDK server around the knowledge base.
type Server struct {
	mcpServer *mcp.Server
	search    Searcher
	store     Store
	scope     tenant.Scope
	logger    *slog.Logger
}

// NewServer creates an MCP server with the knowledge tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if err := cfg.Scope.Validate(); err != nil {
		return nil, fmt.Errorf("serving scope: %w", err)
	}
	if cfg.Search == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("embedding store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		search: cfg.Search,
		store:  cfg.Store,
		scope:  cfg.Scope,
		logger: logger,
	}

	if err := s.registerKnowledgeTools(); err != nil {
		return nil, fmt.Errorf("registering knowledge tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the given transport. Blocks until the
// context is canceled or the transport closes.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp server running",
		"tenant_id", s.scope.TenantID,
		"user_id", s.scope.UserID,
	)
	//nolint:wrapcheck // SDK errors pass through to the process exit path unchanged.
	return s.mcpServer.Run(ctx, transport)
}

// jsonResult marshals v into a single text content block. All tool output
// is JSON; clients parse it.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil
}

// errorResult reports a client mistake back through the tool channel so the
// calling model can read it and retry, instead of failing the protocol call.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
