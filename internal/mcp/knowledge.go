package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/search"
)

// Tool names exposed over MCP.
const (
	ToolKnowledgeSearch = "knowledge_search"
	ToolKnowledgeAdd    = "knowledge_add"
)

// KnowledgeSearchInput is the input schema for the knowledge_search tool.
type KnowledgeSearchInput struct {
	Query      string `json:"query" jsonschema:"The text to search for. Results are ranked by semantic similarity."`
	TopK       int    `json:"top_k,omitempty" jsonschema:"Maximum number of results to return (default 5)."`
	SourceType string `json:"source_type,omitempty" jsonschema:"Restrict results to one source type, e.g. document, web, conversation."`
}

// KnowledgeAddInput is the input schema for the knowledge_add tool.
type KnowledgeAddInput struct {
	Text       string `json:"text" jsonschema:"The text to store in the knowledge base."`
	SourceType string `json:"source_type" jsonschema:"Where the text came from: document, web, conversation, or manual."`
	SourceID   string `json:"source_id,omitempty" jsonschema:"Optional reference back to the origin (file path, URL, ticket id)."`
}

// knowledgeHit is one search result as returned to the client.
type knowledgeHit struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	SourceType string  `json:"source_type"`
	SourceRef  string  `json:"source_ref,omitempty"`
	Similarity float32 `json:"similarity"`
	CreatedAt  string  `json:"created_at"`
}

// registerKnowledgeTools registers knowledge_search and knowledge_add.
func (s *Server) registerKnowledgeTools() error {
	searchSchema, err := jsonschema.For[KnowledgeSearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolKnowledgeSearch, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolKnowledgeSearch,
		Description: "Search the supply-chain knowledge base using semantic similarity. " +
			"Finds stored documents, crawled pages, and notes related to the query.",
		InputSchema: searchSchema,
	}, s.SearchKnowledge)

	addSchema, err := jsonschema.For[KnowledgeAddInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolKnowledgeAdd, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolKnowledgeAdd,
		Description: "Store a text in the supply-chain knowledge base for later retrieval " +
			"via knowledge_search. Identical texts are deduplicated.",
		InputSchema: addSchema,
	}, s.AddKnowledge)

	return nil
}

// SearchKnowledge handles the knowledge_search MCP tool call.
func (s *Server) SearchKnowledge(ctx context.Context, _ *mcp.CallToolRequest, input KnowledgeSearchInput) (*mcp.CallToolResult, any, error) {
	var opts []search.Option
	if input.TopK != 0 {
		opts = append(opts, search.WithTopK(input.TopK))
	}
	if input.SourceType != "" {
		opts = append(opts, search.WithSourceTypes(input.SourceType))
	}

	hits, err := s.search.SearchText(ctx, s.scope, input.Query, opts...)
	if err != nil {
		switch {
		case errors.Is(err, search.ErrEmptyQuery),
			errors.Is(err, search.ErrQueryTooLong),
			errors.Is(err, search.ErrTopKRange):
			return errorResult(err.Error()), nil, nil
		default:
			return nil, nil, fmt.Errorf("knowledge search: %w", err)
		}
	}

	out := make([]knowledgeHit, len(hits))
	for i, h := range hits {
		out[i] = knowledgeHit{
			ID:         h.ID.String(),
			Content:    h.Content,
			SourceType: h.SourceType,
			SourceRef:  h.SourceRef,
			Similarity: h.Similarity,
			CreatedAt:  h.CreatedAt.Format(time.RFC3339),
		}
	}

	s.logger.Debug("knowledge search served", "hits", len(out))
	result, err := jsonResult(map[string]any{"results": out, "total": len(out)})
	return result, nil, err
}

// AddKnowledge handles the knowledge_add MCP tool call.
func (s *Server) AddKnowledge(ctx context.Context, _ *mcp.CallToolRequest, input KnowledgeAddInput) (*mcp.CallToolResult, any, error) {
	res, err := s.store.Put(ctx, s.scope, embedding.PutRequest{
		Content:    input.Text,
		SourceType: input.SourceType,
		SourceRef:  input.SourceID,
	})
	if err != nil {
		switch {
		case errors.Is(err, embedding.ErrEmptyText),
			errors.Is(err, embedding.ErrTextTooLong),
			errors.Is(err, embedding.ErrInvalidSourceType):
			return errorResult(err.Error()), nil, nil
		default:
			return nil, nil, fmt.Errorf("knowledge add: %w", err)
		}
	}

	s.logger.Debug("knowledge stored",
		"id", res.Record.ID,
		"deduplicated", res.Deduplicated,
	)
	result, err := jsonResult(map[string]any{
		"id":           res.Record.ID.String(),
		"deduplicated": res.Deduplicated,
	})
	return result, nil, err
}
