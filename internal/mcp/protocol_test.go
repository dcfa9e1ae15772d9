package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/search"
)

// connectServer builds a copilot MCP server from cfg and an SDK client
// joined via in-memory transports. Returns the client session for protocol
// calls; both sessions close via t.Cleanup.
func connectServer(t *testing.T, cfg Config) *mcp.ClientSession {
	t.Helper()

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	serverSession, err := server.mcpServer.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)

	clientSession, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = clientSession.Close() })

	return clientSession
}

// textOf extracts the first text content block or fails the test.
func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	text, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] type = %T, want *mcp.TextContent", result.Content[0])
	}
	return text.Text
}

func TestProtocol_ListTools(t *testing.T) {
	session := connectServer(t, validConfig(t))

	result, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}

	var names []string
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
		if tool.Description == "" {
			t.Errorf("tool %q has empty description", tool.Name)
		}
	}
	sort.Strings(names)

	wantNames := []string{ToolKnowledgeAdd, ToolKnowledgeSearch}
	if len(names) != len(wantNames) {
		t.Fatalf("ListTools() returned %v, want %v", names, wantNames)
	}
	for i, got := range names {
		if got != wantNames[i] {
			t.Errorf("tool[%d] = %q, want %q", i, got, wantNames[i])
		}
	}
}

func TestProtocol_KnowledgeSearch(t *testing.T) {
	searcher := &fakeSearcher{
		hits: []search.Hit{
			{
				ID:         uuid.New(),
				SourceType: "document",
				SourceRef:  "carriers.md",
				Content:    "Maersk lead time is 14 days.",
				Similarity: 0.91,
				CreatedAt:  time.Now(),
			},
		},
	}
	cfg := validConfig(t)
	cfg.Search = searcher
	session := connectServer(t, cfg)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: ToolKnowledgeSearch,
		Arguments: map[string]any{
			"query": "carrier lead times",
			"top_k": 3,
		},
	})
	if err != nil {
		t.Fatalf("CallTool(%s) error = %v", ToolKnowledgeSearch, err)
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) returned error result: %s", ToolKnowledgeSearch, textOf(t, result))
	}

	// The query runs under the server's fixed scope, not anything the
	// client sent.
	if searcher.gotScope != cfg.Scope {
		t.Errorf("search scope = %v, want server scope %v", searcher.gotScope, cfg.Scope)
	}
	if searcher.gotQuery != "carrier lead times" {
		t.Errorf("search query = %q", searcher.gotQuery)
	}
	if searcher.gotOpts != 1 {
		t.Errorf("search got %d options, want 1 (top_k)", searcher.gotOpts)
	}

	var body struct {
		Results []knowledgeHit `json:"results"`
		Total   int            `json:"total"`
	}
	if err := json.Unmarshal([]byte(textOf(t, result)), &body); err != nil {
		t.Fatalf("parsing result JSON: %v", err)
	}
	if body.Total != 1 || len(body.Results) != 1 {
		t.Fatalf("result body = %+v, want one hit", body)
	}
	if body.Results[0].Content != "Maersk lead time is 14 days." {
		t.Errorf("hit content = %q", body.Results[0].Content)
	}
	if body.Results[0].Similarity != 0.91 {
		t.Errorf("hit similarity = %v, want 0.91", body.Results[0].Similarity)
	}
}

func TestProtocol_KnowledgeSearch_ClientMistake(t *testing.T) {
	cfg := validConfig(t)
	cfg.Search = &fakeSearcher{err: search.ErrEmptyQuery}
	session := connectServer(t, cfg)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      ToolKnowledgeSearch,
		Arguments: map[string]any{"query": ""},
	})
	if err != nil {
		t.Fatalf("CallTool(%s) error = %v", ToolKnowledgeSearch, err)
	}

	// Validation failures surface through the tool channel so the calling
	// model can correct itself.
	if !result.IsError {
		t.Fatal("empty query did not produce an error result")
	}
	if text := textOf(t, result); !strings.Contains(text, "query") {
		t.Errorf("error text = %q, want mention of the query", text)
	}
}

func TestProtocol_KnowledgeAdd(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		res: &embedding.PutResult{
			Record:       &embedding.Record{ID: id},
			Deduplicated: false,
		},
	}
	cfg := validConfig(t)
	cfg.Store = store
	session := connectServer(t, cfg)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: ToolKnowledgeAdd,
		Arguments: map[string]any{
			"text":        "Supplier Acme ships from Rotterdam.",
			"source_type": "document",
			"source_id":   "suppliers.md",
		},
	})
	if err != nil {
		t.Fatalf("CallTool(%s) error = %v", ToolKnowledgeAdd, err)
	}
	if result.IsError {
		t.Fatalf("CallTool(%s) returned error result: %s", ToolKnowledgeAdd, textOf(t, result))
	}

	if store.gotScope != cfg.Scope {
		t.Errorf("put scope = %v, want server scope %v", store.gotScope, cfg.Scope)
	}
	if store.gotReq.Content != "Supplier Acme ships from Rotterdam." {
		t.Errorf("put content = %q", store.gotReq.Content)
	}
	if store.gotReq.SourceType != "document" || store.gotReq.SourceRef != "suppliers.md" {
		t.Errorf("put source = (%q, %q)", store.gotReq.SourceType, store.gotReq.SourceRef)
	}

	var body struct {
		ID           string `json:"id"`
		Deduplicated bool   `json:"deduplicated"`
	}
	if err := json.Unmarshal([]byte(textOf(t, result)), &body); err != nil {
		t.Fatalf("parsing result JSON: %v", err)
	}
	if body.ID != id.String() {
		t.Errorf("result id = %q, want %q", body.ID, id)
	}
	if body.Deduplicated {
		t.Error("result marked deduplicated for a fresh store")
	}
}

func TestProtocol_CallTool_UnknownTool(t *testing.T) {
	session := connectServer(t, validConfig(t))

	_, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name: "nonexistent_tool",
	})
	if err == nil {
		t.Fatal("CallTool(nonexistent_tool) error = nil, want error")
	}
	if !strings.Contains(err.Error(), "nonexistent_tool") {
		t.Errorf("error = %q, want to contain the tool name", err.Error())
	}
}

func TestHandler_AddKnowledge_SystemError(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store = &fakeStore{err: errors.New("connection refused")}

	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}

	// Infrastructure failures propagate as Go errors, not IsError results.
	_, _, err = s.AddKnowledge(context.Background(), nil, KnowledgeAddInput{
		Text:       "text",
		SourceType: "document",
	})
	if err == nil {
		t.Fatal("AddKnowledge() error = nil, want wrapped store error")
	}
}
