//go:build integration

package chat

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/search"
	"github.com/supplymind/copilot/internal/session"
	"github.com/supplymind/copilot/internal/tenant"
	"github.com/supplymind/copilot/internal/testutil"
)

var sharedDB *testutil.TestDB

func TestMain(m *testing.M) {
	var cleanup func()
	var err error
	sharedDB, cleanup, err = testutil.SetupTestDBForMain()
	if err != nil {
		log.Fatalf("starting test database: %v", err)
	}
	code := m.Run()
	cleanup()
	os.Exit(code)
}

// pinnedEmbedder returns fixed vectors per content so stored documents and
// queries line up exactly.
type pinnedEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
	failErr error
	calls   int
}

func (p *pinnedEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failErr != nil {
		err := p.failErr
		p.failErr = nil
		return nil, err
	}
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return testutil.HashVector(text, p.dim), nil
}

func (p *pinnedEmbedder) EmbedderName() string { return "fake/embedder" }

func (p *pinnedEmbedder) pin(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vectors[text] = vec
}

func (p *pinnedEmbedder) embedCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type harness struct {
	svc      *Service
	sessions *session.Store
	docs     *embedding.Store
	gen      *scriptedGenerator
	emb      *pinnedEmbedder
	wg       *sync.WaitGroup
}

func setupChat(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	testutil.CleanTables(t, sharedDB.Pool)

	emb := &pinnedEmbedder{dim: 768, vectors: map[string][]float32{}}
	docs, err := embedding.NewStore(sharedDB.Pool, emb, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("embedding.NewStore() error = %v", err)
	}
	engine, err := search.New(sharedDB.Pool, emb, search.Config{}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("search.New() error = %v", err)
	}
	sessions, err := session.NewStore(sharedDB.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("session.NewStore() error = %v", err)
	}

	gen := &scriptedGenerator{text: "The quantity on hand is 40 units."}
	wg := &sync.WaitGroup{}
	cfg := Config{
		Store:  sessions,
		Search: engine,
		LLM:    gen,
		Logger: testutil.DiscardLogger(),
		Retry:  fastRetry(1),
		WG:     wg,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Drain title goroutines before the next test truncates the tables.
	t.Cleanup(wg.Wait)

	return &harness{svc: svc, sessions: sessions, docs: docs, gen: gen, emb: emb, wg: wg}
}

// seedSession creates a session through the store so Converse takes the
// existing-session path and spawns no title goroutine.
func seedSession(t *testing.T, h *harness, scope tenant.Scope) *session.Session {
	t.Helper()
	sess, err := h.sessions.Create(context.Background(), scope, "seeded")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sess
}

func TestConverse_FirstTurnCreatesSessionWithTurnPair(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	const question = "how many units of SKU-1 do we have?"
	resp, err := h.svc.Converse(ctx, scope, Request{Message: question})
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	if resp.SessionID == uuid.Nil {
		t.Fatal("SessionID is zero, want a created session")
	}
	if resp.Text != "The quantity on hand is 40 units." {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Model != "fake/chat-model" {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.Usage.TotalTokens <= 0 {
		t.Errorf("TotalTokens = %d, want > 0", resp.Usage.TotalTokens)
	}

	msgs, err := h.sessions.ListMessages(ctx, scope, resp.SessionID, 0, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want exactly the turn pair", len(msgs))
	}
	if msgs[0].Role != session.RoleUser || msgs[0].Content != question {
		t.Errorf("first message = %s %q, want the user turn", msgs[0].Role, msgs[0].Content)
	}
	if msgs[1].Role != session.RoleAssistant || msgs[1].Content != resp.Text {
		t.Errorf("second message = %s %q, want the assistant reply", msgs[1].Role, msgs[1].Content)
	}
	if msgs[0].Sequence != 1 || msgs[1].Sequence != 2 {
		t.Errorf("sequences = %d, %d, want 1, 2", msgs[0].Sequence, msgs[1].Sequence)
	}
	if msgs[1].ID != resp.MessageID {
		t.Errorf("MessageID = %s, want the persisted assistant id %s", resp.MessageID, msgs[1].ID)
	}
	if msgs[1].Metadata["model"] != "fake/chat-model" {
		t.Errorf(`assistant metadata["model"] = %q`, msgs[1].Metadata["model"])
	}
}

func TestConverse_SecondTurnCarriesHistory(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()
	sess := seedSession(t, h, scope)

	if _, err := h.svc.Converse(ctx, scope, Request{SessionID: sess.ID, Message: "any delays on PO-12?"}); err != nil {
		t.Fatalf("first Converse() error = %v", err)
	}
	if _, err := h.svc.Converse(ctx, scope, Request{SessionID: sess.ID, Message: "and what about PO-13?"}); err != nil {
		t.Fatalf("second Converse() error = %v", err)
	}

	msgs, err := h.sessions.ListMessages(ctx, scope, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("len(messages) = %d, want two turn pairs", len(msgs))
	}

	reqs := h.gen.requests()
	last := reqs[len(reqs)-1]
	if len(last.Messages) != 3 {
		t.Fatalf("len(prompt messages) = %d, want first pair plus new turn", len(last.Messages))
	}
	if last.Messages[0].Role != llm.RoleUser || last.Messages[0].Content != "any delays on PO-12?" {
		t.Errorf("prompt[0] = %+v, want the first user turn", last.Messages[0])
	}
	if last.Messages[1].Role != llm.RoleAssistant {
		t.Errorf("prompt[1].Role = %s, want the assistant reply", last.Messages[1].Role)
	}
	if last.Messages[2].Content != "and what about PO-13?" {
		t.Errorf("prompt[2] = %q, want the new user turn", last.Messages[2].Content)
	}
}

func TestConverse_RetrievalGroundsPrompt(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	const doc = "Reorder point for SKU-77 is 120 units."
	const question = "what is the reorder point for SKU-77?"
	h.emb.pin(doc, testutil.UnitVector(768, 2))
	h.emb.pin(question, testutil.UnitVector(768, 2))

	if _, err := h.docs.Put(ctx, scope, embedding.PutRequest{
		SourceType: "document",
		SourceRef:  "policies.md",
		Content:    doc,
	}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	sess := seedSession(t, h, scope)
	if _, err := h.svc.Converse(ctx, scope, Request{SessionID: sess.ID, Message: question}); err != nil {
		t.Fatalf("Converse() error = %v", err)
	}

	req := h.gen.requests()[0]
	if !strings.Contains(req.System, contextHeader) {
		t.Error("prompt should carry the context header")
	}
	if !strings.Contains(req.System, doc) {
		t.Errorf("prompt System = %q, want the stored document text", req.System)
	}
	if !strings.Contains(req.System, "[document: policies.md]") {
		t.Error("prompt should label the context with its source marker")
	}
}

func TestConverse_HintsBypassRetrieval(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()
	sess := seedSession(t, h, scope)

	_, err := h.svc.Converse(ctx, scope, Request{
		SessionID:    sess.ID,
		Message:      "how low is SKU-9?",
		ContextHints: map[string]string{"inventory": "SKU-9 has 3 units."},
	})
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}

	req := h.gen.requests()[0]
	if !strings.Contains(req.System, "[inventory]\nSKU-9 has 3 units.") {
		t.Errorf("prompt System = %q, want the rendered hint", req.System)
	}
	if h.emb.embedCalls() != 0 {
		t.Errorf("embedder called %d times, want 0 (hints bypass the search path)", h.emb.embedCalls())
	}
}

func TestConverse_FallbackPersistedOnProviderFailure(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()
	sess := seedSession(t, h, scope)

	// Two transient failures exhaust the single retry.
	h.gen.failWith(transientErr(), transientErr())

	resp, err := h.svc.Converse(ctx, scope, Request{SessionID: sess.ID, Message: "is PO-55 delayed?"})
	if err == nil {
		t.Fatal("Converse() error = nil, want the provider error alongside the fallback")
	}
	var pe *llm.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v does not wrap ProviderError", err)
	}
	if resp == nil {
		t.Fatal("Converse() response = nil, want the fallback response")
	}
	if resp.Text != DefaultFallback {
		t.Errorf("Text = %q, want the fallback message", resp.Text)
	}

	msgs, listErr := h.sessions.ListMessages(ctx, scope, sess.ID, 0, 0)
	if listErr != nil {
		t.Fatalf("ListMessages() error = %v", listErr)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want the user message paired with the fallback", len(msgs))
	}
	if msgs[1].Role != session.RoleAssistant || msgs[1].Content != DefaultFallback {
		t.Errorf("assistant message = %s %q, want the persisted fallback", msgs[1].Role, msgs[1].Content)
	}
}

func TestConverse_EmptyReplyUsesFallback(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()
	sess := seedSession(t, h, scope)

	h.gen.text = ""

	resp, err := h.svc.Converse(ctx, scope, Request{SessionID: sess.ID, Message: "anything new?"})
	if err != nil {
		t.Fatalf("Converse() error = %v, want success with fallback text", err)
	}
	if resp.Text != DefaultFallback {
		t.Errorf("Text = %q, want the fallback for an empty model reply", resp.Text)
	}
}

func TestConverse_ArchivedSessionRefused(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()
	sess := seedSession(t, h, scope)

	if _, err := h.sessions.Archive(ctx, scope, sess.ID); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}

	_, err := h.svc.Converse(ctx, scope, Request{SessionID: sess.ID, Message: "still there?"})
	if !errors.Is(err, session.ErrSessionArchived) {
		t.Fatalf("Converse() error = %v, want ErrSessionArchived", err)
	}

	msgs, err := h.sessions.ListMessages(ctx, scope, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("len(messages) = %d, want none on an archived session", len(msgs))
	}
}

func TestConverse_ForeignSessionDenied(t *testing.T) {
	h := setupChat(t)
	owner := testutil.NewScope(t)
	intruder := testutil.NewScope(t)
	ctx := context.Background()
	sess := seedSession(t, h, owner)

	_, err := h.svc.Converse(ctx, intruder, Request{SessionID: sess.ID, Message: "let me in"})
	if !errors.Is(err, tenant.ErrScopeViolation) {
		t.Fatalf("Converse() error = %v, want ErrScopeViolation", err)
	}

	msgs, err := h.sessions.ListMessages(ctx, owner, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("len(messages) = %d, want the foreign call to leave no trace", len(msgs))
	}
}

func TestConverse_UnknownSessionNotFound(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)

	_, err := h.svc.Converse(context.Background(), scope, Request{
		SessionID: uuid.New(),
		Message:   "hello?",
	})
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Converse() error = %v, want ErrSessionNotFound", err)
	}
}

func TestConverse_ConcurrentTurnsNeverInterleave(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()
	sess := seedSession(t, h, scope)

	const turns = 5
	var wg sync.WaitGroup
	errs := make([]error, turns)
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.svc.Converse(ctx, scope, Request{SessionID: sess.ID, Message: "concurrent turn"})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Converse() %d error = %v", i, err)
		}
	}

	msgs, err := h.sessions.ListMessages(ctx, scope, sess.ID, 0, 0)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2*turns {
		t.Fatalf("len(messages) = %d, want %d", len(msgs), 2*turns)
	}
	for i, m := range msgs {
		if m.Sequence != int64(i+1) {
			t.Errorf("messages[%d].Sequence = %d, want %d", i, m.Sequence, i+1)
		}
		want := session.RoleUser
		if i%2 == 1 {
			want = session.RoleAssistant
		}
		if m.Role != want {
			t.Errorf("messages[%d].Role = %s, want %s (pairs must stay adjacent)", i, m.Role, want)
		}
	}
}

func TestConverse_TitleGeneratedForNewSession(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	h.gen.text = "Inventory Levels"

	resp, err := h.svc.Converse(ctx, scope, Request{Message: "what are the current inventory levels?"})
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}

	h.wg.Wait()

	sess, err := h.sessions.Get(ctx, scope, resp.SessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.Title != "Inventory Levels" {
		t.Errorf("Title = %q, want the model-generated title", sess.Title)
	}
}

func TestConverse_TitleFallsBackToPrefix(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	// Two failures for the chat attempts, one for the title call.
	h.gen.failWith(transientErr(), transientErr(), permanentErr())

	const question = "check inventory levels"
	resp, err := h.svc.Converse(ctx, scope, Request{Message: question})
	if err == nil {
		t.Fatal("Converse() error = nil, want provider failure")
	}
	if resp == nil {
		t.Fatal("Converse() response = nil, want fallback response")
	}

	h.wg.Wait()

	sess, err := h.sessions.Get(ctx, scope, resp.SessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if sess.Title != question {
		t.Errorf("Title = %q, want the message prefix fallback %q", sess.Title, question)
	}
}

func TestConverse_HistoryWindowBounded(t *testing.T) {
	h := setupChat(t, func(c *Config) { c.HistoryWindow = 2 })
	scope := testutil.NewScope(t)
	ctx := context.Background()
	sess := seedSession(t, h, scope)

	for i := range 3 {
		if _, err := h.sessions.AppendMessage(ctx, scope, sess.ID, session.RoleUser,
			"question "+string(rune('a'+i)), session.Meta{}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
		if _, err := h.sessions.AppendMessage(ctx, scope, sess.ID, session.RoleAssistant,
			"answer "+string(rune('a'+i)), session.Meta{}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	if _, err := h.svc.Converse(ctx, scope, Request{SessionID: sess.ID, Message: "latest?"}); err != nil {
		t.Fatalf("Converse() error = %v", err)
	}

	req := h.gen.requests()[0]
	if len(req.Messages) != 3 {
		t.Fatalf("len(prompt messages) = %d, want window of 2 plus the new turn", len(req.Messages))
	}
	if req.Messages[0].Content != "question c" || req.Messages[1].Content != "answer c" {
		t.Errorf("window = %q, %q, want the newest stored pair",
			req.Messages[0].Content, req.Messages[1].Content)
	}
}

func TestConverse_SearchFailureDegrades(t *testing.T) {
	h := setupChat(t)
	scope := testutil.NewScope(t)
	ctx := context.Background()
	sess := seedSession(t, h, scope)

	h.emb.failErr = errors.New("embedder offline")

	resp, err := h.svc.Converse(ctx, scope, Request{SessionID: sess.ID, Message: "status summary please"})
	if err != nil {
		t.Fatalf("Converse() error = %v, want retrieval failure absorbed", err)
	}
	if resp.Text == "" {
		t.Error("Text is empty, want a normal answer without context")
	}

	req := h.gen.requests()[0]
	if strings.Contains(req.System, contextHeader) {
		t.Error("prompt should carry no context block when retrieval fails")
	}
}
