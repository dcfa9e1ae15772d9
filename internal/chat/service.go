// Package chat orchestrates one conversational turn: persist the user
// message, retrieve grounding context, prompt the model through the
// resilience stack, persist the reply.
//
// The orchestrator is the only place a provider failure turns into a
// user-facing fallback. Every other layer surfaces errors; Converse absorbs
// them once the retry budget is spent, persists the configured fallback as
// the assistant message so the turn pair stays intact, and returns the
// typed provider error alongside the response for the API layer to report.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/rag"
	"github.com/supplymind/copilot/internal/search"
	"github.com/supplymind/copilot/internal/session"
	"github.com/supplymind/copilot/internal/tenant"
)

// MaxMessageRunes caps the user message length.
const MaxMessageRunes = 10_000

// Override bounds, matching the API contract.
const (
	maxTemperature = 2.0
	maxTokensLimit = 4000
)

// Defaults applied by New for zero Config fields.
const (
	DefaultHistoryWindow  = 10
	DefaultContextBudget  = 6000
	DefaultRequestTimeout = 30 * time.Second

	// DefaultFallback is persisted as the assistant reply when no fallback
	// message is configured.
	DefaultFallback = "I'm having trouble reaching the language model right now. Your message was saved; please try again in a moment."
)

// systemPrompt anchors every conversation. Retrieved context is appended
// beneath it; the model is told to prefer that context over prior
// knowledge.
const systemPrompt = `You are a supply chain operations copilot. Answer from the provided context when it covers the question, and say plainly when it does not. Be concrete: name SKUs, orders, quantities and dates exactly as they appear. Do not invent figures.`

// contextHeader introduces retrieved context inside the system prompt.
const contextHeader = "Context from the knowledge base:"

// searchTimeout bounds retrieval per turn. Retrieval is best effort; a slow
// search degrades the turn to an uncontexted answer instead of failing it.
const searchTimeout = 5 * time.Second

// Generator is the slice of the LLM client the orchestrator needs.
type Generator interface {
	Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)
	ModelName() string
}

// Request is one user turn.
type Request struct {
	// Message is the user's input. Required, at most MaxMessageRunes.
	Message string
	// SessionID continues an existing session; zero creates a new one.
	SessionID uuid.UUID
	// ContextHints, when it carries text, substitutes retrieval: the hints
	// are rendered straight into the prompt and the embed+search steps are
	// skipped. Keys become source markers.
	ContextHints map[string]string
	// Temperature overrides the configured sampling temperature for this
	// call when non-nil. Must be in [0, 2].
	Temperature *float32
	// MaxTokens overrides the configured completion budget when positive.
	// Must be at most 4000.
	MaxTokens int
}

// Usage reports token spend for one turn: provider-reported when available,
// runes/2 estimates otherwise.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is one completed turn.
type Response struct {
	// Text is the assistant reply, or the configured fallback when the
	// provider stayed down.
	Text      string
	SessionID uuid.UUID
	// MessageID identifies the persisted assistant message.
	MessageID uuid.UUID
	Usage     Usage
	// Model is the provider-qualified model name that answered.
	Model string
}

// Config assembles a Service.
type Config struct {
	Store  *session.Store
	Search *search.Engine
	LLM    Generator
	Logger *slog.Logger

	// HistoryWindow is how many prior messages enter the prompt.
	HistoryWindow int
	// ContextBudget is the rune budget for retrieved context.
	ContextBudget int
	// Fallback is persisted as the assistant reply when generation fails.
	Fallback string
	// RequestTimeout bounds each model attempt.
	RequestTimeout time.Duration

	// Retry, Breaker and Budget use their defaults for zero fields.
	Retry   RetryConfig
	Breaker BreakerConfig
	Budget  TokenBudget
	// Limiter throttles outbound model calls across all sessions. Optional.
	Limiter *rate.Limiter

	// BackgroundCtx outlives requests; title generation runs on it.
	// Defaults to context.Background().
	BackgroundCtx context.Context
	// WG tracks background goroutines so shutdown can drain them.
	WG *sync.WaitGroup
}

// Service runs conversations. Safe for concurrent use; calls on the same
// session serialize, calls on different sessions run in parallel.
type Service struct {
	store  *session.Store
	search *search.Engine
	llm    Generator
	logger *slog.Logger

	historyWindow int
	contextBudget int
	fallback      string
	timeout       time.Duration
	budget        TokenBudget

	retry   RetryConfig
	breaker *CircuitBreaker
	limiter *rate.Limiter
	locks   *sessionLocks

	bgCtx context.Context
	wg    *sync.WaitGroup
}

// New creates a chat Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Search == nil {
		return nil, fmt.Errorf("search engine is required")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if cfg.WG == nil {
		return nil, fmt.Errorf("wait group is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = DefaultContextBudget
	}
	if cfg.Fallback == "" {
		cfg.Fallback = DefaultFallback
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	// MaxRetries 0 is a valid setting (no retries); only negative values
	// fall back.
	retryDef := DefaultRetryConfig()
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = retryDef.MaxRetries
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = retryDef.InitialInterval
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = retryDef.MaxInterval
	}

	budgetDef := DefaultTokenBudget()
	if cfg.Budget.MaxHistoryTokens <= 0 {
		cfg.Budget.MaxHistoryTokens = budgetDef.MaxHistoryTokens
	}
	if cfg.Budget.MaxInputTokens <= 0 {
		cfg.Budget.MaxInputTokens = budgetDef.MaxInputTokens
	}

	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}

	return &Service{
		store:         cfg.Store,
		search:        cfg.Search,
		llm:           cfg.LLM,
		logger:        logger,
		historyWindow: cfg.HistoryWindow,
		contextBudget: cfg.ContextBudget,
		fallback:      cfg.Fallback,
		timeout:       cfg.RequestTimeout,
		budget:        cfg.Budget,
		retry:         cfg.Retry,
		breaker:       NewCircuitBreaker(cfg.Breaker),
		limiter:       cfg.Limiter,
		locks:         newSessionLocks(),
		bgCtx:         bgCtx,
		wg:            cfg.WG,
	}, nil
}

// Converse runs one turn. On success both the user and assistant messages
// are persisted and the assistant text is returned. When the provider stays
// down through the resilience stack, the fallback is persisted instead and
// returned together with the provider error, so the turn pair invariant
// holds either way: Converse persists exactly one assistant message per
// user message it accepts.
func (s *Service) Converse(ctx context.Context, scope tenant.Scope, req Request) (*Response, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	if n := utf8.RuneCountInString(msg); n > MaxMessageRunes {
		return nil, fmt.Errorf("%w: %d runes exceeds %d", ErrMessageTooLong, n, MaxMessageRunes)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > maxTemperature) {
		return nil, fmt.Errorf("%w: %g not in [0, %g]", ErrTemperatureRange, *req.Temperature, maxTemperature)
	}
	if req.MaxTokens < 0 || req.MaxTokens > maxTokensLimit {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrMaxTokensRange, req.MaxTokens, maxTokensLimit)
	}

	sess, created, err := s.resolveSession(ctx, scope, req.SessionID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(sess.ID)
	defer unlock()

	// History is read before the new message lands so the prompt window
	// holds prior turns only.
	history, err := s.store.Recent(ctx, scope, sess.ID, s.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	if _, err := s.store.AppendMessage(ctx, scope, sess.ID, session.RoleUser, msg, session.Meta{
		TokenCount: estimateTokens(msg),
	}); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	contextText := s.retrieveContext(ctx, scope, msg, req.ContextHints)
	prompt := s.buildPrompt(contextText, history, msg, req)

	resp, genErr := s.generate(ctx, prompt)

	text := s.fallback
	if genErr == nil {
		text = strings.TrimSpace(resp.Text)
		if text == "" {
			// The model succeeded but said nothing usable.
			text = s.fallback
		}
	} else {
		s.logger.Warn("model unavailable, persisting fallback",
			"session_id", sess.ID,
			"error", genErr,
		)
	}

	asst, err := s.store.AppendMessage(ctx, scope, sess.ID, session.RoleAssistant, text, session.Meta{
		TokenCount: completionTokens(resp, text),
		Model:      s.llm.ModelName(),
	})
	if err != nil {
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	if created {
		s.spawnTitle(scope, sess.ID, msg)
	}

	out := &Response{
		Text:      text,
		SessionID: sess.ID,
		MessageID: asst.ID,
		Usage:     usageFrom(resp, prompt, text),
		Model:     s.llm.ModelName(),
	}
	s.logger.Debug("turn completed",
		"session_id", sess.ID,
		"created", created,
		"total_tokens", out.Usage.TotalTokens,
		"fallback", genErr != nil,
	)
	if genErr != nil {
		return out, genErr
	}
	return out, nil
}

// resolveSession loads the target session or creates one for a first turn.
func (s *Service) resolveSession(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*session.Session, bool, error) {
	if id != uuid.Nil {
		sess, err := s.store.Get(ctx, scope, id)
		if err != nil {
			return nil, false, err
		}
		return sess, false, nil
	}

	sess, err := s.store.Create(ctx, scope, "")
	if err != nil {
		return nil, false, fmt.Errorf("creating session: %w", err)
	}
	return sess, true, nil
}

// generate runs the model call behind the circuit breaker. The whole
// retried call counts as one breaker event.
func (s *Service) generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if err := s.breaker.Allow(); err != nil {
		s.logger.Warn("circuit breaker rejecting model call",
			"state", s.breaker.State().String(),
		)
		return nil, err
	}

	resp, err := s.generateWithRetry(ctx, req)
	if err != nil {
		s.breaker.Failure()
		return nil, err
	}
	s.breaker.Success()
	return resp, nil
}

// retrieveContext renders caller hints when they carry text, otherwise runs
// the embed+search pipeline. Retrieval failures degrade to an uncontexted
// answer rather than failing the turn.
func (s *Service) retrieveContext(ctx context.Context, scope tenant.Scope, query string, hints map[string]string) string {
	if len(hints) > 0 {
		if text := renderHints(hints, s.contextBudget); text != "" {
			return text
		}
	}

	if runes := []rune(query); len(runes) > search.MaxQueryRunes {
		query = string(runes[:search.MaxQueryRunes])
	}

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	hits, err := s.search.SearchText(searchCtx, scope, query)
	if err != nil {
		s.logger.Warn("context retrieval failed, answering without context", "error", err)
		return ""
	}
	return rag.AssembleLabeled(hits, s.contextBudget)
}

// renderHints turns the caller-supplied context map into labeled blocks in
// key order, clipped to the budget. Blank values are skipped.
func renderHints(hints map[string]string, budget int) string {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(hints)) {
		text := strings.TrimSpace(hints[k])
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[" + k + "]\n")
		b.WriteString(text)
	}

	out := b.String()
	if runes := []rune(out); len(runes) > budget {
		out = string(runes[:budget])
	}
	return out
}

// buildPrompt assembles the generation request: system instructions plus
// retrieved context, the trailing history window, then the user turn.
func (s *Service) buildPrompt(contextText string, history []*session.Message, userMsg string, req Request) llm.GenerateRequest {
	system := systemPrompt
	if contextText != "" {
		system += "\n\n" + contextHeader + "\n" + contextText
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = truncateHistory(msgs, s.budget.MaxHistoryTokens)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleUser,
		Content: truncateToTokens(userMsg, s.budget.MaxInputTokens),
	})

	return llm.GenerateRequest{
		System:      system,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
}

// usageFrom prefers provider-reported token counts, falling back to the
// runes/2 estimate over the prompt and reply.
func usageFrom(resp *llm.GenerateResponse, prompt llm.GenerateRequest, text string) Usage {
	var u Usage
	if resp != nil {
		u.PromptTokens = resp.InputTokens
		u.CompletionTokens = resp.OutputTokens
	}
	if u.PromptTokens == 0 {
		n := estimateTokens(prompt.System)
		for _, m := range prompt.Messages {
			n += estimateTokens(m.Content)
		}
		u.PromptTokens = n
	}
	if u.CompletionTokens == 0 {
		u.CompletionTokens = estimateTokens(text)
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// completionTokens picks the token count persisted on the assistant message.
func completionTokens(resp *llm.GenerateResponse, text string) int {
	if resp != nil && resp.OutputTokens > 0 {
		return resp.OutputTokens
	}
	return estimateTokens(text)
}
