// Package llm is the single boundary between the copilot and its model
// providers. Everything that talks to an LLM or an embedder goes through
// Client, which normalizes provider failures into ProviderError so callers
// can decide between retry, fallback, and fail without knowing which
// provider is configured.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"
)

// Message roles as stored and sent to providers. Assistant maps to the
// Genkit model role on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of conversation handed to Generate.
type Message struct {
	Role    string
	Content string
}

// GenerateRequest is a provider-neutral chat completion request.
type GenerateRequest struct {
	System   string    // system prompt, may be empty
	Messages []Message // oldest first, last entry is the current user turn

	// Temperature overrides the client default for this call when non-nil.
	Temperature *float32
	// MaxTokens overrides the client default when positive.
	MaxTokens int
}

// GenerateResponse carries the model output plus token accounting when the
// provider reports it.
type GenerateResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Config assembles a Client.
type Config struct {
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Provider string // config.ProviderGemini etc.
	// ModelName is provider-qualified, e.g. "googleai/gemini-2.5-flash".
	ModelName   string
	EmbedDim    int
	Temperature float32
	MaxTokens   int
	Logger      *slog.Logger
}

// Client issues generation and embedding calls against the configured
// provider. Safe for concurrent use.
type Client struct {
	g         *genkit.Genkit
	embedder  ai.Embedder
	provider  string
	modelName string
	embedDim  int
	genConfig *genai.GenerateContentConfig // non-nil only for the google provider
	logger    *slog.Logger
}

// New builds a Client. The Genkit instance and embedder come pre-initialized
// from the app composition root, where the provider plugins are registered.
func New(cfg Config) (*Client, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.EmbedDim <= 0 {
		return nil, fmt.Errorf("embedding dimension is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		g:         cfg.Genkit,
		embedder:  cfg.Embedder,
		provider:  providerLabel(cfg.Provider, cfg.ModelName),
		modelName: cfg.ModelName,
		embedDim:  cfg.EmbedDim,
		logger:    logger,
	}

	// Generation parameters ride on the typed google config. The other
	// plugins fall back to their server-side defaults; the pack exposes no
	// portable config surface across providers.
	if strings.HasPrefix(cfg.ModelName, "googleai/") {
		temp := cfg.Temperature
		c.genConfig = &genai.GenerateContentConfig{
			Temperature:     &temp,
			MaxOutputTokens: int32(cfg.MaxTokens),
		}
	}

	return c, nil
}

// Provider returns the provider label used in errors and logs.
func (c *Client) Provider() string { return c.provider }

// ModelName returns the provider-qualified model name.
func (c *Client) ModelName() string { return c.modelName }

// EmbedderName returns the registered name of the configured embedder.
// Embedding rows are keyed by this name, so swapping embedders never
// collides with vectors produced by the old one.
func (c *Client) EmbedderName() string { return c.embedder.Name() }

// Generate performs one chat completion. Failures come back as
// *ProviderError; use IsTransient to decide on retry.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	messages := make([]*ai.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, &ai.Message{
			Role:    toGenkitRole(m.Role),
			Content: []*ai.Part{ai.NewTextPart(m.Content)},
		})
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(messages...),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if cfg := c.configFor(req); cfg != nil {
		opts = append(opts, ai.WithConfig(cfg))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return nil, classify(c.provider, "generate", err)
	}

	out := &GenerateResponse{Text: resp.Text()}
	if resp.Usage != nil {
		out.InputTokens = resp.Usage.InputTokens
		out.OutputTokens = resp.Usage.OutputTokens
	}
	return out, nil
}

// GenerateInto performs a structured-output completion, unmarshaling the
// model response into out. out must be a pointer to a JSON-taggable struct;
// its zero value doubles as the schema from which Genkit derives the output
// constraints.
func (c *Client) GenerateInto(ctx context.Context, req GenerateRequest, out any) error {
	messages := make([]*ai.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, &ai.Message{
			Role:    toGenkitRole(m.Role),
			Content: []*ai.Part{ai.NewTextPart(m.Content)},
		})
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(messages...),
		ai.WithOutputType(out),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}

	resp, err := genkit.Generate(ctx, c.g, opts...)
	if err != nil {
		return classify(c.provider, "generate", err)
	}
	if err := resp.Output(out); err != nil {
		return classify(c.provider, "generate", fmt.Errorf("decoding structured output: %w", err))
	}
	return nil
}

// Embed converts texts into embedding vectors, one per input, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	dim := int32(c.embedDim)
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   docs,
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, classify(c.provider, "embed", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, classify(c.provider, "embed",
			fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(texts)))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, classify(c.provider, "embed",
				fmt.Errorf("empty embedding for input %d", i))
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// configFor merges per-request overrides onto the client's generation
// config. Returns nil for providers without a typed config surface, where
// overrides are silently ignored like the construction-time settings.
func (c *Client) configFor(req GenerateRequest) *genai.GenerateContentConfig {
	if c.genConfig == nil {
		return nil
	}
	if req.Temperature == nil && req.MaxTokens <= 0 {
		return c.genConfig
	}

	override := *c.genConfig
	if req.Temperature != nil {
		override.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		override.MaxOutputTokens = int32(req.MaxTokens)
	}
	return &override
}

// toGenkitRole maps stored roles onto Genkit's wire roles.
func toGenkitRole(role string) ai.Role {
	switch role {
	case RoleAssistant:
		return ai.RoleModel
	case RoleSystem:
		return ai.RoleSystem
	default:
		return ai.RoleUser
	}
}

// providerLabel derives the label reported in ProviderError from the
// qualified model name, falling back to the configured provider.
func providerLabel(provider, modelName string) string {
	if prefix, _, ok := strings.Cut(modelName, "/"); ok && prefix != "" {
		return prefix
	}
	return provider
}
