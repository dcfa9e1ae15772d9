package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// FakeModel provides deterministic chat completions for tests. It matches
// the last user message against registered patterns and returns the paired
// response, with optional scripted failures to drive retry and circuit
// breaker paths.
//
// Safe for concurrent use.
type FakeModel struct {
	mu       sync.Mutex
	rules    []fakeRule
	fallback string
	failures []error // consumed one per call before any rule matching
	calls    int
}

type fakeRule struct {
	pattern  string // lowercase substring matched in the last user message
	response string
}

// NewFakeModel creates a fake model returning fallback when nothing matches.
func NewFakeModel(fallback string) *FakeModel {
	return &FakeModel{fallback: fallback}
}

// Respond registers a pattern-response pair. Patterns match
// case-insensitively; first registered match wins.
func (f *FakeModel) Respond(pattern, response string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{pattern: strings.ToLower(pattern), response: response})
}

// FailWith queues errors returned by upcoming calls, in order, before any
// successful response. Queue two transient errors to verify that a single
// retry is not enough; queue one to verify that it is.
func (f *FakeModel) FailWith(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// Calls reports how many times the model was invoked, including failures.
func (f *FakeModel) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Register installs the fake under the name "fake/chat-model" and returns it.
func (f *FakeModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "fake/chat-model", &ai.ModelOptions{
		Label: "Fake Chat Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, f.generate)
}

func (f *FakeModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}

	f.mu.Lock()
	f.calls++
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		f.mu.Unlock()
		return nil, err
	}

	response := f.fallback
	lower := strings.ToLower(userText)
	for _, r := range f.rules {
		if strings.Contains(lower, r.pattern) {
			response = r.response
			break
		}
	}
	f.mu.Unlock()

	if cb != nil {
		_ = cb(ctx, &ai.ModelResponseChunk{
			Content: []*ai.Part{ai.NewTextPart(response)},
		})
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(response)},
		},
		Usage: &ai.GenerationUsage{
			InputTokens:  len(userText) / 2,
			OutputTokens: len(response) / 2,
		},
	}, nil
}

// FakeEmbedder produces deterministic unit vectors for tests. Unmapped
// content hashes to a stable pseudo-random direction; SetVector pins exact
// vectors when a test needs precise cosine similarity between inputs.
//
// Safe for concurrent use.
type FakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	failure error
	dim     int
}

// NewFakeEmbedder creates a fake embedder emitting dim-sized vectors.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector pins the vector returned for exactly matching content.
func (e *FakeEmbedder) SetVector(content string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[content] = vec
}

// FailNext makes the next Embed call return err once.
func (e *FakeEmbedder) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failure = err
}

// Register installs the fake under the name "fake/embedder" and returns it.
func (e *FakeEmbedder) Register(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "fake/embedder", &ai.EmbedderOptions{
		Label:      "Fake Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *FakeEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	e.mu.Lock()
	if e.failure != nil {
		err := e.failure
		e.failure = nil
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		embeddings[i] = &ai.Embedding{Embedding: e.vectorFor(documentText(doc))}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

func (e *FakeEmbedder) vectorFor(content string) []float32 {
	e.mu.Lock()
	if v, ok := e.vectors[content]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()
	return HashVector(content, e.dim)
}

func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// HashVector derives a normalized vector from content via SHA-256. The same
// content always maps to the same unit vector, so self-similarity is 1.0 and
// distinct contents land in distinct directions.
func HashVector(content string, dim int) []float32 {
	hash := sha256.Sum256([]byte(content))
	vec := make([]float32, dim)

	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32],
			hash[(idx+1)%32],
			hash[(idx+2)%32],
			hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// UnitVector builds a dim-sized unit vector pointing along the given axis.
// Two vectors on the same axis have cosine similarity 1, orthogonal axes 0.
func UnitVector(dim, axis int) []float32 {
	vec := make([]float32, dim)
	vec[axis%dim] = 1
	return vec
}
