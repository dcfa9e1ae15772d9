//go:build integration

package search

import (
	"context"
	"log"
	"math"
	"os"
	"testing"

	"github.com/supplymind/copilot/internal/embedding"
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

// pinnedEmbedder returns fixed vectors per content so similarity between
// stored rows and queries is exact.
type pinnedEmbedder struct {
	vectors map[string][]float32
	dim     int
}

func (p *pinnedEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	if v, ok := p.vectors[text]; ok {
		return v, nil
	}
	return testutil.HashVector(text, p.dim), nil
}

func (p *pinnedEmbedder) EmbedderName() string { return "fake/embedder" }

func setupEngine(t *testing.T, emb Embedder) (*Engine, *embedding.Store) {
	t.Helper()
	testutil.CleanTables(t, sharedDB.Pool)

	store, err := embedding.NewStore(sharedDB.Pool, emb, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	engine, err := New(sharedDB.Pool, emb, Config{}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return engine, store
}

func TestSearch_SelfSimilarity(t *testing.T) {
	emb := &pinnedEmbedder{dim: 768, vectors: map[string][]float32{}}
	engine, store := setupEngine(t, emb)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	const text = "Safety stock for SKU-1234 is two weeks of average demand."
	emb.vectors[text] = testutil.UnitVector(768, 3)

	put, err := store.Put(ctx, scope, embedding.PutRequest{SourceType: "document", Content: text})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	hits, err := engine.Search(ctx, scope, testutil.UnitVector(768, 3), WithThreshold(0.99))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want exactly the stored record", len(hits))
	}
	if hits[0].ID != put.Record.ID {
		t.Errorf("hit ID = %s, want %s", hits[0].ID, put.Record.ID)
	}
	if hits[0].Similarity < 0.999 {
		t.Errorf("self-similarity = %g, want ~1.0", hits[0].Similarity)
	}
}

func TestSearch_ThresholdCut(t *testing.T) {
	emb := &pinnedEmbedder{dim: 768, vectors: map[string][]float32{
		"exact match":      testutil.UnitVector(768, 0),
		"orthogonal topic": testutil.UnitVector(768, 1),
	}}
	engine, store := setupEngine(t, emb)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	for _, text := range []string{"exact match", "orthogonal topic"} {
		if _, err := store.Put(ctx, scope, embedding.PutRequest{SourceType: "document", Content: text}); err != nil {
			t.Fatalf("Put(%q) error = %v", text, err)
		}
	}

	// Orthogonal vectors score 0 and must fall below any positive threshold.
	hits, err := engine.Search(ctx, scope, testutil.UnitVector(768, 0), WithThreshold(0.5))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("len(hits) = %d, want 1 above threshold", len(hits))
	}
	if hits[0].Content != "exact match" {
		t.Errorf("hit = %q, want the matching row", hits[0].Content)
	}
	for _, h := range hits {
		if h.Similarity < 0.5 {
			t.Errorf("hit %q below threshold: %g", h.Content, h.Similarity)
		}
	}
}

func TestSearch_OrderingAndTopK(t *testing.T) {
	// Three rows at decreasing similarity to the query axis.
	emb := &pinnedEmbedder{dim: 768, vectors: map[string][]float32{
		"closest":  mix(768, 0, 1, 0.0),
		"middle":   mix(768, 0, 1, 0.4),
		"furthest": mix(768, 0, 1, 0.8),
	}}
	engine, store := setupEngine(t, emb)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	for _, text := range []string{"furthest", "closest", "middle"} {
		if _, err := store.Put(ctx, scope, embedding.PutRequest{SourceType: "document", Content: text}); err != nil {
			t.Fatalf("Put(%q) error = %v", text, err)
		}
	}

	hits, err := engine.Search(ctx, scope, testutil.UnitVector(768, 0), WithThreshold(0), WithTopK(2))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want topK=2", len(hits))
	}
	if hits[0].Content != "closest" || hits[1].Content != "middle" {
		t.Errorf("order = [%q, %q], want [closest, middle]", hits[0].Content, hits[1].Content)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("hits not ordered by similarity descending")
	}
}

func TestSearch_TenantIsolation(t *testing.T) {
	emb := &pinnedEmbedder{dim: 768, vectors: map[string][]float32{
		"mine":   testutil.UnitVector(768, 0),
		"theirs": testutil.UnitVector(768, 0),
	}}
	engine, store := setupEngine(t, emb)
	mine := testutil.NewScope(t)
	theirs := testutil.NewScope(t)
	ctx := context.Background()

	if _, err := store.Put(ctx, mine, embedding.PutRequest{SourceType: "document", Content: "mine"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := store.Put(ctx, theirs, embedding.PutRequest{SourceType: "document", Content: "theirs"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Identical vectors; only the caller's row may surface.
	hits, err := engine.Search(ctx, mine, testutil.UnitVector(768, 0), WithThreshold(0))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "mine" {
		t.Errorf("hits = %v, want only the caller's row", hitContents(hits))
	}
}

func TestSearch_SourceTypeFilter(t *testing.T) {
	emb := &pinnedEmbedder{dim: 768, vectors: map[string][]float32{}}
	engine, store := setupEngine(t, emb)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	puts := []embedding.PutRequest{
		{SourceType: "document", Content: "supplier scorecard doc"},
		{SourceType: "web", Content: "supplier scorecard page"},
		{SourceType: "conversation", Content: "supplier scorecard chat"},
	}
	for _, p := range puts {
		emb.vectors[p.Content] = testutil.UnitVector(768, 0)
		if _, err := store.Put(ctx, scope, p); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	hits, err := engine.Search(ctx, scope, testutil.UnitVector(768, 0),
		WithThreshold(0), WithSourceTypes("document", "web"))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2 filtered hits", len(hits))
	}
	for _, h := range hits {
		if h.SourceType == "conversation" {
			t.Errorf("filtered source type leaked: %q", h.Content)
		}
	}
}

func TestSearch_MetadataFilter(t *testing.T) {
	emb := &pinnedEmbedder{dim: 768, vectors: map[string][]float32{}}
	engine, store := setupEngine(t, emb)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	puts := []embedding.PutRequest{
		{SourceType: "document", Content: "receiving SOP", Metadata: map[string]string{"section": "receiving"}},
		{SourceType: "document", Content: "shipping SOP", Metadata: map[string]string{"section": "shipping"}},
	}
	for _, p := range puts {
		emb.vectors[p.Content] = testutil.UnitVector(768, 0)
		if _, err := store.Put(ctx, scope, p); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	hits, err := engine.Search(ctx, scope, testutil.UnitVector(768, 0),
		WithThreshold(0), WithMetadataFilter("section", "receiving"))
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "receiving SOP" {
		t.Errorf("hits = %v, want only the receiving row", hitContents(hits))
	}
}

func TestSearchText_RoundTrip(t *testing.T) {
	// HashVector gives the query and the stored row identical vectors for
	// identical text, so the row must dominate.
	emb := &pinnedEmbedder{dim: 768, vectors: map[string][]float32{}}
	engine, store := setupEngine(t, emb)
	scope := testutil.NewScope(t)
	ctx := context.Background()

	const text = "Pallets over 500kg route through dock 9."
	if _, err := store.Put(ctx, scope, embedding.PutRequest{SourceType: "document", Content: text}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	hits, err := engine.SearchText(ctx, scope, text, WithThreshold(0.99))
	if err != nil {
		t.Fatalf("SearchText() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Content != text {
		t.Errorf("hits = %v, want the identical row", hitContents(hits))
	}
}

// mix blends two axes: blend 0 is pure axis a, blend 1 pure axis b. The
// result stays unit length for exact cosine values.
func mix(dim, a, b int, blend float64) []float32 {
	va := testutil.UnitVector(dim, a)
	vb := testutil.UnitVector(dim, b)
	out := make([]float32, dim)
	var norm float64
	for i := range out {
		v := float64(va[i])*(1-blend) + float64(vb[i])*blend
		out[i] = float32(v)
		norm += v * v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= scale
	}
	return out
}

func hitContents(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Content
	}
	return out
}
