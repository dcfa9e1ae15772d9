// Package search ranks stored embeddings against a query vector by cosine
// similarity.
//
// Similarity is computed in SQL as 1 - (embedding <=> query), which pgvector
// evaluates with the HNSW cosine index when one exists. HNSW is approximate:
// results are best-effort nearest neighbors, which is the right trade for
// retrieval. The threshold cut and the tenant predicate are applied in SQL
// too, so hits below threshold or outside the caller's tenant never leave
// the database.
//
// Searches only compare vectors produced by the currently configured
// embedder. Rows written under an older model name stay invisible until
// re-ingested, rather than polluting results with cross-model distances.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/supplymind/copilot/internal/tenant"
)

// MaxQueryRunes caps the text query length accepted by SearchText.
const MaxQueryRunes = 1000

// queryTimeout bounds one search call, embedding included, so a slow vector
// scan cannot pin a request.
const queryTimeout = 10 * time.Second

// hitCols is the SELECT column list for scanHit; similarity is computed and
// appended per query.
const hitCols = `id, tenant_id, source_type, source_ref, content, metadata, created_at`

// Embedder is the slice of the LLM client the engine needs for SearchText.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedderName() string
}

// Engine executes similarity searches. Safe for concurrent use.
type Engine struct {
	pool     *pgxpool.Pool
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

// New creates a search Engine. Zero Config fields fall back to
// DefaultConfig values.
func New(pool *pgxpool.Pool, embedder Embedder, cfg Config, logger *slog.Logger) (*Engine, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	def := DefaultConfig()
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = def.DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{pool: pool, embedder: embedder, cfg: cfg, logger: logger}, nil
}

// Search returns the stored embeddings nearest to queryVector for the
// scope's tenant, ordered by similarity descending with newest-first
// tie-breaks. Hits below the threshold are discarded.
func (e *Engine) Search(ctx context.Context, scope tenant.Scope, queryVector []float32, opts ...Option) ([]Hit, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if len(queryVector) == 0 {
		return nil, ErrEmptyVector
	}
	cfg := e.buildSearchConfig(opts)
	if err := cfg.validate(e.cfg.MaxTopK); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// ORDER BY the raw distance operator so the planner can walk the HNSW
	// index; ascending distance is descending similarity.
	sql := `SELECT ` + hitCols + `, 1 - (embedding <=> $2) AS similarity
		FROM embeddings
		WHERE tenant_id = $1
		  AND model = $3
		  AND 1 - (embedding <=> $2) >= $4`
	args := []any{scope.TenantID, pgvector.NewVector(queryVector), e.embedder.EmbedderName(), cfg.threshold}

	if len(cfg.sourceTypes) > 0 {
		sql += fmt.Sprintf(" AND source_type = ANY($%d)", len(args)+1)
		args = append(args, cfg.sourceTypes)
	}
	if len(cfg.metadataFilter) > 0 {
		filterJSON, err := json.Marshal(cfg.metadataFilter)
		if err != nil {
			return nil, fmt.Errorf("marshaling metadata filter: %w", err)
		}
		sql += fmt.Sprintf(" AND metadata @> $%d", len(args)+1)
		args = append(args, filterJSON)
	}
	sql += fmt.Sprintf(" ORDER BY embedding <=> $2, created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, cfg.topK)

	rows, err := e.pool.Query(queryCtx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("executing similarity search: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, cfg.topK)
	for rows.Next() {
		hit, recTenant, err := e.scanHit(rows)
		if err != nil {
			return nil, err
		}
		// The predicate already filters by tenant; re-verify anyway so a
		// future query edit cannot silently widen the boundary.
		if err := scope.Check(recTenant); err != nil {
			e.logger.Error("cross-tenant search hit rejected",
				"security_event", true,
				"embedding_id", hit.ID,
				"record_tenant", recTenant,
				"caller_tenant", scope.TenantID)
			return nil, err
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search hits: %w", err)
	}

	e.logger.Debug("similarity search",
		"tenant_id", scope.TenantID,
		"top_k", cfg.topK,
		"threshold", cfg.threshold,
		"hits", len(hits))
	return hits, nil
}

// SearchText embeds the query and searches with the resulting vector. This
// is the text search path used by the HTTP API and the MCP server.
func (e *Engine) SearchText(ctx context.Context, scope tenant.Scope, query string, opts ...Option) ([]Hit, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if n := utf8.RuneCountInString(query); n > MaxQueryRunes {
		return nil, fmt.Errorf("%w: %d runes exceeds maximum %d", ErrQueryTooLong, n, MaxQueryRunes)
	}

	embedCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	vec, err := e.embedder.EmbedOne(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return e.Search(ctx, scope, vec, opts...)
}

// scanHit reads one Hit plus its tenant id in hitCols order.
func (e *Engine) scanHit(row pgx.Row) (Hit, uuid.UUID, error) {
	var hit Hit
	var recTenant uuid.UUID
	var metadataJSON []byte
	var similarity float64 // <=> yields double precision
	if err := row.Scan(
		&hit.ID, &recTenant, &hit.SourceType, &hit.SourceRef,
		&hit.Content, &metadataJSON, &hit.CreatedAt, &similarity,
	); err != nil {
		return Hit{}, recTenant, fmt.Errorf("scanning search hit: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &hit.Metadata); err != nil {
			// Malformed metadata degrades the hit, not the search.
			e.logger.Warn("unparseable hit metadata", "embedding_id", hit.ID, "error", err)
			hit.Metadata = map[string]string{}
		}
	}
	hit.Similarity = clamp01(float32(similarity))
	return hit, recTenant, nil
}

// clamp01 bounds float rounding artifacts: cosine similarity of normalized
// vectors is mathematically in [-1,1], and the threshold predicate already
// excludes negatives when threshold >= 0.
func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
