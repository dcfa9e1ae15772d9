// Package embedding stores text embeddings in PostgreSQL with pgvector.
//
// Every row is scoped to a tenant. The store takes the tenant scope as an
// explicit argument on every operation and re-verifies it on reads, so a
// leaked row ID from another tenant yields a scope violation, not data.
//
// Rows are immutable and deduplicated: the same content embedded with the
// same model for the same tenant maps onto one row, keyed by the content's
// SHA-256. Embedding happens before the insert; when the provider call
// fails nothing is persisted.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
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

// embedTimeout bounds the provider call so a hung embedder cannot pin a
// request forever.
const embedTimeout = 30 * time.Second

// recordCols is the standard SELECT column list for scanRecord.
const recordCols = `id, tenant_id, owner_id, source_type, source_ref,
	content, content_hash, model, embedding, metadata, created_at`

// insertRecordSQL inserts one embedding row. ON CONFLICT makes concurrent
// puts of identical content race safely: exactly one row wins, the loser
// reads it back.
const insertRecordSQL = `INSERT INTO embeddings
	(tenant_id, owner_id, source_type, source_ref, content, content_hash, model, embedding, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (tenant_id, model, content_hash) DO NOTHING
	RETURNING ` + recordCols

// Embedder is the slice of the LLM client the store needs.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedderName() string
}

// Store persists embeddings. Safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder Embedder
	logger   *slog.Logger
}

// NewStore creates an embedding Store.
func NewStore(pool *pgxpool.Pool, embedder Embedder, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// validatePut checks a PutRequest before any provider call is made.
func validatePut(req PutRequest) error {
	if strings.TrimSpace(req.Content) == "" {
		return ErrEmptyText
	}
	if n := utf8.RuneCountInString(req.Content); n > MaxContentRunes {
		return fmt.Errorf("%w: %d runes exceeds maximum %d", ErrTextTooLong, n, MaxContentRunes)
	}
	if req.SourceType == "" {
		return fmt.Errorf("%w: source type is required", ErrInvalidSourceType)
	}
	if len(req.SourceType) > MaxSourceTypeLen {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidSourceType, req.SourceType, MaxSourceTypeLen)
	}
	return nil
}

// ContentHash returns the hex SHA-256 of content, the dedup key used by Put.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Put embeds content and stores it for the scope's tenant.
//
// The text is embedded before anything touches the database; an embedding
// failure leaves no partial row behind. When the same content was already
// stored for this tenant and model, the existing row comes back with
// Deduplicated set and no provider call is wasted.
func (s *Store) Put(ctx context.Context, scope tenant.Scope, req PutRequest) (*PutResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := validatePut(req); err != nil {
		return nil, err
	}

	model := s.embedder.EmbedderName()
	hash := ContentHash(req.Content)

	// Dedup check first: a hash hit skips the embedding call entirely.
	existing, err := s.byHash(ctx, scope.TenantID, model, hash)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		s.logger.Debug("embedding deduplicated",
			"tenant_id", scope.TenantID, "content_hash", hash[:12])
		return &PutResult{Record: existing, Deduplicated: true}, nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	vec, err := s.embedder.EmbedOne(embedCtx, req.Content)
	if err != nil {
		return nil, fmt.Errorf("embedding content: %w", err)
	}

	metadataJSON, err := json.Marshal(orEmpty(req.Metadata))
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx, insertRecordSQL,
		scope.TenantID, scope.UserID, req.SourceType, req.SourceRef,
		req.Content, hash, model, pgvector.NewVector(vec), metadataJSON,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// A concurrent Put with identical content won the insert race.
		rec, err = s.byHash(ctx, scope.TenantID, model, hash)
		if err != nil {
			return nil, fmt.Errorf("reading back deduplicated row: %w", err)
		}
		return &PutResult{Record: rec, Deduplicated: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inserting embedding: %w", err)
	}

	s.logger.Debug("embedding stored",
		"id", rec.ID, "tenant_id", scope.TenantID,
		"source_type", req.SourceType, "content_runes", utf8.RuneCountInString(req.Content))
	return &PutResult{Record: rec}, nil
}

// Get fetches one embedding by ID.
//
// The row's tenant is re-verified against the scope after the read. A
// mismatch is reported as a scope violation and logged as a security event,
// since a caller holding a foreign row ID should not learn whether it exists.
func (s *Store) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*Record, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordCols+` FROM embeddings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching embedding %s: %w", id, err)
	}

	if err := scope.Check(rec.TenantID); err != nil {
		s.logger.Warn("cross-tenant embedding access denied",
			"security_event", true,
			"embedding_id", id,
			"record_tenant", rec.TenantID,
			"caller_tenant", scope.TenantID,
			"caller_user", scope.UserID)
		return nil, err
	}
	return rec, nil
}

// Delete removes one embedding owned by the scope's tenant.
//
// Returns ErrNotFound when no such row exists, and a scope violation when
// the row exists under a different tenant.
func (s *Store) Delete(ctx context.Context, scope tenant.Scope, id uuid.UUID) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM embeddings WHERE id = $1 AND tenant_id = $2`,
		id, scope.TenantID)
	if err != nil {
		return fmt.Errorf("deleting embedding %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Distinguish not-found from foreign-tenant.
	var recTenant uuid.UUID
	lookupErr := s.pool.QueryRow(ctx,
		`SELECT tenant_id FROM embeddings WHERE id = $1`, id).Scan(&recTenant)
	if errors.Is(lookupErr, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if lookupErr != nil {
		return fmt.Errorf("looking up embedding %s: %w", id, lookupErr)
	}

	err = scope.Check(recTenant)
	s.logger.Warn("cross-tenant embedding delete denied",
		"security_event", true,
		"embedding_id", id,
		"record_tenant", recTenant,
		"caller_tenant", scope.TenantID,
		"caller_user", scope.UserID)
	return err
}

// Count returns the number of embeddings stored for the scope's tenant.
func (s *Store) Count(ctx context.Context, scope tenant.Scope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE tenant_id = $1`,
		scope.TenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting embeddings: %w", err)
	}
	return count, nil
}

// CountBySourceType breaks the tenant's embeddings down by source type.
func (s *Store) CountBySourceType(ctx context.Context, scope tenant.Scope) (map[string]int, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT source_type, COUNT(*) FROM embeddings
		 WHERE tenant_id = $1
		 GROUP BY source_type`,
		scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("counting embeddings by source type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var sourceType string
		var count int
		if err := rows.Scan(&sourceType, &count); err != nil {
			return nil, fmt.Errorf("scanning source type count: %w", err)
		}
		counts[sourceType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating source type counts: %w", err)
	}
	return counts, nil
}

// byHash fetches the row for a (tenant, model, hash) dedup key.
func (s *Store) byHash(ctx context.Context, tenantID uuid.UUID, model, hash string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordCols+` FROM embeddings
		 WHERE tenant_id = $1 AND model = $2 AND content_hash = $3`,
		tenantID, model, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching embedding by hash: %w", err)
	}
	return rec, nil
}

// scanRecord reads one Record from a pgx.Row using the recordCols order.
func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	var vec pgvector.Vector
	var metadataJSON []byte
	if err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.OwnerID, &rec.SourceType, &rec.SourceRef,
		&rec.Content, &rec.ContentHash, &rec.Model, &vec, &metadataJSON, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}
	rec.Vector = vec.Slice()
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return rec, nil
}

// orEmpty substitutes an empty map for nil so metadata marshals to {}.
func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
