// Package suggest turns operational context into reviewable action
// suggestions.
//
// Generate prompts the model for a structured batch, validates every
// proposal against a JSON Schema before anything touches the database, and
// stores the survivors as pending. Invalid proposals are dropped with a
// warning rather than failing the batch; a model that returns one bad item
// alongside four good ones still produces four suggestions. Review happens
// through List and UpdateStatus.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/tenant"
)

const suggestionCols = `id, suggestion_type, title, description, priority, confidence, status, context, created_at, updated_at`

const systemPrompt = `You are a supply chain operations analyst. You study operational data and propose concrete, actionable suggestions: workflow changes, optimizations, alerts worth raising, and recommendations. Every suggestion must be specific enough to act on and grounded in the data you were given.`

const proposalPrompt = `Analyze this operational context and propose up to %d actionable suggestions.

Context:
%s

Rules:
- "type" must be one of: %s
- "priority" must be one of: low, medium, high, critical
- "confidence" is how certain you are the suggestion is worth acting on, 0.0 to 1.0
- "title" is a short imperative summary; "description" explains the action and its expected impact
- propose nothing when the context gives you nothing to act on

Respond with a JSON object of the form {"suggestions": [{"type": ..., "title": ..., "description": ..., "priority": ..., "confidence": ...}]}.`

// Generator is the structured-output surface of the language model client.
type Generator interface {
	GenerateInto(ctx context.Context, req llm.GenerateRequest, out any) error
}

// Service generates, stores and reviews suggestions. Safe for concurrent use.
type Service struct {
	pool   *pgxpool.Pool
	llm    Generator
	schema *jsonschema.Resolved
	logger *slog.Logger
}

// New creates a suggestion Service.
func New(pool *pgxpool.Pool, gen Generator, logger *slog.Logger) (*Service, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := itemSchema()
	if err != nil {
		return nil, err
	}
	return &Service{pool: pool, llm: gen, schema: schema, logger: logger}, nil
}

// payload mirrors the JSON document the model is asked to produce. Items
// decode loosely so one malformed entry cannot sink the whole batch.
type payload struct {
	Suggestions []map[string]any `json:"suggestions"`
}

// item is one proposal that passed schema validation.
type item struct {
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	Confidence  float64 `json:"confidence"`
}

// Generate asks the model for suggestions over the given context and
// persists the valid ones as pending. The stored batch is returned in the
// model's proposal order, capped at MaxSuggestions.
func (s *Service) Generate(ctx context.Context, scope tenant.Scope, req Request) ([]*Suggestion, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if len(req.Context) == 0 {
		return nil, ErrEmptyContext
	}
	if req.MaxSuggestions == 0 {
		req.MaxSuggestions = DefaultMaxSuggestions
	}
	if req.MaxSuggestions < 1 || req.MaxSuggestions > MaxSuggestionsLimit {
		return nil, fmt.Errorf("%w: %d not in [1, %d]",
			ErrMaxSuggestionsRange, req.MaxSuggestions, MaxSuggestionsLimit)
	}
	minConfidence := DefaultMinConfidence
	if req.MinConfidence != nil {
		minConfidence = *req.MinConfidence
		if minConfidence < 0 || minConfidence > 1 {
			return nil, fmt.Errorf("%w: %v not in [0, 1]", ErrMinConfidenceRange, minConfidence)
		}
	}
	types := req.Types
	if len(types) == 0 {
		types = allTypes()
	}
	for _, t := range types {
		if !validType(t) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
		}
	}

	prompt, err := buildPrompt(req.Context, types, req.MaxSuggestions)
	if err != nil {
		return nil, err
	}

	var out payload
	if err := s.llm.GenerateInto(ctx, llm.GenerateRequest{
		System:   systemPrompt,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	}, &out); err != nil {
		return nil, fmt.Errorf("generating suggestions: %w", err)
	}

	vetted := s.vet(out.Suggestions, types, minConfidence)
	if len(vetted) > req.MaxSuggestions {
		vetted = vetted[:req.MaxSuggestions]
	}
	if len(vetted) == 0 {
		s.logger.Debug("no suggestions survived vetting",
			"tenant_id", scope.TenantID,
			"proposed", len(out.Suggestions))
		return nil, nil
	}

	stored, err := s.store(ctx, scope, vetted, req.Context)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("suggestions generated",
		"tenant_id", scope.TenantID,
		"proposed", len(out.Suggestions),
		"stored", len(stored))
	return stored, nil
}

func buildPrompt(contextData map[string]any, types []string, maxSuggestions int) (string, error) {
	rendered, err := json.MarshalIndent(contextData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering suggestion context: %w", err)
	}
	return fmt.Sprintf(proposalPrompt, maxSuggestions, rendered, strings.Join(types, ", ")), nil
}

// vet filters the model's proposals down to the ones worth keeping.
// Schema violations are dropped with a warning; off-request types and
// low-confidence proposals are dropped quietly, the model was just told a
// preference it did not follow.
func (s *Service) vet(proposed []map[string]any, types []string, minConfidence float64) []item {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	var kept []item
	for i, raw := range proposed {
		if err := s.schema.Validate(raw); err != nil {
			s.logger.Warn("dropping invalid suggestion", "index", i, "error", err)
			continue
		}

		var it item
		data, err := json.Marshal(raw)
		if err == nil {
			err = json.Unmarshal(data, &it)
		}
		if err != nil {
			s.logger.Warn("dropping undecodable suggestion", "index", i, "error", err)
			continue
		}

		it.Title = strings.TrimSpace(it.Title)
		it.Description = strings.TrimSpace(it.Description)
		if it.Title == "" || it.Description == "" {
			s.logger.Warn("dropping blank suggestion", "index", i)
			continue
		}
		if !allowed[it.Type] {
			s.logger.Debug("dropping off-request suggestion type", "index", i, "type", it.Type)
			continue
		}
		if it.Confidence < minConfidence {
			s.logger.Debug("dropping low-confidence suggestion",
				"index", i, "confidence", it.Confidence)
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

// store inserts the batch in one transaction so a mid-batch failure leaves
// no partial generation behind.
func (s *Service) store(ctx context.Context, scope tenant.Scope, items []item, contextData map[string]any) ([]*Suggestion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	stored := make([]*Suggestion, 0, len(items))
	for _, it := range items {
		sug, err := scanSuggestion(tx.QueryRow(ctx,
			`INSERT INTO suggestions
				(tenant_id, user_id, suggestion_type, title, description, priority, confidence, context)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+suggestionCols,
			scope.TenantID, scope.UserID,
			it.Type, it.Title, it.Description, it.Priority, it.Confidence, contextData))
		if err != nil {
			return nil, fmt.Errorf("storing suggestion: %w", err)
		}
		stored = append(stored, sug)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing suggestions: %w", err)
	}
	return stored, nil
}

// List returns the scope's user's suggestions, newest first. A non-empty
// status filters to that lifecycle state.
func (s *Service) List(ctx context.Context, scope tenant.Scope, status string) ([]*Suggestion, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if status != "" && !validStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	sql := `SELECT ` + suggestionCols + ` FROM suggestions
		WHERE tenant_id = $1 AND user_id = $2`
	args := []any{scope.TenantID, scope.UserID}
	if status != "" {
		sql += ` AND status = $3`
		args = append(args, status)
	}
	sql += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing suggestions: %w", err)
	}
	defer rows.Close()

	var suggestions []*Suggestion
	for rows.Next() {
		sug, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning suggestion: %w", err)
		}
		suggestions = append(suggestions, sug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating suggestions: %w", err)
	}
	return suggestions, nil
}

// UpdateStatus moves a suggestion through its review lifecycle and returns
// the updated row.
func (s *Service) UpdateStatus(ctx context.Context, scope tenant.Scope, id uuid.UUID, status string) (*Suggestion, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if !validStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	sug, err := scanSuggestion(s.pool.QueryRow(ctx,
		`UPDATE suggestions SET status = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3
		 RETURNING `+suggestionCols,
		status, id, scope.TenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missingOrForeign(ctx, scope, id)
	}
	if err != nil {
		return nil, fmt.Errorf("updating suggestion %s: %w", id, err)
	}

	s.logger.Debug("suggestion status updated", "id", id, "status", status)
	return sug, nil
}

// missingOrForeign turns an unmatched tenant-filtered UPDATE into the right
// error: ErrSuggestionNotFound when the row does not exist, a scope
// violation when it belongs to another tenant.
func (s *Service) missingOrForeign(ctx context.Context, scope tenant.Scope, id uuid.UUID) error {
	var recTenant uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id FROM suggestions WHERE id = $1`, id).Scan(&recTenant)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSuggestionNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up suggestion %s: %w", id, err)
	}

	err = scope.Check(recTenant)
	s.logger.Warn("cross-tenant suggestion update denied",
		"security_event", true,
		"suggestion_id", id,
		"record_tenant", recTenant,
		"caller_tenant", scope.TenantID,
		"caller_user", scope.UserID)
	return err
}

// scanSuggestion reads one Suggestion using the suggestionCols order.
func scanSuggestion(row pgx.Row) (*Suggestion, error) {
	sug := &Suggestion{}
	if err := row.Scan(
		&sug.ID, &sug.Type, &sug.Title, &sug.Description, &sug.Priority,
		&sug.Confidence, &sug.Status, &sug.Context, &sug.CreatedAt, &sug.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return sug, nil
}
