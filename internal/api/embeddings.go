package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/tenant"
)

// maxEmbedBodyBytes caps the embed request body. Content itself is capped
// at embedding.MaxContentRunes; the rest is headroom for metadata.
const maxEmbedBodyBytes = 1 << 20 // 1MB

// embeddingHandler holds dependencies for the knowledge store endpoints.
type embeddingHandler struct {
	store  *embedding.Store
	logger *slog.Logger
}

// embedRequest is the JSON body of POST /api/v1/embed.
type embedRequest struct {
	Content    string            `json:"content"`
	SourceType string            `json:"sourceType"`
	SourceRef  string            `json:"sourceRef,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// embeddingItem is the JSON representation of a stored embedding record.
// The raw vector is never returned; clients that need similarity go through
// the search endpoint.
type embeddingItem struct {
	ID         string            `json:"id"`
	SourceType string            `json:"sourceType"`
	SourceRef  string            `json:"sourceRef,omitempty"`
	Content    string            `json:"content"`
	Model      string            `json:"model"`
	Dimensions int               `json:"dimensions"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  string            `json:"createdAt"`
}

// put handles POST /api/v1/embed — embeds content and stores the vector.
// Returns 201 for a new record, 200 when the content was already stored
// (same tenant, model, and content hash).
func (h *embeddingHandler) put(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req embedRequest
	if !readJSON(w, r, maxEmbedBodyBytes, &req, h.logger) {
		return
	}

	result, err := h.store.Put(r.Context(), scope, embedding.PutRequest{
		SourceType: req.SourceType,
		SourceRef:  req.SourceRef,
		Content:    req.Content,
		Metadata:   req.Metadata,
	})
	if err != nil {
		h.writePutError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}

	WriteJSON(w, status, map[string]any{
		"id":           result.Record.ID.String(),
		"deduplicated": result.Deduplicated,
		"model":        result.Record.Model,
		"dimensions":   len(result.Record.Vector),
		"createdAt":    result.Record.CreatedAt.Format(time.RFC3339),
	}, h.logger)
}

// writePutError maps store errors to HTTP responses.
func (h *embeddingHandler) writePutError(w http.ResponseWriter, err error) {
	var perr *llm.ProviderError
	switch {
	case errors.Is(err, embedding.ErrEmptyText):
		WriteError(w, http.StatusBadRequest, "empty_content", "content is required", h.logger)
	case errors.Is(err, embedding.ErrTextTooLong):
		WriteError(w, http.StatusBadRequest, "content_too_long", "content exceeds the maximum length", h.logger)
	case errors.Is(err, embedding.ErrInvalidSourceType):
		WriteError(w, http.StatusBadRequest, "invalid_source_type", "sourceType is invalid", h.logger)
	case errors.As(err, &perr):
		h.logger.Warn("embedding provider failed", "provider", perr.Provider, "error", err)
		WriteError(w, http.StatusBadGateway, "provider_error", "embedding provider request failed", h.logger)
	default:
		h.logger.Error("storing embedding", "error", err)
		WriteError(w, http.StatusInternalServerError, "embed_failed", "failed to store embedding", h.logger)
	}
}

// get handles GET /api/v1/embeddings/{id} — fetches one stored record.
func (h *embeddingHandler) get(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid embedding ID", h.logger)
		return
	}

	rec, err := h.store.Get(r.Context(), scope, id)
	if err != nil {
		if errors.Is(err, embedding.ErrNotFound) || errors.Is(err, tenant.ErrScopeViolation) {
			WriteError(w, http.StatusNotFound, "not_found", "embedding not found", h.logger)
			return
		}
		h.logger.Error("getting embedding", "error", err, "id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to get embedding", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, embeddingItem{
		ID:         rec.ID.String(),
		SourceType: rec.SourceType,
		SourceRef:  rec.SourceRef,
		Content:    rec.Content,
		Model:      rec.Model,
		Dimensions: len(rec.Vector),
		Metadata:   rec.Metadata,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
	}, h.logger)
}

// delete handles DELETE /api/v1/embeddings/{id} — removes a stored record.
func (h *embeddingHandler) delete(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid embedding ID", h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), scope, id); err != nil {
		if errors.Is(err, embedding.ErrNotFound) || errors.Is(err, tenant.ErrScopeViolation) {
			WriteError(w, http.StatusNotFound, "not_found", "embedding not found", h.logger)
			return
		}
		h.logger.Error("deleting embedding", "error", err, "id", id)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete embedding", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}
