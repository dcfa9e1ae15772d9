package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/search"
)

// maxSearchBodyBytes caps the search request body. Queries are capped at
// search.MaxQueryRunes; filters are small.
const maxSearchBodyBytes = 64 << 10 // 64KB

// searchHandler holds dependencies for the semantic search endpoint.
type searchHandler struct {
	engine *search.Engine
	logger *slog.Logger
}

// searchRequest is the JSON body of POST /api/v1/search.
type searchRequest struct {
	Query          string            `json:"query"`
	TopK           int               `json:"topK,omitempty"`
	Threshold      *float32          `json:"threshold,omitempty"`
	SourceTypes    []string          `json:"sourceTypes,omitempty"`
	MetadataFilter map[string]string `json:"metadataFilter,omitempty"`
}

// searchHit is the JSON representation of one search result.
type searchHit struct {
	ID         string            `json:"id"`
	SourceType string            `json:"sourceType"`
	SourceRef  string            `json:"sourceRef,omitempty"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float32           `json:"similarity"`
	CreatedAt  string            `json:"createdAt"`
}

// search handles POST /api/v1/search — embeds the query and returns the
// most similar stored texts for the caller's tenant.
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req searchRequest
	if !readJSON(w, r, maxSearchBodyBytes, &req, h.logger) {
		return
	}

	var opts []search.Option
	if req.TopK != 0 {
		opts = append(opts, search.WithTopK(req.TopK))
	}
	if req.Threshold != nil {
		opts = append(opts, search.WithThreshold(*req.Threshold))
	}
	if len(req.SourceTypes) > 0 {
		opts = append(opts, search.WithSourceTypes(req.SourceTypes...))
	}
	for k, v := range req.MetadataFilter {
		opts = append(opts, search.WithMetadataFilter(k, v))
	}

	hits, err := h.engine.SearchText(r.Context(), scope, req.Query, opts...)
	if err != nil {
		h.writeSearchError(w, err)
		return
	}

	items := make([]searchHit, len(hits))
	for i, hit := range hits {
		items[i] = searchHit{
			ID:         hit.ID.String(),
			SourceType: hit.SourceType,
			SourceRef:  hit.SourceRef,
			Content:    hit.Content,
			Metadata:   hit.Metadata,
			Similarity: hit.Similarity,
			CreatedAt:  hit.CreatedAt.Format(time.RFC3339),
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// writeSearchError maps engine errors to HTTP responses.
func (h *searchHandler) writeSearchError(w http.ResponseWriter, err error) {
	var perr *llm.ProviderError
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		WriteError(w, http.StatusBadRequest, "empty_query", "query is required", h.logger)
	case errors.Is(err, search.ErrQueryTooLong):
		WriteError(w, http.StatusBadRequest, "query_too_long", "query exceeds the maximum length", h.logger)
	case errors.Is(err, search.ErrTopKRange):
		WriteError(w, http.StatusBadRequest, "invalid_top_k", "topK is out of range", h.logger)
	case errors.Is(err, search.ErrThresholdRange):
		WriteError(w, http.StatusBadRequest, "invalid_threshold", "threshold must be in [0, 1]", h.logger)
	case errors.As(err, &perr):
		h.logger.Warn("query embedding failed", "provider", perr.Provider, "error", err)
		WriteError(w, http.StatusBadGateway, "provider_error", "embedding provider request failed", h.logger)
	default:
		h.logger.Error("searching embeddings", "error", err)
		WriteError(w, http.StatusInternalServerError, "search_failed", "failed to search", h.logger)
	}
}
