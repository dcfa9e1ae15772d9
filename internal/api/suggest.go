package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/suggest"
	"github.com/supplymind/copilot/internal/tenant"
)

// maxSuggestBodyBytes caps the suggest request body: operational context
// snapshots are small structured documents, not bulk data.
const maxSuggestBodyBytes = 256 << 10 // 256KB

// suggestHandler holds dependencies for the suggestion endpoints.
type suggestHandler struct {
	svc    *suggest.Service
	logger *slog.Logger
}

// suggestRequest is the JSON body of POST /api/v1/suggest.
type suggestRequest struct {
	Context        map[string]any `json:"context"`
	Types          []string       `json:"types,omitempty"`
	MaxSuggestions int            `json:"maxSuggestions,omitempty"`
	MinConfidence  *float64       `json:"minConfidence,omitempty"`
}

// suggestionItem is the JSON representation of a stored suggestion.
type suggestionItem struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	Confidence  float64 `json:"confidence"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

func toSuggestionItem(s *suggest.Suggestion) suggestionItem {
	return suggestionItem{
		ID:          s.ID.String(),
		Type:        s.Type,
		Title:       s.Title,
		Description: s.Description,
		Priority:    s.Priority,
		Status:      s.Status,
		Confidence:  s.Confidence,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
}

// generate handles POST /api/v1/suggest — asks the model for proactive
// suggestions grounded in the supplied operational context and stores the
// ones that pass vetting.
func (h *suggestHandler) generate(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req suggestRequest
	if !readJSON(w, r, maxSuggestBodyBytes, &req, h.logger) {
		return
	}

	suggestions, err := h.svc.Generate(r.Context(), scope, suggest.Request{
		Context:        req.Context,
		Types:          req.Types,
		MaxSuggestions: req.MaxSuggestions,
		MinConfidence:  req.MinConfidence,
	})
	if err != nil {
		h.writeGenerateError(w, err)
		return
	}

	items := make([]suggestionItem, len(suggestions))
	for i, s := range suggestions {
		items[i] = toSuggestionItem(s)
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// writeGenerateError maps suggestion service errors to HTTP responses.
func (h *suggestHandler) writeGenerateError(w http.ResponseWriter, err error) {
	var perr *llm.ProviderError
	switch {
	case errors.Is(err, suggest.ErrEmptyContext):
		WriteError(w, http.StatusBadRequest, "empty_context", "context is required", h.logger)
	case errors.Is(err, suggest.ErrUnknownType):
		WriteError(w, http.StatusBadRequest, "unknown_type", "types contains an unknown suggestion type", h.logger)
	case errors.Is(err, suggest.ErrMaxSuggestionsRange):
		WriteError(w, http.StatusBadRequest, "invalid_max_suggestions", "maxSuggestions is out of range", h.logger)
	case errors.Is(err, suggest.ErrMinConfidenceRange):
		WriteError(w, http.StatusBadRequest, "invalid_min_confidence", "minConfidence must be in [0, 1]", h.logger)
	case errors.As(err, &perr):
		h.logger.Warn("suggestion provider failed", "provider", perr.Provider, "error", err)
		WriteError(w, http.StatusBadGateway, "provider_error", "model provider request failed", h.logger)
	default:
		h.logger.Error("generating suggestions", "error", err)
		WriteError(w, http.StatusInternalServerError, "suggest_failed", "failed to generate suggestions", h.logger)
	}
}

// list handles GET /api/v1/suggestions?status=pending — lists stored
// suggestions, optionally filtered by status.
func (h *suggestHandler) list(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")

	suggestions, err := h.svc.List(r.Context(), scope, status)
	if err != nil {
		if errors.Is(err, suggest.ErrInvalidStatus) {
			WriteError(w, http.StatusBadRequest, "invalid_status", "status filter is invalid", h.logger)
			return
		}
		h.logger.Error("listing suggestions", "error", err)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list suggestions", h.logger)
		return
	}

	items := make([]suggestionItem, len(suggestions))
	for i, s := range suggestions {
		items[i] = toSuggestionItem(s)
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// updateStatusRequest is the JSON body of PATCH /api/v1/suggestions/{id}.
type updateStatusRequest struct {
	Status string `json:"status"`
}

// updateStatus handles PATCH /api/v1/suggestions/{id} — moves a suggestion
// through its lifecycle (pending → accepted/rejected → implemented).
func (h *suggestHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid suggestion ID", h.logger)
		return
	}

	var req updateStatusRequest
	if !readJSON(w, r, 1024, &req, h.logger) {
		return
	}

	updated, err := h.svc.UpdateStatus(r.Context(), scope, id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, suggest.ErrInvalidStatus):
			WriteError(w, http.StatusBadRequest, "invalid_status", "status is invalid", h.logger)
		case errors.Is(err, suggest.ErrSuggestionNotFound), errors.Is(err, tenant.ErrScopeViolation):
			WriteError(w, http.StatusNotFound, "not_found", "suggestion not found", h.logger)
		default:
			h.logger.Error("updating suggestion", "error", err, "id", id)
			WriteError(w, http.StatusInternalServerError, "update_failed", "failed to update suggestion", h.logger)
		}
		return
	}

	WriteJSON(w, http.StatusOK, toSuggestionItem(updated), h.logger)
}
