package api

import (
	"log/slog"
	"net/http"

	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/session"
)

// statsHandler holds dependencies for the stats endpoint.
type statsHandler struct {
	sessions   *session.Store
	embeddings *embedding.Store
	logger     *slog.Logger
}

// stats handles GET /api/v1/stats — returns per-tenant usage counters.
func (h *statsHandler) stats(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	sessionCount, err := h.sessions.Count(r.Context(), scope)
	if err != nil {
		h.logger.Error("counting sessions", "error", err)
		WriteError(w, http.StatusInternalServerError, "stats_failed", "failed to get stats", h.logger)
		return
	}

	embeddingCount, err := h.embeddings.Count(r.Context(), scope)
	if err != nil {
		h.logger.Error("counting embeddings", "error", err)
		WriteError(w, http.StatusInternalServerError, "stats_failed", "failed to get stats", h.logger)
		return
	}

	bySource, err := h.embeddings.CountBySourceType(r.Context(), scope)
	if err != nil {
		h.logger.Error("counting embeddings by source", "error", err)
		WriteError(w, http.StatusInternalServerError, "stats_failed", "failed to get stats", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"sessions":           sessionCount,
		"embeddings":         embeddingCount,
		"embeddingsBySource": bySource,
	}, h.logger)
}
