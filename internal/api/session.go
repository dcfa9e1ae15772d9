package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/supplymind/copilot/internal/session"
	"github.com/supplymind/copilot/internal/tenant"
)

// sessionHandler holds dependencies for the session management endpoints.
type sessionHandler struct {
	store  *session.Store
	logger *slog.Logger
}

// sessionItem is the JSON representation of a session.
type sessionItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// messageItem is the JSON representation of one transcript message.
type messageItem struct {
	ID         string `json:"id"`
	Sequence   int64  `json:"sequence"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	TokenCount int    `json:"tokenCount,omitempty"`
	Model      string `json:"model,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func toSessionItem(s *session.Session) sessionItem {
	return sessionItem{
		ID:        s.ID.String(),
		Title:     s.Title,
		Status:    s.Status,
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
	}
}

func toMessageItem(m *session.Message) messageItem {
	return messageItem{
		ID:         m.ID.String(),
		Sequence:   m.Sequence,
		Role:       m.Role,
		Content:    m.Content,
		TokenCount: m.TokenCount,
		Model:      m.Metadata["model"],
		CreatedAt:  m.CreatedAt.Format(time.RFC3339),
	}
}

// list handles GET /api/v1/sessions?archived=1 — lists the caller's
// sessions, newest activity first. Archived sessions are excluded unless
// the archived flag is set.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	archived := r.URL.Query().Get("archived")
	includeArchived := archived == "1" || archived == "true"

	sessions, err := h.store.List(r.Context(), scope, includeArchived)
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list sessions", h.logger)
		return
	}

	items := make([]sessionItem, len(sessions))
	for i, s := range sessions {
		items[i] = toSessionItem(s)
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": len(items),
	}, h.logger)
}

// get handles GET /api/v1/sessions/{id} — returns a single session.
func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid session ID", h.logger)
		return
	}

	sess, err := h.store.Get(r.Context(), scope, id)
	if err != nil {
		h.writeSessionError(w, err, "getting session", id)
		return
	}

	WriteJSON(w, http.StatusOK, toSessionItem(sess), h.logger)
}

// messages handles GET /api/v1/sessions/{id}/messages?limit=50&before=120.
//
// Pages run backward through the transcript: the first call returns the
// newest page in chronological order, and "before" (an exclusive sequence
// bound, taken from nextBefore of the previous response) fetches older
// ones. nextBefore is omitted once the oldest message has been returned.
func (h *sessionHandler) messages(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid session ID", h.logger)
		return
	}

	limit := parseIntParam(r, "limit", session.DefaultMessageLimit)
	before := int64(parseIntParam(r, "before", 0))

	msgs, err := h.store.ListMessages(r.Context(), scope, id, limit, before)
	if err != nil {
		if errors.Is(err, session.ErrInvalidLimit) {
			WriteError(w, http.StatusBadRequest, "invalid_limit", "limit is out of range", h.logger)
			return
		}
		h.writeSessionError(w, err, "listing messages", id)
		return
	}

	items := make([]messageItem, len(msgs))
	for i, m := range msgs {
		items[i] = toMessageItem(m)
	}

	body := map[string]any{"items": items}
	if len(msgs) == limit && msgs[0].Sequence > 1 {
		body["nextBefore"] = msgs[0].Sequence
	}

	WriteJSON(w, http.StatusOK, body, h.logger)
}

// updateSessionRequest is the JSON body of PATCH /api/v1/sessions/{id}.
// Exactly one of title or status must be set.
type updateSessionRequest struct {
	Title  *string `json:"title"`
	Status *string `json:"status"`
}

// update handles PATCH /api/v1/sessions/{id} — renames a session
// ({"title": ...}) or archives it ({"status": "archived"}). Unarchiving
// is not supported; archived transcripts stay readable but closed.
func (h *sessionHandler) update(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid session ID", h.logger)
		return
	}

	var req updateSessionRequest
	if !readJSON(w, r, 4096, &req, h.logger) {
		return
	}

	switch {
	case req.Title != nil && req.Status == nil:
		sess, err := h.store.Rename(r.Context(), scope, id, *req.Title)
		if err != nil {
			if errors.Is(err, session.ErrTitleTooLong) {
				WriteError(w, http.StatusBadRequest, "title_too_long", "title exceeds the maximum length", h.logger)
				return
			}
			h.writeSessionError(w, err, "renaming session", id)
			return
		}
		WriteJSON(w, http.StatusOK, toSessionItem(sess), h.logger)

	case req.Status != nil && req.Title == nil:
		if *req.Status != session.StatusArchived {
			WriteError(w, http.StatusBadRequest, "invalid_operation", "the only supported status transition is archived", h.logger)
			return
		}
		sess, err := h.store.Archive(r.Context(), scope, id)
		if err != nil {
			h.writeSessionError(w, err, "archiving session", id)
			return
		}
		WriteJSON(w, http.StatusOK, toSessionItem(sess), h.logger)

	default:
		WriteError(w, http.StatusBadRequest, "invalid_operation", "set exactly one of title or status", h.logger)
	}
}

// writeSessionError maps store errors shared across session endpoints.
func (h *sessionHandler) writeSessionError(w http.ResponseWriter, err error, op string, id uuid.UUID) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, tenant.ErrScopeViolation):
		WriteError(w, http.StatusNotFound, "session_not_found", "session not found", h.logger)
	case errors.Is(err, session.ErrSessionArchived):
		WriteError(w, http.StatusConflict, "session_archived", "session is archived", h.logger)
	default:
		h.logger.Error(op, "error", err, "session_id", id)
		WriteError(w, http.StatusInternalServerError, "session_op_failed", "failed to "+op, h.logger)
	}
}
