package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/supplymind/copilot/internal/chat"
	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/session"
	"github.com/supplymind/copilot/internal/tenant"
)

// maxChatBodyBytes caps the chat request body. The message itself is capped
// at chat.MaxMessageRunes; the rest is headroom for context hints.
const maxChatBodyBytes = 1 << 20 // 1MB

// chatHandler holds dependencies for the chat endpoint.
type chatHandler struct {
	svc    *chat.Service
	logger *slog.Logger
}

// chatRequest is the JSON body of POST /api/v1/chat.
type chatRequest struct {
	Message     string            `json:"message"`
	SessionID   string            `json:"sessionId,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	Temperature *float32          `json:"temperature,omitempty"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
}

// chatResponse is the JSON body of a completed turn.
type chatResponse struct {
	Reply            string    `json:"reply"`
	SessionID        string    `json:"sessionId"`
	MessageID        string    `json:"messageId"`
	Model            string    `json:"model"`
	Degraded         bool      `json:"degraded"`
	Usage            usageBody `json:"usage"`
	ProcessingTimeMS int64     `json:"processingTimeMs"`
}

type usageBody struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// converse handles POST /api/v1/chat — runs one conversation turn.
//
// A provider outage does not fail the request: the orchestrator persists
// the fallback reply and this handler returns it with "degraded": true, so
// clients render the turn normally and may offer a retry affordance.
func (h *chatHandler) converse(w http.ResponseWriter, r *http.Request) {
	scope, ok := requireScope(w, r, h.logger)
	if !ok {
		return
	}

	var req chatRequest
	if !readJSON(w, r, maxChatBodyBytes, &req, h.logger) {
		return
	}

	var sessionID uuid.UUID
	if req.SessionID != "" {
		id, err := uuid.Parse(req.SessionID)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_session_id", "sessionId is not a valid UUID", h.logger)
			return
		}
		sessionID = id
	}

	start := time.Now()
	resp, err := h.svc.Converse(r.Context(), scope, chat.Request{
		Message:      req.Message,
		SessionID:    sessionID,
		ContextHints: req.Context,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	})

	// Fallback turn: persisted reply plus the provider error.
	degraded := resp != nil && err != nil

	if err != nil && !degraded {
		h.writeConverseError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, chatResponse{
		Reply:     resp.Text,
		SessionID: resp.SessionID.String(),
		MessageID: resp.MessageID.String(),
		Model:     resp.Model,
		Degraded:  degraded,
		Usage: usageBody{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		ProcessingTimeMS: time.Since(start).Milliseconds(),
	}, h.logger)
}

// writeConverseError maps orchestrator errors to HTTP responses.
func (h *chatHandler) writeConverseError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		WriteError(w, http.StatusBadRequest, "empty_message", "message is required", h.logger)
	case errors.Is(err, chat.ErrMessageTooLong):
		WriteError(w, http.StatusBadRequest, "message_too_long", "message exceeds the maximum length", h.logger)
	case errors.Is(err, chat.ErrTemperatureRange):
		WriteError(w, http.StatusBadRequest, "invalid_temperature", "temperature must be in [0, 2]", h.logger)
	case errors.Is(err, chat.ErrMaxTokensRange):
		WriteError(w, http.StatusBadRequest, "invalid_max_tokens", "maxTokens is out of range", h.logger)
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, tenant.ErrScopeViolation):
		// Foreign sessions answer as absent; the store already logged
		// the security event.
		WriteError(w, http.StatusNotFound, "session_not_found", "session not found", h.logger)
	case errors.Is(err, session.ErrSessionArchived):
		WriteError(w, http.StatusConflict, "session_archived", "session is archived", h.logger)
	case errors.Is(err, chat.ErrCircuitOpen):
		w.Header().Set("Retry-After", "30")
		WriteError(w, http.StatusServiceUnavailable, "model_unavailable", "model provider is temporarily unavailable", h.logger)
	case llm.IsTransient(err):
		WriteError(w, http.StatusBadGateway, "provider_error", "model provider request failed", h.logger)
	default:
		h.logger.Error("chat turn failed",
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		WriteError(w, http.StatusInternalServerError, "chat_failed", "failed to complete the turn", h.logger)
	}
}
