package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/supplymind/copilot/internal/testutil"
)

func validationSessionHandler() *sessionHandler {
	return &sessionHandler{logger: testutil.DiscardLogger()}
}

// routeSession dispatches through a mux so r.PathValue works.
func routeSession(h *sessionHandler, w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.get)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", h.messages)
	mux.HandleFunc("PATCH /api/v1/sessions/{id}", h.update)
	mux.ServeHTTP(w, r)
}

func TestGetSession_InvalidUUID(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	routeSession(validationSessionHandler(), w,
		scopedRequest(t, http.MethodGet, "/api/v1/sessions/not-a-uuid", ""))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if got := decodeErrorCode(t, w); got != "invalid_id" {
		t.Errorf("error code = %q, want invalid_id", got)
	}
}

func TestGetSessionMessages_InvalidUUID(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	routeSession(validationSessionHandler(), w,
		scopedRequest(t, http.MethodGet, "/api/v1/sessions/not-a-uuid/messages", ""))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpdateSession_OperationValidation(t *testing.T) {
	t.Parallel()

	sessionID := "0b9f2a51-3f1e-4f7a-9b34-35e5dd0c2a10"

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{
			name:     "neither field set",
			body:     `{}`,
			wantCode: "invalid_operation",
		},
		{
			name:     "both fields set",
			body:     `{"title":"renamed","status":"archived"}`,
			wantCode: "invalid_operation",
		},
		{
			name:     "unarchive rejected",
			body:     `{"status":"active"}`,
			wantCode: "invalid_operation",
		},
		{
			name:     "malformed body",
			body:     `{"title":`,
			wantCode: "invalid_body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			routeSession(validationSessionHandler(), w,
				scopedRequest(t, http.MethodPatch, "/api/v1/sessions/"+sessionID, tt.body))

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if got := decodeErrorCode(t, w); got != tt.wantCode {
				t.Errorf("error code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}
