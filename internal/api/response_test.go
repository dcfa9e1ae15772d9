package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/supplymind/copilot/internal/testutil"
)

func TestWriteJSON_SetsHeaders(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"id": "abc"}, testutil.DiscardLogger())

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if w.Header().Get("Content-Length") == "" {
		t.Error("Content-Length not set")
	}

	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshaling body: %v", err)
	}
	if body["id"] != "abc" {
		t.Errorf("body id = %q, want abc", body["id"])
	}
}

func TestWriteJSON_EncodingFailure(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	// Channels cannot be JSON-encoded.
	WriteJSON(w, http.StatusOK, map[string]any{"ch": make(chan int)}, testutil.DiscardLogger())

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestWriteError_Envelope(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, "invalid_id", "invalid session ID", testutil.DiscardLogger())

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshaling body: %v", err)
	}
	if body.Error.Code != "invalid_id" {
		t.Errorf("error code = %q, want invalid_id", body.Error.Code)
	}
	if body.Error.Message != "invalid session ID" {
		t.Errorf("error message = %q", body.Error.Message)
	}
}

func TestReadJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name       string
		body       string
		maxBytes   int64
		wantOK     bool
		wantStatus int
	}{
		{
			name:     "valid body",
			body:     `{"name":"forecast"}`,
			maxBytes: 1024,
			wantOK:   true,
		},
		{
			name:       "malformed JSON",
			body:       `{"name":`,
			maxBytes:   1024,
			wantOK:     false,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "body over cap",
			body:       `{"name":"` + strings.Repeat("x", 100) + `"}`,
			maxBytes:   16,
			wantOK:     false,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst payload
			ok := readJSON(w, r, tt.maxBytes, &dst, testutil.DiscardLogger())
			if ok != tt.wantOK {
				t.Fatalf("readJSON() = %v, want %v", ok, tt.wantOK)
			}
			if !tt.wantOK && w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantOK && dst.Name != "forecast" {
				t.Errorf("decoded name = %q, want forecast", dst.Name)
			}
		})
	}
}

func TestParseIntParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"absent uses default", "", 50},
		{"valid value", "limit=7", 7},
		{"zero is kept", "limit=0", 0},
		{"negative uses default", "limit=-3", 50},
		{"non-numeric uses default", "limit=abc", 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			if got := parseIntParam(r, "limit", 50); got != tt.want {
				t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
			}
		})
	}
}
