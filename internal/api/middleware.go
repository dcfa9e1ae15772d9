package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/supplymind/copilot/internal/tenant"
)

// Identity headers set by the authenticating gateway in front of this
// service. The API trusts them; it never authenticates callers itself.
const (
	headerTenantID  = "X-Tenant-ID"
	headerUserID    = "X-User-ID"
	headerRequestID = "X-Request-ID"
)

// Context key types (unexported to prevent collisions).
type scopeCtxKey struct{}
type requestIDCtxKey struct{}

var ctxKeyScope = scopeCtxKey{}
var ctxKeyRequestID = requestIDCtxKey{}

// scopeFromContext retrieves the caller's tenant scope from the request
// context. Returns false when the identity middleware did not run.
func scopeFromContext(ctx context.Context) (tenant.Scope, bool) {
	scope, ok := ctx.Value(ctxKeyScope).(tenant.Scope)
	return scope, ok
}

// requireScope extracts the caller's scope or writes a 500.
// The identity middleware guarantees a scope on every routed request, so a
// miss here is a wiring bug, not a client error.
func requireScope(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (tenant.Scope, bool) {
	scope, ok := scopeFromContext(r.Context())
	if !ok {
		logger.Error("scope missing from request context", "path", r.URL.Path)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
		return tenant.Scope{}, false
	}
	return scope, true
}

// requestIDFromContext retrieves the request ID assigned by the request ID
// middleware. Returns empty string when absent.
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// loggingWriter wraps http.ResponseWriter to capture status and size.
// Implements Flusher and Unwrap for ResponseController compatibility.
type loggingWriter struct {
	w            http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (lw *loggingWriter) Header() http.Header {
	return lw.w.Header()
}

func (lw *loggingWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.w.WriteHeader(code)
}

//nolint:wrapcheck // http.ResponseWriter wrapper must return unwrapped errors
func (lw *loggingWriter) Write(b []byte) (int, error) {
	if lw.statusCode == 0 {
		lw.statusCode = http.StatusOK
	}
	n, err := lw.w.Write(b)
	lw.bytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher.
func (lw *loggingWriter) Flush() {
	if f, ok := lw.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (lw *loggingWriter) Unwrap() http.ResponseWriter {
	return lw.w
}

// recoveryMiddleware recovers from panics to prevent server crashes.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapper := &loggingWriter{w: w}

			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"path", r.URL.Path,
						"request_id", requestIDFromContext(r.Context()),
						"headers_sent", wrapper.statusCode != 0,
					)

					if wrapper.statusCode == 0 {
						WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", logger)
					} else {
						logger.Warn("cannot send error response, headers already sent",
							"path", r.URL.Path,
							"status", wrapper.statusCode,
						)
					}
				}
			}()
			next.ServeHTTP(wrapper, r)
		})
	}
}

// requestIDMiddleware assigns a request ID to every request and echoes it
// in the X-Request-ID response header. An incoming X-Request-ID from the
// gateway is kept so traces correlate across services.
func requestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" || len(id) > 64 {
				id = uuid.New().String()
			}
			w.Header().Set(headerRequestID, id)

			ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// loggingMiddleware logs request details including latency, status, and
// response size. Reuses an existing *loggingWriter from outer middleware
// to avoid double-wrapping the ResponseWriter.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapper, ok := w.(*loggingWriter)
			if !ok {
				wrapper = &loggingWriter{w: w}
			}

			next.ServeHTTP(wrapper, r)

			status := wrapper.statusCode
			if status == 0 {
				status = http.StatusOK
			}

			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", wrapper.bytesWritten,
				"duration", time.Since(start),
				"request_id", requestIDFromContext(r.Context()),
				"ip", r.RemoteAddr,
			)
		})
	}
}

// corsMiddleware handles CORS preflight and response headers.
// allowedOrigins is a list of origins permitted to access the API.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if _, ok := originSet[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Tenant-ID, X-User-ID, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// identityMiddleware parses the gateway identity headers into a
// tenant.Scope and adds it to the request context. Requests without both
// headers are rejected: every route behind this middleware operates on
// tenant-owned data.
func identityMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawTenant := r.Header.Get(headerTenantID)
			rawUser := r.Header.Get(headerUserID)
			if rawTenant == "" || rawUser == "" {
				WriteError(w, http.StatusUnauthorized, "identity_required",
					"X-Tenant-ID and X-User-ID headers are required", logger)
				return
			}

			tenantID, err := uuid.Parse(rawTenant)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid_identity", "X-Tenant-ID is not a valid UUID", logger)
				return
			}
			userID, err := uuid.Parse(rawUser)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid_identity", "X-User-ID is not a valid UUID", logger)
				return
			}

			scope, err := tenant.NewScope(tenantID, userID)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid_identity", "identity headers must be non-nil UUIDs", logger)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyScope, scope)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// setSecurityHeaders applies common security headers for API responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	w.Header().Set("Cache-Control", "no-store")
}
