// Package api provides the JSON REST API server for the copilot service.
//
// # Architecture
//
// The server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → RateLimit → Identity → Routes
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux, ensuring they remain fast and unauthenticated.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health — returns {"status":"ok"}
//   - GET /ready  — pings the database pool
//
// Chat:
//   - POST /api/v1/chat — one conversation turn (creates a session when none given)
//
// Knowledge:
//   - POST   /api/v1/embed            — embed and store a text
//   - GET    /api/v1/embeddings/{id}  — fetch a stored embedding record
//   - DELETE /api/v1/embeddings/{id}  — delete a stored embedding record
//   - POST   /api/v1/search           — semantic similarity search
//
// Suggestions:
//   - POST  /api/v1/suggest           — generate proactive suggestions
//   - GET   /api/v1/suggestions       — list stored suggestions
//   - PATCH /api/v1/suggestions/{id}  — accept/reject/implement a suggestion
//
// Sessions:
//   - GET   /api/v1/sessions               — list the caller's sessions
//   - GET   /api/v1/sessions/{id}          — get one session
//   - GET   /api/v1/sessions/{id}/messages — page through the transcript
//   - PATCH /api/v1/sessions/{id}          — rename or archive a session
//
// Stats:
//   - GET /api/v1/stats — per-tenant usage counters
//
// # Identity
//
// The server sits behind a gateway that authenticates callers and forwards
// their identity in the X-Tenant-ID and X-User-ID headers. The identity
// middleware parses both into a tenant.Scope and rejects requests where
// either is missing or malformed. Every store call below this layer takes
// the scope explicitly; the API never trusts IDs from request bodies.
//
// # Error Handling
//
// All error responses use an envelope format:
//
//	{"error": {"code": "...", "message": "..."}}
//
// Validation failures map to 400, unknown resources to 404, cross-tenant
// access to 404 (indistinguishable from absent, to prevent probing),
// archived-session writes to 409, and provider outages to 502. A chat turn
// answered by the configured fallback message returns 200 with
// "degraded": true rather than an error, since the turn was persisted.
package api
