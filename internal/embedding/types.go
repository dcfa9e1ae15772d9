package embedding

import (
	"time"

	"github.com/google/uuid"
)

// MaxContentRunes caps the text length accepted by Put. Longer inputs must
// be chunked by the caller (see internal/ingest).
const MaxContentRunes = 50_000

// MaxSourceTypeLen caps the source type label length.
const MaxSourceTypeLen = 64

// Well-known source type labels. SourceType is an open set; these are the
// ones the copilot writes itself.
const (
	// SourceTypeDocument is platform document content pushed over the API.
	SourceTypeDocument = "document"

	// SourceTypeFile is locally ingested file content.
	SourceTypeFile = "file"

	// SourceTypeWeb is crawled page content.
	SourceTypeWeb = "web"

	// SourceTypeConversation is chat history distilled into the knowledge base.
	SourceTypeConversation = "conversation"
)

// Record is one stored embedding row. Records are immutable: re-embedding
// the same content produces the same row, not a new one.
type Record struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	OwnerID    uuid.UUID
	SourceType string
	SourceRef  string
	Content    string
	// ContentHash is the hex SHA-256 of Content, the dedup key together
	// with the model and tenant.
	ContentHash string
	// Model is the embedder that produced Vector.
	Model    string
	Vector   []float32
	Metadata map[string]string
	CreatedAt time.Time
}

// PutRequest describes one text to embed and store.
type PutRequest struct {
	// SourceType labels where the text came from: "document", "conversation",
	// "web" and so on. Required.
	SourceType string
	// SourceRef points back at the origin (file path, URL, session ID).
	// Optional.
	SourceRef string
	// Content is the text to embed. Required, at most MaxContentRunes runes.
	Content string
	// Metadata is attached verbatim and returned with search hits.
	Metadata map[string]string
}

// PutResult reports what Put did.
type PutResult struct {
	Record *Record
	// Deduplicated is true when an identical text was already embedded for
	// this tenant and model, and Record is the existing row.
	Deduplicated bool
}
