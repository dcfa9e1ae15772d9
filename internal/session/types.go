package session

import (
	"time"

	"github.com/google/uuid"
)

// Session status values. Status is not stored as its own column; it is
// derived from whether archived_at is set.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Role constants matching the messages table CHECK constraint.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// TitleMaxLength is the maximum session title length in runes. Generated
// titles are clipped to it; user-supplied titles beyond it are rejected.
const TitleMaxLength = 50

// Message page limits for ListMessages and Recent.
const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 500
)

// Session represents one conversation thread owned by a user within a tenant.
type Session struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	UserID    uuid.UUID
	Title     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Archived reports whether the session no longer accepts messages.
func (s *Session) Archived() bool {
	return s.Status == StatusArchived
}

// Message is a single turn in a session. Messages are append-only; the
// (SessionID, Sequence) pair is the ordering guarantee.
type Message struct {
	ID         uuid.UUID
	SessionID  uuid.UUID
	Sequence   int64
	Role       string
	Content    string
	TokenCount int
	Metadata   map[string]string
	CreatedAt  time.Time
}

// Meta carries optional attributes persisted with an appended message.
// The Model name, when set, is stored under the "model" metadata key.
type Meta struct {
	TokenCount int
	Model      string
	Extra      map[string]string
}
