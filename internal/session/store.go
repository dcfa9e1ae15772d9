// Package session persists conversation sessions and their messages in
// PostgreSQL.
//
// Every session belongs to a (tenant, user) pair and every operation takes
// the caller's scope explicitly; rows fetched by ID are re-verified against
// it before anything is returned. Messages are append-only: AppendMessage
// row-locks the parent session, assigns the next sequence number and bumps
// updated_at in one transaction, so concurrent appends to the same session
// serialize instead of colliding on sequence numbers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supplymind/copilot/internal/tenant"
)

// sessionCols is the standard SELECT column list for scanSession.
const sessionCols = `id, tenant_id, user_id, title, archived_at, created_at, updated_at`

// messageCols is the standard SELECT column list for scanMessage.
const messageCols = `id, session_id, sequence, role, content, token_count, metadata, created_at`

const insertMessageSQL = `INSERT INTO messages
	(session_id, sequence, role, content, token_count, metadata)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + messageCols

// lockSessionSQL acquires the row lock AppendMessage serializes on. The
// locked read also carries everything needed to reject the append early:
// the owning tenant and the archive marker.
const lockSessionSQL = `SELECT tenant_id, archived_at FROM sessions WHERE id = $1 FOR UPDATE`

const nextSequenceSQL = `SELECT COALESCE(MAX(sequence), 0) + 1 FROM messages WHERE session_id = $1`

// Store persists sessions and messages. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a session Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

func validateTitle(title string) error {
	if n := utf8.RuneCountInString(title); n > TitleMaxLength {
		return fmt.Errorf("%w: %d runes exceeds maximum %d", ErrTitleTooLong, n, TitleMaxLength)
	}
	return nil
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Create starts a new active session for the scope's user. The title may be
// empty; a generated one usually arrives later via Rename.
func (s *Store) Create(ctx context.Context, scope tenant.Scope, title string) (*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := validateTitle(title); err != nil {
		return nil, err
	}

	sess, err := scanSession(s.pool.QueryRow(ctx,
		`INSERT INTO sessions (tenant_id, user_id, title)
		 VALUES ($1, $2, $3)
		 RETURNING `+sessionCols,
		scope.TenantID, scope.UserID, title))
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("session created", "id", sess.ID, "tenant_id", scope.TenantID)
	return sess, nil
}

// Get fetches one session by ID.
//
// The row's tenant is re-verified against the scope after the read, so a
// caller holding a foreign session ID gets a scope violation rather than
// learning whether the session exists.
func (s *Store) Get(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session %s: %w", id, err)
	}

	if err := scope.Check(sess.TenantID); err != nil {
		s.logger.Warn("cross-tenant session access denied",
			"security_event", true,
			"session_id", id,
			"record_tenant", sess.TenantID,
			"caller_tenant", scope.TenantID,
			"caller_user", scope.UserID)
		return nil, err
	}
	return sess, nil
}

// List returns the scope's user's sessions, most recently updated first.
// Archived sessions are excluded unless includeArchived is set.
func (s *Store) List(ctx context.Context, scope tenant.Scope, includeArchived bool) ([]*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	sql := `SELECT ` + sessionCols + ` FROM sessions
		WHERE tenant_id = $1 AND user_id = $2`
	if !includeArchived {
		sql += ` AND archived_at IS NULL`
	}
	sql += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, sql, scope.TenantID, scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Count returns the number of sessions stored for the scope's tenant.
func (s *Store) Count(ctx context.Context, scope tenant.Scope) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE tenant_id = $1`,
		scope.TenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return count, nil
}

// Rename sets the session title. Archived sessions can still be renamed.
func (s *Store) Rename(ctx context.Context, scope tenant.Scope, id uuid.UUID, title string) (*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := validateTitle(title); err != nil {
		return nil, err
	}

	sess, err := scanSession(s.pool.QueryRow(ctx,
		`UPDATE sessions SET title = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3
		 RETURNING `+sessionCols,
		title, id, scope.TenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missingOrForeign(ctx, scope, id, "rename")
	}
	if err != nil {
		return nil, fmt.Errorf("renaming session %s: %w", id, err)
	}
	return sess, nil
}

// Archive marks the session as no longer accepting messages. Archiving an
// already archived session is a no-op that returns the session unchanged.
func (s *Store) Archive(ctx context.Context, scope tenant.Scope, id uuid.UUID) (*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	sess, err := scanSession(s.pool.QueryRow(ctx,
		`UPDATE sessions SET archived_at = now(), updated_at = now()
		 WHERE id = $1 AND tenant_id = $2 AND archived_at IS NULL
		 RETURNING `+sessionCols,
		id, scope.TenantID))
	if err == nil {
		s.logger.Debug("session archived", "id", id, "tenant_id", scope.TenantID)
		return sess, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("archiving session %s: %w", id, err)
	}

	// No row updated: missing, foreign tenant, or already archived.
	existing, getErr := s.Get(ctx, scope, id)
	if getErr != nil {
		return nil, getErr
	}
	return existing, nil
}

// AppendMessage appends one message to the session and returns it with its
// assigned sequence number.
//
// The session row is locked for the duration of the transaction, so two
// concurrent appends to the same session get distinct consecutive sequence
// numbers and the session's updated_at moves with its newest message.
// Archived sessions refuse the append with ErrSessionArchived.
func (s *Store) AppendMessage(ctx context.Context, scope tenant.Scope, sessionID uuid.UUID, role, content string, meta Meta) (*Message, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if !validRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	metadataJSON, err := json.Marshal(meta.metadata())
	if err != nil {
		return nil, fmt.Errorf("marshaling message metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	var recTenant uuid.UUID
	var archivedAt *time.Time
	err = tx.QueryRow(ctx, lockSessionSQL, sessionID).Scan(&recTenant, &archivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking session %s: %w", sessionID, err)
	}
	if err := scope.Check(recTenant); err != nil {
		s.logger.Warn("cross-tenant message append denied",
			"security_event", true,
			"session_id", sessionID,
			"record_tenant", recTenant,
			"caller_tenant", scope.TenantID,
			"caller_user", scope.UserID)
		return nil, err
	}
	if archivedAt != nil {
		return nil, ErrSessionArchived
	}

	var sequence int64
	if err := tx.QueryRow(ctx, nextSequenceSQL, sessionID).Scan(&sequence); err != nil {
		return nil, fmt.Errorf("assigning sequence number: %w", err)
	}

	msg, err := scanMessage(tx.QueryRow(ctx, insertMessageSQL,
		sessionID, sequence, role, content, meta.TokenCount, metadataJSON))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("touching session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message append: %w", err)
	}

	s.logger.Debug("message appended",
		"session_id", sessionID, "sequence", sequence, "role", role)
	return msg, nil
}

// ListMessages returns a page of the session's messages in chronological
// order. With no cursor it returns the newest page; passing the lowest
// sequence of that page as before walks backward through history. A limit
// of 0 means DefaultMessageLimit.
func (s *Store) ListMessages(ctx context.Context, scope tenant.Scope, sessionID uuid.UUID, limit int, before int64) ([]*Message, error) {
	if limit == 0 {
		limit = DefaultMessageLimit
	}
	if limit < 1 || limit > MaxMessageLimit {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidLimit, limit, MaxMessageLimit)
	}

	// Get re-validates the scope and rejects foreign sessions before any
	// message row is touched.
	if _, err := s.Get(ctx, scope, sessionID); err != nil {
		return nil, err
	}
	return s.newestPage(ctx, sessionID, limit, before)
}

// Recent returns the session's last n messages in chronological order, the
// shape a prompt window wants.
func (s *Store) Recent(ctx context.Context, scope tenant.Scope, sessionID uuid.UUID, n int) ([]*Message, error) {
	return s.ListMessages(ctx, scope, sessionID, n, 0)
}

// newestPage selects the newest limit messages under the cursor and flips
// them into chronological order.
func (s *Store) newestPage(ctx context.Context, sessionID uuid.UUID, limit int, before int64) ([]*Message, error) {
	sql := `SELECT ` + messageCols + ` FROM messages WHERE session_id = $1`
	args := []any{sessionID}
	if before > 0 {
		sql += ` AND sequence < $2`
		args = append(args, before)
	}
	sql += fmt.Sprintf(` ORDER BY sequence DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	slices.Reverse(messages)
	return messages, nil
}

// missingOrForeign turns an unmatched tenant-filtered UPDATE into the right
// error: ErrSessionNotFound when the row does not exist, a scope violation
// when it belongs to another tenant.
func (s *Store) missingOrForeign(ctx context.Context, scope tenant.Scope, id uuid.UUID, op string) error {
	var recTenant uuid.UUID
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id FROM sessions WHERE id = $1`, id).Scan(&recTenant)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up session %s: %w", id, err)
	}

	err = scope.Check(recTenant)
	s.logger.Warn("cross-tenant session "+op+" denied",
		"security_event", true,
		"session_id", id,
		"record_tenant", recTenant,
		"caller_tenant", scope.TenantID,
		"caller_user", scope.UserID)
	return err
}

// metadata flattens Meta into the map persisted as JSONB.
func (m Meta) metadata() map[string]string {
	out := make(map[string]string, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Model != "" {
		out["model"] = m.Model
	}
	return out
}

// scanSession reads one Session from a pgx.Row using the sessionCols order.
func scanSession(row pgx.Row) (*Session, error) {
	sess := &Session{}
	var archivedAt *time.Time
	if err := row.Scan(
		&sess.ID, &sess.TenantID, &sess.UserID, &sess.Title,
		&archivedAt, &sess.CreatedAt, &sess.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sess.Status = StatusActive
	if archivedAt != nil {
		sess.Status = StatusArchived
	}
	return sess, nil
}

// scanMessage reads one Message from a pgx.Row using the messageCols order.
func scanMessage(row pgx.Row) (*Message, error) {
	msg := &Message{}
	var metadataJSON []byte
	if err := row.Scan(
		&msg.ID, &msg.SessionID, &msg.Sequence, &msg.Role,
		&msg.Content, &msg.TokenCount, &metadataJSON, &msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling message metadata: %w", err)
		}
	}
	return msg, nil
}
