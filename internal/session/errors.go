package session

import "errors"

// Sentinel errors for session operations. Check them with errors.Is:
//
//	msg, err := store.AppendMessage(ctx, scope, id, session.RoleUser, text, meta)
//	if errors.Is(err, session.ErrSessionArchived) {
//	    // Session is closed to new messages.
//	}
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionArchived indicates the session refuses new messages.
	ErrSessionArchived = errors.New("session is archived")

	// ErrInvalidLimit indicates a message page limit outside [1, MaxMessageLimit].
	ErrInvalidLimit = errors.New("invalid message limit")

	// ErrInvalidRole indicates a message role outside user/assistant/system.
	ErrInvalidRole = errors.New("invalid message role")

	// ErrEmptyContent indicates a message with no content.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrTitleTooLong indicates a session title exceeding TitleMaxLength runes.
	ErrTitleTooLong = errors.New("session title too long")
)
