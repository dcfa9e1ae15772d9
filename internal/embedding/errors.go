package embedding

import "errors"

var (
	// ErrEmptyText indicates the content was empty or whitespace only.
	ErrEmptyText = errors.New("text is empty")

	// ErrTextTooLong indicates the content exceeds MaxContentRunes.
	ErrTextTooLong = errors.New("text too long")

	// ErrInvalidSourceType indicates a missing or oversized source type label.
	ErrInvalidSourceType = errors.New("invalid source type")

	// ErrNotFound indicates no embedding exists with the given ID.
	ErrNotFound = errors.New("embedding not found")
)
