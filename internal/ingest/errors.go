package ingest

import "errors"

// Sentinel errors for ingestion operations. Check them with errors.Is.
var (
	// ErrUnsupportedFile indicates a file outside the supported extension
	// set or one whose content is not UTF-8 text.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrFileTooLarge indicates a file beyond the per-file size cap.
	ErrFileTooLarge = errors.New("file exceeds size cap")

	// ErrEmptyFile indicates a file with no text content to embed.
	ErrEmptyFile = errors.New("file has no text content")

	// ErrInvalidURL indicates a crawl start URL that is not absolute http(s).
	ErrInvalidURL = errors.New("invalid crawl url")
)
