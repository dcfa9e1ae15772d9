package suggest

import "errors"

// Sentinel errors for suggestion operations. Check them with errors.Is.
var (
	// ErrEmptyContext indicates a Generate request carrying no context data.
	ErrEmptyContext = errors.New("suggestion context is required")

	// ErrMaxSuggestionsRange indicates MaxSuggestions outside [1, MaxSuggestionsLimit].
	ErrMaxSuggestionsRange = errors.New("max suggestions out of range")

	// ErrMinConfidenceRange indicates MinConfidence outside [0, 1].
	ErrMinConfidenceRange = errors.New("min confidence out of range")

	// ErrUnknownType indicates a type filter entry outside the known set.
	ErrUnknownType = errors.New("unknown suggestion type")

	// ErrInvalidStatus indicates a status outside the review lifecycle set.
	ErrInvalidStatus = errors.New("invalid suggestion status")

	// ErrSuggestionNotFound indicates the requested suggestion does not exist.
	ErrSuggestionNotFound = errors.New("suggestion not found")
)
