package search

import (
	"errors"
	"fmt"
)

var (
	// ErrTopKRange indicates a top-K outside [1, MaxTopK].
	ErrTopKRange = errors.New("top_k out of range")

	// ErrThresholdRange indicates a similarity threshold outside [0, 1].
	ErrThresholdRange = errors.New("threshold out of range")

	// ErrEmptyQuery indicates a blank or whitespace-only text query.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrQueryTooLong indicates a text query above MaxQueryRunes.
	ErrQueryTooLong = errors.New("query too long")

	// ErrEmptyVector indicates a zero-length query vector.
	ErrEmptyVector = errors.New("query vector is empty")
)

func errTopKRange(got, maxTopK int) error {
	return fmt.Errorf("%w: got %d, want 1..%d", ErrTopKRange, got, maxTopK)
}

func errThresholdRange(got float32) error {
	return fmt.Errorf("%w: got %g, want 0..1", ErrThresholdRange, got)
}
