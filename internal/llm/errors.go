package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ProviderError wraps a failure from an upstream model provider with enough
// context to route it: which provider, which operation, and whether a retry
// has any chance of succeeding.
type ProviderError struct {
	Provider   string // "googleai", "openai", "ollama"
	Op         string // "generate", "embed"
	StatusCode int    // HTTP status when recognizable, 0 otherwise
	Transient  bool   // true when a retry may succeed
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err represents a failure worth retrying.
// Unknown errors are treated as permanent: retrying a malformed request
// burns quota without ever succeeding.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// transientPatterns groups error substrings by failure category, matched
// case-insensitively against err.Error().
//
// NOTE: String matching is used because Genkit and the provider SDKs do not
// expose typed errors for transient failures. Re-evaluate if Genkit adds
// structured error types.
var transientPatterns = [][]string{
	{"rate limit", "quota exceeded", "resource exhausted", "429"},
	{"500", "502", "503", "504", "unavailable", "overloaded"},
	{"connection reset", "connection refused", "timeout", "temporary", "eof"},
}

// statusPatterns maps recognizable status code substrings to HTTP codes.
var statusPatterns = []struct {
	substr string
	code   int
}{
	{"429", 429},
	{"500", 500},
	{"502", 502},
	{"503", 503},
	{"504", 504},
	{"400", 400},
	{"401", 401},
	{"403", 403},
	{"404", 404},
}

// classify wraps err in a ProviderError, deciding transience from the error
// text. Context cancellation is never transient from the provider's point of
// view: the caller gave up, retrying on their behalf would be wrong.
func classify(provider, op string, err error) *ProviderError {
	pe := &ProviderError{Provider: provider, Op: op, Err: err}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pe
	}

	lower := strings.ToLower(err.Error())
	for _, group := range transientPatterns {
		for _, pattern := range group {
			if strings.Contains(lower, pattern) {
				pe.Transient = true
				break
			}
		}
		if pe.Transient {
			break
		}
	}

	for _, sp := range statusPatterns {
		if strings.Contains(lower, sp.substr) {
			pe.StatusCode = sp.code
			break
		}
	}

	return pe
}
