package testutil

import (
	"log/slog"
)

// DiscardLogger returns a slog.Logger that discards all output.
// Equivalent to log.NewNop(); kept here so tests outside internal/log
// don't need that import for a throwaway logger.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
