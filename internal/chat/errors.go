package chat

import "errors"

// Validation sentinels, mapped to HTTP 400 at the API boundary with
// errors.Is. ErrCircuitOpen lives next to the breaker in circuit.go.
var (
	// ErrEmptyMessage rejects blank or whitespace-only messages.
	ErrEmptyMessage = errors.New("empty message")

	// ErrMessageTooLong rejects messages over MaxMessageRunes.
	ErrMessageTooLong = errors.New("message too long")

	// ErrTemperatureRange rejects temperature overrides outside [0, 2].
	ErrTemperatureRange = errors.New("temperature out of range")

	// ErrMaxTokensRange rejects max token overrides outside [1, 4000].
	ErrMaxTokensRange = errors.New("max tokens out of range")
)
