package chat

import (
	"slices"
	"unicode/utf8"

	"github.com/supplymind/copilot/internal/llm"
)

// TokenBudget bounds how much of the conversation reaches the model.
// Counts are estimates, not tokenizer output.
type TokenBudget struct {
	MaxHistoryTokens int // budget for prior session messages
	MaxInputTokens   int // budget for the current user turn
}

// DefaultTokenBudget returns conservative limits that fit every supported
// provider's context window.
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{
		MaxHistoryTokens: 8000,
		MaxInputTokens:   2000,
	}
}

// estimateTokens approximates token count as runes/2, a middle ground
// between English (~4 chars per token) and CJK (~1.5 chars per token).
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// truncateHistory drops the oldest messages until the estimate fits the
// budget. The system prompt travels outside the message list, so recency is
// the only thing worth preserving here.
func truncateHistory(msgs []llm.Message, budget int) []llm.Message {
	total := 0
	for _, m := range msgs {
		total += estimateTokens(m.Content)
	}
	if total <= budget {
		return msgs
	}

	kept := make([]llm.Message, 0, len(msgs))
	remaining := budget
	for i := len(msgs) - 1; i >= 0; i-- {
		n := estimateTokens(msgs[i].Content)
		if remaining < n {
			break
		}
		kept = append(kept, msgs[i])
		remaining -= n
	}
	slices.Reverse(kept)
	return kept
}

// truncateToTokens clips text to roughly budget tokens.
func truncateToTokens(text string, budget int) string {
	limit := budget * 2 // invert the runes/2 estimate
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
