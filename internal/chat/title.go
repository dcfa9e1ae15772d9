package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/supplymind/copilot/internal/llm"
	"github.com/supplymind/copilot/internal/session"
	"github.com/supplymind/copilot/internal/tenant"
)

const (
	// titleTimeout bounds the title generation call so a hung provider
	// cannot stall the shutdown WaitGroup.
	titleTimeout = 5 * time.Second

	// titleInputMaxRunes clips the user message sent to the model for
	// titling, keeping the call cheap.
	titleInputMaxRunes = 500
)

const titlePrompt = `Generate a concise title (max 50 characters) for a chat session based on this first message.
The title should capture the main topic or intent.
Return ONLY the title text, no quotes, no explanations, no punctuation at the end.

Message: %s

Title:`

// spawnTitle starts async title generation for a just-created session.
// Runs on the background context so it outlives the request; tracked by the
// WaitGroup so shutdown can drain it. Converse never waits for it.
func (s *Service) spawnTitle(scope tenant.Scope, sessionID uuid.UUID, firstMessage string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.generateTitle(s.bgCtx, scope, sessionID, firstMessage)
	}()
}

// generateTitle asks the model for a title, falling back to a clipped
// message prefix when generation fails. Best effort: failures log and move
// on, the session just keeps an empty title.
func (s *Service) generateTitle(ctx context.Context, scope tenant.Scope, sessionID uuid.UUID, firstMessage string) {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	title := s.titleFromModel(ctx, firstMessage)
	if title == "" {
		title = titleFromPrefix(firstMessage)
	}
	if title == "" {
		return
	}

	if _, err := s.store.Rename(ctx, scope, sessionID, title); err != nil {
		s.logger.Warn("session title update failed",
			"session_id", sessionID,
			"error", err,
		)
		return
	}
	s.logger.Debug("session title generated",
		"session_id", sessionID,
		"title", title,
	)
}

// titleFromModel returns "" when generation fails or yields nothing.
func (s *Service) titleFromModel(ctx context.Context, message string) string {
	if runes := []rune(message); len(runes) > titleInputMaxRunes {
		message = string(runes[:titleInputMaxRunes]) + "..."
	}

	resp, err := s.llm.Generate(ctx, llm.GenerateRequest{
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf(titlePrompt, message),
		}},
	})
	if err != nil {
		s.logger.Debug("title generation failed, using prefix fallback", "error", err)
		return ""
	}

	return clipTitle(strings.TrimSpace(resp.Text))
}

// titleFromPrefix derives a title from the message itself, breaking at a
// word boundary when one lands in the back half.
func titleFromPrefix(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) <= session.TitleMaxLength {
		return message
	}

	truncated := string(runes[:session.TitleMaxLength-3])
	if i := strings.LastIndex(truncated, " "); i > session.TitleMaxLength/2 {
		truncated = truncated[:i]
	}
	return strings.TrimSpace(truncated) + "..."
}

// clipTitle enforces the store's title limit on model output.
func clipTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= session.TitleMaxLength {
		return title
	}
	return string(runes[:session.TitleMaxLength-3]) + "..."
}
