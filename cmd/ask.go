package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"

	"github.com/supplymind/copilot/internal/app"
	"github.com/supplymind/copilot/internal/chat"
	"github.com/supplymind/copilot/internal/config"
)

// askWrapWidth is the word-wrap column for rendered answers.
const askWrapWidth = 100

// runAsk answers a single question from the knowledge base and exits.
//
//	copilot ask --tenant <uuid> "which suppliers are below reorder point?"
//
// The remaining arguments are joined into the question, so quoting is
// optional. Each invocation starts a fresh session.
func runAsk() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
	askFlags.SetOutput(os.Stderr)
	tenantID := askFlags.String("tenant", "", "Tenant UUID to answer for (required)")
	userID := askFlags.String("user", "", "User UUID for attribution (optional)")
	if err := askFlags.Parse(commandArgs()); err != nil {
		return fmt.Errorf("parsing ask flags: %w", err)
	}
	scope, err := buildScope(*tenantID, *userID)
	if err != nil {
		return err
	}

	question := strings.TrimSpace(strings.Join(askFlags.Args(), " "))
	if question == "" {
		return errors.New(`usage: copilot ask --tenant <uuid> "question"`)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("shutdown error", "error", closeErr)
		}
	}()

	resp, err := a.Chat.Converse(ctx, scope, chat.Request{Message: question})
	if resp == nil {
		return fmt.Errorf("asking: %w", err)
	}
	if err != nil {
		// Degraded turn: the fallback text is still worth showing.
		slog.Warn("provider unavailable, answer degraded", "error", err)
	}

	fmt.Println(renderMarkdown(resp.Text))
	return nil
}

// renderMarkdown converts a Markdown answer to styled terminal output.
// Returns the raw text when rendering fails, so a missing TTY or an odd
// TERM never loses the answer.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // detect light/dark terminal
		glamour.WithWordWrap(askWrapWidth),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSuffix(out, "\n")
}
