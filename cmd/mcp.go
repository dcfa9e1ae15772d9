package cmd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/supplymind/copilot/internal/app"
	"github.com/supplymind/copilot/internal/config"
	"github.com/supplymind/copilot/internal/mcp"
)

// runMCP initializes and starts the MCP server on stdio transport.
// The tenant scope is fixed for the process lifetime: an MCP host that
// serves several tenants runs one copilot process per tenant.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	mcpFlags := flag.NewFlagSet("mcp", flag.ContinueOnError)
	mcpFlags.SetOutput(os.Stderr)
	tenantID := mcpFlags.String("tenant", "", "Tenant UUID the server acts for (required)")
	userID := mcpFlags.String("user", "", "User UUID for attribution (optional)")
	if err := mcpFlags.Parse(commandArgs()); err != nil {
		return fmt.Errorf("parsing mcp flags: %w", err)
	}
	scope, err := buildScope(*tenantID, *userID)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting MCP server", "version", Version)

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("shutdown error", "error", closeErr)
		}
	}()

	mcpServer, err := mcp.NewServer(mcp.Config{
		Name:    "copilot",
		Version: Version,
		Scope:   scope,
		Search:  a.Search,
		Store:   a.Embeddings,
		Logger:  slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	slog.Info("MCP server ready", "name", "copilot", "version", Version, "transport", "stdio")

	if err := mcpServer.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	slog.Info("MCP server shut down gracefully")
	return nil
}
