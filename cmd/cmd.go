// Package cmd provides the copilot command line interface.
//
// Commands:
//   - serve: HTTP JSON API server
//   - mcp: Model Context Protocol server for agent and IDE integration
//   - ingest: feed files, directories, or web pages into the knowledge base
//   - ask: one-shot question answered from the knowledge base
//   - migrate: database schema management
//
// Signal handling and graceful shutdown are implemented for all long
// running commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Execute is the main entry point for the copilot CLI.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "mcp":
		return runMCP()
	case "ingest":
		return runIngest()
	case "ask":
		return runAsk()
	case "migrate":
		return runMigrate()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// commandArgs returns the arguments following the subcommand name.
func commandArgs() []string {
	if len(os.Args) > 2 {
		return os.Args[2:]
	}
	return nil
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("SupplyMind Copilot - supply chain knowledge and chat service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  copilot serve [addr]              Start the HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  copilot mcp --tenant <uuid>       Start the MCP server on stdio")
	fmt.Println("  copilot ingest --tenant <uuid> <path|url>...")
	fmt.Println("                                    Ingest files, directories, or web pages")
	fmt.Println("  copilot ask --tenant <uuid> <question>")
	fmt.Println("                                    Ask a one-shot question over the knowledge base")
	fmt.Println("  copilot migrate [up|down|status]  Manage the database schema")
	fmt.Println("  copilot version                   Show version and configuration")
	fmt.Println("  copilot help                      Show this help")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --tenant <uuid>    Tenant the command acts for")
	fmt.Println("  --user <uuid>      Optional user attribution within the tenant")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_URL        PostgreSQL connection URL (overrides postgres_* settings)")
	fmt.Println("  GEMINI_API_KEY      Required for the gemini provider")
	fmt.Println("  OPENAI_API_KEY      Required for the openai provider")
	fmt.Println("  COPILOT_CONFIG_DIR  Config directory (default: ~/.supplymind-copilot)")
	fmt.Println("  DEBUG               Enable debug logging")
	fmt.Println()
	fmt.Println("Learn more: https://github.com/supplymind/copilot")
}
