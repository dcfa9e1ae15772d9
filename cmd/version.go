package cmd

import (
	"fmt"
	"os"

	"github.com/supplymind/copilot/internal/config"
)

// Version is injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/supplymind/copilot/cmd.Version=v1.2.3"
var Version = "development"

// runVersion displays the version and the effective configuration.
// Configuration problems are reported rather than fatal: version output is
// the first thing an operator reaches for when setup is broken.
func runVersion() {
	fmt.Printf("SupplyMind Copilot %s\n", Version)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Configuration: unavailable (%v)\n", err)
		return
	}

	fmt.Println("Configuration:")
	fmt.Printf("  Provider: %s\n", cfg.Provider)
	fmt.Printf("  Model: %s\n", cfg.FullModelName())
	fmt.Printf("  Embedder: %s (%d dimensions)\n", cfg.EmbedderModel, cfg.EmbedderDim)
	fmt.Printf("  Database: %s:%d/%s\n", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName)

	switch cfg.Provider {
	case config.ProviderOpenAI:
		fmt.Printf("  OPENAI_API_KEY: %s\n", keyStatus(os.Getenv("OPENAI_API_KEY")))
	case config.ProviderOllama:
		fmt.Printf("  Ollama host: %s\n", cfg.OllamaHost)
	default:
		fmt.Printf("  GEMINI_API_KEY: %s\n", keyStatus(os.Getenv("GEMINI_API_KEY")))
	}
}

// keyStatus describes an API key without echoing it. Longer keys keep the
// first and last 4 characters for debug utility.
func keyStatus(key string) string {
	if key == "" {
		return "not set"
	}
	if len(key) < 12 {
		return "(configured)"
	}
	return key[:4] + "..." + key[len(key)-4:] + " (configured)"
}
