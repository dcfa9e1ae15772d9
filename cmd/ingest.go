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
	"time"

	"github.com/supplymind/copilot/internal/app"
	"github.com/supplymind/copilot/internal/config"
	"github.com/supplymind/copilot/internal/ingest"
	"github.com/supplymind/copilot/internal/tenant"
)

// runIngest feeds files, directories, or web pages into the knowledge base.
//
//	copilot ingest --tenant <uuid> ./docs ./notes.md
//	copilot ingest --tenant <uuid> --url https://supplier.example/terms
//
// Positional targets starting with http:// or https:// are crawled, the
// rest are treated as filesystem paths. Content dedup in the embedding
// store makes re-running an ingest safe.
func runIngest() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ingestFlags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFlags.SetOutput(os.Stderr)
	tenantID := ingestFlags.String("tenant", "", "Tenant UUID the content belongs to (required)")
	userID := ingestFlags.String("user", "", "User UUID for attribution (optional)")
	crawlURL := ingestFlags.String("url", "", "Web page URL to crawl into the knowledge base")
	if err := ingestFlags.Parse(commandArgs()); err != nil {
		return fmt.Errorf("parsing ingest flags: %w", err)
	}
	scope, err := buildScope(*tenantID, *userID)
	if err != nil {
		return err
	}

	targets := ingestFlags.Args()
	if *crawlURL != "" {
		targets = append(targets, *crawlURL)
	}
	if len(targets) == 0 {
		return errors.New("nothing to ingest: pass file or directory paths, or --url")
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

	for _, target := range targets {
		if err := ingestTarget(ctx, a, scope, target); err != nil {
			return fmt.Errorf("ingesting %s: %w", target, err)
		}
	}
	return nil
}

// ingestTarget routes one target to the matching indexer operation.
func ingestTarget(ctx context.Context, a *app.App, scope tenant.Scope, target string) error {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		res, err := a.Ingest.AddURL(ctx, scope, target)
		if err != nil {
			return err
		}
		printIngestResult("Crawled "+target, res)
		return nil
	}

	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if info.IsDir() {
		res, err := a.Ingest.AddDirectory(ctx, scope, target)
		if err != nil {
			return err
		}
		printIngestResult("Indexed "+target, res)
		return nil
	}

	if err := a.Ingest.AddFile(ctx, scope, target); err != nil {
		return err
	}
	fmt.Printf("Indexed %s\n", target)
	return nil
}

func printIngestResult(header string, res *ingest.Result) {
	fmt.Println(header)
	fmt.Printf("  Added:    %d\n", res.Added)
	fmt.Printf("  Skipped:  %d\n", res.Skipped)
	fmt.Printf("  Failed:   %d\n", res.Failed)
	fmt.Printf("  Bytes:    %d\n", res.Bytes)
	fmt.Printf("  Duration: %s\n", res.Duration.Round(time.Millisecond))
}
