// Package ingest feeds the knowledge base from local files and crawled web
// pages.
//
// Text is chunked to the embedding window before storage, so a long
// document becomes several searchable rows pointing back at the same
// source. Directory and crawl operations are best effort: individual files
// or pages that cannot be ingested are counted in the Result, never fatal.
// The embedding store's content dedup makes every operation safe to re-run.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/tenant"
)

// Defaults applied by New for zero Config fields.
const (
	// DefaultChunkRunes keeps each chunk inside the embedding model's
	// useful window, roughly 2000 tokens at the runes/2 estimate.
	DefaultChunkRunes = 4000

	// DefaultOverlapRunes is the tail repeated between consecutive chunks.
	DefaultOverlapRunes = 200

	// DefaultMaxFileBytes caps a single file's size. Larger files tend to
	// be generated artifacts, not documentation worth embedding.
	DefaultMaxFileBytes = 1 << 20

	DefaultMaxPages     = 10
	DefaultParallelism  = 2
	DefaultCrawlDelay   = time.Second
	DefaultCrawlTimeout = 30 * time.Second
)

// maxCrawlDepth bounds how far AddURL follows links from the start page.
const maxCrawlDepth = 3

const crawlUserAgent = "supplymind-copilot/1.0 (+https://github.com/supplymind/copilot)"

// Store is the persistence surface the indexer writes through.
type Store interface {
	Put(ctx context.Context, scope tenant.Scope, req embedding.PutRequest) (*embedding.PutResult, error)
}

// Config tunes the indexer. Zero fields take the package defaults.
type Config struct {
	// ChunkRunes is the per-chunk rune budget.
	ChunkRunes int
	// OverlapRunes is the repeated tail between consecutive chunks.
	OverlapRunes int
	// Extensions lists supported file extensions, dot included. Empty
	// means the default text and code set.
	Extensions []string
	// MaxFileBytes is the per-file size cap.
	MaxFileBytes int64
	// MaxPages caps pages fetched per AddURL call.
	MaxPages int
	// Parallelism is the concurrent crawl request limit.
	Parallelism int
	// Delay is the politeness delay between crawl requests.
	Delay time.Duration
	// Timeout is the per-request crawl timeout.
	Timeout time.Duration
}

// Result summarizes one ingestion run. Added, Skipped and Failed count
// source units: files for directory runs, pages for crawls.
type Result struct {
	Added    int
	Skipped  int
	Failed   int
	Bytes    int64
	Duration time.Duration
}

// Indexer ingests files and web pages into the knowledge base.
// Safe for concurrent use.
type Indexer struct {
	store        Store
	logger       *slog.Logger
	extensions   map[string]bool
	chunkRunes   int
	overlapRunes int
	maxFileBytes int64
	maxPages     int
	parallelism  int
	delay        time.Duration
	timeout      time.Duration
}

// New creates an Indexer.
func New(store Store, cfg Config, logger *slog.Logger) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.ChunkRunes <= 0 {
		cfg.ChunkRunes = DefaultChunkRunes
	}
	if cfg.OverlapRunes <= 0 {
		cfg.OverlapRunes = DefaultOverlapRunes
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultCrawlDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCrawlTimeout
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions()
	}
	extMap := make(map[string]bool, len(exts))
	for _, ext := range exts {
		extMap[strings.ToLower(ext)] = true
	}

	return &Indexer{
		store:        store,
		logger:       logger,
		extensions:   extMap,
		chunkRunes:   cfg.ChunkRunes,
		overlapRunes: cfg.OverlapRunes,
		maxFileBytes: cfg.MaxFileBytes,
		maxPages:     cfg.MaxPages,
		parallelism:  cfg.Parallelism,
		delay:        cfg.Delay,
		timeout:      cfg.Timeout,
	}, nil
}

func defaultExtensions() []string {
	return []string{
		".txt", ".md", ".csv", ".tsv", ".json", ".yaml", ".yml", ".xml",
		".html", ".go", ".py", ".js", ".ts", ".java", ".c", ".cpp", ".h",
		".rs", ".rb", ".php", ".sh", ".sql", ".css",
	}
}

// AddFile ingests one file. The file is read through an os.Root anchored at
// its parent directory, so a symlink inside it cannot escape.
func (ix *Indexer) AddFile(ctx context.Context, scope tenant.Scope, path string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}

	root, err := os.OpenRoot(filepath.Dir(absPath))
	if err != nil {
		return fmt.Errorf("opening parent of %s: %w", absPath, err)
	}
	defer root.Close()

	name := filepath.Base(absPath)
	info, err := root.Stat(name)
	if err != nil {
		return fmt.Errorf("stat %s: %w", absPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory, use AddDirectory", absPath)
	}
	if ext := strings.ToLower(filepath.Ext(name)); !ix.extensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedFile, ext)
	}
	if info.Size() > ix.maxFileBytes {
		return fmt.Errorf("%w: %s is %d bytes, cap is %d",
			ErrFileTooLarge, name, info.Size(), ix.maxFileBytes)
	}

	content, err := root.ReadFile(name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", absPath, err)
	}
	if !utf8.Valid(content) {
		return fmt.Errorf("%w: %s is not UTF-8 text", ErrUnsupportedFile, name)
	}

	if err := ix.storeFile(ctx, scope, absPath, info.Size(), string(content)); err != nil {
		return err
	}
	ix.logger.Debug("file ingested", "path", absPath, "bytes", info.Size())
	return nil
}

// AddDirectory recursively ingests every supported file under dir. Hidden
// directories are skipped. Per-file problems are counted in the Result and
// the walk continues; only a failure to walk at all is an error.
func (ix *Indexer) AddDirectory(ctx context.Context, scope tenant.Scope, dir string) (*Result, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	root, err := os.OpenRoot(absDir)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", absDir, err)
	}
	defer root.Close()

	start := time.Now()
	result := &Result{}

	err = fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			result.Failed++
			return nil
		}
		if d.IsDir() {
			if path != "." && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if ext := strings.ToLower(filepath.Ext(path)); !ix.extensions[ext] {
			result.Skipped++
			return nil
		}
		info, err := d.Info()
		if err != nil {
			result.Failed++
			return nil
		}
		if info.Size() > ix.maxFileBytes {
			result.Skipped++
			return nil
		}

		content, err := root.ReadFile(path)
		if err != nil {
			result.Failed++
			return nil
		}
		if !utf8.Valid(content) || strings.TrimSpace(string(content)) == "" {
			result.Skipped++
			return nil
		}

		absPath := filepath.Join(absDir, filepath.FromSlash(path))
		if err := ix.storeFile(ctx, scope, absPath, info.Size(), string(content)); err != nil {
			ix.logger.Warn("file ingest failed", "path", absPath, "error", err)
			result.Failed++
			return nil
		}
		result.Added++
		result.Bytes += info.Size()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absDir, err)
	}

	result.Duration = time.Since(start)
	ix.logger.Info("directory ingested",
		"dir", absDir,
		"added", result.Added,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"bytes", result.Bytes)
	return result, nil
}

// storeFile chunks the content and writes every chunk through the store.
// A mid-file failure leaves earlier chunks behind; re-running the ingest
// dedups them, so the retry converges instead of duplicating.
func (ix *Indexer) storeFile(ctx context.Context, scope tenant.Scope, absPath string, size int64, content string) error {
	chunks := chunkText(content, ix.chunkRunes, ix.overlapRunes)
	if len(chunks) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFile, filepath.Base(absPath))
	}

	name := filepath.Base(absPath)
	ext := strings.ToLower(filepath.Ext(name))
	for i, chunk := range chunks {
		meta := map[string]string{
			"file_name": name,
			"file_ext":  ext,
			"file_size": strconv.FormatInt(size, 10),
		}
		if len(chunks) > 1 {
			meta["chunk"] = fmt.Sprintf("%d/%d", i+1, len(chunks))
		}
		if _, err := ix.store.Put(ctx, scope, embedding.PutRequest{
			SourceType: embedding.SourceTypeFile,
			SourceRef:  absPath,
			Content:    chunk,
			Metadata:   meta,
		}); err != nil {
			return fmt.Errorf("storing chunk %d of %s: %w", i+1, name, err)
		}
	}
	return nil
}
