package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/supplymind/copilot/internal/embedding"
	"github.com/supplymind/copilot/internal/tenant"
)

// AddURL crawls pages starting at startURL, staying on the start host, and
// stores the readable text of every page it reaches. The crawl is bounded
// by MaxPages and maxCrawlDepth; page failures are counted, not fatal.
func (ix *Indexer) AddURL(ctx context.Context, scope tenant.Scope, startURL string) (*Result, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(startURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, startURL)
	}

	host := u.Hostname()
	domains := []string{host}
	if bare := strings.TrimPrefix(host, "www."); bare != host {
		domains = append(domains, bare)
	} else {
		domains = append(domains, "www."+host)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(domains...),
		colly.MaxDepth(maxCrawlDepth),
		colly.UserAgent(crawlUserAgent),
		colly.Async(),
	)
	c.SetRequestTimeout(ix.timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: ix.parallelism,
		Delay:       ix.delay,
	}); err != nil {
		return nil, fmt.Errorf("configuring crawl limits: %w", err)
	}

	start := time.Now()
	result := &Result{}
	var (
		mu      sync.Mutex
		visited int
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if visited >= ix.maxPages {
			r.Abort()
			return
		}
		visited++
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		// Revisits, off-host links and depth overruns error here; all are
		// expected and already bounded by the collector.
		_ = e.Request.Visit(e.Attr("href"))
	})

	c.OnResponse(func(r *colly.Response) {
		if !strings.Contains(r.Headers.Get("Content-Type"), "text/html") {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			return
		}

		pageURL := r.Request.URL
		title, text := extractReadable(r.Body, pageURL)
		if text == "" {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			return
		}

		err := ix.storePage(ctx, scope, pageURL.String(), title, text)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			ix.logger.Warn("page ingest failed", "url", pageURL.String(), "error", err)
			result.Failed++
			return
		}
		result.Added++
		result.Bytes += int64(len(r.Body))
	})

	c.OnError(func(r *colly.Response, err error) {
		ix.logger.Warn("page fetch failed", "url", r.Request.URL.String(), "error", err)
		mu.Lock()
		result.Failed++
		mu.Unlock()
	})

	if err := c.Visit(startURL); err != nil {
		return nil, fmt.Errorf("starting crawl at %s: %w", startURL, err)
	}
	c.Wait()

	result.Duration = time.Since(start)
	ix.logger.Info("crawl finished",
		"start_url", startURL,
		"added", result.Added,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"bytes", result.Bytes)
	return result, nil
}

// extractReadable pulls the main article text from an HTML page. Pages
// readability cannot make sense of (index pages, bare link lists) fall back
// to a stripped-tag extraction.
func extractReadable(body []byte, pageURL *url.URL) (title, text string) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil {
		title = strings.TrimSpace(article.Title)
		if text = normalizeText(article.TextContent); text != "" {
			return title, text
		}
	}
	return extractFallback(body, title)
}

// extractFallback strips non-content markup with goquery and returns the
// remaining body text.
func extractFallback(body []byte, title string) (string, string) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", ""
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	doc.Find("script, style, noscript, nav, header, footer").Remove()
	return title, normalizeText(doc.Find("body").Text())
}

// storePage chunks the page text and writes every chunk through the store.
func (ix *Indexer) storePage(ctx context.Context, scope tenant.Scope, pageURL, title, text string) error {
	chunks := chunkText(text, ix.chunkRunes, ix.overlapRunes)
	for i, chunk := range chunks {
		meta := map[string]string{}
		if title != "" {
			meta["title"] = title
		}
		if len(chunks) > 1 {
			meta["chunk"] = fmt.Sprintf("%d/%d", i+1, len(chunks))
		}
		if _, err := ix.store.Put(ctx, scope, embedding.PutRequest{
			SourceType: embedding.SourceTypeWeb,
			SourceRef:  pageURL,
			Content:    chunk,
			Metadata:   meta,
		}); err != nil {
			return fmt.Errorf("storing chunk %d of %s: %w", i+1, pageURL, err)
		}
	}
	return nil
}
