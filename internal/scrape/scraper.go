// Package scrape fetches web pages and renders them as markdown. Each
// URL runs through a tier cascade: a local fetch and HTML conversion,
// then a Jina-style reader, then the Serper scrape API. Results are
// cached for the run so later stages never refetch a page.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// minContentLength is the smallest body a tier may return before the
	// cascade moves on. Consent walls and bot screens tend to come in
	// under this.
	minContentLength = 200

	maxBodyBytes = 2 << 20 // 2MB limit

	defaultJinaURL  = "https://r.jina.ai"
	serperScrapeURL = "https://scrape.serper.dev"
	defaultTimeout  = 15 * time.Second
	defaultParallel = 5
	maxTitleRunes   = 100

	userAgent = "Mozilla/5.0 (compatible; scour/1.0; +https://github.com/scour-dev/scour)"
)

var errTierNotConfigured = errors.New("tier not configured")

// Tier identifies which extractor produced a page.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierFallback1 Tier = "fallback1"
	TierFallback2 Tier = "fallback2"
)

// Content is one scraped page. An empty Markdown means no tier could
// extract the page; downstream stages treat it as unavailable.
type Content struct {
	URL             string
	Title           string
	Markdown        string
	RetrievedAt     time.Time
	Tier            Tier
	TablesFound     int
	TablesConverted int
}

// Options configures a Scraper.
type Options struct {
	JinaURL      string
	JinaAPIKey   string
	SerperAPIKey string

	// Timeout bounds each tier attempt separately.
	Timeout  time.Duration
	Parallel int

	PreserveTables bool
	PlainText      bool
	RenderJS       bool
}

// Scraper runs the tier cascade behind a run-scoped cache.
type Scraper struct {
	opts    Options
	client  *http.Client
	cache   *Cache
	costs   *CostTracker
	browser *Browser
	logger  *zap.Logger

	serperURL string
}

// NewScraper builds a Scraper. The browser for rendered fetches is not
// launched until the first page needs it.
func NewScraper(opts Options, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.JinaURL == "" {
		opts.JinaURL = defaultJinaURL
	}
	opts.JinaURL = strings.TrimSuffix(opts.JinaURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Parallel < 1 {
		opts.Parallel = defaultParallel
	}

	s := &Scraper{
		opts:      opts,
		client:    &http.Client{},
		cache:     newCache(),
		costs:     NewCostTracker(opts.JinaAPIKey != ""),
		logger:    logger,
		serperURL: serperScrapeURL,
	}
	if opts.RenderJS {
		s.browser = NewBrowser(logger)
	}
	return s
}

// ScrapeURL fetches one page through the tier cascade. Concurrent calls
// for the same URL share a single fetch, and completed results, failed
// ones included, are served from the run cache. The error is non-nil
// only when the context ends first.
func (s *Scraper) ScrapeURL(ctx context.Context, rawURL string) (*Content, error) {
	return s.cache.do(rawURL, func() (*Content, error) {
		return s.scrape(ctx, rawURL)
	})
}

// ScrapeMany fetches urls in parallel, bounded by the configured worker
// count. The map is keyed by the input URLs and includes empty contents
// for pages every tier failed on.
func (s *Scraper) ScrapeMany(ctx context.Context, urls []string) map[string]*Content {
	results := make(map[string]*Content, len(urls))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallel)
	for _, u := range urls {
		g.Go(func() error {
			content, err := s.ScrapeURL(gctx, u)
			if err != nil {
				return err
			}
			mu.Lock()
			results[u] = content
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("scrape batch interrupted", zap.Error(err))
	}
	return results
}

// Cached returns the run-cache entry for url, if any. The verifier
// consults this before deciding whether a source needs a fresh fetch.
func (s *Scraper) Cached(url string) (*Content, bool) {
	return s.cache.get(url)
}

// Costs exposes the tier usage tracker.
func (s *Scraper) Costs() *CostTracker {
	return s.costs
}

// Close releases the rendering browser when one was launched.
func (s *Scraper) Close() {
	if s.browser != nil {
		s.browser.Close()
	}
}

func (s *Scraper) scrape(ctx context.Context, rawURL string) (*Content, error) {
	tiers := []struct {
		tier  Tier
		fetch func(context.Context, string) (*Content, error)
	}{
		{TierPrimary, s.fetchLocal},
		{TierFallback1, s.fetchJina},
		{TierFallback2, s.fetchSerper},
	}

	for _, t := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		content, err := t.fetch(tctx, rawURL)
		cancel()

		if err != nil {
			if !errors.Is(err, errTierNotConfigured) {
				s.logger.Debug("scrape tier failed",
					zap.String("url", rawURL),
					zap.String("tier", string(t.tier)),
					zap.Error(err))
			}
			continue
		}
		if utf8.RuneCountInString(content.Markdown) < minContentLength {
			s.logger.Debug("scrape tier returned thin content",
				zap.String("url", rawURL),
				zap.String("tier", string(t.tier)),
				zap.Int("chars", utf8.RuneCountInString(content.Markdown)))
			continue
		}

		content.URL = rawURL
		content.Tier = t.tier
		content.RetrievedAt = time.Now().UTC()
		s.logger.Debug("scraped",
			zap.String("url", rawURL),
			zap.String("tier", string(t.tier)),
			zap.Int("chars", len(content.Markdown)))
		return content, nil
	}

	s.logger.Warn("all scrape tiers failed", zap.String("url", rawURL))
	return &Content{URL: rawURL, Tier: TierFallback2, RetrievedAt: time.Now().UTC()}, nil
}

// fetchLocal is the primary tier: a direct GET (or a rendered fetch
// when the browser is enabled) followed by markdown conversion.
func (s *Scraper) fetchLocal(ctx context.Context, rawURL string) (*Content, error) {
	s.costs.Record(TierPrimary)

	var body, contentType string
	if s.browser != nil {
		rendered, err := s.browser.Fetch(ctx, rawURL)
		if err == nil {
			body, contentType = rendered, "text/html"
		} else {
			s.logger.Debug("rendered fetch failed, using plain http",
				zap.String("url", rawURL), zap.Error(err))
		}
	}
	if body == "" {
		var err error
		body, contentType, err = s.get(ctx, rawURL, nil)
		if err != nil {
			return nil, err
		}
	}

	// Plain text and markdown pass through untouched
	if strings.Contains(contentType, "text/plain") || strings.Contains(contentType, "text/markdown") {
		text := strings.TrimSpace(body)
		return &Content{Title: firstLineTitle(text), Markdown: text}, nil
	}

	res, err := Convert(body, ConvertOptions{
		PlainText:      s.opts.PlainText,
		PreserveTables: s.opts.PreserveTables,
	})
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}

	title := res.Title
	if title == "" {
		title = firstLineTitle(res.Body)
	}
	return &Content{
		Title:           title,
		Markdown:        res.Body,
		TablesFound:     res.TablesFound,
		TablesConverted: res.TablesConverted,
	}, nil
}

// fetchJina is fallback1: a reader service that returns markdown for
// GET <base>/<url>.
func (s *Scraper) fetchJina(ctx context.Context, rawURL string) (*Content, error) {
	if s.opts.JinaURL == "" {
		return nil, errTierNotConfigured
	}
	s.costs.Record(TierFallback1)

	var header http.Header
	if s.opts.JinaAPIKey != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+s.opts.JinaAPIKey)
	}
	body, _, err := s.get(ctx, s.opts.JinaURL+"/"+rawURL, header)
	if err != nil {
		return nil, err
	}

	md := strings.TrimSpace(body)
	return &Content{Title: firstLineTitle(md), Markdown: md}, nil
}

type serperScrapeRequest struct {
	URL             string `json:"url"`
	IncludeMarkdown bool   `json:"includeMarkdown"`
}

type serperScrapeResponse struct {
	Markdown string `json:"markdown"`
	Text     string `json:"text"`
	Content  string `json:"content"`
}

// fetchSerper is fallback2: the Serper scrape API.
func (s *Scraper) fetchSerper(ctx context.Context, rawURL string) (*Content, error) {
	if s.opts.SerperAPIKey == "" {
		return nil, errTierNotConfigured
	}
	s.costs.Record(TierFallback2)

	payload, err := json.Marshal(serperScrapeRequest{URL: rawURL, IncludeMarkdown: true})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serperURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.opts.SerperAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serper scrape: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("serper scrape: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serper scrape: HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	var parsed serperScrapeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("serper scrape: decode response: %w", err)
	}

	md := strings.TrimSpace(parsed.Markdown)
	if md == "" {
		md = strings.TrimSpace(parsed.Text)
	}
	if md == "" {
		md = strings.TrimSpace(parsed.Content)
	}
	return &Content{Title: firstLineTitle(md), Markdown: md}, nil
}

// get performs a GET and returns the body and content type. Responses
// are read through a 2MB limit.
func (s *Scraper) get(ctx context.Context, rawURL string, header http.Header) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), resp.Header.Get("Content-Type"), nil
}

// firstLineTitle derives a title from the first non-empty line of a
// document, with markdown heading markers stripped.
func firstLineTitle(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "# "))
		if line == "" {
			continue
		}
		if runes := []rune(line); len(runes) > maxTitleRunes {
			return string(runes[:maxTitleRunes])
		}
		return line
	}
	return ""
}
