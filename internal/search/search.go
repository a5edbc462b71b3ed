// Package search wraps web search providers behind one interface.
// Per-query failures never abort a run: the searcher logs a warning and
// returns nothing, letting the research loop continue with what it has.
package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Kind selects the provider's native search vertical.
type Kind string

const (
	Web     Kind = "web"
	News    Kind = "news"
	Scholar Kind = "scholar"
)

// KindForIntent maps a classified query intent to a search kind.
func KindForIntent(intent string) Kind {
	switch strings.ToLower(intent) {
	case "news":
		return News
	case "research":
		return Scholar
	default:
		return Web
	}
}

// Result is one search hit. Rank starts at 1 and is contiguous within a
// single query's results. Provider records which vendor produced the
// hit; the searcher stamps it so individual providers don't have to.
type Result struct {
	Title    string
	URL      string
	Snippet  string
	Rank     int
	Provider string
}

// Query is one provider request.
type Query struct {
	Text       string
	Kind       Kind
	MaxResults int
	Exclude    []string
}

// Provider executes a single search against one vendor API.
type Provider interface {
	Search(ctx context.Context, q Query) ([]Result, error)
	Name() string
}

// NewProvider returns the provider selected in configuration.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "serp":
		return NewSerper(apiKey), nil
	case "tavily":
		return NewTavily(apiKey), nil
	case "perplexity":
		return NewPerplexity(apiKey), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", name)
	}
}

// Searcher runs queries against a provider, applying domain exclusions
// both in the outgoing query and as a post-filter on the response.
type Searcher struct {
	provider Provider
	exclude  []string
	logger   *zap.Logger
}

// NewSearcher wraps a provider with exclusion handling.
func NewSearcher(p Provider, exclude []string, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{provider: p, exclude: exclude, logger: logger}
}

// Search runs one query. On provider failure it logs a warning and
// returns nil so the caller can move on to the next query.
func (s *Searcher) Search(ctx context.Context, text string, kind Kind, n int) []Result {
	results, err := s.provider.Search(ctx, Query{
		Text:       text,
		Kind:       kind,
		MaxResults: n,
		Exclude:    s.exclude,
	})
	if err != nil {
		s.logger.Warn("search query failed",
			zap.String("provider", s.provider.Name()),
			zap.String("query", text),
			zap.Error(err))
		return nil
	}

	results = filterExcluded(results, s.exclude)
	for i := range results {
		results[i].Rank = i + 1
		results[i].Provider = s.provider.Name()
	}
	s.logger.Debug("search query done",
		zap.String("provider", s.provider.Name()),
		zap.String("query", text),
		zap.Int("results", len(results)))
	return results
}

// CanonicalURL normalizes a URL for deduplication: scheme and host are
// lowercased, the fragment is dropped, and a trailing slash is trimmed.
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

// withSiteExclusions appends -site: operators for providers that take
// exclusions through query syntax.
func withSiteExclusions(text string, exclude []string) string {
	if len(exclude) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	for _, domain := range exclude {
		if domain = strings.TrimSpace(domain); domain != "" {
			sb.WriteString(" -site:")
			sb.WriteString(domain)
		}
	}
	return sb.String()
}

// filterExcluded drops results whose host is an excluded domain or one
// of its subdomains. Providers also exclude at the API level; this
// catches anything that slips through.
func filterExcluded(results []Result, exclude []string) []Result {
	if len(exclude) == 0 {
		return results
	}
	kept := results[:0]
	for _, r := range results {
		if !isExcluded(r.URL, exclude) {
			kept = append(kept, r)
		}
	}
	return kept
}

func isExcluded(rawURL string, exclude []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range exclude {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
