package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKindForIntent(t *testing.T) {
	tests := []struct {
		intent string
		want   Kind
	}{
		{"news", News},
		{"research", Scholar},
		{"factual", Web},
		{"code", Web},
		{"general", Web},
		{"", Web},
	}
	for _, tt := range tests {
		if got := KindForIntent(tt.intent); got != tt.want {
			t.Errorf("KindForIntent(%q) = %q, want %q", tt.intent, got, tt.want)
		}
	}
}

func TestCanonicalURL(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://Example.COM/Path", "https://example.com/Path"},
		{"HTTPS://example.com/", "https://example.com"},
		{"https://example.com/page#section-2", "https://example.com/page"},
		{"https://example.com/a/b/", "https://example.com/a/b"},
		{"  https://example.com  ", "https://example.com"},
		{"https://example.com/Path?Q=1", "https://example.com/Path?Q=1"},
	}
	for _, tt := range tests {
		if got := CanonicalURL(tt.raw); got != tt.want {
			t.Errorf("CanonicalURL(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestWithSiteExclusions(t *testing.T) {
	got := withSiteExclusions("golang generics", []string{"pinterest.com", "quora.com"})
	want := "golang generics -site:pinterest.com -site:quora.com"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := withSiteExclusions("plain", nil); got != "plain" {
		t.Errorf("got %q", got)
	}
}

func TestFilterExcluded(t *testing.T) {
	results := []Result{
		{URL: "https://keep.example.com/a"},
		{URL: "https://www.pinterest.com/pin/1"},
		{URL: "https://sub.pinterest.com/x"},
		{URL: "https://notpinterest.com/y"},
	}
	got := filterExcluded(results, []string{"pinterest.com"})
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].URL != "https://keep.example.com/a" || got[1].URL != "https://notpinterest.com/y" {
		t.Errorf("wrong results kept: %+v", got)
	}
}

func TestSerper_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-KEY"); got != "serper-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		var req serperRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Type != "search" {
			t.Errorf("unexpected type %q", req.Type)
		}
		if req.Num != 10 {
			t.Errorf("unexpected num %d", req.Num)
		}
		if !strings.Contains(req.Q, "-site:spam.example") {
			t.Errorf("exclusion missing from query %q", req.Q)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{
				{"title": "First", "link": "https://a.example/1", "snippet": "one"},
				{"title": "Second", "link": "https://b.example/2", "snippet": "two"},
			},
		})
	}))
	defer server.Close()

	provider := NewSerper("serper-key")
	provider.endpoint = server.URL

	results, err := provider.Search(context.Background(), Query{
		Text: "test query", Kind: Web, MaxResults: 10, Exclude: []string{"spam.example"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if results[0].Rank != 1 || results[1].Rank != 2 {
		t.Errorf("ranks not contiguous from 1: %+v", results)
	}
	if results[0].Title != "First" || results[0].URL != "https://a.example/1" {
		t.Errorf("unexpected first result %+v", results[0])
	}
}

func TestSerper_NewsUsesNewsField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req serperRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Type != "news" {
			t.Errorf("unexpected type %q", req.Type)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{{"title": "wrong", "link": "https://wrong.example"}},
			"news":    []map[string]string{{"title": "breaking", "link": "https://news.example/1", "snippet": "s"}},
		})
	}))
	defer server.Close()

	provider := NewSerper("k")
	provider.endpoint = server.URL

	results, err := provider.Search(context.Background(), Query{Text: "q", Kind: News, MaxResults: 5})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Title != "breaking" {
		t.Errorf("news search must read the news field: %+v", results)
	}
}

func TestTavily_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tavily-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req tavilyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Topic != "news" {
			t.Errorf("unexpected topic %q", req.Topic)
		}
		if len(req.ExcludeDomains) != 1 || req.ExcludeDomains[0] != "spam.example" {
			t.Errorf("native exclusions not passed: %v", req.ExcludeDomains)
		}
		if strings.Contains(req.Query, "-site:") {
			t.Errorf("tavily query should not carry -site: operators: %q", req.Query)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "T", "url": "https://t.example/1", "content": "body"},
			},
		})
	}))
	defer server.Close()

	provider := NewTavily("tavily-key")
	provider.endpoint = server.URL

	results, err := provider.Search(context.Background(), Query{
		Text: "q", Kind: News, MaxResults: 3, Exclude: []string{"spam.example"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Snippet != "body" {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestPerplexity_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer pplx-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req perplexityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.MaxResults != 7 {
			t.Errorf("unexpected max_results %d", req.MaxResults)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "P", "url": "https://p.example/1", "snippet": "snip"},
			},
		})
	}))
	defer server.Close()

	provider := NewPerplexity("pplx-key")
	provider.endpoint = server.URL

	results, err := provider.Search(context.Background(), Query{Text: "q", Kind: Web, MaxResults: 7})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Title != "P" {
		t.Errorf("unexpected results %+v", results)
	}
}

type failingProvider struct{}

func (failingProvider) Search(context.Context, Query) ([]Result, error) {
	return nil, errors.New("backend exploded")
}
func (failingProvider) Name() string { return "failing" }

func TestSearcher_SwallowsProviderErrors(t *testing.T) {
	s := NewSearcher(failingProvider{}, nil, nil)
	if got := s.Search(context.Background(), "q", Web, 5); got != nil {
		t.Errorf("provider failure should yield nil, got %+v", got)
	}
}

type cannedProvider struct{ results []Result }

func (p cannedProvider) Search(context.Context, Query) ([]Result, error) { return p.results, nil }
func (p cannedProvider) Name() string                                    { return "canned" }

func TestSearcher_RenumbersAfterFiltering(t *testing.T) {
	s := NewSearcher(cannedProvider{results: []Result{
		{URL: "https://ok.example/1", Rank: 1},
		{URL: "https://spam.example/2", Rank: 2},
		{URL: "https://ok.example/3", Rank: 3},
	}}, []string{"spam.example"}, nil)

	got := s.Search(context.Background(), "q", Web, 10)
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}
	if got[0].Rank != 1 || got[1].Rank != 2 {
		t.Errorf("ranks must be contiguous after filtering: %+v", got)
	}
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"serp", "tavily", "perplexity"} {
		p, err := NewProvider(name, "key")
		if err != nil {
			t.Errorf("NewProvider(%q) failed: %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("provider name %q != %q", p.Name(), name)
		}
	}
	if _, err := NewProvider("duckduckgo", "key"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
