package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const serperEndpoint = "https://google.serper.dev/search"

// Serper queries the Serper.dev Google wrapper.
type Serper struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewSerper creates a Serper provider.
func NewSerper(apiKey string) *Serper {
	return &Serper{
		apiKey:   apiKey,
		endpoint: serperEndpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type serperRequest struct {
	Q    string `json:"q"`
	Num  int    `json:"num"`
	Type string `json:"type"`
}

type serperItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type serperResponse struct {
	Organic []serperItem `json:"organic"`
	News    []serperItem `json:"news"`
}

// Search runs one query. News results come back in a separate field
// from organic results.
func (s *Serper) Search(ctx context.Context, q Query) ([]Result, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("serper API key not configured")
	}

	searchType := "search"
	switch q.Kind {
	case News:
		searchType = "news"
	case Scholar:
		searchType = "scholar"
	}

	body, err := json.Marshal(serperRequest{
		Q:    withSiteExclusions(q.Text, q.Exclude),
		Num:  q.MaxResults,
		Type: searchType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("X-API-KEY", s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("serper request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("serper returned status %d: %s", resp.StatusCode, excerpt(respBody))
	}

	var parsed serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode serper response: %w", err)
	}

	items := parsed.Organic
	if searchType == "news" {
		items = parsed.News
	}

	results := make([]Result, 0, len(items))
	for _, item := range items {
		if item.Link == "" {
			continue
		}
		results = append(results, Result{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Rank:    len(results) + 1,
		})
	}
	return results, nil
}

// Name returns the provider name.
func (s *Serper) Name() string { return "serp" }

func excerpt(b []byte) string {
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
