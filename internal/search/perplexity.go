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

const perplexityEndpoint = "https://api.perplexity.ai/search"

// Perplexity queries the Perplexity search API.
type Perplexity struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewPerplexity creates a Perplexity provider.
func NewPerplexity(apiKey string) *Perplexity {
	return &Perplexity{
		apiKey:   apiKey,
		endpoint: perplexityEndpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type perplexityRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type perplexityResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Snippet string `json:"snippet"`
	} `json:"results"`
}

// Search runs one query. Perplexity has no search verticals or native
// exclusions, so exclusions ride along as -site: operators.
func (p *Perplexity) Search(ctx context.Context, q Query) ([]Result, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("perplexity API key not configured")
	}

	body, err := json.Marshal(perplexityRequest{
		Query:      withSiteExclusions(q.Text, q.Exclude),
		MaxResults: q.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("perplexity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("perplexity returned status %d: %s", resp.StatusCode, excerpt(respBody))
	}

	var parsed perplexityResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode perplexity response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		if item.URL == "" {
			continue
		}
		results = append(results, Result{
			Title:   item.Title,
			URL:     item.URL,
			Snippet: item.Snippet,
			Rank:    len(results) + 1,
		})
	}
	return results, nil
}

// Name returns the provider name.
func (p *Perplexity) Name() string { return "perplexity" }
