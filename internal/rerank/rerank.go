// Package rerank reorders candidate documents by relevance to a query
// through a Jina or Cohere style rerank endpoint. When disabled it keeps
// the caller's order, so ranking quality degrades without breaking runs.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Scored points back into the caller's document slice.
type Scored struct {
	Index int
	Score float64
}

// Reranker orders documents by relevance, best first, at most topN.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Scored, error)
	Name() string
}

// New returns an HTTP reranker when enabled and configured, nil
// otherwise. Callers treat a nil Reranker as reranking disabled and
// keep their own order.
func New(enabled bool, endpoint, apiKey, model string) Reranker {
	if !enabled || endpoint == "" {
		return nil
	}
	return NewClient(endpoint, apiKey, model)
}

// Identity returns the first topN indices unchanged. Callers use it as
// the fallback order when a rerank call fails.
func Identity(n, topN int) []Scored {
	if topN > n {
		topN = n
	}
	if topN < 0 {
		topN = 0
	}
	out := make([]Scored, topN)
	for i := range out {
		out[i] = Scored{Index: i}
	}
	return out
}

// Client calls an external rerank API.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a rerank client for the given endpoint.
func NewClient(endpoint, apiKey, model string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank sends the documents out for scoring and returns them ordered
// by relevance. Results pointing outside the document range are
// dropped.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Scored, error) {
	if len(documents) == 0 || topN <= 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	out := make([]Scored, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			continue
		}
		out = append(out, Scored{Index: r.Index, Score: r.RelevanceScore})
		if len(out) == topN {
			break
		}
	}
	return out, nil
}

// Name returns the reranker name.
func (c *Client) Name() string { return "http" }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
