package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"scour/internal/llm"
)

const (
	plannerTemperature = 0.7
	plannerMaxTokens   = 2000
)

// ErrEmptyPlan reports a planner response with no sections or no
// search queries. A plan with nothing to search for cannot drive
// research, so callers treat this as fatal rather than retrying.
var ErrEmptyPlan = errors.New("plan has no sections or no search queries")

const plannerPrompt = `You are a research planner. Given a user query and its intent, create a comprehensive research plan.

Query: %q
Intent: %s

Create a research plan with:
1. A list of report sections that should be covered
2. Specific search queries to gather information for each section
3. Rationale for the overall approach

Consider:
- What information is needed to fully answer the query?
- What are the most important aspects to cover?
- What search queries will find the most relevant and authoritative sources?
- For CODE intent: focus on documentation, examples, and best practices
- For NEWS intent: prioritize recent sources and multiple perspectives
- For RESEARCH intent: include academic sources and in-depth analysis

Respond with a JSON object:
{
  "sections": ["Section 1 title", "Section 2 title", ...],
  "search_queries": [
    {"query": "search query 1", "purpose": "what this query aims to find", "priority": 1},
    {"query": "search query 2", "purpose": "what this query aims to find", "priority": 2}
  ],
  "rationale": "Explanation of the research approach"
}

Priority is 1 (highest) to 5 (lowest).`

// Planner derives report sections and search queries from a classified
// query.
type Planner struct {
	gateway Gateway
	model   string
	logger  *zap.Logger
}

// NewPlanner builds a planner that calls the given model.
func NewPlanner(gateway Gateway, model string, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{gateway: gateway, model: model, logger: logger}
}

// Plan builds the research plan for a query. It returns ErrEmptyPlan
// when the model yields no usable sections or search queries.
func (p *Planner) Plan(ctx context.Context, query Query) (*ResearchPlan, error) {
	intent := query.Intent
	if intent == "" {
		intent = General
	}

	var resp struct {
		Sections      []string          `json:"sections"`
		SearchQueries []searchQueryJSON `json:"search_queries"`
		Rationale     string            `json:"rationale"`
	}
	req := llm.Request{
		Prompt:      fmt.Sprintf(plannerPrompt, query.Text, intent),
		Model:       p.model,
		Temperature: plannerTemperature,
		MaxTokens:   plannerMaxTokens,
	}
	if err := p.gateway.CompleteJSON(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("plan research: %w", err)
	}

	sections := make([]string, 0, len(resp.Sections))
	for _, s := range resp.Sections {
		if strings.TrimSpace(s) != "" {
			sections = append(sections, s)
		}
	}
	queries := parseSearchQueries(resp.SearchQueries)
	if len(sections) == 0 || len(queries) == 0 {
		return nil, ErrEmptyPlan
	}

	p.logger.Info("research plan created",
		zap.Int("sections", len(sections)),
		zap.Int("queries", len(queries)))
	p.logger.Debug("plan sections", zap.Strings("sections", sections))

	return &ResearchPlan{
		Query:         query,
		Sections:      sections,
		SearchQueries: queries,
		Rationale:     resp.Rationale,
	}, nil
}
