// Package plan turns a raw query into a research plan and decides when
// the research loop is done: intent classification, section and
// search-query planning, and reflection over what was gathered.
package plan

import (
	"context"
	"strings"

	"scour/internal/llm"
)

// IntentKind labels what a query is after. The set is closed; anything
// a model returns outside it collapses to General.
type IntentKind string

const (
	Informational IntentKind = "informational"
	Comparative   IntentKind = "comparative"
	News          IntentKind = "news"
	Code          IntentKind = "code"
	Tutorial      IntentKind = "tutorial"
	Research      IntentKind = "research"
	General       IntentKind = "general"
)

// ParseIntent maps a model-supplied intent label to an IntentKind,
// tolerating case and surrounding whitespace. The second return is
// false for labels outside the known set.
func ParseIntent(s string) (IntentKind, bool) {
	switch IntentKind(strings.ToLower(strings.TrimSpace(s))) {
	case Informational:
		return Informational, true
	case Comparative:
		return Comparative, true
	case News:
		return News, true
	case Code:
		return Code, true
	case Tutorial:
		return Tutorial, true
	case Research:
		return Research, true
	case General:
		return General, true
	}
	return General, false
}

// Query is the user's research request with its classified intent.
type Query struct {
	Text   string
	Intent IntentKind
}

// SearchQuery is one planned web search. Priority runs 1 (highest) to
// 5 (lowest).
type SearchQuery struct {
	Text     string
	Purpose  string
	Priority int
}

// ResearchPlan is the planner's output: the report sections to fill
// and the searches expected to fill them.
type ResearchPlan struct {
	Query         Query
	Sections      []string
	SearchQueries []SearchQuery
	Rationale     string
}

// ReflectionResult is the reflector's verdict on research coverage.
// When Complete is false, AdditionalQueries carries the follow-up
// searches for the next iteration.
type ReflectionResult struct {
	Complete          bool
	Gaps              []string
	AdditionalQueries []SearchQuery
	Rationale         string
}

// Source is the slice of a gathered summary the reflector inspects:
// where it came from and what it said.
type Source struct {
	URL  string
	Text string
}

// Gateway is the LLM surface the planning stages rely on.
type Gateway interface {
	CompleteJSON(ctx context.Context, req llm.Request, target any) error
}

// defaultPriority is assumed when the model omits a priority.
const defaultPriority = 3

// clampPriority forces a priority into the 1..5 range. Zero means the
// field was absent from the response.
func clampPriority(p int) int {
	switch {
	case p == 0:
		return defaultPriority
	case p < 1:
		return 1
	case p > 5:
		return 5
	}
	return p
}

// searchQueryJSON is the wire shape shared by planner and reflector
// responses.
type searchQueryJSON struct {
	Query    string `json:"query"`
	Purpose  string `json:"purpose"`
	Priority int    `json:"priority"`
}

// parseSearchQueries converts wire queries to SearchQueries, dropping
// blank entries and clamping priorities.
func parseSearchQueries(raw []searchQueryJSON) []SearchQuery {
	out := make([]SearchQuery, 0, len(raw))
	for _, sq := range raw {
		if strings.TrimSpace(sq.Query) == "" {
			continue
		}
		out = append(out, SearchQuery{
			Text:     sq.Query,
			Purpose:  sq.Purpose,
			Priority: clampPriority(sq.Priority),
		})
	}
	return out
}
