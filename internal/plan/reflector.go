package plan

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"scour/internal/llm"
)

const (
	reflectTemperature = 0.3
	reflectMaxTokens   = 1500

	// maxFollowUpQueries caps one reflection's contribution to the next
	// iteration so a chatty model cannot blow up the search budget.
	maxFollowUpQueries = 5

	// sourceExcerptRunes is how much of each summary the reflector sees.
	sourceExcerptRunes = 500
)

const reflectorPrompt = `You are a research quality analyst. Analyze the research gathered so far and determine if it's sufficient to answer the user's query comprehensively.

Original Query: %q
Intent: %s

Planned Report Sections:
%s

Research Gathered (%d sources):
%s

CRITICAL ANALYSIS REQUIRED:
Evaluate if the gathered research provides sufficient information to:
1. Fully answer the original query
2. Cover all planned report sections with adequate depth
3. Provide authoritative and diverse perspectives
4. Include necessary examples, data, or technical details

Identify specific information gaps such as:
- Missing perspectives or viewpoints
- Insufficient technical depth or examples
- Lack of recent/current information
- Missing comparison or context
- Unexplored aspects of the query
- Need for official documentation or primary sources

Respond with a JSON object:
{
  "is_complete": true/false,
  "confidence": 0.0-1.0,
  "missing_information": ["Specific gap 1", "Specific gap 2", ...],
  "additional_queries": [
    {"query": "specific search query", "purpose": "what this will find", "priority": 1}
  ],
  "rationale": "Detailed explanation of completeness assessment and why additional research is/isn't needed"
}

Set is_complete to:
- true: Research is comprehensive and sufficient to produce a high-quality report
- false: Significant gaps exist that require additional research

Be critical but realistic. Minor gaps are acceptable if core query is well-addressed.`

// Reflector judges whether gathered research covers the plan well
// enough to write the report.
type Reflector struct {
	gateway Gateway
	model   string
	logger  *zap.Logger
}

// NewReflector builds a reflector that calls the given model.
func NewReflector(gateway Gateway, model string, logger *zap.Logger) *Reflector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reflector{gateway: gateway, model: model, logger: logger}
}

// Reflect assesses coverage of the planned sections by the gathered
// sources. Incomplete results carry one to five follow-up queries; an
// incomplete verdict with no usable follow-ups is promoted to complete
// since there is nothing actionable to search for.
func (r *Reflector) Reflect(ctx context.Context, query Query, sections []string, sources []Source) (*ReflectionResult, error) {
	var resp struct {
		IsComplete         bool              `json:"is_complete"`
		Confidence         float64           `json:"confidence"`
		MissingInformation []string          `json:"missing_information"`
		AdditionalQueries  []searchQueryJSON `json:"additional_queries"`
		Rationale          string            `json:"rationale"`
	}
	req := llm.Request{
		Prompt:      reflectionPrompt(query, sections, sources),
		Model:       r.model,
		Temperature: reflectTemperature,
		MaxTokens:   reflectMaxTokens,
	}
	if err := r.gateway.CompleteJSON(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("reflect on research: %w", err)
	}

	queries := parseSearchQueries(resp.AdditionalQueries)
	if len(queries) > maxFollowUpQueries {
		r.logger.Debug("trimming follow-up queries",
			zap.Int("suggested", len(queries)),
			zap.Int("kept", maxFollowUpQueries))
		queries = queries[:maxFollowUpQueries]
	}

	result := &ReflectionResult{
		Complete:          resp.IsComplete,
		Gaps:              resp.MissingInformation,
		AdditionalQueries: queries,
		Rationale:         resp.Rationale,
	}

	if !result.Complete && len(result.AdditionalQueries) == 0 {
		r.logger.Warn("reflection found gaps but proposed no follow-up queries, treating research as complete")
		result.Complete = true
	}

	if result.Complete {
		r.logger.Info("research deemed complete", zap.Float64("confidence", resp.Confidence))
	} else {
		r.logger.Info("research incomplete",
			zap.Int("gaps", len(result.Gaps)),
			zap.Int("follow_up_queries", len(result.AdditionalQueries)))
	}
	r.logger.Debug("reflection rationale", zap.String("rationale", result.Rationale))

	return result, nil
}

func reflectionPrompt(query Query, sections []string, sources []Source) string {
	intent := query.Intent
	if intent == "" {
		intent = General
	}

	sectionLines := make([]string, 0, len(sections))
	for _, s := range sections {
		sectionLines = append(sectionLines, "- "+s)
	}

	var gathered strings.Builder
	for i, src := range sources {
		if i > 0 {
			gathered.WriteString("\n\n")
		}
		fmt.Fprintf(&gathered, "Source %d: %s\n%s", i+1, src.URL, excerpt(src.Text, sourceExcerptRunes))
	}

	return fmt.Sprintf(reflectorPrompt,
		query.Text, intent,
		strings.Join(sectionLines, "\n"),
		len(sources), gathered.String())
}

// excerpt returns at most n runes of s, marking a cut with an ellipsis.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
