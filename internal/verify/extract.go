// Package verify extracts the cited claims from a generated report and
// checks each one against the page it cites. Sources come from the
// run's scrape cache whenever possible; only never-fetched URLs cost a
// fresh scrape. The outcome is an appendix flagging every claim the
// sources do not back.
package verify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"scour/internal/llm"
)

// Claim is one cited assertion pulled out of a report.
type Claim struct {
	Text         string
	SourceNumber int
	SourceURL    string
	Type         string
	Context      string
}

// SourceClaims groups the claims citing one source, in the order the
// sources were first cited.
type SourceClaims struct {
	URL    string
	Claims []Claim
}

// Gateway is the LLM surface the verification stage needs.
type Gateway interface {
	CompleteJSON(ctx context.Context, req llm.Request, target any) error
}

var citationPattern = regexp.MustCompile(`\[Source (\d+)\]`)

const extractionTemperature = 0.2

// Extractor pulls cited claims out of a report.
type Extractor struct {
	gateway Gateway
	model   string
	logger  *zap.Logger
}

// NewExtractor builds a claim extractor using the given model.
func NewExtractor(gateway Gateway, model string, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{gateway: gateway, model: model, logger: logger}
}

// Extract returns the report's cited claims grouped by source URL.
// Claims citing a number outside the source list are discarded.
func (e *Extractor) Extract(ctx context.Context, reportText string, sourceURLs []string) ([]SourceClaims, error) {
	sourceMap := e.buildSourceMap(reportText, sourceURLs)
	if len(sourceMap) == 0 {
		e.logger.Warn("no resolvable source citations in report")
		return nil, nil
	}

	var resp extractionResponse
	err := e.gateway.CompleteJSON(ctx, llm.Request{
		Prompt:      extractionPrompt(reportText),
		Model:       e.model,
		Temperature: extractionTemperature,
		JSONMode:    true,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("claim extraction failed: %w", err)
	}

	index := make(map[string]int)
	var groups []SourceClaims
	discarded := 0
	total := 0
	for _, c := range resp.Claims {
		url, ok := sourceMap[c.SourceNumber]
		if !ok {
			discarded++
			continue
		}
		i, ok := index[url]
		if !ok {
			i = len(groups)
			index[url] = i
			groups = append(groups, SourceClaims{URL: url})
		}
		groups[i].Claims = append(groups[i].Claims, Claim{
			Text:         c.Text,
			SourceNumber: c.SourceNumber,
			SourceURL:    url,
			Type:         normalizeClaimType(c.Type),
			Context:      c.Context,
		})
		total++
	}

	if discarded > 0 {
		e.logger.Warn("discarded claims citing unknown sources", zap.Int("count", discarded))
	}
	e.logger.Info("extracted claims",
		zap.Int("claims", total),
		zap.Int("sources", len(groups)))
	return groups, nil
}

// buildSourceMap resolves the cited [Source N] numbers against the
// report's source list, where N is 1-based into sourceURLs.
func (e *Extractor) buildSourceMap(reportText string, sourceURLs []string) map[int]string {
	out := make(map[int]string)
	for _, m := range citationPattern.FindAllStringSubmatch(reportText, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n < 1 || n > len(sourceURLs) {
			e.logger.Warn("citation outside source list", zap.Int("source", n))
			continue
		}
		out[n] = sourceURLs[n-1]
	}
	return out
}

type extractionResponse struct {
	Claims []struct {
		Text         string `json:"text"`
		SourceNumber int    `json:"source_number"`
		Type         string `json:"type"`
		Context      string `json:"context"`
	} `json:"claims"`
}

func normalizeClaimType(t string) string {
	switch t {
	case "factual", "statistic", "quote", "date":
		return t
	}
	return "factual"
}

func extractionPrompt(reportText string) string {
	return fmt.Sprintf(`Extract all factual claims from this report that cite sources.

Report:
%s

For each claim:
1. Extract the claim text (complete, standalone assertion)
2. Note which [Source N] it cites (extract the N)
3. Classify the claim type:
   - factual: General factual statement
   - statistic: Contains numbers, percentages, counts
   - quote: Direct quote from someone
   - date: Specific date or time reference

Return as JSON:
{
  "claims": [
    {
      "text": "the complete claim text",
      "source_number": 1,
      "type": "factual",
      "context": "surrounding sentence for context"
    }
  ]
}

IMPORTANT:
- Extract COMPLETE claims that can stand alone (don't cut off mid-sentence)
- Include ALL factual assertions that have [Source N] citations
- Don't extract opinions, analysis, or unsourced statements
- Each claim should be verifiable against its source
- Include the surrounding context (1-2 sentences)`, reportText)
}
