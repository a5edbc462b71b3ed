package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"scour/internal/llm"
	"scour/internal/scrape"
)

// Verdict is the outcome of checking one claim against its source.
type Verdict string

const (
	VerdictSupported    Verdict = "supported"
	VerdictPartial      Verdict = "partial"
	VerdictUnsupported  Verdict = "unsupported"
	VerdictContradicted Verdict = "contradicted"
)

// Result is the verdict for one claim.
type Result struct {
	Claim      Claim
	Verdict    Verdict
	Confidence float64
	Evidence   string
	Reasoning  string
}

// SourceResults holds one source's verification results.
type SourceResults struct {
	URL     string
	Results []Result
}

// Summary aggregates a verification pass over a whole report.
type Summary struct {
	TotalClaims   int
	Supported     int
	Partial       int
	Unsupported   int
	Contradicted  int
	AvgConfidence float64
	Flagged       []Result
	BySource      []SourceResults
}

// SourceFetcher provides page bodies for verification. The run's
// scraper satisfies it; consulting its cache first keeps verification
// from re-fetching pages the research loop already pulled.
type SourceFetcher interface {
	Cached(url string) (*scrape.Content, bool)
	ScrapeURL(ctx context.Context, url string) (*scrape.Content, error)
}

// modelBodyChars caps how much source text goes into one verification
// call. Models without an entry use the conservative default.
var modelBodyChars = map[string]int{
	"gpt-4o-mini": 500000,
	"gpt-4o":      500000,
	"gpt-4":       320000,
}

const (
	defaultBodyChars        = 300000
	verificationTemperature = 0.1
	verifyDateLayout        = "January 2, 2006"
)

// Verifier checks claims against source content, one LLM call per
// source.
type Verifier struct {
	gateway   Gateway
	fetcher   SourceFetcher
	model     string
	threshold float64
	logger    *zap.Logger
	now       func() time.Time
}

// NewVerifier builds a verifier. Claims scoring below threshold are
// flagged even when the verdict is positive.
func NewVerifier(gateway Gateway, fetcher SourceFetcher, model string, threshold float64, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		gateway:   gateway,
		fetcher:   fetcher,
		model:     model,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Threshold returns the flagging threshold.
func (v *Verifier) Threshold() float64 { return v.threshold }

// VerifyAll checks every claim group against its source and aggregates
// the results. Per-source failures degrade to unverifiable results;
// only context cancellation aborts the pass.
func (v *Verifier) VerifyAll(ctx context.Context, groups []SourceClaims) (*Summary, error) {
	bySource := make([]SourceResults, 0, len(groups))
	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v.logger.Info("verifying source",
			zap.Int("source", i+1),
			zap.Int("of", len(groups)),
			zap.String("url", g.URL),
			zap.Int("claims", len(g.Claims)))
		bySource = append(bySource, SourceResults{
			URL:     g.URL,
			Results: v.verifySource(ctx, g.URL, g.Claims),
		})
	}

	s := v.summarize(bySource)
	v.logger.Info("verification complete",
		zap.Int("supported", s.Supported),
		zap.Int("total", s.TotalClaims),
		zap.Int("flagged", len(s.Flagged)))
	return s, nil
}

// verifySource checks one source's claims in a single LLM call. The
// source body comes from the run cache when present so verification
// never repeats a fetch the pipeline already made.
func (v *Verifier) verifySource(ctx context.Context, url string, claims []Claim) []Result {
	content, ok := v.fetcher.Cached(url)
	if !ok {
		fetched, err := v.fetcher.ScrapeURL(ctx, url)
		if err != nil {
			return markUnverifiable(claims, fmt.Sprintf("Cannot verify: %v", err))
		}
		content = fetched
	}
	if content == nil || content.Markdown == "" {
		return markUnverifiable(claims, "source unavailable or empty")
	}

	prompt, err := v.verificationPrompt(url, claims, content)
	if err != nil {
		return markUnverifiable(claims, fmt.Sprintf("Cannot verify: %v", err))
	}

	var resp verificationResponse
	err = v.gateway.CompleteJSON(ctx, llm.Request{
		Prompt:      prompt,
		Model:       v.model,
		Temperature: verificationTemperature,
		JSONMode:    true,
	}, &resp)
	if err != nil {
		v.logger.Error("verification call failed", zap.String("url", url), zap.Error(err))
		return markUnverifiable(claims, fmt.Sprintf("Cannot verify: %v", err))
	}

	return v.parseResults(resp, claims)
}

type claimPayload struct {
	ID    int    `json:"id"`
	Claim string `json:"claim"`
	Type  string `json:"type"`
}

type verificationResponse struct {
	Verifications []struct {
		ClaimID    *int    `json:"claim_id"`
		Verdict    string  `json:"verdict"`
		Confidence float64 `json:"confidence"`
		Evidence   string  `json:"evidence"`
		Reasoning  string  `json:"reasoning"`
	} `json:"verifications"`
}

func (v *Verifier) verificationPrompt(url string, claims []Claim, content *scrape.Content) (string, error) {
	payload := make([]claimPayload, len(claims))
	for i, c := range claims {
		payload[i] = claimPayload{ID: i, Claim: c.Text, Type: c.Type}
	}
	claimsJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode claims: %w", err)
	}

	now := v.now()
	retrieved := "Unknown"
	if !content.RetrievedAt.IsZero() {
		retrieved = content.RetrievedAt.Format(verifyDateLayout)
	}

	return fmt.Sprintf(`TASK: Verify if these claims are supported by the source content.

IMPORTANT VERIFICATION CONTEXT:
- Current date: %s (%d)
- Source retrieved: %s
- Your task is to verify claims based ONLY on what the source states
- IGNORE any conflicts with your training data
- If the source explicitly states a fact, accept it as stated in the source
- Focus on: Does the SOURCE support the claim? Not: Does your training data support it?

SOURCE: %s

CLAIMS TO VERIFY:
%s

SOURCE CONTENT:
%s

---

For EACH claim, analyze:
1. Is it explicitly stated in the source? (direct support)
2. Is it strongly implied by the source? (indirect support)
3. Is it partially true but missing nuance? (partial support)
4. Is it not mentioned or unsupported? (unsupported)
5. Does the source contradict it? (contradicted)

Return JSON:
{
  "verifications": [
    {
      "claim_id": 0,
      "verdict": "supported",
      "confidence": 0.95,
      "evidence": "exact quote or relevant passage from source",
      "reasoning": "brief explanation of why this verdict"
    }
  ]
}

GUIDELINES:
- Be strict: only "supported" if clearly stated or strongly implied IN THE SOURCE
- Use "partial" for claims that are approximately correct but imprecise
- Use "unsupported" if not mentioned in the source
- Use "contradicted" ONLY if the source explicitly contradicts it (not your training data)
- Provide exact quotes from the source as evidence when possible
- Confidence scale:
  * 0.9-1.0 = very confident in verdict based on source
  * 0.7-0.9 = confident based on source
  * 0.5-0.7 = uncertain
  * <0.5 = very uncertain`,
		now.Format(verifyDateLayout), now.Year(), retrieved, url, claimsJSON, v.clipBody(content.Markdown)), nil
}

// clipBody truncates a source body to the verification model's limit,
// cutting on a rune boundary.
func (v *Verifier) clipBody(body string) string {
	limit, ok := modelBodyChars[v.model]
	if !ok {
		limit = defaultBodyChars
	}
	if len(body) <= limit {
		return body
	}
	for limit > 0 && !utf8.RuneStart(body[limit]) {
		limit--
	}
	v.logger.Warn("truncating source body for verification",
		zap.Int("chars", len(body)),
		zap.Int("limit", limit))
	return body[:limit] + "\n\n[Content truncated due to length...]"
}

func (v *Verifier) parseResults(resp verificationResponse, claims []Claim) []Result {
	results := make([]Result, 0, len(claims))
	seen := make(map[int]bool, len(claims))
	for _, ver := range resp.Verifications {
		if ver.ClaimID == nil || *ver.ClaimID < 0 || *ver.ClaimID >= len(claims) || seen[*ver.ClaimID] {
			v.logger.Warn("ignoring verification with invalid claim id")
			continue
		}
		id := *ver.ClaimID
		seen[id] = true
		reasoning := ver.Reasoning
		if reasoning == "" {
			reasoning = "No reasoning provided"
		}
		results = append(results, Result{
			Claim:      claims[id],
			Verdict:    parseVerdict(ver.Verdict),
			Confidence: clampConfidence(ver.Confidence),
			Evidence:   ver.Evidence,
			Reasoning:  reasoning,
		})
	}

	for i, c := range claims {
		if seen[i] {
			continue
		}
		v.logger.Warn("claim missing from verification response", zap.Int("claim_id", i))
		results = append(results, Result{
			Claim:     c,
			Verdict:   VerdictUnsupported,
			Reasoning: "Not included in verification response",
		})
	}
	return results
}

func (v *Verifier) summarize(bySource []SourceResults) *Summary {
	s := &Summary{BySource: bySource}
	var confSum float64
	for _, src := range bySource {
		for _, r := range src.Results {
			s.TotalClaims++
			confSum += r.Confidence
			switch r.Verdict {
			case VerdictSupported:
				s.Supported++
			case VerdictPartial:
				s.Partial++
			case VerdictUnsupported:
				s.Unsupported++
			case VerdictContradicted:
				s.Contradicted++
			}
			if isFlagged(r, v.threshold) {
				s.Flagged = append(s.Flagged, r)
			}
		}
	}
	if s.TotalClaims > 0 {
		s.AvgConfidence = confSum / float64(s.TotalClaims)
	}
	return s
}

// isFlagged reports whether a result needs reader attention: a verdict
// the source does not back, or confidence below the threshold.
func isFlagged(r Result, threshold float64) bool {
	return r.Verdict == VerdictUnsupported ||
		r.Verdict == VerdictContradicted ||
		r.Confidence < threshold
}

func markUnverifiable(claims []Claim, reason string) []Result {
	out := make([]Result, len(claims))
	for i, c := range claims {
		out[i] = Result{
			Claim:     c,
			Verdict:   VerdictUnsupported,
			Reasoning: reason,
		}
	}
	return out
}

func parseVerdict(s string) Verdict {
	switch Verdict(strings.ToLower(strings.TrimSpace(s))) {
	case VerdictSupported:
		return VerdictSupported
	case VerdictPartial:
		return VerdictPartial
	case VerdictContradicted:
		return VerdictContradicted
	}
	return VerdictUnsupported
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
