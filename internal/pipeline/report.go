package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"scour/internal/llm"
	"scour/internal/plan"
	"scour/internal/summarize"
	"scour/internal/verify"
)

// Report is the generated research document plus everything the file
// writer needs to lay it out.
type Report struct {
	Query        plan.Query
	Content      string
	Sources      []summarize.Summary
	GeneratedAt  time.Time
	Complete     bool
	Gaps         []string
	Rationale    string
	Metadata     []Metadatum
	Verification *verify.Summary
	Appendix     string
}

// Metadatum is one ordered entry in the report's metadata footer.
type Metadatum struct {
	Key   string
	Value string
}

const reportTemperature = 0.2

var citationPattern = regexp.MustCompile(`\s?\[Source (\d+)\]`)

func (o *Orchestrator) generateReport(ctx context.Context, query plan.Query, rp *plan.ResearchPlan, selected []summarize.Summary, reflection *plan.ReflectionResult) (*Report, error) {
	content, err := o.c.Gateway.Complete(ctx, llm.Request{
		Prompt:      reportPrompt(query, rp, selected, o.now()),
		Model:       o.opts.ReportModel,
		Temperature: reportTemperature,
		MaxTokens:   o.opts.ReportMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	content, dropped := validateCitations(content, len(selected))
	for _, n := range dropped {
		o.logger.Warn("dropped citation with no matching source",
			zap.String("stage", "report"),
			zap.Int("cited", n),
			zap.Int("sources", len(selected)))
	}

	complete := true
	var gaps []string
	rationale := ""
	if reflection != nil {
		complete = reflection.Complete
		rationale = reflection.Rationale
		if !complete {
			gaps = reflection.Gaps
		}
	}

	r := &Report{
		Query:       query,
		Content:     content,
		Sources:     selected,
		GeneratedAt: o.now(),
		Complete:    complete,
		Gaps:        gaps,
		Rationale:   rationale,
	}
	r.Metadata = o.baseMetadata(r, rp)
	return r, nil
}

func (o *Orchestrator) baseMetadata(r *Report, rp *plan.ResearchPlan) []Metadatum {
	status := "complete"
	if !r.Complete {
		status = "incomplete"
	}
	md := []Metadatum{
		{"intent", string(r.Query.Intent)},
		{"sections", strings.Join(rp.Sections, ", ")},
		{"status", status},
		{"num_sources", strconv.Itoa(len(r.Sources))},
		{"research_complete", strconv.FormatBool(r.Complete)},
	}
	if stats := o.c.Scraper.Costs().Stats(); stats.EstimatedCost > 0 {
		md = append(md, Metadatum{"scrape_cost_estimate", fmt.Sprintf("$%.4f", stats.EstimatedCost)})
	}
	return md
}

// validateCitations strips citation markers that do not resolve into
// the source list, so every [Source N] left in the report maps to a
// listed source.
func validateCitations(content string, sourceCount int) (string, []int) {
	var dropped []int
	cleaned := citationPattern.ReplaceAllStringFunc(content, func(m string) string {
		sub := citationPattern.FindStringSubmatch(m)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 || n > sourceCount {
			dropped = append(dropped, n)
			return ""
		}
		return m
	})
	return cleaned, dropped
}

func reportPrompt(query plan.Query, rp *plan.ResearchPlan, selected []summarize.Summary, now time.Time) string {
	var sections strings.Builder
	for _, s := range rp.Sections {
		fmt.Fprintf(&sections, "- %s\n", s)
	}

	if len(selected) == 0 {
		return fmt.Sprintf(`Generate a comprehensive research report for the following query:

Query: %q
Intent: %s

Report Sections to Cover:
%s
Research Approach:
%s

Note: This is a preliminary report. Full research results will be integrated in future iterations.

Please provide a well-structured report with:
1. Executive summary
2. Main content organized by the sections listed above
3. Key findings and insights
4. Conclusion

Format the report in Markdown.`, query.Text, query.Intent, sections.String(), rp.Rationale)
	}

	var sources strings.Builder
	for i, s := range selected {
		title := s.Title
		if title == "" {
			title = "N/A"
		}
		fmt.Fprintf(&sources, "Source %d: %s\nTitle: %s\n%s\n\n", i+1, s.SourceURL, title, s.Text)
	}

	return fmt.Sprintf(`%s

---

Generate a comprehensive research report based on the following research.

Query: %q
Intent: %s

Report Sections to Cover:
%s
Research Summaries:
%s
ADDITIONAL QUALITY GUIDELINES:
1. You are writing a FACTUAL RESEARCH REPORT, not a creative story
2. DO NOT invent contradictions, controversies, or disputes not in the sources
3. DO NOT claim sources "contradict" each other unless they make directly opposing statements
4. If all sources agree on something, report it as established fact - do not manufacture doubt
5. If a source clearly states something exists or is true, report it as such
6. When official/primary sources exist, they are authoritative
7. Only report what sources ACTUALLY say - do not paraphrase in ways that change meaning
8. Your goal is ACCURACY and CLARITY, not drama

Please provide a well-structured report with:
1. Executive summary
2. Main content organized by the sections listed above
3. Key findings with direct source citations
4. Conclusion based on evidence

Format the report in Markdown.`, llm.SourceGrounding(now), query.Text, query.Intent, sections.String(), sources.String())
}

// WriteReport writes the report into dir as report_YYYYMMDD_HHMMSS.md
// and returns the file path.
func WriteReport(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("cannot create output directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("report_%s.md", r.GeneratedAt.Format("20060102_150405")))

	var b strings.Builder
	b.WriteString("# Research Report\n\n")
	fmt.Fprintf(&b, "**Query:** %s\n\n", r.Query.Text)
	fmt.Fprintf(&b, "**Intent:** %s\n\n", r.Query.Intent)
	fmt.Fprintf(&b, "**Generated:** %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	b.WriteString("---\n\n")
	b.WriteString(r.Content)

	if len(r.Sources) > 0 {
		b.WriteString("\n\n---\n\n## Sources\n\n")
		for i, s := range r.Sources {
			title := s.Title
			if title == "" {
				title = "Untitled"
			}
			fmt.Fprintf(&b, "**[Source %d]** %s\n- URL: %s\n\n", i+1, title, s.SourceURL)
		}
	}

	if !r.Complete && len(r.Gaps) > 0 {
		b.WriteString("\n\n---\n\n## ⚠️ Research Limitations\n\n")
		b.WriteString("This report was generated with the maximum number of research iterations, ")
		b.WriteString("but the following information gaps were identified:\n\n")
		for i, gap := range r.Gaps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, gap)
		}
		if r.Rationale != "" {
			fmt.Fprintf(&b, "\n**Assessment:** %s\n", r.Rationale)
		}
		b.WriteString("\n*Note: The report above is based on available sources. ")
		b.WriteString("Additional research may be needed to fully address these gaps.*\n")
	}

	b.WriteString("\n---\n\n**Metadata:**\n")
	for _, m := range r.Metadata {
		fmt.Fprintf(&b, "- %s: %s\n", m.Key, m.Value)
	}

	if r.Appendix != "" {
		fmt.Fprintf(&b, "\n---\n\n%s\n", r.Appendix)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("cannot write report: %w", err)
	}
	return path, nil
}
