// Package summarize condenses scraped pages into research summaries,
// routing each document to a model by content category and compacting
// oversized Markdown tables first. Long documents go through a
// map-reduce pass; everything else is summarized in one call.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scour/internal/classify"
	"scour/internal/llm"
	"scour/internal/plan"
	"scour/internal/scrape"
)

const (
	// directChars is the largest preprocessed document summarized in a
	// single call; anything bigger is chunked.
	directChars = 50000

	summaryTemperature = 0.3
	summaryMaxTokens   = 1000
	chunkMaxTokens     = 500
	defaultParallel    = 5
)

// Summary is one document condensed for the research context.
type Summary struct {
	SourceURL       string
	Title           string
	Text            string
	Citations       []string
	ContentType     classify.ContentType
	PreservedTables int
	CompactedTables int
}

// Models routes summarization by content category. Unset entries fall
// back to General, then Default.
type Models struct {
	Default       string
	General       string
	Code          string
	Research      string
	News          string
	Documentation string
}

// For returns the model serving the given content type.
func (m Models) For(ct classify.ContentType) string {
	var specific string
	switch ct {
	case classify.Code:
		specific = m.Code
	case classify.Research:
		specific = m.Research
	case classify.News:
		specific = m.News
	case classify.Documentation:
		specific = m.Documentation
	case classify.General:
		specific = m.General
	}
	if specific != "" {
		return specific
	}
	if m.General != "" {
		return m.General
	}
	return m.Default
}

// Gateway is the LLM surface the summarizer needs.
type Gateway interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Classifier buckets URLs into content categories.
type Classifier interface {
	Classify(url string) classify.ContentType
}

// Options configure a Summarizer.
type Options struct {
	Models   Models
	Tables   TableOptions
	Parallel int
}

// Summarizer condenses scraped documents in parallel, one worker per
// document. Chunks within a document are summarized sequentially so a
// single huge page cannot monopolize the worker pool.
type Summarizer struct {
	gateway    Gateway
	classifier Classifier
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
}

// New builds a summarizer.
func New(gateway Gateway, classifier Classifier, opts Options, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Parallel <= 0 {
		opts.Parallel = defaultParallel
	}
	return &Summarizer{
		gateway:    gateway,
		classifier: classifier,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// SummarizeAll summarizes every document, keeping input order in the
// result. Duplicate URLs and empty bodies are skipped up front; a
// document whose model calls fail is logged and dropped so one bad
// page never sinks the run.
func (s *Summarizer) SummarizeAll(ctx context.Context, contents []*scrape.Content, rp *plan.ResearchPlan) []Summary {
	seen := make(map[string]bool, len(contents))
	var docs []*scrape.Content
	for _, c := range contents {
		if c == nil || seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		if strings.TrimSpace(c.Markdown) == "" {
			s.logger.Debug("skipping document with no content", zap.String("url", c.URL))
			continue
		}
		docs = append(docs, c)
	}

	results := make([]*Summary, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Parallel)
	for i, doc := range docs {
		g.Go(func() error {
			sum, err := s.summarizeOne(gctx, doc, rp)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				s.logger.Warn("summarization failed, skipping document",
					zap.String("url", doc.URL), zap.Error(err))
				return nil
			}
			results[i] = sum
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("summarization batch interrupted", zap.Error(err))
	}

	out := make([]Summary, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	s.logger.Info("summarization complete",
		zap.Int("documents", len(docs)),
		zap.Int("summaries", len(out)))
	return out
}

func (s *Summarizer) summarizeOne(ctx context.Context, doc *scrape.Content, rp *plan.ResearchPlan) (*Summary, error) {
	ct := s.classifier.Classify(doc.URL)
	model := s.opts.Models.For(ct)

	text, preserved, compacted := PrepareTables(doc.Markdown, s.opts.Tables)
	withTables := preserved+compacted > 0

	var (
		body string
		err  error
	)
	if len(text) <= directChars {
		s.logger.Debug("direct summarization",
			zap.String("url", doc.URL), zap.Int("chars", len(text)))
		body, err = s.summarizeDirect(ctx, model, doc, text, rp, withTables)
	} else {
		body, err = s.summarizeMapReduce(ctx, model, doc, text, rp, withTables)
	}
	if err != nil {
		return nil, err
	}

	return &Summary{
		SourceURL:       doc.URL,
		Title:           doc.Title,
		Text:            body,
		Citations:       []string{doc.URL},
		ContentType:     ct,
		PreservedTables: preserved,
		CompactedTables: compacted,
	}, nil
}

const directPromptFormat = `Summarize the following content in relation to the research query.

Research Query: %q

Source: %s
URL: %s

Report Sections (for context):
%s

Content:
%s

Provide a comprehensive summary that:
%s

Aim for 3-5 paragraphs. Focus on substance over style.`

func (s *Summarizer) summarizeDirect(ctx context.Context, model string, doc *scrape.Content, text string, rp *plan.ResearchPlan, withTables bool) (string, error) {
	prompt := fmt.Sprintf(directPromptFormat,
		rp.Query.Text, docTitle(doc), doc.URL,
		bulleted(rp.Sections), text,
		summaryGoals(withTables))
	return s.gateway.Complete(ctx, llm.Request{
		Prompt:      s.grounded(prompt),
		Model:       model,
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	})
}

const chunkPromptFormat = `Summarize the following content chunk in relation to the research query.

Research Query: %q

Source: %s
URL: %s
Chunk %d of %d

Content:
%s

Provide a concise summary focusing on information relevant to the research query.
Extract key facts, findings, and insights. Aim for 2-3 paragraphs.`

const reducePromptFormat = `Synthesize the following summaries into a coherent final summary.

Research Query: %q
Source: %s
URL: %s

Report Sections:
%s

Chunk Summaries:
%s

Create a comprehensive summary that:
%s

Aim for 3-5 paragraphs.`

func (s *Summarizer) summarizeMapReduce(ctx context.Context, model string, doc *scrape.Content, text string, rp *plan.ResearchPlan, withTables bool) (string, error) {
	chunks := chunkText(text, maxChunkChars)
	s.logger.Info("map-reduce summarization",
		zap.String("url", doc.URL),
		zap.Int("chars", len(text)),
		zap.Int("chunks", len(chunks)))

	var parts []string
	for i, chunk := range chunks {
		prompt := fmt.Sprintf(chunkPromptFormat,
			rp.Query.Text, docTitle(doc), doc.URL, i+1, len(chunks), chunk)
		part, err := s.gateway.Complete(ctx, llm.Request{
			Prompt:      s.grounded(prompt),
			Model:       model,
			Temperature: summaryTemperature,
			MaxTokens:   chunkMaxTokens,
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			s.logger.Warn("chunk summarization failed",
				zap.String("url", doc.URL), zap.Int("chunk", i+1), zap.Error(err))
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no chunk summaries produced for %s", doc.URL)
	}

	prompt := fmt.Sprintf(reducePromptFormat,
		rp.Query.Text, docTitle(doc), doc.URL,
		bulleted(rp.Sections), strings.Join(parts, "\n\n"),
		reduceGoals(withTables))
	return s.gateway.Complete(ctx, llm.Request{
		Prompt:      s.grounded(prompt),
		Model:       model,
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	})
}

// grounded prefixes a prompt with the source-grounding block so the
// model trusts the page over its training data.
func (s *Summarizer) grounded(prompt string) string {
	return llm.SourceGrounding(s.now()) + "\n\n---\n\n" + prompt
}

func summaryGoals(withTables bool) string {
	goals := []string{
		"1. Extracts key information relevant to the research query",
		"2. Identifies main findings, arguments, or insights",
		"3. Maintains factual accuracy",
		"4. Organizes information clearly",
	}
	if withTables {
		goals = append(goals, "5. Preserves any Markdown tables verbatim, including their note lines")
	}
	return strings.Join(goals, "\n")
}

func reduceGoals(withTables bool) string {
	goals := []string{
		"1. Eliminates redundancy across chunks",
		"2. Organizes information logically",
		"3. Highlights key findings relevant to the research query",
		"4. Maintains factual accuracy",
		"5. Preserves any [Source N] citation markers exactly as they appear",
	}
	if withTables {
		goals = append(goals, "6. Preserves any Markdown tables verbatim, including their note lines")
	}
	return strings.Join(goals, "\n")
}

func bulleted(items []string) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, "- "+it)
	}
	return strings.Join(lines, "\n")
}

func docTitle(doc *scrape.Content) string {
	if doc.Title != "" {
		return doc.Title
	}
	return doc.URL
}
