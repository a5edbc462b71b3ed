// Package pipeline drives a research run end to end: classify the
// query, plan the searches, iterate search/scrape/summarize/reflect
// until coverage is judged complete, then assemble context, generate
// the cited report, and optionally verify its claims.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"scour/internal/assemble"
	"scour/internal/llm"
	"scour/internal/plan"
	"scour/internal/rerank"
	"scour/internal/scrape"
	"scour/internal/search"
	"scour/internal/summarize"
	"scour/internal/verify"
)

// Classifier assigns an intent to the raw query text.
type Classifier interface {
	Classify(ctx context.Context, text string) plan.Query
}

// Planner turns a classified query into a research plan.
type Planner interface {
	Plan(ctx context.Context, query plan.Query) (*plan.ResearchPlan, error)
}

// Reflector judges coverage after an iteration and proposes follow-up
// searches when gaps remain.
type Reflector interface {
	Reflect(ctx context.Context, query plan.Query, sections []string, sources []plan.Source) (*plan.ReflectionResult, error)
}

// Searcher runs one web search. Failures surface as empty results.
type Searcher interface {
	Search(ctx context.Context, text string, kind search.Kind, n int) []search.Result
}

// Scraper fetches pages and tracks what fetching cost.
type Scraper interface {
	ScrapeMany(ctx context.Context, urls []string) map[string]*scrape.Content
	Costs() *scrape.CostTracker
}

// Summarizer condenses scraped pages into grounded summaries.
type Summarizer interface {
	SummarizeAll(ctx context.Context, contents []*scrape.Content, rp *plan.ResearchPlan) []summarize.Summary
}

// Assembler embeds, ranks, and selects the summaries the report cites.
type Assembler interface {
	Assemble(ctx context.Context, query string, summaries []summarize.Summary) (*assemble.ContextPackage, error)
}

// Gateway is the LLM surface report generation needs.
type Gateway interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// ClaimExtractor pulls cited claims out of a finished report.
type ClaimExtractor interface {
	Extract(ctx context.Context, reportText string, sourceURLs []string) ([]verify.SourceClaims, error)
}

// ClaimVerifier checks extracted claims against their sources.
type ClaimVerifier interface {
	VerifyAll(ctx context.Context, groups []verify.SourceClaims) (*verify.Summary, error)
	Threshold() float64
}

// Components are the stage implementations the orchestrator drives.
// URLReranker is optional: nil keeps search order. Reflector may be
// nil when MaxIterations is 1. Extractor and Verifier are only needed
// when VerifyClaims is set.
type Components struct {
	Classifier  Classifier
	Planner     Planner
	Reflector   Reflector
	Searcher    Searcher
	URLReranker rerank.Reranker
	Scraper     Scraper
	Summarizer  Summarizer
	Assembler   Assembler
	Gateway     Gateway
	Extractor   ClaimExtractor
	Verifier    ClaimVerifier
}

// Options are the orchestration knobs taken from configuration.
type Options struct {
	MaxIterations   int
	ResultsPerQuery int
	TopKURL         float64
	SearchParallel  int
	ReportModel     string
	ReportMaxTokens int
	OutputDir       string
	VerifyClaims    bool

	// Progress, when set, receives an event before each stage runs.
	Progress ProgressFunc
	// PlanPreview, when set, receives the plan before research begins.
	PlanPreview func(*plan.ResearchPlan)
}

// Outcome is what a finished run hands back to the caller.
type Outcome struct {
	Report     *Report
	ReportPath string
}

// Orchestrator runs the research pipeline.
type Orchestrator struct {
	c      Components
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// New wires an orchestrator. Zero option values fall back to workable
// defaults so a partially filled Options is safe.
func New(c Components, opts Options, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = 1
	}
	if opts.ResultsPerQuery < 1 {
		opts.ResultsPerQuery = 10
	}
	if opts.TopKURL <= 0 {
		opts.TopKURL = 0.3
	}
	if opts.SearchParallel < 1 {
		opts.SearchParallel = 4
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "reports"
	}
	return &Orchestrator{c: c, opts: opts, logger: logger.Named("pipeline"), now: time.Now}
}

// Run executes one research query through the full pipeline and
// returns the written report. Errors map to process exit codes via
// ExitCode.
func (o *Orchestrator) Run(ctx context.Context, queryText string) (*Outcome, error) {
	start := o.now()

	o.emit(Event{Stage: StageClassify, Message: "classifying query intent"})
	query := o.c.Classifier.Classify(ctx, queryText)
	o.logger.Info("query classified", zap.String("intent", string(query.Intent)))

	o.emit(Event{Stage: StagePlan, Message: "building research plan"})
	rp, err := o.c.Planner.Plan(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	o.logger.Info("plan ready",
		zap.Int("sections", len(rp.Sections)),
		zap.Int("queries", len(rp.SearchQueries)))
	if o.opts.PlanPreview != nil {
		o.opts.PlanPreview(rp)
	}

	var (
		allSummaries []summarize.Summary
		reflection   *plan.ReflectionResult
	)
	seen := make(map[string]bool)
	queries := rp.SearchQueries

	for iter := 1; iter <= o.opts.MaxIterations; iter++ {
		if len(queries) == 0 {
			o.logger.Info("no queries left, ending research loop", zap.Int("iteration", iter))
			break
		}

		o.emit(Event{Stage: StageSearch, Iteration: iter, MaxIterations: o.opts.MaxIterations,
			Total: len(queries), Message: "searching the web"})
		results := o.searchAll(ctx, query, queries)
		fresh := dedupeNew(results, seen)
		o.logger.Info("search finished",
			zap.Int("iteration", iter),
			zap.Int("hits", len(results)),
			zap.Int("new_urls", len(fresh)))

		if len(fresh) == 0 {
			if iter == 1 && len(allSummaries) == 0 {
				return nil, ErrNoResults
			}
			o.logger.Warn("no new sources this iteration", zap.Int("iteration", iter))
			break
		}

		o.emit(Event{Stage: StageRerank, Iteration: iter, MaxIterations: o.opts.MaxIterations,
			Total: len(fresh), Message: "selecting sources"})
		topURLs := o.rerankURLs(ctx, query.Text, fresh)

		o.emit(Event{Stage: StageScrape, Iteration: iter, MaxIterations: o.opts.MaxIterations,
			Total: len(topURLs), Message: "fetching pages"})
		pages := o.c.Scraper.ScrapeMany(ctx, topURLs)
		contents := orderedContents(topURLs, pages)
		found, converted := tableCounts(contents)
		o.logger.Info("scrape finished",
			zap.Int("iteration", iter),
			zap.Int("pages", len(contents)),
			zap.Int("tables_found", found),
			zap.Int("tables_converted", converted))

		o.emit(Event{Stage: StageSummarize, Iteration: iter, MaxIterations: o.opts.MaxIterations,
			Total: len(contents), Message: "summarizing sources"})
		summaries := o.c.Summarizer.SummarizeAll(ctx, contents, rp)
		allSummaries = append(allSummaries, summaries...)
		preserved, compacted := summaryTableCounts(summaries)
		o.logger.Info("summaries ready",
			zap.Int("iteration", iter),
			zap.Int("summaries", len(summaries)),
			zap.Int("tables_preserved", preserved),
			zap.Int("tables_compacted", compacted))

		if iter >= o.opts.MaxIterations {
			break
		}

		o.emit(Event{Stage: StageReflect, Iteration: iter, MaxIterations: o.opts.MaxIterations,
			Count: len(allSummaries), Message: "judging coverage"})
		refl, err := o.c.Reflector.Reflect(ctx, query, rp.Sections, reflectionSources(allSummaries))
		if err != nil {
			o.logger.Warn("reflection failed, finishing with gathered sources", zap.Error(err))
			break
		}
		reflection = refl
		if refl.Complete {
			o.logger.Info("research judged complete", zap.Int("iteration", iter))
			break
		}
		o.logger.Info("research incomplete, continuing",
			zap.Int("iteration", iter),
			zap.Strings("gaps", refl.Gaps),
			zap.Int("follow_up_queries", len(refl.AdditionalQueries)))
		queries = refl.AdditionalQueries
	}

	o.emit(Event{Stage: StageAssemble, Count: len(allSummaries), Message: "assembling context"})
	pkg, err := o.c.Assembler.Assemble(ctx, query.Text, allSummaries)
	if err != nil {
		return nil, err
	}

	o.emit(Event{Stage: StageReport, Message: "generating report"})
	report, err := o.generateReport(ctx, query, rp, pkg.Selected, reflection)
	if err != nil {
		return nil, fmt.Errorf("report generation failed: %w", err)
	}

	if o.opts.VerifyClaims && o.c.Extractor != nil && o.c.Verifier != nil {
		o.emit(Event{Stage: StageVerify, Total: len(report.Sources), Message: "verifying claims"})
		o.verifyReport(ctx, report)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	path, err := WriteReport(o.opts.OutputDir, report)
	if err != nil {
		return nil, err
	}

	stats := o.c.Scraper.Costs().Stats()
	o.logger.Info("run finished",
		zap.Duration("elapsed", o.now().Sub(start)),
		zap.Int("sources_cited", len(report.Sources)),
		zap.Float64("scrape_cost_estimate", stats.EstimatedCost),
		zap.String("report", path))
	o.emit(Event{Stage: StageDone, Message: path})

	return &Outcome{Report: report, ReportPath: path}, nil
}

// searchAll fans the iteration's queries across workers and flattens
// the hits back in query order so later stages see a deterministic
// sequence.
func (o *Orchestrator) searchAll(ctx context.Context, query plan.Query, queries []plan.SearchQuery) []search.Result {
	kind := search.KindForIntent(string(query.Intent))
	slots := make([][]search.Result, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.SearchParallel)
	for i, q := range queries {
		g.Go(func() error {
			slots[i] = o.c.Searcher.Search(gctx, q.Text, kind, o.opts.ResultsPerQuery)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.Warn("search batch interrupted", zap.Error(err))
	}

	var flat []search.Result
	for _, s := range slots {
		flat = append(flat, s...)
	}
	return flat
}

// rerankURLs orders this iteration's hits by relevance and keeps the
// top share. When no reranker is wired, or it fails or returns
// nothing, search order stands.
func (o *Orchestrator) rerankURLs(ctx context.Context, query string, fresh []search.Result) []string {
	topN := assemble.EffectiveCount(o.opts.TopKURL, len(fresh))

	ranked := rerank.Identity(len(fresh), topN)
	if o.c.URLReranker != nil {
		docs := make([]string, len(fresh))
		for i, r := range fresh {
			docs[i] = r.Title + ". " + r.Snippet
		}
		scored, err := o.c.URLReranker.Rerank(ctx, query, docs, topN)
		switch {
		case err != nil:
			o.logger.Warn("url rerank failed, keeping search order", zap.Error(err))
		case len(scored) == 0:
			o.logger.Warn("url rerank returned nothing, keeping search order")
		default:
			ranked = scored
		}
	}

	urls := make([]string, 0, len(ranked))
	for _, s := range ranked {
		if s.Index < 0 || s.Index >= len(fresh) {
			continue
		}
		urls = append(urls, fresh[s.Index].URL)
	}
	return urls
}

// verifyReport is best-effort: a verification failure leaves a note in
// the report instead of failing a run that already produced one.
func (o *Orchestrator) verifyReport(ctx context.Context, r *Report) {
	urls := make([]string, len(r.Sources))
	for i, s := range r.Sources {
		urls[i] = s.SourceURL
	}

	groups, err := o.c.Extractor.Extract(ctx, r.Content, urls)
	if err != nil {
		o.logger.Warn("claim extraction failed", zap.Error(err))
		r.Appendix = "*Claim verification could not be completed for this report.*"
		return
	}
	if len(groups) == 0 {
		r.Appendix = "*Claim verification found no citable claims to check.*"
		return
	}

	summary, err := o.c.Verifier.VerifyAll(ctx, groups)
	if err != nil {
		o.logger.Warn("claim verification failed", zap.Error(err))
		r.Appendix = "*Claim verification could not be completed for this report.*"
		return
	}

	r.Verification = summary
	r.Appendix = verify.Appendix(summary, o.c.Verifier.Threshold())
	r.Metadata = append(r.Metadata,
		Metadatum{"verification_total_claims", strconv.Itoa(summary.TotalClaims)},
		Metadatum{"verification_supported", strconv.Itoa(summary.Supported)},
		Metadatum{"verification_flagged", strconv.Itoa(len(summary.Flagged))},
		Metadatum{"verification_avg_confidence", fmt.Sprintf("%.2f", summary.AvgConfidence)},
	)
}

func (o *Orchestrator) emit(ev Event) {
	if o.opts.Progress != nil {
		o.opts.Progress(ev)
	}
}

// dedupeNew filters hits down to URLs not seen in any earlier
// iteration, keeping first-occurrence order. seen is updated in place.
func dedupeNew(results []search.Result, seen map[string]bool) []search.Result {
	var fresh []search.Result
	for _, r := range results {
		key := search.CanonicalURL(r.URL)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		fresh = append(fresh, r)
	}
	return fresh
}

// orderedContents flattens scraped pages back into selection order,
// dropping URLs whose fetch failed.
func orderedContents(urls []string, pages map[string]*scrape.Content) []*scrape.Content {
	contents := make([]*scrape.Content, 0, len(urls))
	for _, u := range urls {
		if c := pages[u]; c != nil {
			contents = append(contents, c)
		}
	}
	return contents
}

// tableCounts sums the table conversion counters across scraped pages.
func tableCounts(contents []*scrape.Content) (found, converted int) {
	for _, c := range contents {
		found += c.TablesFound
		converted += c.TablesConverted
	}
	return found, converted
}

// summaryTableCounts sums the table handling counters across summaries.
func summaryTableCounts(summaries []summarize.Summary) (preserved, compacted int) {
	for _, s := range summaries {
		preserved += s.PreservedTables
		compacted += s.CompactedTables
	}
	return preserved, compacted
}

// reflectionSources flattens the gathered summaries into the compact
// view the reflector inspects.
func reflectionSources(summaries []summarize.Summary) []plan.Source {
	sources := make([]plan.Source, len(summaries))
	for i, s := range summaries {
		sources[i] = plan.Source{URL: s.SourceURL, Text: s.Text}
	}
	return sources
}
