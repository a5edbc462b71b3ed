// Package assemble ranks accumulated summaries against the research
// query and selects the top fraction as the context for report
// generation. The query and every summary are embedded in one batched
// call, persisted through the vector store, and ranked there by cosine
// similarity; an external reranker can reorder the selection.
package assemble

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"scour/internal/embedding"
	"scour/internal/rerank"
	"scour/internal/store"
	"scour/internal/summarize"
)

// ContextPackage is the ranked context handed to report generation.
// Selected and Scores are aligned, most relevant first; scores are
// clamped to [0,1].
type ContextPackage struct {
	Selected      []summarize.Summary
	Scores        []float64
	ExcludedCount int
}

// Store is the persistence surface the assembler needs.
type Store interface {
	Upsert(ctx context.Context, url, title, text string, vec []float32) (int64, error)
	TopK(ctx context.Context, queryVec []float32, k int) ([]store.ScoredChunk, error)
	Count(ctx context.Context) (int, error)
}

// Assembler embeds, persists, and ranks summaries. It is the only
// writer to the vector store and runs once per research run.
type Assembler struct {
	engine   embedding.Engine
	store    Store
	reranker rerank.Reranker
	ratio    float64
	logger   *zap.Logger
}

// New builds an assembler that keeps the top ratio of summaries. A nil
// reranker disables the rerank pass.
func New(engine embedding.Engine, st Store, reranker rerank.Reranker, ratio float64, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		engine:   engine,
		store:    st,
		reranker: reranker,
		ratio:    ratio,
		logger:   logger,
	}
}

// EffectiveCount converts a selection ratio into a concrete count. Any
// positive input size keeps at least one item.
func EffectiveCount(ratio float64, n int) int {
	if n <= 0 {
		return 0
	}
	k := int(math.Ceil(ratio * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// Assemble ranks summaries against the query and returns the selected
// context. Embedding failure is fatal for the run; ranking with
// fabricated vectors would silently destroy relevance.
func (a *Assembler) Assemble(ctx context.Context, query string, summaries []summarize.Summary) (*ContextPackage, error) {
	deduped := dedupeByURL(summaries)
	if len(deduped) < len(summaries) {
		a.logger.Info("deduplicated summaries",
			zap.Int("before", len(summaries)),
			zap.Int("after", len(deduped)))
	}
	if len(deduped) == 0 {
		a.logger.Warn("no summaries to assemble")
		return &ContextPackage{}, nil
	}

	// One batch for the whole run: query first, then each summary.
	texts := make([]string, 0, len(deduped)+1)
	texts = append(texts, query)
	for _, s := range deduped {
		texts = append(texts, s.Text)
	}
	vectors, err := a.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed research context: %w", err)
	}
	queryVec := vectors[0]

	byURL := make(map[string]summarize.Summary, len(deduped))
	for i, s := range deduped {
		if _, err := a.store.Upsert(ctx, s.SourceURL, s.Title, s.Text, vectors[i+1]); err != nil {
			return nil, fmt.Errorf("failed to store summary: %w", err)
		}
		byURL[s.SourceURL] = s
	}

	k := EffectiveCount(a.ratio, len(deduped))
	fetch := k
	if total, err := a.store.Count(ctx); err == nil && total > len(deduped) {
		// The store can carry rows from earlier runs. Fetch the full
		// ranking and filter below so all k slots go to this run.
		fetch = total
	}
	chunks, err := a.store.TopK(ctx, queryVec, fetch)
	if err != nil {
		return nil, fmt.Errorf("similarity ranking failed: %w", err)
	}

	selected := make([]summarize.Summary, 0, k)
	scores := make([]float64, 0, k)
	for _, c := range chunks {
		if len(selected) == k {
			break
		}
		s, ok := byURL[c.URL]
		if !ok {
			continue
		}
		selected = append(selected, s)
		scores = append(scores, clampScore(c.Similarity))
	}

	selected, scores = a.rerankSelection(ctx, query, selected, scores)

	pkg := &ContextPackage{
		Selected:      selected,
		Scores:        scores,
		ExcludedCount: len(deduped) - len(selected),
	}
	if len(scores) > 0 {
		a.logger.Info("context assembled",
			zap.Int("selected", len(selected)),
			zap.Int("total", len(deduped)),
			zap.Float64("top_score", scores[0]),
			zap.Float64("cutoff", scores[len(scores)-1]))
	}
	return pkg, nil
}

// rerankSelection reorders the selection through the external reranker.
// Any failure keeps the cosine order.
func (a *Assembler) rerankSelection(ctx context.Context, query string, selected []summarize.Summary, scores []float64) ([]summarize.Summary, []float64) {
	if a.reranker == nil || len(selected) < 2 {
		return selected, scores
	}

	docs := make([]string, len(selected))
	for i, s := range selected {
		docs[i] = s.Text
	}
	ranked, err := a.reranker.Rerank(ctx, query, docs, len(docs))
	if err != nil {
		a.logger.Warn("rerank failed, keeping similarity order",
			zap.String("reranker", a.reranker.Name()),
			zap.Error(err))
		return selected, scores
	}
	if len(ranked) == 0 {
		return selected, scores
	}

	outSelected := make([]summarize.Summary, 0, len(selected))
	outScores := make([]float64, 0, len(selected))
	seen := make(map[int]bool, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(selected) || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		outSelected = append(outSelected, selected[r.Index])
		outScores = append(outScores, clampScore(r.Score))
	}
	// Items the reranker dropped keep their cosine score at the tail.
	for i := range selected {
		if !seen[i] {
			outSelected = append(outSelected, selected[i])
			outScores = append(outScores, scores[i])
		}
	}
	return outSelected, outScores
}

func dedupeByURL(summaries []summarize.Summary) []summarize.Summary {
	seen := make(map[string]bool, len(summaries))
	out := make([]summarize.Summary, 0, len(summaries))
	for _, s := range summaries {
		if seen[s.SourceURL] {
			continue
		}
		seen[s.SourceURL] = true
		out = append(out, s)
	}
	return out
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
