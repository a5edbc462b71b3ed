// Package embedding generates vector embeddings for semantic ranking.
// Backends: any OpenAI-compatible /embeddings endpoint, and Google GenAI
// for gemini embedding models.
package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// maxBatchSize caps how many inputs go into one API call. Larger inputs
// are split and the results reassembled in order.
const maxBatchSize = 2048

// Engine generates vector embeddings for text.
type Engine interface {
	// EmbedBatch generates embeddings for multiple texts. The result
	// preserves input order and always has one vector per input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the backend for logs.
	Name() string
}

// UnavailableError means the embedding backend could not produce usable
// vectors. Callers abort ranking rather than substitute zero vectors.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("embedding unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// NewEngine selects a backend by model name: gemini models (including
// text-embedding-004) go through the GenAI SDK, everything else through
// the OpenAI-compatible endpoint.
func NewEngine(ctx context.Context, apiKey, endpoint, model string) (Engine, error) {
	m := strings.ToLower(model)
	if strings.HasPrefix(m, "gemini") || strings.HasPrefix(m, "text-embedding-004") {
		return NewGeminiEngine(ctx, apiKey, model)
	}
	return NewOpenAIEngine(apiKey, endpoint, model), nil
}

// CosineSimilarity computes the cosine similarity of two vectors,
// accumulating in float64 to keep long vectors stable. Zero-magnitude
// vectors yield 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// validateBatch rejects responses that would poison similarity ranking:
// missing vectors, empty vectors, or mixed dimensions.
func validateBatch(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("got %d embeddings for %d inputs", len(vectors), want)
	}
	dim := 0
	for i, vec := range vectors {
		if len(vec) == 0 {
			return fmt.Errorf("empty embedding at index %d", i)
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return fmt.Errorf("dimension mismatch at index %d: %d != %d", i, len(vec), dim)
		}
	}
	return nil
}
