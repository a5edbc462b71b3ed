package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiEngine generates embeddings through Google's GenAI API.
type GeminiEngine struct {
	client *genai.Client
	model  string
}

// NewGeminiEngine creates a GenAI embedding engine.
func NewGeminiEngine(ctx context.Context, apiKey, model string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiEngine{client: client, model: model}, nil
}

// EmbedBatch generates embeddings for multiple texts using the native
// batch API.
func (e *GeminiEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}

		result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentRequest{
			TaskType: genai.TaskTypeSemanticSimilarity,
		})
		if err != nil {
			return nil, &UnavailableError{Err: fmt.Errorf("genai embed failed: %w", err)}
		}
		for _, emb := range result.Embeddings {
			vectors = append(vectors, emb.Values)
		}
	}

	if err := validateBatch(vectors, len(texts)); err != nil {
		return nil, &UnavailableError{Err: err}
	}
	return vectors, nil
}

// Name returns the engine name.
func (e *GeminiEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}
