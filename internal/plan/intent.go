package plan

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"scour/internal/llm"
)

const intentTemperature = 0.3

const intentPrompt = `Analyze the following user query and classify its intent into one of these categories:

- INFORMATIONAL: General questions seeking factual information
- COMPARATIVE: Questions comparing multiple things
- NEWS: Questions about current events or recent news
- CODE: Questions about programming, code examples, or technical implementation
- TUTORIAL: Questions seeking step-by-step instructions or how-to guides
- RESEARCH: Academic or in-depth research questions
- GENERAL: General conversational queries

Query: %q

Respond with a JSON object containing:
- "intent": the category (one of the above)
- "confidence": a number between 0 and 1
- "reasoning": brief explanation for the classification

Example response:
{"intent": "NEWS", "confidence": 0.95, "reasoning": "Query asks about latest news on a specific topic"}`

// IntentClassifier assigns one of the seven intents to a query.
type IntentClassifier struct {
	gateway Gateway
	model   string
	logger  *zap.Logger
}

// NewIntentClassifier builds a classifier that calls the given model.
func NewIntentClassifier(gateway Gateway, model string, logger *zap.Logger) *IntentClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentClassifier{gateway: gateway, model: model, logger: logger}
}

// Classify assigns an intent to the query text. Classification is
// advisory: any failure falls back to General with a warning instead
// of stopping the run.
func (c *IntentClassifier) Classify(ctx context.Context, text string) Query {
	var resp struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	req := llm.Request{
		Prompt:      fmt.Sprintf(intentPrompt, text),
		Model:       c.model,
		Temperature: intentTemperature,
	}
	if err := c.gateway.CompleteJSON(ctx, req, &resp); err != nil {
		c.logger.Warn("intent classification failed, defaulting to general", zap.Error(err))
		return Query{Text: text, Intent: General}
	}

	intent, known := ParseIntent(resp.Intent)
	if !known {
		c.logger.Warn("unknown intent from model, defaulting to general",
			zap.String("intent", resp.Intent))
		return Query{Text: text, Intent: General}
	}

	c.logger.Info("query intent classified",
		zap.String("intent", string(intent)),
		zap.Float64("confidence", resp.Confidence))
	c.logger.Debug("intent reasoning", zap.String("reasoning", resp.Reasoning))
	return Query{Text: text, Intent: intent}
}
