package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries = 3
	maxErrorExcerpt   = 500
	refusalScanWindow = 160
)

// policyPreamble is prepended to every prompt when policy mode is on. It
// keeps models from refusing on training-cutoff grounds and from wrapping
// JSON answers in prose.
const policyPreamble = `SYSTEM POLICY (follow without exception):
1. Base your answer on the source material provided in the prompt. The sources are current; your training data may be stale.
2. Never refuse or hedge because events postdate your training data.
3. When JSON is requested, respond with raw JSON only: no markdown fences, no commentary before or after.

`

var refusalPatterns = []string{
	"i cannot",
	"i can't",
	"i'm unable",
	"i am unable",
	"as an ai",
}

var (
	errEmptyResponse = errors.New("model returned an empty response")
	errRefused       = errors.New("model refused to answer")
)

// UnavailableError means the LLM could not produce a usable response
// after all retries. LastResponse holds an excerpt of the final raw
// output when one was received.
type UnavailableError struct {
	Err          error
	LastResponse string
}

func (e *UnavailableError) Error() string {
	if e.LastResponse != "" {
		return fmt.Sprintf("llm unavailable after retries: %v (last response: %s)", e.Err, e.LastResponse)
	}
	return fmt.Sprintf("llm unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsAuthError reports whether err stems from a 401 or 403 response.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}

// Gateway wraps completion transports with retry, refusal detection, and
// JSON salvage. Every pipeline stage calls the LLM through a Gateway.
type Gateway struct {
	completer     Completer
	gemini        Completer
	maxRetries    int
	includePolicy bool
	logger        *zap.Logger
	backoff       func(retry int) time.Duration
}

// NewGateway wraps the given transport. maxRetries counts total attempts,
// so 3 means one call and up to two retries.
func NewGateway(completer Completer, maxRetries int, includePolicy bool, logger *zap.Logger) *Gateway {
	if maxRetries < 1 {
		maxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		completer:     completer,
		maxRetries:    maxRetries,
		includePolicy: includePolicy,
		logger:        logger,
		backoff:       defaultBackoff,
	}
}

// WithGemini registers a transport for models carrying the gemini prefix.
// Without one, those models fall through to the default transport.
func (g *Gateway) WithGemini(c Completer) *Gateway {
	g.gemini = c
	return g
}

// Complete returns the model's text response for req.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	return g.complete(ctx, req, nil)
}

// CompleteJSON forces JSON mode, salvages a JSON document from the
// response, and decodes it into target. Responses with no parseable JSON
// count as failed attempts and are retried.
func (g *Gateway) CompleteJSON(ctx context.Context, req Request, target any) error {
	req.JSONMode = true

	var salvaged string
	_, err := g.complete(ctx, req, func(raw string) error {
		doc, err := SalvageJSON(raw)
		if err != nil {
			return err
		}
		salvaged = doc
		return nil
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(salvaged), target); err != nil {
		return fmt.Errorf("llm json has unexpected shape: %w", err)
	}
	return nil
}

func (g *Gateway) complete(ctx context.Context, req Request, validate func(string) error) (string, error) {
	transport := g.completerFor(req.Model)

	if g.includePolicy {
		req.Prompt = policyPreamble + req.Prompt
	}

	var lastRaw string
	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		if attempt > 1 {
			wait := g.backoff(attempt - 1)
			g.logger.Warn("completion failed, retrying",
				zap.String("model", req.Model),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", g.maxRetries),
				zap.Duration("backoff", wait),
				zap.Error(lastErr))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		raw, err := transport.Complete(ctx, req)
		if err != nil {
			if IsAuthError(err) {
				return "", &UnavailableError{Err: err}
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}
		if strings.TrimSpace(raw) == "" {
			lastErr = errEmptyResponse
			continue
		}
		if isRefusal(raw) {
			lastRaw = raw
			lastErr = errRefused
			continue
		}
		if validate != nil {
			if err := validate(raw); err != nil {
				lastRaw = raw
				lastErr = err
				continue
			}
		}
		return raw, nil
	}

	return "", &UnavailableError{Err: lastErr, LastResponse: truncate(lastRaw, maxErrorExcerpt)}
}

func (g *Gateway) completerFor(model string) Completer {
	if g.gemini != nil && strings.HasPrefix(strings.ToLower(model), "gemini") {
		return g.gemini
	}
	return g.completer
}

// defaultBackoff returns the sleep before retry n, doubling from one
// second.
func defaultBackoff(retry int) time.Duration {
	return time.Duration(1<<uint(retry-1)) * time.Second
}

// isRefusal reports whether the response opens with a refusal rather than
// an answer. Only the head is checked so a refusal quoted deep inside a
// long answer does not trigger retries.
func isRefusal(resp string) bool {
	head := strings.ToLower(strings.TrimSpace(resp))
	if len(head) > refusalScanWindow {
		head = head[:refusalScanWindow]
	}
	for _, p := range refusalPatterns {
		if strings.Contains(head, p) {
			return true
		}
	}
	return false
}

// SalvageJSON extracts a parseable JSON document from a model response.
// It tries the raw text, then the contents of a markdown code fence, then
// the largest balanced object or array found anywhere in the text.
func SalvageJSON(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	if fenced := stripFence(trimmed); fenced != "" && json.Valid([]byte(fenced)) {
		return fenced, nil
	}
	if candidate := largestBalanced(trimmed); candidate != "" && json.Valid([]byte(candidate)) {
		return candidate, nil
	}
	return "", fmt.Errorf("no parseable JSON in response")
}

func stripFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	body := s[start+3:]
	if strings.HasPrefix(body, "json") {
		body = body[4:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

func largestBalanced(s string) string {
	best := ""
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		end := matchBalanced(s, i)
		if end < 0 {
			continue
		}
		if candidate := s[i : end+1]; len(candidate) > len(best) {
			best = candidate
		}
		i = end
	}
	return best
}

// matchBalanced returns the index of the bracket closing the one at
// start, or -1 if it never closes. Brackets inside JSON strings are
// ignored.
func matchBalanced(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
