package pipeline

import (
	"errors"

	"scour/internal/embedding"
	"scour/internal/llm"
	"scour/internal/plan"
)

// Process exit codes. The CLI maps the error returned by Run onto
// these.
const (
	ExitOK             = 0
	ExitConfigInvalid  = 2
	ExitNoResults      = 3
	ExitLLMUnavailable = 4
	ExitFailure        = 5
)

// ErrNoResults means the first iteration found nothing: zero search
// results and zero summaries. Generating a report from nothing would
// only produce hallucinations, so the run aborts instead.
var ErrNoResults = errors.New("no search results found")

// ExitCode classifies a pipeline error into a process exit code.
func ExitCode(err error) int {
	var llmErr *llm.UnavailableError
	var embErr *embedding.UnavailableError

	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrNoResults):
		return ExitNoResults
	case errors.As(err, &llmErr), errors.As(err, &embErr):
		return ExitLLMUnavailable
	case errors.Is(err, plan.ErrEmptyPlan):
		return ExitFailure
	default:
		return ExitFailure
	}
}
