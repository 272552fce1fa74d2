// Package intent classifies a question so the ask orchestrator knows
// whether to answer from retrieved evidence, drafted SQL, or both.
package intent

import (
	"context"
	"strings"

	"github.com/connexus-ai/personal-vault/internal/oracle"
)

// Intent is the classification outcome of a question.
type Intent string

const (
	Structured Intent = "structured"
	Evidence   Intent = "evidence"
	Both       Intent = "both"
)

const systemPrompt = `Classify the user's question into exactly one word: structured, evidence, or both.
"structured" means the question asks for an aggregate, count, or tabular fact best answered by a query.
"evidence" means the question asks about the content or meaning of specific messages, emails, or files.
"both" means the question needs a structured fact plus supporting evidence text.
Respond with exactly one word and nothing else.`

// Router classifies questions via a single oracle call, falling back to
// Evidence on any failure or unexpected response. It holds no state.
type Router struct {
	completion oracle.TextCompletion
}

// New creates a Router.
func New(completion oracle.TextCompletion) *Router {
	return &Router{completion: completion}
}

// Classify returns the intent for question. The oracle is asked for a
// one-word response; anything that doesn't match a known intent, or any
// oracle error, falls back to Evidence.
func (r *Router) Classify(ctx context.Context, question string) Intent {
	response, err := r.completion.Complete(ctx, systemPrompt, question, 0, 8)
	if err != nil {
		return Evidence
	}

	switch strings.ToLower(strings.TrimSpace(response)) {
	case string(Structured):
		return Structured
	case string(Both):
		return Both
	case string(Evidence):
		return Evidence
	default:
		return Evidence
	}
}
