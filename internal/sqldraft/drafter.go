// Package sqldraft proposes a read-only SQL query for a question, asking
// the oracle for a statement against the vault's known schema and falling
// back to a safe no-op query when the oracle is unavailable or its output
// doesn't look like a query.
package sqldraft

import (
	"context"
	"strings"

	"github.com/connexus-ai/personal-vault/internal/model"
	"github.com/connexus-ai/personal-vault/internal/oracle"
)

// FallbackSQL is returned whenever drafting fails or produces something
// that isn't plausibly a SELECT/WITH statement.
const FallbackSQL = "select 1 as fallback_result"

const systemPrompt = `You draft a single read-only PostgreSQL query answering the user's question.
Known tables: documents(doc_id, source, external_id, title, body_text, author, timestamp_utc, deep_link),
chunks(chunk_id, doc_id, source, chunk_index, text, token_count, created_at),
query_runs(run_id, status, question, outcome_class, retries, created_at),
memory_items(id, kind, scope, statement, activation_state, confidence, created_at).
Respond with exactly one SELECT or WITH statement and nothing else: no prose, no code fences, no trailing semicolon.`

// Drafter proposes SQL via a single oracle call.
type Drafter struct {
	completion oracle.TextCompletion
}

// New creates a Drafter.
func New(completion oracle.TextCompletion) *Drafter {
	return &Drafter{completion: completion}
}

// Draft asks the oracle for a query answering question. contexts carries
// retrieved evidence chunks that may hint at relevant tables or filters;
// currently only their titles are surfaced to the oracle as extra context.
// Any oracle error or non-query-looking response yields FallbackSQL instead
// of an error, since drafting failure is an expected, handled path.
func (d *Drafter) Draft(ctx context.Context, question string, contexts []model.ChunkWithDocument) string {
	user := "Question: " + question
	if hints := contextHints(contexts); hints != "" {
		user += "\n\nRelated context titles: " + hints
	}

	response, err := d.completion.Complete(ctx, systemPrompt, user, 0.0, 300)
	if err != nil {
		return FallbackSQL
	}

	cleaned := cleanResponse(response)
	if !looksLikeQuery(cleaned) {
		return FallbackSQL
	}
	return cleaned
}

func contextHints(contexts []model.ChunkWithDocument) string {
	var titles []string
	for i, c := range contexts {
		if i >= 3 {
			break
		}
		if c.DocTitle != nil && *c.DocTitle != "" {
			titles = append(titles, *c.DocTitle)
		}
	}
	return strings.Join(titles, "; ")
}

func cleanResponse(response string) string {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```sql")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimSuffix(cleaned, ";")
	return strings.TrimSpace(cleaned)
}

func looksLikeQuery(sql string) bool {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(fields[0])
	return first == "select" || first == "with"
}
