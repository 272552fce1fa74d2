// Package retrieval implements hybrid lexical/semantic retrieval over
// ingested chunks, with a SQL-fused preferred path and a pure in-process
// fallback scorer for when no vector index is available.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/connexus-ai/personal-vault/internal/model"
	"github.com/connexus-ai/personal-vault/internal/oracle"
	"github.com/connexus-ai/personal-vault/internal/textutil"
)

const defaultTopK = 8

// Weights for the in-process fallback scorer. Kept as named constants so the
// package's tests can reason about the exact formula:
//
//	score = 0.55*lexical + 0.25*max(0,cosine) + 0.15*density + 0.05*recency
const (
	weightLexical = 0.55
	weightCosine  = 0.25
	weightDensity = 0.15
	weightRecency = 0.05

	recencyHalfLifeDays = 30.0
)

// FusedSearcher is the preferred retrieval path: a single SQL query that
// fuses cosine distance and full-text rank server-side.
type FusedSearcher interface {
	FusedSearch(ctx context.Context, queryVec []float32, queryText string, topK int, sources []model.Source) ([]model.ChunkWithDocument, error)
}

// ChunkLister backs the fallback path: up to limit chunks for the requested
// sources, scored in process.
type ChunkLister interface {
	ListByDocSources(ctx context.Context, sources []model.Source, limit int) ([]model.ChunkWithDocument, error)
}

// Retriever selects the preferred fused-SQL path when available and falls
// back to pure in-process scoring otherwise.
type Retriever struct {
	fused   FusedSearcher
	lister  ChunkLister
	encoder oracle.VectorEncoder
	topK    int
}

// New creates a Retriever. fused may be nil, in which case every query uses
// the fallback path.
func New(fused FusedSearcher, lister ChunkLister, encoder oracle.VectorEncoder) *Retriever {
	return &Retriever{fused: fused, lister: lister, encoder: encoder, topK: defaultTopK}
}

// WithTopK overrides the default result count used when a caller passes
// topK<=0 to Retrieve.
func (r *Retriever) WithTopK(topK int) *Retriever {
	if topK > 0 {
		r.topK = topK
	}
	return r
}

// Retrieve returns the topK chunks most relevant to question, scoped to
// sources (nil/empty means all sources). A topK<=0 falls back to the
// Retriever's construction-time default, so per-request overrides (e.g. an
// ask request's own top_k) are passed explicitly on every call instead of
// mutating shared state on a Retriever instance callers may share across
// concurrent requests.
func (r *Retriever) Retrieve(ctx context.Context, question string, sources []model.Source, topK int) ([]model.ChunkWithDocument, error) {
	if topK <= 0 {
		topK = r.topK
	}

	queryVec, err := r.encoder.Encode(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("retrieval.Retrieve: encode query: %w", err)
	}

	if r.fused != nil {
		results, err := r.fused.FusedSearch(ctx, queryVec, question, topK, sources)
		if err != nil {
			return nil, fmt.Errorf("retrieval.Retrieve: fused search: %w", err)
		}
		return results, nil
	}

	return r.fallback(ctx, question, queryVec, sources, topK)
}

// fallback scores every chunk in process using the shared lexical/cosine/
// density/recency formula. Used when the preferred fused SQL path is
// unavailable (e.g. no vector index configured).
func (r *Retriever) fallback(ctx context.Context, question string, queryVec []float32, sources []model.Source, topK int) ([]model.ChunkWithDocument, error) {
	candidateCap := topK * 20
	if candidateCap < 200 {
		candidateCap = 200
	}

	chunks, err := r.lister.ListByDocSources(ctx, sources, candidateCap)
	if err != nil {
		return nil, fmt.Errorf("retrieval.fallback: list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	qTokens := textutil.Tokenize(question)
	now := time.Now().UTC()

	var scored []model.ChunkWithDocument
	for _, c := range chunks {
		cTokens := textutil.Tokenize(c.Text)
		overlap := float64(textutil.Overlap(qTokens, cTokens))
		cosine := math.Max(0, cosineSimilarity(queryVec, c.Embedding))
		if overlap == 0 && cosine == 0 {
			continue
		}

		lexical := 0.0
		if len(qTokens) > 0 {
			lexical = overlap / math.Max(1, float64(len(qTokens)))
		}
		density := 0.0
		if len(cTokens) > 0 {
			density = overlap / math.Max(1, float64(len(cTokens)))
		}
		recency := recencyScore(c.DocTimestampUTC, now)

		score := weightLexical*lexical + weightCosine*cosine + weightDensity*density + weightRecency*recency
		c.Score = math.Min(1, math.Max(0, score))
		scored = append(scored, c)
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	limit := topK
	if limit > len(scored) {
		limit = len(scored)
	}
	return scored[:limit], nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// recencyScore returns exp(-daysSince/30), matching the shared decay used
// across the fallback scorer and the eval runner's staleness checks.
func recencyScore(ts *time.Time, now time.Time) float64 {
	if ts == nil {
		return 0
	}
	daysSince := now.Sub(*ts).Hours() / 24
	if daysSince < 0 {
		daysSince = 0
	}
	return math.Exp(-daysSince / recencyHalfLifeDays)
}
