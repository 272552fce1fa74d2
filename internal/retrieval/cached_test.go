package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/connexus-ai/personal-vault/internal/cache"
	"github.com/connexus-ai/personal-vault/internal/model"
)

type countingSearcher struct {
	calls int
	out   []model.ChunkWithDocument
}

func (s *countingSearcher) Retrieve(ctx context.Context, question string, sources []model.Source, topK int) ([]model.ChunkWithDocument, error) {
	s.calls++
	return s.out, nil
}

func TestCachedRetriever_SecondCallHitsCache(t *testing.T) {
	inner := &countingSearcher{out: []model.ChunkWithDocument{{Chunk: model.Chunk{ChunkID: "c1"}}}}
	qc := cache.New(time.Hour)
	defer qc.Stop()
	r := NewCached(inner, qc)

	ctx := context.Background()
	if _, err := r.Retrieve(ctx, "what happened", []model.Source{model.SourceMail}, 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Retrieve(ctx, "what happened", []model.Source{model.SourceMail}, 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner retriever to be called once, got %d", inner.calls)
	}
}

func TestCachedRetriever_DifferentTopKMisses(t *testing.T) {
	inner := &countingSearcher{out: []model.ChunkWithDocument{{Chunk: model.Chunk{ChunkID: "c1"}}}}
	qc := cache.New(time.Hour)
	defer qc.Stop()
	r := NewCached(inner, qc)

	ctx := context.Background()
	r.Retrieve(ctx, "what happened", nil, 4)
	r.Retrieve(ctx, "what happened", nil, 20)

	if inner.calls != 2 {
		t.Fatalf("expected inner retriever to be called once per distinct top_k, got %d", inner.calls)
	}
}

func TestCachedRetriever_InvalidateAllForcesReFetch(t *testing.T) {
	inner := &countingSearcher{out: []model.ChunkWithDocument{{Chunk: model.Chunk{ChunkID: "c1"}}}}
	qc := cache.New(time.Hour)
	defer qc.Stop()
	r := NewCached(inner, qc)

	ctx := context.Background()
	r.Retrieve(ctx, "q", nil, 8)
	r.InvalidateAll()
	r.Retrieve(ctx, "q", nil, 8)

	if inner.calls != 2 {
		t.Fatalf("expected inner retriever to be called twice after invalidation, got %d", inner.calls)
	}
}
