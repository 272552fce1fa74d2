package oracle

import (
	"context"
	"testing"
	"time"
)

type countingEncoder struct {
	calls int
	dims  int
}

func (e *countingEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	return make([]float32, e.dims), nil
}

func (e *countingEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dims)
	}
	return out, nil
}

func (e *countingEncoder) Dimensions() int { return e.dims }

func TestCachedEncoder_SecondEncodeHitsCache(t *testing.T) {
	inner := &countingEncoder{dims: 4}
	enc := NewCachedEncoder(inner, time.Hour)

	ctx := context.Background()
	if _, err := enc.Encode(ctx, "what happened yesterday"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := enc.Encode(ctx, "what happened yesterday"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected inner encoder called once, got %d", inner.calls)
	}
}

func TestCachedEncoder_DifferentQueriesMiss(t *testing.T) {
	inner := &countingEncoder{dims: 4}
	enc := NewCachedEncoder(inner, time.Hour)

	ctx := context.Background()
	enc.Encode(ctx, "question one")
	enc.Encode(ctx, "question two")

	if inner.calls != 2 {
		t.Fatalf("expected inner encoder called twice, got %d", inner.calls)
	}
}
