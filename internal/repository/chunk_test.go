package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/personal-vault/internal/model"
)

func setupChunkRepo(t *testing.T) (*ChunkRepo, *DocumentRepo, func()) {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := NewPool(ctx, dbURL, 5)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	return NewChunkRepo(pool), NewDocumentRepo(pool), func() { pool.Close() }
}

func vecAt(axis int) []float32 {
	v := make([]float32, 768)
	v[axis] = 1.0
	return v
}

func TestChunkRepo_BulkInsertAndListByDocSources(t *testing.T) {
	repo, docRepo, cleanup := setupChunkRepo(t)
	defer cleanup()

	ctx := context.Background()
	doc := newTestDoc(model.SourceMail, uuid.New().String())
	docID, err := docRepo.Upsert(ctx, doc)
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	chunks := []model.Chunk{
		{Source: model.SourceMail, ChunkIndex: 0, Text: "quarterly revenue projections", TokenCount: 3, EmbeddingSerialized: vecAt(10)},
		{Source: model.SourceMail, ChunkIndex: 1, Text: "customer churn analysis", TokenCount: 3, EmbeddingSerialized: vecAt(20)},
	}
	if err := repo.BulkInsert(ctx, docID, chunks); err != nil {
		t.Fatalf("BulkInsert() error: %v", err)
	}

	got, err := repo.ListByDocSources(ctx, []model.Source{model.SourceMail}, 200)
	if err != nil {
		t.Fatalf("ListByDocSources() error: %v", err)
	}
	found := 0
	for _, c := range got {
		if c.DocID == docID {
			found++
		}
	}
	if found != 2 {
		t.Errorf("found %d chunks for doc, want 2", found)
	}
}

func TestChunkRepo_BulkInsertReplacesExisting(t *testing.T) {
	repo, docRepo, cleanup := setupChunkRepo(t)
	defer cleanup()

	ctx := context.Background()
	doc := newTestDoc(model.SourceFiles, uuid.New().String())
	docID, err := docRepo.Upsert(ctx, doc)
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	first := []model.Chunk{{Source: model.SourceFiles, ChunkIndex: 0, Text: "first version", EmbeddingSerialized: vecAt(30)}}
	if err := repo.BulkInsert(ctx, docID, first); err != nil {
		t.Fatalf("BulkInsert(first) error: %v", err)
	}

	second := []model.Chunk{
		{Source: model.SourceFiles, ChunkIndex: 0, Text: "second version a", EmbeddingSerialized: vecAt(31)},
		{Source: model.SourceFiles, ChunkIndex: 1, Text: "second version b", EmbeddingSerialized: vecAt(32)},
	}
	if err := repo.BulkInsert(ctx, docID, second); err != nil {
		t.Fatalf("BulkInsert(second) error: %v", err)
	}

	got, err := repo.ListByDocSources(ctx, []model.Source{model.SourceFiles}, 200)
	if err != nil {
		t.Fatalf("ListByDocSources() error: %v", err)
	}
	count := 0
	for _, c := range got {
		if c.DocID == docID {
			count++
		}
	}
	if count != 2 {
		t.Errorf("count after replace = %d, want 2", count)
	}
}

func TestChunkRepo_FusedSearchRanksMatchingVectorHighest(t *testing.T) {
	repo, docRepo, cleanup := setupChunkRepo(t)
	defer cleanup()

	ctx := context.Background()
	doc := newTestDoc(model.SourceMail, uuid.New().String())
	docID, err := docRepo.Upsert(ctx, doc)
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	chunks := []model.Chunk{
		{Source: model.SourceMail, ChunkIndex: 0, Text: "project alpha budget review", EmbeddingSerialized: vecAt(100)},
		{Source: model.SourceMail, ChunkIndex: 1, Text: "unrelated topic about gardening", EmbeddingSerialized: vecAt(200)},
	}
	if err := repo.BulkInsert(ctx, docID, chunks); err != nil {
		t.Fatalf("BulkInsert() error: %v", err)
	}

	results, err := repo.FusedSearch(ctx, vecAt(100), "project alpha budget", 10, []model.Source{model.SourceMail})
	if err != nil {
		t.Fatalf("FusedSearch() error: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].Score < results[len(results)-1].Score {
		t.Error("expected results sorted by descending fused score")
	}
}

func TestChunkRepo_GetByID_NotFound(t *testing.T) {
	repo, _, cleanup := setupChunkRepo(t)
	defer cleanup()

	_, err := repo.GetByID(context.Background(), uuid.New().String())
	if err == nil {
		t.Fatal("expected error for unknown chunk_id")
	}
}
