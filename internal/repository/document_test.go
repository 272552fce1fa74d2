package repository

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/connexus-ai/personal-vault/internal/model"
)

func setupDocRepo(t *testing.T) (*DocumentRepo, func()) {
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

	return NewDocumentRepo(pool), func() { pool.Close() }
}

func newTestDoc(source model.Source, externalID string) *model.Document {
	now := time.Now().UTC()
	title := "Test Document"
	return &model.Document{
		DocID:      uuid.New().String(),
		Source:     source,
		ExternalID: externalID,
		Title:      &title,
		BodyText:   "This is the body of a test document about quarterly planning.",
		Metadata:   json.RawMessage(`{"foo":"bar"}`),
		Checksum:   "checksum-" + externalID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestDocumentRepo_UpsertInsertsNew(t *testing.T) {
	repo, cleanup := setupDocRepo(t)
	defer cleanup()

	doc := newTestDoc(model.SourceMail, uuid.New().String())
	ctx := context.Background()

	docID, err := repo.Upsert(ctx, doc)
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if docID == "" {
		t.Fatal("expected non-empty doc_id")
	}

	got, err := repo.GetByID(ctx, docID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Checksum != doc.Checksum {
		t.Errorf("Checksum = %q, want %q", got.Checksum, doc.Checksum)
	}
}

func TestDocumentRepo_UpsertUpdatesOnConflict(t *testing.T) {
	repo, cleanup := setupDocRepo(t)
	defer cleanup()

	externalID := uuid.New().String()
	doc := newTestDoc(model.SourceMail, externalID)
	ctx := context.Background()

	docID, err := repo.Upsert(ctx, doc)
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	doc.Checksum = "updated-checksum"
	doc.BodyText = "updated body"
	updatedID, err := repo.Upsert(ctx, doc)
	if err != nil {
		t.Fatalf("Upsert() second call error: %v", err)
	}
	if updatedID != docID {
		t.Errorf("expected same doc_id on conflict, got %q vs %q", updatedID, docID)
	}

	got, err := repo.GetByID(ctx, docID)
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if got.Checksum != "updated-checksum" {
		t.Errorf("Checksum = %q, want %q", got.Checksum, "updated-checksum")
	}
}

func TestDocumentRepo_GetChecksum_NotFound(t *testing.T) {
	repo, cleanup := setupDocRepo(t)
	defer cleanup()

	_, err := repo.GetChecksum(context.Background(), model.SourceFiles, uuid.New().String())
	if err == nil {
		t.Fatal("expected error for unknown (source, external_id)")
	}
}

func TestDocumentRepo_DeleteBySource(t *testing.T) {
	repo, cleanup := setupDocRepo(t)
	defer cleanup()

	ctx := context.Background()
	doc := newTestDoc(model.SourceChatA, uuid.New().String())
	docID, err := repo.Upsert(ctx, doc)
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	if err := repo.DeleteBySource(ctx, model.SourceChatA); err != nil {
		t.Fatalf("DeleteBySource() error: %v", err)
	}

	if _, err := repo.GetByID(ctx, docID); err == nil {
		t.Fatal("expected document to be gone after DeleteBySource")
	}
}
