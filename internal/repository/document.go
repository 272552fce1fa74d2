package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/personal-vault/internal/model"
)

// DocumentRepo persists ingested documents, keyed by (source, external_id).
type DocumentRepo struct {
	pool *pgxpool.Pool
}

// NewDocumentRepo creates a DocumentRepo.
func NewDocumentRepo(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool}
}

// Upsert inserts a document or, if (source, external_id) already exists,
// updates it in place and returns the resolved doc_id. The checksum lets
// callers skip re-chunking unchanged content.
func (r *DocumentRepo) Upsert(ctx context.Context, doc *model.Document) (string, error) {
	var docID string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO documents (
			doc_id, source, external_id, thread_id, account_id, title, body_text,
			author, participants, timestamp_utc, deep_link, metadata, checksum,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14
		)
		ON CONFLICT (source, external_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			account_id = EXCLUDED.account_id,
			title = EXCLUDED.title,
			body_text = EXCLUDED.body_text,
			author = EXCLUDED.author,
			participants = EXCLUDED.participants,
			timestamp_utc = EXCLUDED.timestamp_utc,
			deep_link = EXCLUDED.deep_link,
			metadata = EXCLUDED.metadata,
			checksum = EXCLUDED.checksum,
			updated_at = EXCLUDED.updated_at
		RETURNING doc_id`,
		doc.DocID, string(doc.Source), doc.ExternalID, doc.ThreadID, doc.AccountID, doc.Title, doc.BodyText,
		doc.Author, doc.Participants, doc.TimestampUTC, doc.DeepLink, nullableJSON(doc.Metadata), doc.Checksum,
		doc.CreatedAt,
	).Scan(&docID)
	if err != nil {
		return "", fmt.Errorf("repository.Upsert: %w", err)
	}
	return docID, nil
}

// GetChecksum returns the stored checksum for (source, external_id), or
// pgx.ErrNoRows if the document has never been ingested.
func (r *DocumentRepo) GetChecksum(ctx context.Context, source model.Source, externalID string) (string, error) {
	var checksum string
	err := r.pool.QueryRow(ctx,
		`SELECT checksum FROM documents WHERE source = $1 AND external_id = $2`,
		string(source), externalID,
	).Scan(&checksum)
	if err != nil {
		return "", err
	}
	return checksum, nil
}

// GetByID fetches a single document by doc_id.
func (r *DocumentRepo) GetByID(ctx context.Context, docID string) (*model.Document, error) {
	doc := &model.Document{}
	var source string
	var metaJSON []byte

	err := r.pool.QueryRow(ctx, `
		SELECT doc_id, source, external_id, thread_id, account_id, title, body_text,
			author, participants, timestamp_utc, deep_link, metadata, checksum,
			created_at, updated_at
		FROM documents WHERE doc_id = $1`, docID,
	).Scan(
		&doc.DocID, &source, &doc.ExternalID, &doc.ThreadID, &doc.AccountID, &doc.Title, &doc.BodyText,
		&doc.Author, &doc.Participants, &doc.TimestampUTC, &doc.DeepLink, &metaJSON, &doc.Checksum,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}
	doc.Source = model.Source(source)
	doc.Metadata = json.RawMessage(metaJSON)
	return doc, nil
}

// DeleteBySource removes every document (and, via cascade, chunk) for a
// source. Used when a connector is disconnected.
func (r *DocumentRepo) DeleteBySource(ctx context.Context, source model.Source) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE source = $1`, string(source))
	if err != nil {
		return fmt.Errorf("repository.DeleteBySource: %w", err)
	}
	return nil
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
