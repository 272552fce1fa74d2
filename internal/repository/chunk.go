package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/connexus-ai/personal-vault/internal/model"
)

// ChunkRepo persists chunks and their embeddings, and implements the
// preferred fused-score retrieval path (vector distance + full-text rank).
type ChunkRepo struct {
	pool *pgxpool.Pool
}

// NewChunkRepo creates a ChunkRepo.
func NewChunkRepo(pool *pgxpool.Pool) *ChunkRepo {
	return &ChunkRepo{pool: pool}
}

// BulkInsert stores chunks for a document in one batch, replacing any
// existing chunks for that doc_id first so re-ingestion is idempotent.
func (r *ChunkRepo) BulkInsert(ctx context.Context, docID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.BulkInsert: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("repository.BulkInsert: clear: %w", err)
	}

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, c := range chunks {
		chunkID := c.ChunkID
		if chunkID == "" {
			chunkID = uuid.New().String()
		}
		embedding := pgvector.NewVector(c.EmbeddingSerialized)
		batch.Queue(`
			INSERT INTO chunks (chunk_id, doc_id, source, chunk_index, text, token_count, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			chunkID, docID, string(c.Source), c.ChunkIndex, c.Text, c.TokenCount, embedding, now,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("repository.BulkInsert: chunk %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("repository.BulkInsert: close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.BulkInsert: commit: %w", err)
	}
	return nil
}

// FusedSearch implements the preferred retrieval path: a single SQL query
// combining cosine distance against queryVec with ts_rank full-text score,
// fused as (1/(1+cos_dist))*0.6 + ts_rank*0.4, clamped to [0,1]. Results are
// scoped by an optional source filter (nil means all sources).
func (r *ChunkRepo) FusedSearch(ctx context.Context, queryVec []float32, queryText string, topK int, sources []model.Source) ([]model.ChunkWithDocument, error) {
	embedding := pgvector.NewVector(queryVec)

	query := `
		SELECT
			c.chunk_id, c.doc_id, c.source, c.chunk_index, c.text, c.token_count, c.created_at,
			d.title, d.author, d.timestamp_utc, d.deep_link,
			LEAST(1.0, GREATEST(0.0,
				(1.0 / (1.0 + (c.embedding <=> $1::vector))) * 0.6 +
				ts_rank(to_tsvector('english', c.text), plainto_tsquery('english', $2)) * 0.4
			)) AS fused_score
		FROM chunks c
		JOIN documents d ON c.doc_id = d.doc_id
		WHERE ($3::text[] IS NULL OR c.source = ANY($3))
		ORDER BY fused_score DESC
		LIMIT $4`

	var sourceFilter []string
	if len(sources) > 0 {
		sourceFilter = make([]string, len(sources))
		for i, s := range sources {
			sourceFilter[i] = string(s)
		}
	}

	rows, err := r.pool.Query(ctx, query, embedding, queryText, sourceFilter, topK)
	if err != nil {
		return nil, fmt.Errorf("repository.FusedSearch: %w", err)
	}
	defer rows.Close()

	var results []model.ChunkWithDocument
	for rows.Next() {
		var cd model.ChunkWithDocument
		var source string
		if err := rows.Scan(
			&cd.ChunkID, &cd.DocID, &source, &cd.ChunkIndex, &cd.Text, &cd.TokenCount, &cd.CreatedAt,
			&cd.DocTitle, &cd.DocAuthor, &cd.DocTimestampUTC, &cd.DocDeepLink, &cd.Score,
		); err != nil {
			return nil, fmt.Errorf("repository.FusedSearch: scan: %w", err)
		}
		cd.Source = model.Source(source)
		results = append(results, cd)
	}
	return results, rows.Err()
}

// ListByDocSources fetches up to limit chunks belonging to documents from
// the given sources, ordered by document timestamp desc, used by the
// in-process fallback scoring path when no vector index is available.
func (r *ChunkRepo) ListByDocSources(ctx context.Context, sources []model.Source, limit int) ([]model.ChunkWithDocument, error) {
	var sourceFilter []string
	if len(sources) > 0 {
		sourceFilter = make([]string, len(sources))
		for i, s := range sources {
			sourceFilter[i] = string(s)
		}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT
			c.chunk_id, c.doc_id, c.source, c.chunk_index, c.text, c.token_count, c.created_at, c.embedding,
			d.title, d.author, d.timestamp_utc, d.deep_link
		FROM chunks c
		JOIN documents d ON c.doc_id = d.doc_id
		WHERE ($1::text[] IS NULL OR c.source = ANY($1))
		ORDER BY d.timestamp_utc DESC NULLS LAST
		LIMIT $2`,
		sourceFilter, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.ListByDocSources: %w", err)
	}
	defer rows.Close()

	var results []model.ChunkWithDocument
	for rows.Next() {
		var cd model.ChunkWithDocument
		var source string
		var embedding pgvector.Vector
		if err := rows.Scan(
			&cd.ChunkID, &cd.DocID, &source, &cd.ChunkIndex, &cd.Text, &cd.TokenCount, &cd.CreatedAt, &embedding,
			&cd.DocTitle, &cd.DocAuthor, &cd.DocTimestampUTC, &cd.DocDeepLink,
		); err != nil {
			return nil, fmt.Errorf("repository.ListByDocSources: scan: %w", err)
		}
		cd.Source = model.Source(source)
		cd.Embedding = embedding.Slice()
		results = append(results, cd)
	}
	return results, rows.Err()
}

// GetByID fetches a single chunk by chunk_id, used to resolve a citation.
func (r *ChunkRepo) GetByID(ctx context.Context, chunkID string) (*model.ChunkWithDocument, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT
			c.chunk_id, c.doc_id, c.source, c.chunk_index, c.text, c.token_count, c.created_at,
			d.title, d.author, d.timestamp_utc, d.deep_link
		FROM chunks c
		JOIN documents d ON c.doc_id = d.doc_id
		WHERE c.chunk_id = $1`, chunkID)

	var cd model.ChunkWithDocument
	var source string
	err := row.Scan(
		&cd.ChunkID, &cd.DocID, &source, &cd.ChunkIndex, &cd.Text, &cd.TokenCount, &cd.CreatedAt,
		&cd.DocTitle, &cd.DocAuthor, &cd.DocTimestampUTC, &cd.DocDeepLink,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}
	cd.Source = model.Source(source)
	return &cd, nil
}
