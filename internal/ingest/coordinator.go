// Package ingest drives one sync pass per connector: collect, chunk,
// embed, upsert, and merge the returned cursor.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/personal-vault/internal/chunker"
	"github.com/connexus-ai/personal-vault/internal/model"
	"github.com/connexus-ai/personal-vault/internal/oracle"
)

// chunkBatchSize bounds how many chunk rows are inserted per statement,
// respecting PostgreSQL's per-query parameter limit.
const chunkBatchSize = 1000

// docUpsertConcurrency bounds how many documents are upserted in parallel
// within one sync pass; each document's upsert-then-chunk-replace is its own
// store transaction, so documents are independent of one another.
const docUpsertConcurrency = 8

// SyncResult is what a Connector returns from one sync pass.
type SyncResult struct {
	Documents []model.Document
	Cursor    json.RawMessage
}

// SyncStats summarizes one completed Sync call for callers that report
// progress back to the user.
type SyncStats struct {
	SyncedDocuments int
	SyncedChunks    int
}

// Connector pulls new/changed documents from one personal data source.
type Connector interface {
	Source() model.Source
	Sync(ctx context.Context, cursor json.RawMessage) (SyncResult, error)
}

// DocumentStore persists documents, keyed by (source, external_id).
type DocumentStore interface {
	Upsert(ctx context.Context, doc *model.Document) (string, error)
}

// ChunkStore persists chunks for a document, replacing any prior set.
type ChunkStore interface {
	BulkInsert(ctx context.Context, docID string, chunks []model.Chunk) error
}

// SourceStore tracks per-connector sync cursors.
type SourceStore interface {
	GetState(ctx context.Context, source model.Source) (model.SourceState, error)
	SaveCursor(ctx context.Context, source model.Source, cursor json.RawMessage) error
}

var (
	syncMu      sync.Mutex
	syncRunning = make(map[model.Source]bool)
)

// Coordinator runs the collect → chunk → encode → upsert → cursor-merge
// pipeline for a single connector per call to Sync.
type Coordinator struct {
	docs    DocumentStore
	chunks  ChunkStore
	sources SourceStore
	chunker *chunker.Chunker
	encoder oracle.VectorEncoder
}

// New creates a Coordinator.
func New(docs DocumentStore, chunks ChunkStore, sources SourceStore, chunker *chunker.Chunker, encoder oracle.VectorEncoder) *Coordinator {
	return &Coordinator{docs: docs, chunks: chunks, sources: sources, chunker: chunker, encoder: encoder}
}

// Sync runs one pass of the pipeline for the given connector. Any failure
// aborts before the cursor is persisted, so the next call retries from the
// same point.
func (c *Coordinator) Sync(ctx context.Context, conn Connector) (SyncStats, error) {
	source := conn.Source()

	syncMu.Lock()
	if syncRunning[source] {
		syncMu.Unlock()
		return SyncStats{}, fmt.Errorf("ingest.Sync: source %s is already syncing", source)
	}
	syncRunning[source] = true
	syncMu.Unlock()
	defer func() {
		syncMu.Lock()
		delete(syncRunning, source)
		syncMu.Unlock()
	}()

	state, err := c.sources.GetState(ctx, source)
	if err != nil {
		return SyncStats{}, fmt.Errorf("ingest.Sync: get source state: %w", err)
	}

	slog.Info("ingest sync starting", "source", source)

	// Step 1: collect (payload, body_text) tuples, stripping null bytes.
	result, err := conn.Sync(ctx, state.Cursor)
	if err != nil {
		return SyncStats{}, fmt.Errorf("ingest.Sync: connector: %w", err)
	}
	for i := range result.Documents {
		result.Documents[i].BodyText = strings.ReplaceAll(result.Documents[i].BodyText, "\x00", "")
		if len(result.Documents[i].BodyText) > model.MaxBodyTextBytes {
			result.Documents[i].BodyText = result.Documents[i].BodyText[:model.MaxBodyTextBytes]
		}
	}
	slog.Info("ingest collected documents", "source", source, "count", len(result.Documents))
	if len(result.Documents) == 0 {
		if err := c.mergeCursor(ctx, source, state.Cursor, result.Cursor); err != nil {
			return SyncStats{}, err
		}
		return SyncStats{}, nil
	}

	// Step 2: chunk each body into one flat list with per-document offsets.
	var flatTexts []string
	offsets := make([]int, len(result.Documents)+1)
	for i, doc := range result.Documents {
		offsets[i] = len(flatTexts)
		flatTexts = append(flatTexts, c.chunker.Chunk(doc.BodyText)...)
	}
	offsets[len(result.Documents)] = len(flatTexts)
	slog.Info("ingest chunked documents", "source", source, "chunk_count", len(flatTexts))

	// Step 3: encode_batch once, distribute vectors back by offset.
	vectors, err := c.encoder.EncodeBatch(ctx, flatTexts)
	if err != nil {
		return SyncStats{}, fmt.Errorf("ingest.Sync: encode batch: %w", err)
	}

	// Step 4: upsert each document and bulk-insert its chunks (batched).
	// Documents are independent rows with their own transaction scope, so a
	// bounded worker group upserts them concurrently instead of one at a
	// time; the first failure cancels the group and aborts the whole sync.
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(docUpsertConcurrency)
	for i, doc := range result.Documents {
		i, doc := i, doc
		group.Go(func() error {
			docID, err := c.docs.Upsert(gctx, &doc)
			if err != nil {
				return fmt.Errorf("ingest.Sync: upsert document %s: %w", doc.ExternalID, err)
			}

			docTexts := flatTexts[offsets[i]:offsets[i+1]]
			docVectors := vectors[offsets[i]:offsets[i+1]]

			chunks := make([]model.Chunk, len(docTexts))
			for j, text := range docTexts {
				chunks[j] = model.Chunk{
					Source:              doc.Source,
					ChunkIndex:          j,
					Text:                text,
					TokenCount:          chunker.EstimateTokens(text),
					EmbeddingSerialized: docVectors[j],
					CreatedAt:           time.Now().UTC(),
				}
			}

			if err := c.bulkInsertChunks(gctx, docID, chunks); err != nil {
				return fmt.Errorf("ingest.Sync: insert chunks for %s: %w", doc.ExternalID, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return SyncStats{}, err
	}

	// Step 6: merge the returned cursor into the source's stored cursor.
	if err := c.mergeCursor(ctx, source, state.Cursor, result.Cursor); err != nil {
		return SyncStats{}, err
	}
	return SyncStats{SyncedDocuments: len(result.Documents), SyncedChunks: len(flatTexts)}, nil
}

// bulkInsertChunks splits chunks into batches of at most chunkBatchSize
// before delegating to the store, respecting the parameter-count limit of
// a single insert statement.
func (c *Coordinator) bulkInsertChunks(ctx context.Context, docID string, chunks []model.Chunk) error {
	for start := 0; start < len(chunks); start += chunkBatchSize {
		end := start + chunkBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := c.chunks.BulkInsert(ctx, docID, chunks[start:end]); err != nil {
			return err
		}
	}
	if len(chunks) == 0 {
		return c.chunks.BulkInsert(ctx, docID, nil)
	}
	return nil
}

// mergeCursor shallow-merges the connector's returned cursor into the
// previously stored cursor, stamping synced_at. Loading the old cursor
// first matters: a connector that only re-emits the fields it changed
// (rather than its whole cursor) would otherwise lose the fields it left
// out on this sync.
func (c *Coordinator) mergeCursor(ctx context.Context, source model.Source, oldCursor, newCursor json.RawMessage) error {
	merged := map[string]any{}
	if len(oldCursor) > 0 {
		if err := json.Unmarshal(oldCursor, &merged); err != nil {
			return fmt.Errorf("ingest.mergeCursor: unmarshal old cursor: %w", err)
		}
	}
	if len(newCursor) > 0 {
		var next map[string]any
		if err := json.Unmarshal(newCursor, &next); err != nil {
			return fmt.Errorf("ingest.mergeCursor: unmarshal new cursor: %w", err)
		}
		for k, v := range next {
			merged[k] = v
		}
	}
	merged["synced_at"] = time.Now().UTC().Format(time.RFC3339)

	out, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("ingest.mergeCursor: marshal: %w", err)
	}
	if err := c.sources.SaveCursor(ctx, source, out); err != nil {
		return fmt.Errorf("ingest.mergeCursor: save: %w", err)
	}
	slog.Info("ingest sync completed", "source", source)
	return nil
}
