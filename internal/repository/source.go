package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/personal-vault/internal/model"
)

// SourceRepo persists per-connector sync state and the recursive-file-scan
// allowlist.
type SourceRepo struct {
	pool *pgxpool.Pool
}

// NewSourceRepo creates a SourceRepo.
func NewSourceRepo(pool *pgxpool.Pool) *SourceRepo {
	return &SourceRepo{pool: pool}
}

// GetState fetches a source's connection state, returning the zero value
// (disconnected, nil cursor) if the source has never synced.
func (r *SourceRepo) GetState(ctx context.Context, source model.Source) (model.SourceState, error) {
	state := model.SourceState{Source: source}
	var cursorJSON []byte
	err := r.pool.QueryRow(ctx,
		`SELECT connected, last_sync_at, cursor, updated_at FROM source_state WHERE source = $1`,
		string(source),
	).Scan(&state.Connected, &state.LastSyncAt, &cursorJSON, &state.UpdatedAt)
	if err != nil {
		return state, nil //nolint:nilerr // no row yet means disconnected, not an error
	}
	state.Cursor = json.RawMessage(cursorJSON)
	return state, nil
}

// ListStates returns the sync state of every known source.
func (r *SourceRepo) ListStates(ctx context.Context) ([]model.SourceState, error) {
	rows, err := r.pool.Query(ctx, `SELECT source, connected, last_sync_at, cursor, updated_at FROM source_state`)
	if err != nil {
		return nil, fmt.Errorf("repository.ListStates: %w", err)
	}
	defer rows.Close()

	var out []model.SourceState
	for rows.Next() {
		var s model.SourceState
		var source string
		var cursorJSON []byte
		if err := rows.Scan(&source, &s.Connected, &s.LastSyncAt, &cursorJSON, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository.ListStates: scan: %w", err)
		}
		s.Source = model.Source(source)
		s.Cursor = json.RawMessage(cursorJSON)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetConnected flips the connected flag for a source, creating the row if
// it doesn't exist yet.
func (r *SourceRepo) SetConnected(ctx context.Context, source model.Source, connected bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO source_state (source, connected, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source) DO UPDATE SET connected = EXCLUDED.connected, updated_at = EXCLUDED.updated_at`,
		string(source), connected, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository.SetConnected: %w", err)
	}
	return nil
}

// SaveCursor persists the opaque sync cursor and bumps last_sync_at after a
// successful sync pass.
func (r *SourceRepo) SaveCursor(ctx context.Context, source model.Source, cursor json.RawMessage) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO source_state (source, connected, last_sync_at, cursor, updated_at)
		VALUES ($1, true, $2, $3, $2)
		ON CONFLICT (source) DO UPDATE SET last_sync_at = EXCLUDED.last_sync_at, cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at`,
		string(source), now, nullableJSON(cursor),
	)
	if err != nil {
		return fmt.Errorf("repository.SaveCursor: %w", err)
	}
	return nil
}

// ReplaceAllowlist atomically replaces the file-scan allowlist with paths.
func (r *SourceRepo) ReplaceAllowlist(ctx context.Context, paths []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository.ReplaceAllowlist: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM file_allowlist`); err != nil {
		return fmt.Errorf("repository.ReplaceAllowlist: clear: %w", err)
	}
	now := time.Now().UTC()
	for _, p := range paths {
		if _, err := tx.Exec(ctx, `INSERT INTO file_allowlist (path, created_at) VALUES ($1, $2)`, p, now); err != nil {
			return fmt.Errorf("repository.ReplaceAllowlist: insert %q: %w", p, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository.ReplaceAllowlist: commit: %w", err)
	}
	return nil
}

// ListAllowlist returns every allowlisted path.
func (r *SourceRepo) ListAllowlist(ctx context.Context) ([]model.FileAllowlistEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT path, created_at FROM file_allowlist ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("repository.ListAllowlist: %w", err)
	}
	defer rows.Close()

	var out []model.FileAllowlistEntry
	for rows.Next() {
		var e model.FileAllowlistEntry
		if err := rows.Scan(&e.Path, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository.ListAllowlist: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
