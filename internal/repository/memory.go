package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/personal-vault/internal/model"
)

// MemoryRepo persists memory candidates, promoted memory items, and their
// lifecycle events.
type MemoryRepo struct {
	pool *pgxpool.Pool
}

// NewMemoryRepo creates a MemoryRepo.
func NewMemoryRepo(pool *pgxpool.Pool) *MemoryRepo {
	return &MemoryRepo{pool: pool}
}

// InsertCandidate stores a newly drafted candidate in proposed status.
func (r *MemoryRepo) InsertCandidate(ctx context.Context, c *model.MemoryCandidate) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO memory_candidates (
			run_id, kind, scope, title, learning, confidence,
			evidence_citation_ids, status, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		c.RunID, string(c.Kind), string(c.Scope), c.Title, c.Learning, c.Confidence,
		c.EvidenceCitationIDs, string(c.Status), nullableJSON(c.Metadata), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("repository.InsertCandidate: %w", err)
	}
	return id, nil
}

// ListCandidates returns candidates filtered by status, newest first.
func (r *MemoryRepo) ListCandidates(ctx context.Context, status model.CandidateStatus) ([]model.MemoryCandidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, run_id, kind, scope, title, learning, confidence,
			evidence_citation_ids, status, metadata, created_at, updated_at
		FROM memory_candidates WHERE status = $1 ORDER BY created_at DESC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("repository.ListCandidates: %w", err)
	}
	defer rows.Close()

	var out []model.MemoryCandidate
	for rows.Next() {
		var c model.MemoryCandidate
		var kind, scope, candStatus string
		var metaJSON []byte
		if err := rows.Scan(
			&c.ID, &c.RunID, &kind, &scope, &c.Title, &c.Learning, &c.Confidence,
			&c.EvidenceCitationIDs, &candStatus, &metaJSON, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository.ListCandidates: scan: %w", err)
		}
		c.Kind = model.MemoryKind(kind)
		c.Scope = model.MemoryScope(scope)
		c.Status = model.CandidateStatus(candStatus)
		c.Metadata = json.RawMessage(metaJSON)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCandidate fetches a single candidate by id.
func (r *MemoryRepo) GetCandidate(ctx context.Context, id int64) (*model.MemoryCandidate, error) {
	var c model.MemoryCandidate
	var kind, scope, candStatus string
	var metaJSON []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, run_id, kind, scope, title, learning, confidence,
			evidence_citation_ids, status, metadata, created_at, updated_at
		FROM memory_candidates WHERE id = $1`, id,
	).Scan(
		&c.ID, &c.RunID, &kind, &scope, &c.Title, &c.Learning, &c.Confidence,
		&c.EvidenceCitationIDs, &candStatus, &metaJSON, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetCandidate: %w", err)
	}
	c.Kind = model.MemoryKind(kind)
	c.Scope = model.MemoryScope(scope)
	c.Status = model.CandidateStatus(candStatus)
	c.Metadata = json.RawMessage(metaJSON)
	return &c, nil
}

// SetCandidateStatus moves a candidate to approved or rejected.
func (r *MemoryRepo) SetCandidateStatus(ctx context.Context, id int64, status model.CandidateStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE memory_candidates SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.SetCandidateStatus: %w", err)
	}
	return nil
}

// InsertItem promotes an approved candidate into an active memory item.
func (r *MemoryRepo) InsertItem(ctx context.Context, item *model.MemoryItem) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO memory_items (
			kind, scope, statement, activation_state, confidence, source,
			supersedes_id, last_verified_at, expiry_at, metadata, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id`,
		string(item.Kind), string(item.Scope), item.Statement, string(item.ActivationState),
		item.Confidence, item.Source, item.SupersedesID, item.LastVerifiedAt, item.ExpiryAt,
		nullableJSON(item.Metadata), time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("repository.InsertItem: %w", err)
	}
	return id, nil
}

// ListActive returns every active memory item in scope, used by SelectForQuestion.
func (r *MemoryRepo) ListActive(ctx context.Context) ([]model.MemoryItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, scope, statement, activation_state, confidence, source,
			supersedes_id, last_verified_at, expiry_at, metadata, created_at, updated_at
		FROM memory_items
		WHERE activation_state = 'active' AND (expiry_at IS NULL OR expiry_at > now())
		ORDER BY confidence DESC, last_verified_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.ListActive: %w", err)
	}
	defer rows.Close()
	return scanMemoryItems(rows)
}

// SetActivationState transitions an item to stale or deprecated, optionally
// recording which item superseded it.
func (r *MemoryRepo) SetActivationState(ctx context.Context, id int64, state model.ActivationState, supersedesID *int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE memory_items SET activation_state = $1, supersedes_id = COALESCE($2, supersedes_id), updated_at = $3 WHERE id = $4`,
		string(state), supersedesID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("repository.SetActivationState: %w", err)
	}
	return nil
}

// InsertEvent records a memory lifecycle transition for audit purposes.
func (r *MemoryRepo) InsertEvent(ctx context.Context, e *model.MemoryEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO memory_events (event, reason, memory_item_id, memory_candidate_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		string(e.Event), e.Reason, e.MemoryItemID, e.MemoryCandidateID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository.InsertEvent: %w", err)
	}
	return nil
}

// InsertUsage records whether a memory item influenced an ask run, used by
// the eval runner's memory-application rate.
func (r *MemoryRepo) InsertUsage(ctx context.Context, u *model.MemoryUsage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO memory_usage (run_id, memory_item_id, influence_score, applied, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id, memory_item_id) DO UPDATE SET
			influence_score = EXCLUDED.influence_score,
			applied = EXCLUDED.applied,
			reason = EXCLUDED.reason`,
		u.RunID, u.MemoryItemID, u.InfluenceScore, u.Applied, u.Reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository.InsertUsage: %w", err)
	}
	return nil
}

// EvalWindowStats is the raw telemetry the eval runner aggregates into
// its memory-efficacy summary.
type EvalWindowStats struct {
	TotalRuns           int
	SuccessRuns         int
	RunsWithMemory      int
	MemoryAppliedEvents int
	RepeatedFailures    int
	RunsWithCitations   int
}

// EvalWindowStats computes the counts behind the memory eval summary: total
// and successful runs, distinct runs that used memory, applied-memory
// events, failed runs with a classified outcome (a proxy for repeated,
// recognized failures), and distinct runs carrying at least one citation.
func (r *MemoryRepo) EvalWindowStats(ctx context.Context) (EvalWindowStats, error) {
	var s EvalWindowStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM query_runs),
			(SELECT count(*) FROM query_runs WHERE status = 'success'),
			(SELECT count(DISTINCT run_id) FROM memory_usage),
			(SELECT count(*) FROM memory_usage WHERE applied = true),
			(SELECT count(*) FROM query_runs WHERE status = 'failed' AND outcome_class IS NOT NULL),
			(SELECT count(DISTINCT run_id) FROM citations)`,
	).Scan(&s.TotalRuns, &s.SuccessRuns, &s.RunsWithMemory, &s.MemoryAppliedEvents, &s.RepeatedFailures, &s.RunsWithCitations)
	if err != nil {
		return EvalWindowStats{}, fmt.Errorf("repository.EvalWindowStats: %w", err)
	}
	return s, nil
}

// CreateEvalRun persists a memory eval snapshot for audit/history.
func (r *MemoryRepo) CreateEvalRun(ctx context.Context, runID string, status string, resultsJSON json.RawMessage) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO memory_eval_runs (run_id, status, results_json, created_at)
		VALUES ($1, $2, $3, $4)`,
		runID, status, resultsJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository.CreateEvalRun: %w", err)
	}
	return nil
}

func scanMemoryItems(rows pgx.Rows) ([]model.MemoryItem, error) {
	var out []model.MemoryItem
	for rows.Next() {
		var m model.MemoryItem
		var kind, scope, state string
		var metaJSON []byte
		if err := rows.Scan(
			&m.ID, &kind, &scope, &m.Statement, &state, &m.Confidence, &m.Source,
			&m.SupersedesID, &m.LastVerifiedAt, &m.ExpiryAt, &metaJSON, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository.scanMemoryItems: scan: %w", err)
		}
		m.Kind = model.MemoryKind(kind)
		m.Scope = model.MemoryScope(scope)
		m.ActivationState = model.ActivationState(state)
		m.Metadata = json.RawMessage(metaJSON)
		out = append(out, m)
	}
	return out, rows.Err()
}
