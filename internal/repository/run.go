package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/personal-vault/internal/model"
)

// RunRepo persists ask orchestrator run state: the run itself, its SQL
// attempts, citations, and feedback.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo creates a RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create inserts a new run in the accepted state.
func (r *RunRepo) Create(ctx context.Context, run *model.QueryRun) (string, error) {
	var runID string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO query_runs (status, question, user_id, session_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING run_id`,
		string(run.Status), run.Question, run.UserID, run.SessionID, time.Now().UTC(),
	).Scan(&runID)
	if err != nil {
		return "", fmt.Errorf("repository.Create: %w", err)
	}
	return runID, nil
}

// Finalize writes the terminal state of a run: answer or error, outcome
// classification, retry count, and any missing-evidence notes.
func (r *RunRepo) Finalize(ctx context.Context, run *model.QueryRun) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE query_runs SET
			status = $1, answer = $2, error = $3, outcome_class = $4,
			retries = $5, missing_evidence = $6, updated_at = $7
		WHERE run_id = $8`,
		string(run.Status), run.Answer, run.Error, run.OutcomeClass,
		run.Retries, run.MissingEvidence, time.Now().UTC(), run.RunID,
	)
	if err != nil {
		return fmt.Errorf("repository.Finalize: %w", err)
	}
	return nil
}

// GetByID fetches a single run.
func (r *RunRepo) GetByID(ctx context.Context, runID string) (*model.QueryRun, error) {
	run := &model.QueryRun{}
	var status string
	var outcomeClass *string
	err := r.pool.QueryRow(ctx, `
		SELECT run_id, status, question, user_id, session_id, answer, error,
			outcome_class, retries, missing_evidence, created_at, updated_at
		FROM query_runs WHERE run_id = $1`, runID,
	).Scan(
		&run.RunID, &status, &run.Question, &run.UserID, &run.SessionID, &run.Answer, &run.Error,
		&outcomeClass, &run.Retries, &run.MissingEvidence, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetByID: %w", err)
	}
	run.Status = model.RunStatus(status)
	if outcomeClass != nil {
		oc := model.OutcomeClass(*outcomeClass)
		run.OutcomeClass = &oc
	}
	return run, nil
}

// InsertSQLAttempt records one SQL draft attempt for a run.
func (r *RunRepo) InsertSQLAttempt(ctx context.Context, a *model.SqlAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sql_attempts (run_id, attempt_number, sql, error, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.RunID, a.AttemptNumber, a.SQL, a.Error, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository.InsertSQLAttempt: %w", err)
	}
	return nil
}

// InsertCitations stores the ranked evidence citations for a run and
// returns them with their generated citation_id populated.
func (r *RunRepo) InsertCitations(ctx context.Context, citations []model.Citation) ([]model.Citation, error) {
	out := make([]model.Citation, len(citations))
	copy(out, citations)
	for i := range out {
		c := &out[i]
		err := r.pool.QueryRow(ctx, `
			INSERT INTO citations (run_id, chunk_id, rank, score, source, title, snippet, author, timestamp_utc, deep_link, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING citation_id`,
			c.RunID, c.ChunkID, c.Rank, c.Score, c.Source, c.Title, c.Snippet, c.Author, c.TimestampUTC, c.DeepLink, time.Now().UTC(),
		).Scan(&c.CitationID)
		if err != nil {
			return nil, fmt.Errorf("repository.InsertCitations: citation %d: %w", i, err)
		}
	}
	return out, nil
}

// GetCitation fetches a single citation by id.
func (r *RunRepo) GetCitation(ctx context.Context, citationID string) (*model.Citation, error) {
	c := &model.Citation{}
	err := r.pool.QueryRow(ctx, `
		SELECT citation_id, run_id, chunk_id, rank, score, source, title, snippet, author, timestamp_utc, deep_link, created_at
		FROM citations WHERE citation_id = $1`, citationID,
	).Scan(
		&c.CitationID, &c.RunID, &c.ChunkID, &c.Rank, &c.Score, &c.Source, &c.Title, &c.Snippet, &c.Author, &c.TimestampUTC, &c.DeepLink, &c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.GetCitation: %w", err)
	}
	return c, nil
}

// InsertFeedback records a correctness verdict and any human correction for a run.
func (r *RunRepo) InsertFeedback(ctx context.Context, f *model.FeedbackEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO feedback_events (run_id, verdict, comment, corrected_answer, corrected_sql, corrected_filters, corrected_source_scope, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.RunID, string(f.Verdict), f.Comment, f.CorrectedAnswer, f.CorrectedSQL, f.CorrectedFilters, f.CorrectedSourceScope, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("repository.InsertFeedback: %w", err)
	}
	return nil
}

// ListFeedbackSince returns feedback events created at or after since, used
// by the eval runner to compute the recent correctness rate.
func (r *RunRepo) ListFeedbackSince(ctx context.Context, since time.Time) ([]model.FeedbackEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, run_id, verdict, comment, corrected_answer, corrected_sql, corrected_filters, corrected_source_scope, created_at
		FROM feedback_events WHERE created_at >= $1 ORDER BY created_at DESC`, since,
	)
	if err != nil {
		return nil, fmt.Errorf("repository.ListFeedbackSince: %w", err)
	}
	defer rows.Close()

	var out []model.FeedbackEvent
	for rows.Next() {
		var f model.FeedbackEvent
		var verdict string
		if err := rows.Scan(
			&f.ID, &f.RunID, &verdict, &f.Comment, &f.CorrectedAnswer, &f.CorrectedSQL, &f.CorrectedFilters, &f.CorrectedSourceScope, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("repository.ListFeedbackSince: scan: %w", err)
		}
		f.Verdict = model.FeedbackVerdict(verdict)
		out = append(out, f)
	}
	return out, rows.Err()
}
