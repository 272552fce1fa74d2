package sqlguard

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Result is the JSON-safe response from an executed read-only query.
type Result struct {
	Rows       []map[string]any `json:"rows"`
	RowCount   int              `json:"row_count"`
	DurationMS int64            `json:"duration_ms"`
}

// Executor runs validated SQL inside a read-only transaction with a
// transaction-scoped (SET LOCAL) statement timeout.
type Executor struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewExecutor creates an Executor.
func NewExecutor(pool *pgxpool.Pool, cfg Config) *Executor {
	return &Executor{pool: pool, cfg: cfg}
}

// Execute validates sql and runs it read-only, serializing every row to
// JSON-safe primitives.
func (e *Executor) Execute(ctx context.Context, rawSQL string) (*Result, error) {
	normalized, err := Validate(rawSQL, e.cfg)
	if err != nil {
		return nil, err
	}

	tx, err := e.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("sqlguard.Execute: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.cfg.StatementTimeoutMS)); err != nil {
		return nil, fmt.Errorf("sqlguard.Execute: set statement_timeout: %w", err)
	}

	start := time.Now()
	rows, err := tx.Query(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("sqlguard.Execute: query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("sqlguard.Execute: scan row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = jsonSafe(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlguard.Execute: rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("sqlguard.Execute: commit: %w", err)
	}

	return &Result{
		Rows:       out,
		RowCount:   len(out),
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// jsonSafe converts pgx's decoded Go types into values the standard
// encoding/json package serializes without surprises (time.Time to RFC3339,
// []byte to string, anything else passed through as-is).
func jsonSafe(v any) any {
	switch typed := v.(type) {
	case time.Time:
		return typed.UTC().Format(time.RFC3339)
	case []byte:
		return string(typed)
	case [16]byte:
		return fmt.Sprintf("%x", typed)
	default:
		return typed
	}
}
