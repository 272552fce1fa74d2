// Package eval computes and persists a memory-efficacy snapshot from
// ask-run telemetry: how often memory-assisted runs avoid repeated
// failures, how much memory cuts retries, and how reliably answers carry
// valid citations.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/connexus-ai/personal-vault/internal/repository"
)

// Summary is the computed memory quality snapshot for one eval run.
type Summary struct {
	RunID                    string  `json:"run_id"`
	RepeatedErrorReductionPct float64 `json:"repeated_error_reduction_pct"`
	AvgRetryReductionPct     float64 `json:"avg_retry_reduction_pct"`
	CitationCompliancePct    float64 `json:"citation_compliance_pct"`
	RunsAnalyzed             int     `json:"runs_analyzed"`
}

// Store is the persistence surface the runner needs.
type Store interface {
	EvalWindowStats(ctx context.Context) (repository.EvalWindowStats, error)
	CreateEvalRun(ctx context.Context, runID string, status string, resultsJSON json.RawMessage) error
}

// Runner computes and persists memory eval snapshots.
type Runner struct {
	store  Store
	newID  func() string
}

// New creates a Runner. newID supplies the eval run's identifier; callers
// typically pass a uuid generator since this package avoids randomness to
// stay deterministic for callers that need reproducible test runs.
func New(store Store, newID func() string) *Runner {
	return &Runner{store: store, newID: newID}
}

// Run computes the current window's memory-efficacy summary and persists
// it alongside the raw stats it was derived from.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	stats, err := r.store.EvalWindowStats(ctx)
	if err != nil {
		slog.Error("[EVAL] window stats query failed", "error", err)
		return Summary{}, fmt.Errorf("eval.Run: %w", err)
	}

	runsAnalyzed := max(1, stats.TotalRuns)

	repeatedErrorReduction := round2(math.Max(0, 100.0-(float64(stats.RepeatedFailures)/float64(runsAnalyzed))*100.0))
	avgRetryReduction := round2(math.Min(100.0, (float64(stats.MemoryAppliedEvents)/float64(runsAnalyzed))*25.0))
	citationCompliance := round2((float64(stats.RunsWithCitations) / float64(runsAnalyzed)) * 100.0)

	summary := Summary{
		RunID:                     r.newID(),
		RepeatedErrorReductionPct: repeatedErrorReduction,
		AvgRetryReductionPct:      avgRetryReduction,
		CitationCompliancePct:     citationCompliance,
		RunsAnalyzed:              stats.TotalRuns,
	}

	payload := map[string]any{
		"summary": summary,
		"stats": map[string]any{
			"total_runs":            stats.TotalRuns,
			"success_runs":          stats.SuccessRuns,
			"runs_with_memory":      stats.RunsWithMemory,
			"memory_applied_events": stats.MemoryAppliedEvents,
			"repeated_failures":     stats.RepeatedFailures,
			"runs_with_citations":   stats.RunsWithCitations,
		},
	}
	resultsJSON, err := json.Marshal(payload)
	if err != nil {
		return Summary{}, fmt.Errorf("eval.Run: marshal results: %w", err)
	}

	if err := r.store.CreateEvalRun(ctx, summary.RunID, "success", resultsJSON); err != nil {
		return Summary{}, fmt.Errorf("eval.Run: %w", err)
	}
	slog.Info("[EVAL] run persisted", "run_id", summary.RunID, "runs_analyzed", stats.TotalRuns,
		"repeated_error_reduction_pct", repeatedErrorReduction, "citation_compliance_pct", citationCompliance)
	return summary, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
