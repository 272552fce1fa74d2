package handler

import (
	"context"
	"net/http"

	"github.com/connexus-ai/personal-vault/internal/eval"
)

// EvalRunner computes and persists a memory-efficacy snapshot.
type EvalRunner interface {
	Run(ctx context.Context) (eval.Summary, error)
}

// RunMemoryEval handles POST /api/memory/eval: computes the current memory
// quality summary and persists it.
func RunMemoryEval(runner EvalRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := runner.Run(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to compute eval summary")
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: summary})
	}
}
