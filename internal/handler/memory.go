package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/personal-vault/internal/model"
)

// CandidateLister lists memory candidates awaiting or past review.
type CandidateLister interface {
	ListCandidates(ctx context.Context, status model.CandidateStatus) ([]model.MemoryCandidate, error)
}

// CandidateApprover approves a proposed candidate into an active memory item.
type CandidateApprover interface {
	ApproveCandidate(ctx context.Context, candidateID int64) (*model.MemoryItem, []int64, error)
}

// CandidateRejecter rejects a proposed candidate.
type CandidateRejecter interface {
	RejectCandidate(ctx context.Context, candidateID int64) error
}

// ItemDeprecator deprecates an active memory item.
type ItemDeprecator interface {
	DeprecateItem(ctx context.Context, itemID int64) error
}

// MemoryReviewDeps bundles the memory review handlers' dependencies.
type MemoryReviewDeps struct {
	Lister   CandidateLister
	Approver CandidateApprover
	Rejecter CandidateRejecter
	Deprecator ItemDeprecator
}

type candidateBody struct {
	ID                  int64    `json:"id"`
	Kind                string   `json:"kind"`
	Scope               string   `json:"scope"`
	Title               string   `json:"title"`
	Learning            string   `json:"learning"`
	Confidence          int      `json:"confidence"`
	EvidenceCitationIDs []string `json:"evidence_citation_ids"`
	Status              string   `json:"status"`
}

// ListMemoryCandidates handles GET /api/memory/candidates?status=proposed.
func ListMemoryCandidates(deps MemoryReviewDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := model.CandidateStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = model.CandidateProposed
		}

		candidates, err := deps.Lister.ListCandidates(r.Context(), status)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list candidates")
			return
		}

		out := make([]candidateBody, len(candidates))
		for i, c := range candidates {
			out[i] = candidateBody{
				ID: c.ID, Kind: string(c.Kind), Scope: string(c.Scope), Title: c.Title, Learning: c.Learning,
				Confidence: c.Confidence, EvidenceCitationIDs: nonNilStrings(c.EvidenceCitationIDs), Status: string(c.Status),
			}
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: out})
	}
}

// ApproveMemoryCandidate handles POST /api/memory/candidates/{id}/approve.
func ApproveMemoryCandidate(deps MemoryReviewDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseCandidateID(w, r)
		if !ok {
			return
		}
		item, demoted, err := deps.Approver.ApproveCandidate(r.Context(), id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to approve candidate")
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
			"item_id": item.ID, "demoted_item_ids": demoted,
		}})
	}
}

// RejectMemoryCandidate handles POST /api/memory/candidates/{id}/reject.
func RejectMemoryCandidate(deps MemoryReviewDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseCandidateID(w, r)
		if !ok {
			return
		}
		if err := deps.Rejecter.RejectCandidate(r.Context(), id); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to reject candidate")
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

// DeprecateMemoryItem handles POST /api/memory/items/{id}/deprecate.
func DeprecateMemoryItem(deps MemoryReviewDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseCandidateID(w, r)
		if !ok {
			return
		}
		if err := deps.Deprecator.DeprecateItem(r.Context(), id); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to deprecate item")
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}

func parseCandidateID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := parseInt64(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
