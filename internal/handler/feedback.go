package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/connexus-ai/personal-vault/internal/model"
	"github.com/connexus-ai/personal-vault/internal/reflection"
)

// FeedbackStore persists a user verdict on a run.
type FeedbackStore interface {
	InsertFeedback(ctx context.Context, f *model.FeedbackEvent) error
}

// FeedbackCandidateRecorder persists candidates drafted from feedback.
type FeedbackCandidateRecorder interface {
	InsertCandidate(ctx context.Context, c *model.MemoryCandidate) (int64, error)
}

// FeedbackDeps bundles the feedback handler's dependencies.
type FeedbackDeps struct {
	Store      FeedbackStore
	Candidates FeedbackCandidateRecorder
	Reflection *reflection.Engine
}

type feedbackRequestBody struct {
	RunID                string   `json:"run_id"`
	Mode                 string   `json:"mode"`
	Verdict              string   `json:"verdict"`
	Comment              *string  `json:"comment,omitempty"`
	CorrectedAnswer      *string  `json:"corrected_answer,omitempty"`
	CorrectedSQL         *string  `json:"corrected_sql,omitempty"`
	CorrectedFilters     []string `json:"corrected_filters,omitempty"`
	CorrectedSourceScope *string  `json:"corrected_source_scope,omitempty"`
	EvidenceCitationIDs  []string `json:"evidence_citation_ids,omitempty"`
}

type feedbackResponseBody struct {
	RunID              string  `json:"run_id"`
	Accepted           bool    `json:"accepted"`
	FeedbackID         *int64  `json:"feedback_id,omitempty"`
	MemoryCandidateIDs []int64 `json:"memory_candidate_ids"`
}

// Feedback handles POST /api/feedback: records a verdict on a prior run and,
// for incorrect verdicts, drafts memory candidates for review.
func Feedback(deps FeedbackDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body feedbackRequestBody
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.RunID == "" || (body.Verdict != string(model.VerdictCorrect) && body.Verdict != string(model.VerdictIncorrect)) {
			respondError(w, http.StatusBadRequest, "run_id and a valid verdict are required")
			return
		}

		event := &model.FeedbackEvent{
			RunID: body.RunID, Verdict: model.FeedbackVerdict(body.Verdict), Comment: body.Comment,
			CorrectedAnswer: body.CorrectedAnswer, CorrectedSQL: body.CorrectedSQL,
			CorrectedFilters: body.CorrectedFilters, CorrectedSourceScope: body.CorrectedSourceScope,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.InsertFeedback(r.Context(), event); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to record feedback")
			return
		}

		var candidateIDs []int64
		drafts := deps.Reflection.FromFeedback(reflection.FeedbackInput{
			Verdict:              body.Verdict,
			Comment:              derefStr(body.Comment),
			CorrectedAnswer:      derefStr(body.CorrectedAnswer),
			CorrectedFilters:     body.CorrectedFilters,
			CorrectedSourceScope: derefStr(body.CorrectedSourceScope),
			EvidenceCitationIDs:  body.EvidenceCitationIDs,
		})
		for _, draft := range drafts {
			meta, _ := marshalDraftMetadata(draft.Metadata)
			id, err := deps.Candidates.InsertCandidate(r.Context(), &model.MemoryCandidate{
				RunID: &body.RunID, Kind: draft.Kind, Scope: draft.Scope, Title: draft.Title,
				Learning: draft.Learning, Confidence: draft.Confidence, EvidenceCitationIDs: draft.EvidenceCitationIDs,
				Status: model.CandidateProposed, Metadata: meta,
			})
			if err == nil {
				candidateIDs = append(candidateIDs, id)
			}
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: feedbackResponseBody{
			RunID: body.RunID, Accepted: true, MemoryCandidateIDs: nonNilInt64s(candidateIDs),
		}})
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nonNilInt64s(s []int64) []int64 {
	if s == nil {
		return []int64{}
	}
	return s
}
