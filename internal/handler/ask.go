package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/connexus-ai/personal-vault/internal/model"
)

// AskRunner is the orchestrator's surface as seen by the HTTP layer.
type AskRunner interface {
	Run(ctx context.Context, req model.AskRequest) model.AskResponse
}

// askRequestBody is the wire shape of an inbound ask.
type askRequestBody struct {
	Question       string     `json:"question"`
	UserID         *string    `json:"user_id,omitempty"`
	SessionID      *string    `json:"session_id,omitempty"`
	IncludeDebug   bool       `json:"include_debug,omitempty"`
	SourceFilters  []string   `json:"source_filters,omitempty"`
	TimeFrom       *time.Time `json:"time_from,omitempty"`
	TimeTo         *time.Time `json:"time_to,omitempty"`
	TopK           int        `json:"top_k,omitempty"`
	MaxSQLAttempts int        `json:"max_sql_attempts,omitempty"`
	ForceMode      *string    `json:"force_mode,omitempty"`
}

type citationBody struct {
	CitationID string     `json:"citation_id"`
	Source     string     `json:"source"`
	Title      *string    `json:"title,omitempty"`
	Snippet    string     `json:"snippet"`
	Author     *string    `json:"author,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	DeepLink   *string    `json:"deep_link,omitempty"`
	Confidence float64    `json:"confidence"`
}

type askResponseBody struct {
	RunID           string           `json:"run_id"`
	Status          string           `json:"status"`
	Mode            string           `json:"mode"`
	Answer          *string          `json:"answer,omitempty"`
	SQL             *string          `json:"sql,omitempty"`
	Rows            []map[string]any `json:"rows,omitempty"`
	Citations       []citationBody   `json:"citations"`
	MissingEvidence []string         `json:"missing_evidence"`
	MemoryUsed      []string         `json:"memory_used"`
	Error           *string          `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

const maxQuestionChars = 3000

// Ask handles POST /api/ask: drafts and executes one ask run end to end.
func Ask(orchestrator AskRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body askRequestBody
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		question := strings.TrimSpace(body.Question)
		if question == "" {
			respondError(w, http.StatusBadRequest, "question is required")
			return
		}
		if len(question) > maxQuestionChars {
			respondError(w, http.StatusBadRequest, "question exceeds maximum length")
			return
		}

		req := model.AskRequest{
			Question: question, UserID: body.UserID, SessionID: body.SessionID,
			IncludeDebug: body.IncludeDebug, SourceFilters: toSources(body.SourceFilters),
			TimeFrom: body.TimeFrom, TimeTo: body.TimeTo, TopK: body.TopK, MaxSQLAttempts: body.MaxSQLAttempts,
		}
		if body.ForceMode != nil {
			mode := model.AskMode(*body.ForceMode)
			req.ForceMode = &mode
		}

		resp := orchestrator.Run(r.Context(), req)
		status := http.StatusOK
		if resp.Status == model.RunFailed {
			status = http.StatusUnprocessableEntity
		}
		respondJSON(w, status, envelope{Success: resp.Status != model.RunFailed, Data: toAskResponseBody(resp)})
	}
}

func toSources(raw []string) []model.Source {
	if len(raw) == 0 {
		return nil
	}
	out := make([]model.Source, len(raw))
	for i, s := range raw {
		out[i] = model.Source(s)
	}
	return out
}

func toAskResponseBody(resp model.AskResponse) askResponseBody {
	citations := make([]citationBody, len(resp.Citations))
	for i, c := range resp.Citations {
		confidence := c.Score
		if confidence > 1 {
			confidence = 1
		}
		citations[i] = citationBody{
			CitationID: c.CitationID, Source: string(c.Source), Title: c.Title, Snippet: c.Snippet,
			Author: c.Author, Timestamp: c.TimestampUTC, DeepLink: c.DeepLink, Confidence: confidence,
		}
	}
	return askResponseBody{
		RunID: resp.RunID, Status: string(resp.Status), Mode: string(resp.Mode), Answer: resp.Answer,
		SQL: resp.SQL, Rows: resp.Rows, Citations: citations, MissingEvidence: nonNilStrings(resp.MissingEvidence),
		MemoryUsed: nonNilStrings(resp.MemoryUsed), Error: resp.Error, CreatedAt: resp.CreatedAt,
	}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
