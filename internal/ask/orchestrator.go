// Package ask implements the orchestrator state machine that turns a
// question into an answer: accepted, route, select_memory, execute_path
// (structured, evidence, or both), reflect, finalize.
package ask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/connexus-ai/personal-vault/internal/intent"
	"github.com/connexus-ai/personal-vault/internal/memory"
	"github.com/connexus-ai/personal-vault/internal/model"
	"github.com/connexus-ai/personal-vault/internal/oracle"
	"github.com/connexus-ai/personal-vault/internal/reflection"
	"github.com/connexus-ai/personal-vault/internal/sqldraft"
	"github.com/connexus-ai/personal-vault/internal/sqlguard"
)

const (
	defaultSelectionTopK   = 4
	defaultStructuredTopK  = 5
	maxAnswerRowsPreview   = 20
	maxCitationsPersisted  = 8
)

// RunStore is the persistence surface the orchestrator needs for a run's
// lifecycle.
type RunStore interface {
	Create(ctx context.Context, run *model.QueryRun) (string, error)
	Finalize(ctx context.Context, run *model.QueryRun) error
	InsertSQLAttempt(ctx context.Context, a *model.SqlAttempt) error
	InsertCitations(ctx context.Context, citations []model.Citation) ([]model.Citation, error)
}

// MemorySelector picks the active memory items relevant to a question.
type MemorySelector interface {
	SelectForQuestion(ctx context.Context, question string, sessionID *string, sourceFilters []string, topK int) (memory.Selection, error)
}

// MemoryUsageRecorder traces whether a memory item influenced a run.
type MemoryUsageRecorder interface {
	InsertUsage(ctx context.Context, u *model.MemoryUsage) error
}

// CandidateRecorder persists proposed memory candidates from reflection.
type CandidateRecorder interface {
	InsertCandidate(ctx context.Context, c *model.MemoryCandidate) (int64, error)
}

// EvidenceRetriever is the hybrid retriever's surface. topK<=0 lets the
// retriever fall back to its own default.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, question string, sources []model.Source, topK int) ([]model.ChunkWithDocument, error)
}

// IntentClassifier picks the execution path for a question.
type IntentClassifier interface {
	Classify(ctx context.Context, question string) intent.Intent
}

// SQLDrafter proposes a read-only query for a question.
type SQLDrafter interface {
	Draft(ctx context.Context, question string, contexts []model.ChunkWithDocument) string
}

// SQLExecutor validates and runs a drafted query.
type SQLExecutor interface {
	Execute(ctx context.Context, rawSQL string) (*sqlguard.Result, error)
}

// ReflectionEngine drafts memory candidates from outcomes.
type ReflectionEngine interface {
	FromAskOutcome(in reflection.AskOutcomeInput) []reflection.CandidateDraft
	FromSQLOutcome(in reflection.SQLOutcomeInput) []reflection.CandidateDraft
}

// Orchestrator runs the ask state machine.
type Orchestrator struct {
	runs       RunStore
	memory     MemorySelector
	usage      MemoryUsageRecorder
	candidates CandidateRecorder
	retriever  EvidenceRetriever
	router     IntentClassifier
	drafter    SQLDrafter
	executor   SQLExecutor
	completion oracle.TextCompletion
	reflection ReflectionEngine
}

// New creates an Orchestrator.
func New(
	runs RunStore,
	mem MemorySelector,
	usage MemoryUsageRecorder,
	candidates CandidateRecorder,
	retriever EvidenceRetriever,
	router IntentClassifier,
	drafter SQLDrafter,
	executor SQLExecutor,
	completion oracle.TextCompletion,
	refl ReflectionEngine,
) *Orchestrator {
	return &Orchestrator{
		runs: runs, memory: mem, usage: usage, candidates: candidates,
		retriever: retriever, router: router, drafter: drafter, executor: executor,
		completion: completion, reflection: refl,
	}
}

// Run executes one ask end to end. It never returns an error: every failure
// mode is captured in the returned response's Status/Error fields, since a
// failed run is still a valid, persisted outcome.
func (o *Orchestrator) Run(ctx context.Context, req model.AskRequest) (resp model.AskResponse) {
	runID, err := o.runs.Create(ctx, &model.QueryRun{
		Status:    model.RunAccepted,
		Question:  req.Question,
		UserID:    req.UserID,
		SessionID: req.SessionID,
	})
	if err != nil {
		msg := fmt.Sprintf("could not persist run: %v", err)
		slog.Error("[ASK] run creation failed", "error", err)
		return model.AskResponse{Status: model.RunFailed, Error: &msg}
	}

	defer func() {
		if r := recover(); r != nil {
			errMsg := fmt.Sprintf("ask run failed: %v", r)
			slog.Error("[ASK] run panicked", "run_id", runID, "panic", r)
			_ = o.runs.Finalize(ctx, &model.QueryRun{RunID: runID, Status: model.RunFailed, Error: &errMsg, Retries: 1})
			resp = model.AskResponse{RunID: runID, Status: model.RunFailed, Error: &errMsg}
		}
	}()

	mode := o.resolveMode(ctx, req)
	selection, memUsed, memSkipped := o.selectMemory(ctx, req)
	slog.Info("[ASK] run accepted", "run_id", runID, "mode", mode, "memory_used", len(memUsed))

	switch mode {
	case model.ModeStructured:
		resp = o.runStructured(ctx, runID, req, selection.Used)
	case model.ModeBoth:
		resp = o.runBoth(ctx, runID, req, selection.Used)
	default:
		resp = o.runEvidence(ctx, runID, req, selection.Used)
	}
	resp.RunID = runID
	resp.Mode = mode
	resp.MemoryUsed = memUsed

	o.recordMemoryUsage(ctx, runID, selection)

	if req.IncludeDebug {
		resp.Debug = &model.AskDebug{MemoryUsed: memUsed, MemorySkipped: memSkipped}
	}
	return resp
}

func (o *Orchestrator) resolveMode(ctx context.Context, req model.AskRequest) model.AskMode {
	if req.ForceMode != nil {
		return *req.ForceMode
	}
	switch o.router.Classify(ctx, req.Question) {
	case intent.Structured:
		return model.ModeStructured
	case intent.Both:
		return model.ModeBoth
	default:
		return model.ModeEvidence
	}
}

func (o *Orchestrator) selectMemory(ctx context.Context, req model.AskRequest) (memory.Selection, []string, []string) {
	sourceFilters := make([]string, len(req.SourceFilters))
	for i, s := range req.SourceFilters {
		sourceFilters[i] = string(s)
	}

	selection, err := o.memory.SelectForQuestion(ctx, req.Question, req.SessionID, sourceFilters, defaultSelectionTopK)
	if err != nil {
		return memory.Selection{}, nil, nil
	}

	used := make([]string, 0, len(selection.Used))
	for _, m := range selection.Used {
		used = append(used, fmt.Sprintf("%d:%s", m.ID, m.Kind))
	}
	skipped := make([]string, 0, len(selection.Skipped))
	for _, m := range selection.Skipped {
		skipped = append(skipped, fmt.Sprintf("%d:%s", m.ID, m.Kind))
	}
	return selection, used, skipped
}

func (o *Orchestrator) recordMemoryUsage(ctx context.Context, runID string, selection memory.Selection) {
	for _, m := range selection.Used {
		_ = o.usage.InsertUsage(ctx, &model.MemoryUsage{
			RunID: runID, MemoryItemID: m.ID, InfluenceScore: 0.75, Applied: true, Reason: "retrieved for question",
		})
	}
	for _, m := range selection.Skipped {
		_ = o.usage.InsertUsage(ctx, &model.MemoryUsage{
			RunID: runID, MemoryItemID: m.ID, InfluenceScore: 0.0, Applied: false, Reason: "not relevant to question",
		})
	}
}

// evidenceOutcome is the result of an evidence-path attempt, computed but not
// yet finalized, so "both" mode can merge it with a structured-path attempt
// before writing a single terminal run state.
type evidenceOutcome struct {
	answer    string
	citations []model.Citation
	missing   []string
	success   bool
}

func (o *Orchestrator) computeEvidence(ctx context.Context, runID string, req model.AskRequest, memoryUsed []model.MemoryItem) evidenceOutcome {
	retrieved, _ := o.retriever.Retrieve(ctx, req.Question, req.SourceFilters, req.TopK)

	if len(retrieved) == 0 {
		missing := missingEvidenceHints(req)
		answer := "Insufficient evidence found in indexed personal sources. Try narrowing source filters or a shorter date range."
		return evidenceOutcome{answer: answer, missing: missing, success: false}
	}

	limit := len(retrieved)
	if limit > maxCitationsPersisted {
		limit = maxCitationsPersisted
	}
	pending := make([]model.Citation, limit)
	for i, item := range retrieved[:limit] {
		pending[i] = model.Citation{
			RunID: runID, ChunkID: item.ChunkID, Rank: i + 1, Score: item.Score, Source: item.Source,
			Title: item.DocTitle, Snippet: truncate(item.Text, 400), Author: item.DocAuthor,
			TimestampUTC: item.DocTimestampUTC, DeepLink: item.DocDeepLink,
		}
	}

	citations, err := o.runs.InsertCitations(ctx, pending)
	if err != nil || len(citations) == 0 || !uniqueIDs(citations) {
		missing := missingEvidenceHints(req)
		answer := "Insufficient validated evidence to answer safely. Please retry with narrower filters."
		return evidenceOutcome{answer: answer, missing: missing, success: false}
	}

	answer := o.composeAnswer(ctx, req.Question, citations, memoryUsed)
	return evidenceOutcome{answer: answer, citations: citations, success: true}
}

// runEvidence answers strictly from retrieved, cited chunks.
func (o *Orchestrator) runEvidence(ctx context.Context, runID string, req model.AskRequest, memoryUsed []model.MemoryItem) model.AskResponse {
	out := o.computeEvidence(ctx, runID, req, memoryUsed)
	o.finalizeEvidence(ctx, runID, req, out, memoryUsed)
	return model.AskResponse{Status: model.RunSuccess, Answer: &out.answer, Citations: out.citations, MissingEvidence: out.missing}
}

func (o *Orchestrator) finalizeEvidence(ctx context.Context, runID string, req model.AskRequest, out evidenceOutcome, memoryUsed []model.MemoryItem) {
	outcome := reflection.ClassifyOutcome(false, len(out.citations) > 0, len(out.citations) > 0)
	_ = o.runs.Finalize(ctx, &model.QueryRun{
		RunID: runID, Status: model.RunSuccess, Answer: &out.answer, OutcomeClass: &outcome, Retries: 1, MissingEvidence: out.missing,
	})

	citationIDs := make([]string, len(out.citations))
	for i, c := range out.citations {
		citationIDs[i] = c.CitationID
	}
	o.writeReflectionCandidates(ctx, runID, reflection.AskOutcomeInput{
		Question: req.Question, OutcomeClass: outcome, Citations: citationIDs, MissingEvidence: out.missing,
		MemoryUsedCount: len(memoryUsed), SourceFilters: sourcesToStrings(req.SourceFilters),
	})
}

func (o *Orchestrator) composeAnswer(ctx context.Context, question string, citations []model.Citation, memoryUsed []model.MemoryItem) string {
	top := citations
	if len(top) > 5 {
		top = top[:5]
	}
	var lines []string
	for i, c := range top {
		lines = append(lines, fmt.Sprintf("[%d] (%s) %s", i+1, c.Source, c.Snippet))
	}
	evidenceBlock := strings.Join(lines, "\n")
	memoryHint := memoryGuidanceHint(memoryUsed)

	system := "You answer questions using ONLY the cited evidence provided. Reference citations as [1], [2], etc. " +
		"Be concise (2-4 sentences). If the evidence is insufficient, say so clearly. Never fabricate information."
	user := fmt.Sprintf("Question: %s\n\nEvidence:\n%s%s", question, evidenceBlock, memoryHint)

	answer, err := o.completion.Complete(ctx, system, user, 0.2, 512)
	if err != nil {
		return fmt.Sprintf("Based only on the cited evidence:\n%s%s", evidenceBlock, memoryHint)
	}
	return answer
}

func memoryGuidanceHint(memoryUsed []model.MemoryItem) string {
	if len(memoryUsed) == 0 {
		return ""
	}
	n := len(memoryUsed)
	if n > 2 {
		n = 2
	}
	var hints []string
	for _, m := range memoryUsed[:n] {
		firstLine := strings.SplitN(m.Statement, "\n", 2)[0]
		hints = append(hints, truncate(firstLine, 200))
	}
	return "\nMemory guidance: " + strings.Join(hints, "; ")
}

func missingEvidenceHints(req model.AskRequest) []string {
	hints := []string{
		"Try source filters: mail, chat-a, chat-b, files",
		"Try a tighter time range (last 7d or 30d)",
	}
	if len(req.SourceFilters) > 0 {
		hints = append(hints, "Current source filter may be too narrow")
	}
	if req.TimeFrom != nil || req.TimeTo != nil {
		hints = append(hints, "Current date range may exclude relevant evidence")
	}
	return hints
}

// structuredOutcome is the result of a structured-path attempt, computed but
// not yet finalized.
type structuredOutcome struct {
	sql        string
	rows       []map[string]any
	answer     string
	attempts   int
	success    bool
	lastErrMsg string
	guardrail  bool
}

func (o *Orchestrator) computeStructured(ctx context.Context, runID string, req model.AskRequest) structuredOutcome {
	maxAttempts := req.MaxSQLAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	contexts, _ := o.retriever.Retrieve(ctx, req.Question, req.SourceFilters, defaultStructuredTopK)
	primary := o.drafter.Draft(ctx, req.Question, contexts)

	candidates := []string{primary}
	if primary != sqldraft.FallbackSQL && maxAttempts >= 2 {
		candidates = append(candidates, sqldraft.FallbackSQL)
	}
	if len(candidates) > maxAttempts {
		candidates = candidates[:maxAttempts]
	}

	var lastErr error
	var lastSQL string
	for i, candidate := range candidates {
		attemptNumber := i + 1
		lastSQL = candidate
		result, err := o.executor.Execute(ctx, candidate)
		if err == nil {
			_ = o.runs.InsertSQLAttempt(ctx, &model.SqlAttempt{RunID: runID, AttemptNumber: attemptNumber, SQL: candidate})
			slog.Info("[ASK] sql attempt succeeded", "run_id", runID, "attempt", attemptNumber, "row_count", result.RowCount)
			answer := o.synthesizeRowsAnswer(ctx, req.Question, result.Rows)
			if result.RowCount > 0 {
				drafts := o.reflection.FromSQLOutcome(reflection.SQLOutcomeInput{
					RunID: runID, Question: req.Question, SQL: candidate, RowCount: result.RowCount, HasRows: true,
				})
				o.persistDrafts(ctx, runID, drafts)
			}
			return structuredOutcome{sql: candidate, rows: result.Rows, answer: answer, attempts: attemptNumber, success: true}
		}

		lastErr = err
		errMsg := err.Error()
		slog.Warn("[ASK] sql attempt failed", "run_id", runID, "attempt", attemptNumber, "error", errMsg)
		_ = o.runs.InsertSQLAttempt(ctx, &model.SqlAttempt{RunID: runID, AttemptNumber: attemptNumber, SQL: candidate, Error: &errMsg})

		drafts := o.reflection.FromSQLOutcome(reflection.SQLOutcomeInput{
			RunID: runID, Question: req.Question, SQL: candidate, Error: errMsg,
		})
		o.persistDrafts(ctx, runID, drafts)
	}

	guardrail := errSQLGuardrail(lastErr)
	var msg string
	if guardrail {
		msg = fmt.Sprintf("Drafted SQL did not pass guardrails: %v", lastErr)
	} else {
		msg = fmt.Sprintf("SQL execution failed: %v", lastErr)
	}
	return structuredOutcome{sql: lastSQL, attempts: len(candidates), success: false, lastErrMsg: msg, guardrail: guardrail}
}

func (o *Orchestrator) synthesizeRowsAnswer(ctx context.Context, question string, rows []map[string]any) string {
	preview := rows
	if len(preview) > maxAnswerRowsPreview {
		preview = preview[:maxAnswerRowsPreview]
	}

	var lines []string
	for _, row := range preview {
		lines = append(lines, formatRow(row))
	}
	rowsBlock := strings.Join(lines, "\n")

	system := "You summarize SQL query results for a user in plain language. Be concise (1-3 sentences). " +
		"Reference specific values from the rows. Never fabricate values not present in the rows."
	user := fmt.Sprintf("Question: %s\n\nRows (%d total, showing up to %d):\n%s", question, len(rows), len(preview), rowsBlock)

	answer, err := o.completion.Complete(ctx, system, user, 0.2, 300)
	if err != nil {
		if len(rows) == 0 {
			return "Found 0 rows."
		}
		return fmt.Sprintf("Found %d rows. Top result: %s", len(rows), formatRow(rows[0]))
	}
	return answer
}

func formatRow(row map[string]any) string {
	parts := make([]string, 0, len(row))
	for k, v := range row {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ", ")
}

// runStructured drafts, validates, and executes SQL, retrying with a safe
// fallback query when allowed.
func (o *Orchestrator) runStructured(ctx context.Context, runID string, req model.AskRequest, memoryUsed []model.MemoryItem) model.AskResponse {
	out := o.computeStructured(ctx, runID, req)
	o.finalizeStructured(ctx, runID, req, out)

	if !out.success {
		return model.AskResponse{Status: model.RunFailed, Error: &out.lastErrMsg, SQL: &out.sql}
	}
	return model.AskResponse{Status: model.RunSuccess, Answer: &out.answer, SQL: &out.sql, Rows: out.rows}
}

func (o *Orchestrator) finalizeStructured(ctx context.Context, runID string, req model.AskRequest, out structuredOutcome) {
	if out.success {
		outcome := model.OutcomeSuccess
		_ = o.runs.Finalize(ctx, &model.QueryRun{
			RunID: runID, Status: model.RunSuccess, Answer: &out.answer, OutcomeClass: &outcome, Retries: out.attempts,
		})
		return
	}
	outcome := model.OutcomeFailure
	_ = o.runs.Finalize(ctx, &model.QueryRun{
		RunID: runID, Status: model.RunFailed, Error: &out.lastErrMsg, OutcomeClass: &outcome, Retries: out.attempts,
	})
}

// runBoth executes the structured and evidence paths independently and
// merges their textual answers into one response.
func (o *Orchestrator) runBoth(ctx context.Context, runID string, req model.AskRequest, memoryUsed []model.MemoryItem) model.AskResponse {
	structured := o.computeStructured(ctx, runID, req)
	evidence := o.computeEvidence(ctx, runID, req, memoryUsed)

	o.finalizeStructured(ctx, runID, req, structured)
	o.finalizeEvidence(ctx, runID, req, evidence, memoryUsed)

	success := structured.success || evidence.success
	answer := o.mergeAnswers(ctx, req.Question, structured, evidence)

	resp := model.AskResponse{
		Answer: &answer, Citations: evidence.citations, MissingEvidence: evidence.missing,
	}
	if structured.sql != "" {
		resp.SQL = &structured.sql
	}
	if structured.success {
		resp.Rows = structured.rows
	}
	if success {
		resp.Status = model.RunSuccess
	} else {
		resp.Status = model.RunFailed
		resp.Error = &structured.lastErrMsg
	}
	return resp
}

func (o *Orchestrator) mergeAnswers(ctx context.Context, question string, structured structuredOutcome, evidence evidenceOutcome) string {
	if !structured.success {
		return evidence.answer
	}

	system := "You combine a structured data answer and an evidence-based answer into one coherent reply. " +
		"Be concise (2-5 sentences). Do not repeat information; reconcile the two answers."
	user := fmt.Sprintf("Question: %s\n\nStructured answer: %s\n\nEvidence answer: %s", question, structured.answer, evidence.answer)

	merged, err := o.completion.Complete(ctx, system, user, 0.2, 512)
	if err != nil {
		return structured.answer + "\n\n" + evidence.answer
	}
	return merged
}

func (o *Orchestrator) writeReflectionCandidates(ctx context.Context, runID string, in reflection.AskOutcomeInput) {
	o.persistDrafts(ctx, runID, o.reflection.FromAskOutcome(in))
}

func (o *Orchestrator) persistDrafts(ctx context.Context, runID string, drafts []reflection.CandidateDraft) {
	for _, draft := range drafts {
		if len(draft.EvidenceCitationIDs) == 0 {
			continue
		}
		meta := marshalMetadata(draft.Metadata)
		rid := runID
		_, _ = o.candidates.InsertCandidate(ctx, &model.MemoryCandidate{
			RunID: &rid, Kind: draft.Kind, Scope: draft.Scope, Title: draft.Title, Learning: draft.Learning,
			Confidence: draft.Confidence, EvidenceCitationIDs: draft.EvidenceCitationIDs, Status: model.CandidateProposed,
			Metadata: meta,
		})
	}
}

func marshalMetadata(metadata map[string]string) json.RawMessage {
	if len(metadata) == 0 {
		return nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return raw
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func uniqueIDs(citations []model.Citation) bool {
	seen := make(map[string]bool, len(citations))
	for _, c := range citations {
		if seen[c.CitationID] {
			return false
		}
		seen[c.CitationID] = true
	}
	return true
}

func sourcesToStrings(sources []model.Source) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

// errSQLGuardrail distinguishes a guardrail rejection from an execution
// failure for user-facing error messages.
func errSQLGuardrail(err error) bool {
	var guardErr *sqlguard.Error
	return errors.As(err, &guardErr)
}
