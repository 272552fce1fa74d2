// Package reflection turns ask and SQL run outcomes, plus direct user
// feedback, into memory candidate drafts for human review. Every generator
// here is a pure function: given the same outcome it always proposes the
// same drafts.
package reflection

import (
	"fmt"
	"strings"

	"github.com/connexus-ai/personal-vault/internal/model"
)

// ClassifyOutcome applies the same decision order every time: errors win,
// then missing evidence, then invalid citations, and only then success.
func ClassifyOutcome(hasError, hasEvidence, citationsValid bool) model.OutcomeClass {
	if hasError {
		return model.OutcomeFailure
	}
	if !hasEvidence {
		return model.OutcomePartial
	}
	if !citationsValid {
		return model.OutcomeHallucinationRisk
	}
	return model.OutcomeSuccess
}

// CandidateDraft is an unreviewed memory candidate proposed by the engine.
type CandidateDraft struct {
	Kind                model.MemoryKind
	Scope               model.MemoryScope
	Title               string
	Learning            string
	Confidence          int
	EvidenceCitationIDs []string
	Metadata            map[string]string
}

// Engine generates memory candidate drafts from runtime outcomes.
type Engine struct{}

// New creates an Engine.
func New() *Engine { return &Engine{} }

// AskOutcomeInput is the context from one finalized ask run.
type AskOutcomeInput struct {
	Question        string
	OutcomeClass     model.OutcomeClass
	Citations        []string
	MissingEvidence  []string
	MemoryUsedCount  int
	SourceFilters    []string
}

// FromAskOutcome drafts candidates reflecting how an ask run went: a
// reasoning rule to preserve on success, a guardrail exception and a user
// preference when evidence was weak, and per-source quirks when specific
// sources kept turning up empty.
func (e *Engine) FromAskOutcome(in AskOutcomeInput) []CandidateDraft {
	var drafts []CandidateDraft

	if in.OutcomeClass == model.OutcomeSuccess && len(in.Citations) > 0 {
		drafts = append(drafts, CandidateDraft{
			Kind:  model.KindReasoningRule,
			Scope: model.ScopeUserGlobal,
			Title: "successful retrieval pattern",
			Learning: fmt.Sprintf(
				"Question pattern succeeded: %s\nPreserve cited-answer workflow and prioritize retrieved evidence before synthesis.",
				in.Question,
			),
			Confidence:          70,
			EvidenceCitationIDs: capSlice(in.Citations, 3),
			Metadata:            map[string]string{"trigger": "success", "memory_used": fmt.Sprintf("%d", in.MemoryUsedCount)},
		})
	}

	if in.OutcomeClass == model.OutcomePartial || in.OutcomeClass == model.OutcomeFailure || in.OutcomeClass == model.OutcomeHallucinationRisk {
		drafts = append(drafts, CandidateDraft{
			Kind:  model.KindGuardrailException,
			Scope: model.ScopeUserGlobal,
			Title: "insufficient evidence fallback",
			Learning: "When retrieved evidence is weak, do not speculate. Return uncertainty with suggested " +
				"filters/time ranges and ask for narrower scope.",
			Confidence:          88,
			EvidenceCitationIDs: capSlice(in.Citations, 2),
			Metadata:            map[string]string{"trigger": string(in.OutcomeClass), "missing_count": fmt.Sprintf("%d", len(in.MissingEvidence))},
		})
	}

	if len(in.MissingEvidence) > 0 {
		drafts = append(drafts, CandidateDraft{
			Kind:  model.KindUserPreference,
			Scope: model.ScopeUserGlobal,
			Title: "prefer guidance when evidence missing",
			Learning: "If evidence is missing, provide explicit gaps and suggest source/time filters before " +
				"attempting another answer.",
			Confidence:          78,
			EvidenceCitationIDs: capSlice(in.Citations, 2),
			Metadata:            map[string]string{"trigger": "missing_evidence"},
		})
	}

	if len(in.SourceFilters) > 0 && len(in.MissingEvidence) > 0 {
		for _, source := range capSlice(in.SourceFilters, 2) {
			drafts = append(drafts, CandidateDraft{
				Kind:  model.KindSourceQuirk,
				Scope: model.ScopeSourceSpecific,
				Title: fmt.Sprintf("%s retrieval scope hint", source),
				Learning: fmt.Sprintf(
					"For %s, missing evidence often indicates scope or time filtering issues. Expand source-specific range before answering.",
					source,
				),
				Confidence:          68,
				EvidenceCitationIDs: capSlice(in.Citations, 2),
				Metadata:            map[string]string{"source": source, "trigger": "source_missing_evidence"},
			})
		}
	}

	return drafts
}

// SQLOutcomeInput is the context from one drafted-SQL execution attempt.
type SQLOutcomeInput struct {
	RunID         string
	Question      string
	SQL           string
	RowCount      int
	HasRows       bool
	Error         string
	CorrectedSQL  string
}

// FromSQLOutcome drafts candidates from a SQL-drafting path execution: a
// schema or guardrail note on error, a reasoning rule to preserve on
// success, and a user-preference note when the user supplied a corrected
// query.
func (e *Engine) FromSQLOutcome(in SQLOutcomeInput) []CandidateDraft {
	var drafts []CandidateDraft
	citation := []string{fmt.Sprintf("sql_run:%s", in.RunID)}

	switch {
	case in.Error != "":
		category, confidence := classifySQLError(in.Error)
		fix := suggestFix(category)
		sqlSnippet := truncate(in.SQL, 500)

		if category == "schema_mismatch" {
			drafts = append(drafts, CandidateDraft{
				Kind:  model.KindSourceQuirk,
				Scope: model.ScopeSourceSpecific,
				Title: fmt.Sprintf("SQL schema: %s", category),
				Learning: fmt.Sprintf(
					"Schema issue for question: %s\nError: %s\nFix: %s", in.Question, in.Error, fix,
				),
				Confidence:          confidence,
				EvidenceCitationIDs: citation,
				Metadata:            map[string]string{"trigger": "sql_error", "category": category, "sql": sqlSnippet},
			})
		} else {
			drafts = append(drafts, CandidateDraft{
				Kind:  model.KindGuardrailException,
				Scope: model.ScopeUserGlobal,
				Title: fmt.Sprintf("SQL error: %s", category),
				Learning: fmt.Sprintf(
					"When querying about: %s\nAvoid: %s\nBecause: %s", in.Question, in.Error, fix,
				),
				Confidence:          confidence,
				EvidenceCitationIDs: citation,
				Metadata:            map[string]string{"trigger": "sql_error", "category": category, "sql": sqlSnippet},
			})
		}

	case in.HasRows && in.SQL != "":
		drafts = append(drafts, CandidateDraft{
			Kind:  model.KindReasoningRule,
			Scope: model.ScopeUserGlobal,
			Title: "successful SQL pattern",
			Learning: fmt.Sprintf(
				"For questions about: %s\nThis query pattern works: %s\nReturned %d row(s).",
				in.Question, truncate(in.SQL, 500), in.RowCount,
			),
			Confidence:          65,
			EvidenceCitationIDs: citation,
			Metadata:            map[string]string{"trigger": "sql_success", "row_count": fmt.Sprintf("%d", in.RowCount)},
		})
	}

	if in.CorrectedSQL != "" {
		drafts = append(drafts, CandidateDraft{
			Kind:  model.KindUserPreference,
			Scope: model.ScopeUserGlobal,
			Title: "user SQL correction",
			Learning: fmt.Sprintf(
				"User prefers this SQL pattern for: %s\nCorrected SQL: %s", in.Question, truncate(in.CorrectedSQL, 500),
			),
			Confidence:          80,
			EvidenceCitationIDs: citation,
			Metadata:            map[string]string{"trigger": "sql_correction"},
		})
	}

	return drafts
}

// FeedbackInput is direct user feedback on a prior answer.
type FeedbackInput struct {
	Verdict              string
	Comment              string
	CorrectedAnswer      string
	CorrectedFilters     []string
	CorrectedSourceScope string
	EvidenceCitationIDs  []string
}

// FromFeedback drafts candidates from feedback marked "incorrect"; any
// other verdict produces nothing to review.
func (e *Engine) FromFeedback(in FeedbackInput) []CandidateDraft {
	if in.Verdict != "incorrect" {
		return nil
	}

	var detail []string
	if in.Comment != "" {
		detail = append(detail, fmt.Sprintf("User comment: %s", in.Comment))
	}
	if in.CorrectedAnswer != "" {
		detail = append(detail, fmt.Sprintf("Corrected answer: %s", in.CorrectedAnswer))
	}
	if len(in.CorrectedFilters) > 0 {
		detail = append(detail, fmt.Sprintf("Corrected filters: %s", strings.Join(in.CorrectedFilters, ", ")))
	}
	if in.CorrectedSourceScope != "" {
		detail = append(detail, fmt.Sprintf("Source scope note: %s", in.CorrectedSourceScope))
	}
	if len(detail) == 0 {
		detail = append(detail, "User marked answer as incorrect without details.")
	}

	drafts := []CandidateDraft{{
		Kind:                model.KindReasoningRule,
		Scope:               model.ScopeUserGlobal,
		Title:               "user correction received",
		Learning:            strings.Join(detail, "\n"),
		Confidence:          75,
		EvidenceCitationIDs: in.EvidenceCitationIDs,
		Metadata:            map[string]string{"trigger": "feedback"},
	}}

	for _, source := range capSlice(in.CorrectedFilters, 2) {
		drafts = append(drafts, CandidateDraft{
			Kind:  model.KindSourceQuirk,
			Scope: model.ScopeSourceSpecific,
			Title: fmt.Sprintf("%s correction pattern", source),
			Learning: fmt.Sprintf(
				"User correction indicates source-specific nuance for %s. Prioritize this source and verify timestamps/participants before answering.",
				source,
			),
			Confidence:          72,
			EvidenceCitationIDs: in.EvidenceCitationIDs,
			Metadata:            map[string]string{"trigger": "feedback", "source": source},
		})
	}

	return drafts
}

func classifySQLError(errText string) (string, int) {
	lower := strings.ToLower(errText)
	switch {
	case strings.Contains(lower, "does not exist") && strings.Contains(lower, "column"):
		return "schema_mismatch", 80
	case strings.Contains(lower, "operator does not exist") || strings.Contains(lower, "invalid input syntax"):
		return "type_mismatch", 85
	case strings.Contains(lower, "syntax error"):
		return "sql_syntax", 65
	case strings.Contains(lower, "statement timeout") || strings.Contains(lower, "canceling statement due to statement timeout"):
		return "query_timeout", 70
	case strings.Contains(lower, "permission denied"):
		return "permissions", 90
	default:
		return "execution_error", 60
	}
}

func suggestFix(category string) string {
	switch category {
	case "schema_mismatch":
		return "Re-run schema introspection and verify column/table names."
	case "type_mismatch":
		return "Check data types and add explicit casts or quoted literals."
	case "sql_syntax":
		return "Validate SQL syntax and simplify the query."
	case "query_timeout":
		return "Reduce scanned rows, add filters, and verify indexes."
	case "permissions":
		return "Use allowed schemas/tables with the read-only role."
	default:
		return "Inspect query and error details, then retry with tighter constraints."
	}
}

func capSlice(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
