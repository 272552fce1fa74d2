package model

import "time"

// RunStatus is the lifecycle state of a QueryRun.
type RunStatus string

const (
	RunAccepted RunStatus = "accepted"
	RunSuccess  RunStatus = "success"
	RunFailed   RunStatus = "failed"
)

// OutcomeClass classifies how a run's answer relates to its evidence.
type OutcomeClass string

const (
	OutcomeSuccess          OutcomeClass = "success"
	OutcomePartial          OutcomeClass = "partial"
	OutcomeFailure          OutcomeClass = "failure"
	OutcomeHallucinationRisk OutcomeClass = "hallucination-risk"
)

// AskMode is the branch the orchestrator took to answer a question.
type AskMode string

const (
	ModeStructured AskMode = "structured"
	ModeEvidence   AskMode = "evidence"
	ModeBoth       AskMode = "both"
)

// QueryRun is the durable record of one ask.
type QueryRun struct {
	RunID          string
	Status         RunStatus
	Question       string
	UserID         *string
	SessionID      *string
	Answer         *string
	Error          *string
	OutcomeClass   *OutcomeClass
	Retries        int
	MissingEvidence []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SqlAttempt is one draft+execute try within a run.
type SqlAttempt struct {
	RunID         string
	AttemptNumber int
	SQL           string
	Error         *string
	CreatedAt     time.Time
}

// Citation is a proof-of-evidence pointer from a run to a chunk.
type Citation struct {
	CitationID   string
	RunID        string
	ChunkID      string
	Rank         int
	Score        float64
	Source       Source
	Title        *string
	Snippet      string
	Author       *string
	TimestampUTC *time.Time
	DeepLink     *string
	CreatedAt    time.Time
}

// FeedbackVerdict is the user's judgement of a run's answer.
type FeedbackVerdict string

const (
	VerdictCorrect   FeedbackVerdict = "correct"
	VerdictIncorrect FeedbackVerdict = "incorrect"
)

// FeedbackEvent is a user verdict on a run.
type FeedbackEvent struct {
	ID                   int64
	RunID                string
	Verdict              FeedbackVerdict
	Comment              *string
	CorrectedAnswer      *string
	CorrectedSQL         *string
	CorrectedFilters     []string
	CorrectedSourceScope *string
	CreatedAt            time.Time
}
