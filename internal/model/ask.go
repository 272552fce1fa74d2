package model

import "time"

// AskRequest is the inbound contract for one ask run.
type AskRequest struct {
	Question       string
	UserID         *string
	SessionID      *string
	IncludeDebug   bool
	SourceFilters  []Source
	TimeFrom       *time.Time
	TimeTo         *time.Time
	TopK           int
	MaxSQLAttempts int
	ForceMode      *AskMode
}

// AskDebug carries internal trace fields surfaced only when a request asks
// for them.
type AskDebug struct {
	MemoryUsed    []string
	MemorySkipped []string
	SQLAttempts   int
}

// AskResponse is the outbound contract for one ask run.
type AskResponse struct {
	RunID           string
	Status          RunStatus
	Mode            AskMode
	Answer          *string
	SQL             *string
	Rows            []map[string]any
	Citations       []Citation
	MissingEvidence []string
	MemoryUsed      []string
	Error           *string
	Debug           *AskDebug
	CreatedAt       time.Time
}
