package model

import (
	"encoding/json"
	"time"
)

// MemoryKind classifies the nature of a memory directive.
type MemoryKind string

const (
	KindUserPreference    MemoryKind = "UserPreference"
	KindSourceQuirk       MemoryKind = "SourceQuirk"
	KindReasoningRule     MemoryKind = "ReasoningRule"
	KindGuardrailException MemoryKind = "GuardrailException"
)

// MemoryScope bounds where a memory item applies.
type MemoryScope string

const (
	ScopeSession        MemoryScope = "session"
	ScopeUserGlobal     MemoryScope = "user-global"
	ScopeSourceSpecific MemoryScope = "source-specific"
)

// CandidateStatus is the review state of a MemoryCandidate.
type CandidateStatus string

const (
	CandidateProposed CandidateStatus = "proposed"
	CandidateApproved CandidateStatus = "approved"
	CandidateRejected CandidateStatus = "rejected"
)

// MemoryCandidate is a proposed memory awaiting human review.
type MemoryCandidate struct {
	ID                  int64
	RunID               *string
	Kind                MemoryKind
	Scope               MemoryScope
	Title               string
	Learning            string
	Confidence          int
	EvidenceCitationIDs []string
	Status              CandidateStatus
	Metadata            json.RawMessage
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ActivationState is the lifecycle state of a MemoryItem.
type ActivationState string

const (
	ActivationActive     ActivationState = "active"
	ActivationStale      ActivationState = "stale"
	ActivationDeprecated ActivationState = "deprecated"
)

// MemoryItem is an active directive that may influence future runs.
type MemoryItem struct {
	ID              int64
	Kind            MemoryKind
	Scope           MemoryScope
	Statement       string
	ActivationState ActivationState
	Confidence      int
	Source          string
	SupersedesID    *int64
	LastVerifiedAt  time.Time
	ExpiryAt        *time.Time
	Metadata        json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MemoryEventKind names the audit action recorded against a memory item or candidate.
type MemoryEventKind string

const (
	EventApproved  MemoryEventKind = "approved"
	EventRejected  MemoryEventKind = "rejected"
	EventAutoStale MemoryEventKind = "auto_stale"
	EventDeprecated MemoryEventKind = "deprecated"
)

// MemoryEvent is an audit entry against a candidate or item.
type MemoryEvent struct {
	ID                int64
	Event             MemoryEventKind
	Reason            string
	MemoryItemID      *int64
	MemoryCandidateID *int64
	CreatedAt         time.Time
}

// MemoryUsage is a per-run trace of whether a memory item influenced an answer.
type MemoryUsage struct {
	RunID          string
	MemoryItemID   int64
	InfluenceScore float64
	Applied        bool
	Reason         string
	CreatedAt      time.Time
}
