package model

import (
	"encoding/json"
	"time"
)

// SourceState tracks connection and incremental-sync progress for one source.
type SourceState struct {
	Source      Source
	Connected   bool
	LastSyncAt  *time.Time
	Cursor      json.RawMessage
	UpdatedAt   time.Time
}

// FileAllowlistEntry is one user-approved root path for the local-files connector.
type FileAllowlistEntry struct {
	Path      string
	CreatedAt time.Time
}
