package model

import (
	"encoding/json"
	"time"
)

// Source identifies which connector produced a Document.
type Source string

const (
	SourceMail  Source = "mail"
	SourceChatA Source = "chat-a"
	SourceChatB Source = "chat-b"
	SourceFiles Source = "files"
)

// MaxBodyTextBytes is the truncation limit applied to Document.BodyText.
const MaxBodyTextBytes = 20 * 1024

// Document is one logical record pulled from a personal data source.
type Document struct {
	DocID         string          `json:"doc_id"`
	Source        Source          `json:"source"`
	ExternalID    string          `json:"external_id"`
	ThreadID      *string         `json:"thread_id,omitempty"`
	AccountID     *string         `json:"account_id,omitempty"`
	Title         *string         `json:"title,omitempty"`
	BodyText      string          `json:"body_text"`
	Author        *string         `json:"author,omitempty"`
	Participants  []string        `json:"participants,omitempty"`
	TimestampUTC  *time.Time      `json:"timestamp_utc,omitempty"`
	DeepLink      *string         `json:"deep_link,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Checksum      string          `json:"checksum"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Chunk is a retrievable text fragment of a Document.
type Chunk struct {
	ChunkID             string    `json:"chunk_id"`
	DocID               string    `json:"doc_id"`
	Source              Source    `json:"source"`
	ChunkIndex          int       `json:"chunk_index"`
	Text                string    `json:"text"`
	TokenCount           int       `json:"token_count"`
	Embedding           []float32 `json:"-"`
	EmbeddingSerialized []float32 `json:"embedding_serialized,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

// ChunkWithDocument pairs a chunk with the document fields needed for filtering and display.
// Score is populated by a retrieval path (fused SQL score or in-process fallback
// score) and is not persisted.
type ChunkWithDocument struct {
	Chunk
	DocTitle        *string
	DocAuthor       *string
	DocTimestampUTC *time.Time
	DocDeepLink     *string
	Score           float64
}
