// Package chunker splits document text into overlapping fixed-size windows.
package chunker

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// DefaultSize and DefaultOverlap match the window used across the corpus
// unless a caller overrides them via NewChunker.
const (
	DefaultSize    = 1200
	DefaultOverlap = 150
)

// Chunker splits normalized text into a fixed-size sliding window with overlap.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker. A non-positive size falls back to
// DefaultSize; a negative overlap, or one not smaller than size, falls back
// to DefaultOverlap.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultOverlap
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk whitespace-normalizes text and slides a window of size c.size,
// stepping by c.size - c.overlap. It is a pure, deterministic function:
// the same input always yields the same chunk boundaries. Empty chunks
// are never produced.
func (c *Chunker) Chunk(text string) []string {
	content := strings.Join(strings.Fields(text), " ")
	if content == "" {
		return nil
	}
	if len(content) <= c.size {
		return []string{content}
	}

	var chunks []string
	start := 0
	for start < len(content) {
		end := start + c.size
		if end > len(content) {
			end = len(content)
		}
		chunk := strings.TrimSpace(content[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(content) {
			break
		}
		start = end - c.overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}

// EstimateTokens approximates a token count from a word count, matching the
// ~1.3 tokens-per-word ratio used elsewhere for display and budget checks.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return int(float64(words)*1.3 + 0.5)
}

// Hash returns a stable content hash used to detect unchanged re-syncs.
func Hash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}
