// Package textutil provides the shared tokenizer used by retrieval and
// memory conflict detection.
package textutil

import "regexp"

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "for": true, "from": true,
	"how": true, "in": true, "is": true, "it": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "what": true, "which": true,
	"who": true, "with": true, "when": true, "where": true, "show": true,
}

// Tokenize lowercases text, extracts alphanumeric runs of length >= 2, and
// drops a fixed English stop-word set. Used identically by the hybrid
// retriever's lexical scoring and the memory manager's conflict predicate.
func Tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, match := range tokenPattern.FindAllString(toLower(text), -1) {
		if len(match) < 2 {
			continue
		}
		if stopWords[match] {
			continue
		}
		tokens[match] = true
	}
	return tokens
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Overlap returns the number of tokens shared between two sets.
func Overlap(a, b map[string]bool) int {
	n := 0
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for tok := range small {
		if big[tok] {
			n++
		}
	}
	return n
}
