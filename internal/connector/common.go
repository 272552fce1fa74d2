// Package connector implements the four read-only source connectors: mail,
// threaded chat, a local message database, and local files. Each produces
// model.Document records and a new cursor for the ingestion coordinator.
package connector

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func checksum(body string) string {
	h := sha256.Sum256([]byte(body))
	return fmt.Sprintf("%x", h)
}

func readPositiveInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func readFloat(name string, def float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return parsed
}

// stripHTML does a best-effort conversion of an HTML fragment into plain
// text: line breaks for <br>, tags dropped, whitespace collapsed.
func stripHTML(value string) string {
	cleaned := strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n").Replace(value)
	cleaned = strings.NewReplacer("<", " <", ">", "> ").Replace(cleaned)
	var b strings.Builder
	inTag := false
	for _, r := range cleaned {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
