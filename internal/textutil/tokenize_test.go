package textutil

import "testing"

func TestTokenize_DropsStopWordsAndShortTokens(t *testing.T) {
	tokens := Tokenize("What did Lewis discuss about email quality? It is a 1 for the team.")
	if tokens["what"] || tokens["is"] || tokens["a"] || tokens["1"] {
		t.Fatalf("expected stop words and short tokens dropped, got %v", tokens)
	}
	if !tokens["lewis"] || !tokens["discuss"] || !tokens["email"] || !tokens["quality"] {
		t.Fatalf("expected content tokens present, got %v", tokens)
	}
}

func TestTokenize_Lowercases(t *testing.T) {
	tokens := Tokenize("LEWIS Metrics")
	if !tokens["lewis"] || !tokens["metrics"] {
		t.Fatalf("expected lowercased tokens, got %v", tokens)
	}
}

func TestOverlap(t *testing.T) {
	a := Tokenize("email quality metrics")
	b := Tokenize("email launch metrics")
	if got := Overlap(a, b); got != 2 {
		t.Fatalf("Overlap() = %d, want 2", got)
	}
}
