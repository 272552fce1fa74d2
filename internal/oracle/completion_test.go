package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompletion_ReturnsMessageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"the answer is 42"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompletion(srv.URL, "key", "gpt-4o-mini")
	out, err := c.Complete(context.Background(), "system prompt", "user prompt", 0.0, 256)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != "the answer is 42" {
		t.Fatalf("Complete() = %q, want %q", out, "the answer is 42")
	}
}

func TestOpenAICompletion_NoChoicesIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAICompletion(srv.URL, "key", "gpt-4o-mini")
	_, err := c.Complete(context.Background(), "sys", "user", 0.0, 256)
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestNullCompletion_AlwaysErrors(t *testing.T) {
	var c NullCompletion
	_, err := c.Complete(context.Background(), "sys", "user", 0.0, 256)
	if err == nil {
		t.Fatal("expected NullCompletion to always return an error")
	}
}
