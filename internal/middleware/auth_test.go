package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"uid": uid})
	})
}

func TestInternalAuth_EmptySecretDisablesCheck(t *testing.T) {
	handler := InternalAuth("")(newTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestInternalAuth_MissingToken(t *testing.T) {
	handler := InternalAuth("s3cret")(newTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["success"] != false {
		t.Error("expected success=false")
	}
}

func TestInternalAuth_WrongToken(t *testing.T) {
	handler := InternalAuth("s3cret")(newTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-Internal-Auth", "wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestInternalAuth_ValidTokenSetsUserID(t *testing.T) {
	handler := InternalAuth("s3cret")(newTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-Internal-Auth", "s3cret")
	req.Header.Set("X-User-ID", "me")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["uid"] != "me" {
		t.Errorf("uid = %q, want %q", body["uid"], "me")
	}
}

func TestInternalAuth_NoUserIDHeaderLeavesContextEmpty(t *testing.T) {
	handler := InternalAuth("s3cret")(newTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-Internal-Auth", "s3cret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["uid"] != "" {
		t.Errorf("uid = %q, want empty", body["uid"])
	}
}

func TestInternalAuth_RejectsUnprintableUserID(t *testing.T) {
	handler := InternalAuth("s3cret")(newTestHandler())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("X-Internal-Auth", "s3cret")
	req.Header.Set("X-User-ID", "bad\x00id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUserIDFromContext_Empty(t *testing.T) {
	uid := UserIDFromContext(context.Background())
	if uid != "" {
		t.Errorf("uid = %q, want empty", uid)
	}
}
