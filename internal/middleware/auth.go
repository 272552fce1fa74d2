package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserIDFromContext retrieves the caller-supplied user ID from the request
// context, if one was set by InternalAuth.
func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(userIDKey).(string)
	return uid
}

// WithUserID returns a new context with the given user ID set.
// Useful for testing handlers that depend on auth middleware.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, userIDKey, uid)
}

// InternalAuth returns middleware that checks for a shared internal
// service-to-service token (X-Internal-Auth header), the only access
// control this single-user tool needs — there is no multi-tenant identity
// provider to fall back to. An optional X-User-ID header is threaded into
// the request context for callers that tag runs by device or session.
// An empty secret disables the check (local development).
func InternalAuth(secret string) func(http.Handler) http.Handler {
	secretBytes := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(secretBytes) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get("X-Internal-Auth")
			if subtle.ConstantTimeCompare([]byte(token), secretBytes) != 1 {
				respondError(w, http.StatusUnauthorized, "invalid internal auth token")
				return
			}

			userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
			if userID != "" {
				if len(userID) > 256 || !isPrintableASCII(userID) {
					respondError(w, http.StatusBadRequest, "invalid user ID")
					return
				}
				r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isPrintableASCII checks that every rune is a printable ASCII character.
func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
