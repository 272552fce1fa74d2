package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/personal-vault/internal/ingest"
	"github.com/connexus-ai/personal-vault/internal/model"
)

// SourceStateStore tracks per-source connection state.
type SourceStateStore interface {
	ListStates(ctx context.Context) ([]model.SourceState, error)
	SetConnected(ctx context.Context, source model.Source, connected bool) error
	SaveCursor(ctx context.Context, source model.Source, cursor json.RawMessage) error
}

// SourceSyncer runs one sync pass for a named connector.
type SourceSyncer interface {
	Sync(ctx context.Context, conn ingest.Connector) (ingest.SyncStats, error)
}

// AllowlistStore persists the user-approved local file scan roots.
type AllowlistStore interface {
	ReplaceAllowlist(ctx context.Context, paths []string) error
	ListAllowlist(ctx context.Context) ([]model.FileAllowlistEntry, error)
}

// RetrievalCache is invalidated after a sync pass indexes new documents, so
// a stale cached retrieval never outlives the evidence it was computed from.
type RetrievalCache interface {
	InvalidateAll()
}

// SourcesDeps bundles the source status/connect/sync handlers' dependencies.
type SourcesDeps struct {
	States     SourceStateStore
	Syncer     SourceSyncer
	Connectors map[model.Source]ingest.Connector
	Allowlist  AllowlistStore
	Cache      RetrievalCache
}

type sourceStatusBody struct {
	Source     string  `json:"source"`
	Connected  bool    `json:"connected"`
	LastSyncAt *string `json:"last_sync_at,omitempty"`
}

// ListSources handles GET /api/sources.
func ListSources(deps SourcesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := deps.States.ListStates(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list sources")
			return
		}
		out := make([]sourceStatusBody, len(states))
		for i, s := range states {
			body := sourceStatusBody{Source: string(s.Source), Connected: s.Connected}
			if s.LastSyncAt != nil {
				ts := s.LastSyncAt.UTC().Format("2006-01-02T15:04:05Z07:00")
				body.LastSyncAt = &ts
			}
			out[i] = body
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: out})
	}
}

type connectRequestBody struct {
	Cursor map[string]any `json:"cursor,omitempty"`
}

// ConnectSource handles POST /api/sources/{source}/connect. A source-specific
// cursor payload (typically an OAuth refresh token) in the request body is
// persisted immediately so the next sync pass can use it.
func ConnectSource(deps SourcesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := model.Source(chi.URLParam(r, "source"))
		var body connectRequestBody
		_ = decodeJSON(r, &body)

		if err := deps.States.SetConnected(r.Context(), source, true); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to connect source")
			return
		}

		if len(body.Cursor) > 0 {
			cursor, err := json.Marshal(body.Cursor)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid cursor payload")
				return
			}
			if err := deps.States.SaveCursor(r.Context(), source, cursor); err != nil {
				respondError(w, http.StatusInternalServerError, "failed to save source cursor")
				return
			}
		}

		respondJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{"source": string(source), "connected": true}})
	}
}

type syncRequestBody struct {
	Full bool `json:"full,omitempty"`
}

type syncResponseBody struct {
	Source          string `json:"source"`
	Accepted        bool   `json:"accepted"`
	SyncedDocuments int    `json:"synced_documents"`
	SyncedChunks    int    `json:"synced_chunks"`
	Message         string `json:"message"`
}

// SyncSource handles POST /api/sources/{source}/sync.
func SyncSource(deps SourcesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		source := model.Source(chi.URLParam(r, "source"))
		conn, ok := deps.Connectors[source]
		if !ok {
			respondError(w, http.StatusNotFound, "unknown source")
			return
		}

		var body syncRequestBody
		_ = decodeJSON(r, &body)

		stats, err := deps.Syncer.Sync(r.Context(), conn)
		if err != nil {
			respondJSON(w, http.StatusOK, envelope{Success: true, Data: syncResponseBody{
				Source: string(source), Accepted: true, Message: "sync failed: " + err.Error(),
			}})
			return
		}
		if deps.Cache != nil {
			deps.Cache.InvalidateAll()
		}
		respondJSON(w, http.StatusOK, envelope{Success: true, Data: syncResponseBody{
			Source: string(source), Accepted: true, Message: "sync complete",
			SyncedDocuments: stats.SyncedDocuments, SyncedChunks: stats.SyncedChunks,
		}})
	}
}

type allowlistRequestBody struct {
	Paths []string `json:"paths"`
}

// ReplaceFileAllowlist handles PUT /api/sources/files/allowlist: replace-all
// semantics over a list of 1-100 absolute paths.
func ReplaceFileAllowlist(deps SourcesDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body allowlistRequestBody
		if err := decodeJSON(r, &body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(body.Paths) == 0 || len(body.Paths) > 100 {
			respondError(w, http.StatusBadRequest, "paths must contain between 1 and 100 entries")
			return
		}
		if err := deps.Allowlist.ReplaceAllowlist(r.Context(), body.Paths); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to replace allowlist")
			return
		}
		respondJSON(w, http.StatusOK, envelope{Success: true})
	}
}
