package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/connexus-ai/personal-vault/internal/ingest"
	"github.com/connexus-ai/personal-vault/internal/model"
)

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type fakeStateStore struct {
	states       []model.SourceState
	connected    map[model.Source]bool
	savedCursors map[model.Source]json.RawMessage
	saveErr      error
}

func (f *fakeStateStore) ListStates(ctx context.Context) ([]model.SourceState, error) {
	return f.states, nil
}

func (f *fakeStateStore) SetConnected(ctx context.Context, source model.Source, connected bool) error {
	if f.connected == nil {
		f.connected = map[model.Source]bool{}
	}
	f.connected[source] = connected
	return nil
}

func (f *fakeStateStore) SaveCursor(ctx context.Context, source model.Source, cursor json.RawMessage) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.savedCursors == nil {
		f.savedCursors = map[model.Source]json.RawMessage{}
	}
	f.savedCursors[source] = cursor
	return nil
}

type fakeSyncer struct {
	stats ingest.SyncStats
	err   error
}

func (f *fakeSyncer) Sync(ctx context.Context, conn ingest.Connector) (ingest.SyncStats, error) {
	return f.stats, f.err
}

type fakeConnector struct{ source model.Source }

func (f fakeConnector) Source() model.Source { return f.source }
func (f fakeConnector) Sync(ctx context.Context, cursor json.RawMessage) (ingest.SyncResult, error) {
	return ingest.SyncResult{}, nil
}

type fakeAllowlist struct {
	replaced []string
}

func (f *fakeAllowlist) ReplaceAllowlist(ctx context.Context, paths []string) error {
	f.replaced = paths
	return nil
}

func (f *fakeAllowlist) ListAllowlist(ctx context.Context) ([]model.FileAllowlistEntry, error) {
	return nil, nil
}

type fakeRetrievalCache struct {
	invalidated bool
}

func (f *fakeRetrievalCache) InvalidateAll() {
	f.invalidated = true
}

func TestListSources_ReturnsStates(t *testing.T) {
	deps := SourcesDeps{
		States: &fakeStateStore{states: []model.SourceState{
			{Source: model.SourceFiles, Connected: true},
		}},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()
	ListSources(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success {
		t.Error("expected success=true")
	}
}

func TestConnectSource_PersistsCursorPayload(t *testing.T) {
	states := &fakeStateStore{}
	deps := SourcesDeps{States: states}

	body := bytes.NewBufferString(`{"cursor":{"refresh_token":"rt-xyz"}}`)
	req := withChiParam(httptest.NewRequest(http.MethodPost, "/api/sources/mail/connect", body), "source", "mail")
	rec := httptest.NewRecorder()
	ConnectSource(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	saved, ok := states.savedCursors[model.SourceMail]
	if !ok {
		t.Fatal("expected cursor to be saved")
	}
	var decoded map[string]any
	if err := json.Unmarshal(saved, &decoded); err != nil {
		t.Fatalf("unmarshal saved cursor: %v", err)
	}
	if decoded["refresh_token"] != "rt-xyz" {
		t.Fatalf("expected refresh_token persisted, got %v", decoded)
	}
	if !states.connected[model.SourceMail] {
		t.Fatal("expected source to be marked connected")
	}
}

func TestConnectSource_NoCursorSkipsSave(t *testing.T) {
	states := &fakeStateStore{}
	deps := SourcesDeps{States: states}

	req := withChiParam(httptest.NewRequest(http.MethodPost, "/api/sources/files/connect", nil), "source", "files")
	rec := httptest.NewRecorder()
	ConnectSource(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if _, ok := states.savedCursors[model.SourceFiles]; ok {
		t.Fatal("expected no cursor saved when body has none")
	}
}

func TestSyncSource_UnknownSourceReturns404(t *testing.T) {
	deps := SourcesDeps{Connectors: map[model.Source]ingest.Connector{}}
	req := httptest.NewRequest(http.MethodPost, "/api/sources/bogus/sync", nil)
	req = withChiParam(req, "source", "bogus")
	rec := httptest.NewRecorder()
	SyncSource(deps)(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestSyncSource_SuccessInvalidatesCacheAndReportsCounts(t *testing.T) {
	cache := &fakeRetrievalCache{}
	deps := SourcesDeps{
		Connectors: map[model.Source]ingest.Connector{
			model.SourceFiles: fakeConnector{source: model.SourceFiles},
		},
		Syncer: &fakeSyncer{stats: ingest.SyncStats{SyncedDocuments: 3, SyncedChunks: 12}},
		Cache:  cache,
	}
	req := httptest.NewRequest(http.MethodPost, "/api/sources/files/sync", bytes.NewReader(nil))
	req = withChiParam(req, "source", "files")
	rec := httptest.NewRecorder()
	SyncSource(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !cache.invalidated {
		t.Error("expected cache to be invalidated after a successful sync")
	}

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			SyncedDocuments int `json:"synced_documents"`
			SyncedChunks    int `json:"synced_chunks"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.SyncedDocuments != 3 || body.Data.SyncedChunks != 12 {
		t.Errorf("counts = %+v, want 3 documents / 12 chunks", body.Data)
	}
}

func TestSyncSource_FailureDoesNotInvalidateCache(t *testing.T) {
	cache := &fakeRetrievalCache{}
	deps := SourcesDeps{
		Connectors: map[model.Source]ingest.Connector{
			model.SourceFiles: fakeConnector{source: model.SourceFiles},
		},
		Syncer: &fakeSyncer{err: errSyncFailed},
		Cache:  cache,
	}
	req := httptest.NewRequest(http.MethodPost, "/api/sources/files/sync", bytes.NewReader(nil))
	req = withChiParam(req, "source", "files")
	rec := httptest.NewRecorder()
	SyncSource(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if cache.invalidated {
		t.Error("expected cache to stay intact after a failed sync")
	}
}

func TestReplaceFileAllowlist_RejectsEmptyList(t *testing.T) {
	deps := SourcesDeps{Allowlist: &fakeAllowlist{}}
	body, _ := json.Marshal(allowlistRequestBody{Paths: nil})
	req := httptest.NewRequest(http.MethodPut, "/api/sources/files/allowlist", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ReplaceFileAllowlist(deps)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestReplaceFileAllowlist_ReplacesPaths(t *testing.T) {
	store := &fakeAllowlist{}
	deps := SourcesDeps{Allowlist: store}
	body, _ := json.Marshal(allowlistRequestBody{Paths: []string{"/home/me/docs"}})
	req := httptest.NewRequest(http.MethodPut, "/api/sources/files/allowlist", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ReplaceFileAllowlist(deps)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(store.replaced) != 1 || store.replaced[0] != "/home/me/docs" {
		t.Errorf("replaced = %v, want [/home/me/docs]", store.replaced)
	}
}

type syncFailedErr struct{}

func (syncFailedErr) Error() string { return "connector unreachable" }

var errSyncFailed = syncFailedErr{}
