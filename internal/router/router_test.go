package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/connexus-ai/personal-vault/internal/eval"
	"github.com/connexus-ai/personal-vault/internal/handler"
	"github.com/connexus-ai/personal-vault/internal/ingest"
	"github.com/connexus-ai/personal-vault/internal/model"
	"github.com/connexus-ai/personal-vault/internal/reflection"
)

// mockDB implements handler.DBPinger for testing.
type mockDB struct {
	err error
}

func (m *mockDB) Ping(ctx context.Context) error {
	return m.err
}

type noopAskRunner struct{}

func (noopAskRunner) Run(ctx context.Context, req model.AskRequest) model.AskResponse {
	return model.AskResponse{}
}

type noopFeedbackStore struct{}

func (noopFeedbackStore) InsertFeedback(ctx context.Context, f *model.FeedbackEvent) error {
	return nil
}

type noopCandidateRecorder struct{}

func (noopCandidateRecorder) InsertCandidate(ctx context.Context, c *model.MemoryCandidate) (int64, error) {
	return 1, nil
}

func (noopCandidateRecorder) ListCandidates(ctx context.Context, status model.CandidateStatus) ([]model.MemoryCandidate, error) {
	return nil, nil
}

type noopApprover struct{}

func (noopApprover) ApproveCandidate(ctx context.Context, candidateID int64) (*model.MemoryItem, []int64, error) {
	return &model.MemoryItem{}, nil, nil
}

func (noopApprover) RejectCandidate(ctx context.Context, candidateID int64) error {
	return nil
}

func (noopApprover) DeprecateItem(ctx context.Context, itemID int64) error {
	return nil
}

type noopStateStore struct{}

func (noopStateStore) ListStates(ctx context.Context) ([]model.SourceState, error) {
	return nil, nil
}

func (noopStateStore) SetConnected(ctx context.Context, source model.Source, connected bool) error {
	return nil
}

type noopSyncer struct{}

func (noopSyncer) Sync(ctx context.Context, conn ingest.Connector) error {
	return nil
}

type noopAllowlist struct{}

func (noopAllowlist) ReplaceAllowlist(ctx context.Context, paths []string) error {
	return nil
}

func (noopAllowlist) ListAllowlist(ctx context.Context) ([]model.FileAllowlistEntry, error) {
	return nil, nil
}

type noopEvalRunner struct{}

func (noopEvalRunner) Run(ctx context.Context) (eval.Summary, error) {
	return eval.Summary{}, nil
}

func newTestRouter(internalSecret string) http.Handler {
	candidates := noopCandidateRecorder{}
	approver := noopApprover{}
	deps := &Dependencies{
		DB:                 &mockDB{},
		Version:            "0.1.0",
		FrontendURL:        "http://localhost:3000",
		InternalAuthSecret: internalSecret,
		Ask:                noopAskRunner{},
		Feedback: handler.FeedbackDeps{
			Store:      noopFeedbackStore{},
			Candidates: candidates,
			Reflection: reflection.New(),
		},
		Memory: handler.MemoryReviewDeps{
			Lister:     candidates,
			Approver:   approver,
			Rejecter:   approver,
			Deprecator: approver,
		},
		Sources: handler.SourcesDeps{
			States:     noopStateStore{},
			Syncer:     noopSyncer{},
			Connectors: map[model.Source]ingest.Connector{},
			Allowlist:  noopAllowlist{},
		},
		Eval: noopEvalRunner{},
	}
	return New(deps)
}

func TestHealth_IsPublicAndUnauthenticated(t *testing.T) {
	r := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealth_DBDown(t *testing.T) {
	deps := &Dependencies{
		DB:      &mockDB{err: context.DeadlineExceeded},
		Version: "0.1.0",
		Ask:     noopAskRunner{},
		Sources: handler.SourcesDeps{States: noopStateStore{}, Syncer: noopSyncer{}, Connectors: map[model.Source]ingest.Connector{}, Allowlist: noopAllowlist{}},
		Memory:  handler.MemoryReviewDeps{Lister: noopCandidateRecorder{}, Approver: noopApprover{}, Rejecter: noopApprover{}, Deprecator: noopApprover{}},
		Eval:    noopEvalRunner{},
	}
	r := New(deps)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestAPIRoutes_RequireInternalAuth(t *testing.T) {
	r := newTestRouter("s3cret")

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAPIRoutes_WithInternalAuth(t *testing.T) {
	r := newTestRouter("s3cret")

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	req.Header.Set("X-Internal-Auth", "s3cret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAPIRoutes_EmptySecretAllowsThrough(t *testing.T) {
	r := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestUnknownRoute_Returns404(t *testing.T) {
	r := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestMetrics_NotMountedWhenRegistryNil(t *testing.T) {
	r := newTestRouter("")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
