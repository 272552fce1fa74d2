package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/connexus-ai/personal-vault/internal/model"
)

type fakeStore struct {
	candidates map[int64]*model.MemoryCandidate
	items      map[int64]*model.MemoryItem
	events     []model.MemoryEvent
	nextItemID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		candidates: map[int64]*model.MemoryCandidate{},
		items:      map[int64]*model.MemoryItem{},
	}
}

func (f *fakeStore) GetCandidate(ctx context.Context, id int64) (*model.MemoryCandidate, error) {
	c, ok := f.candidates[id]
	if !ok {
		return nil, fmt.Errorf("candidate %d not found", id)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeStore) SetCandidateStatus(ctx context.Context, id int64, status model.CandidateStatus) error {
	c, ok := f.candidates[id]
	if !ok {
		return fmt.Errorf("candidate %d not found", id)
	}
	c.Status = status
	return nil
}

func (f *fakeStore) InsertItem(ctx context.Context, item *model.MemoryItem) (int64, error) {
	f.nextItemID++
	id := f.nextItemID
	copied := *item
	copied.ID = id
	f.items[id] = &copied
	return id, nil
}

func (f *fakeStore) ListActive(ctx context.Context) ([]model.MemoryItem, error) {
	var out []model.MemoryItem
	for _, item := range f.items {
		if item.ActivationState == model.ActivationActive {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (f *fakeStore) SetActivationState(ctx context.Context, id int64, state model.ActivationState, supersedesID *int64) error {
	item, ok := f.items[id]
	if !ok {
		return fmt.Errorf("item %d not found", id)
	}
	item.ActivationState = state
	if supersedesID != nil {
		item.SupersedesID = supersedesID
	}
	return nil
}

func (f *fakeStore) InsertEvent(ctx context.Context, e *model.MemoryEvent) error {
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeStore) addActiveItem(id int64, kind model.MemoryKind, scope model.MemoryScope, statement string, confidence int, metadata string) {
	f.items[id] = &model.MemoryItem{
		ID:              id,
		Kind:            kind,
		Scope:           scope,
		Statement:       statement,
		ActivationState: model.ActivationActive,
		Confidence:      confidence,
		LastVerifiedAt:  time.Now().UTC(),
		Metadata:        json.RawMessage(metadata),
	}
	if id > f.nextItemID {
		f.nextItemID = id
	}
}

func TestSelectForQuestion_DropsLowConfidenceAndLowOverlap(t *testing.T) {
	store := newFakeStore()
	store.addActiveItem(1, model.KindUserPreference, model.ScopeUserGlobal, "prefers concise summaries over long reports", 90, "{}")
	store.addActiveItem(2, model.KindUserPreference, model.ScopeUserGlobal, "likes detailed summaries with citations", 40, "{}")
	store.addActiveItem(3, model.KindReasoningRule, model.ScopeUserGlobal, "unrelated statement about weather patterns", 95, "{}")

	mgr := New(store)
	sel, err := mgr.SelectForQuestion(context.Background(), "give me a concise summary of my emails", nil, nil, 4)
	if err != nil {
		t.Fatalf("SelectForQuestion() error: %v", err)
	}

	if len(sel.Used) != 1 || sel.Used[0].ID != 1 {
		t.Fatalf("Used = %+v, want only item 1", sel.Used)
	}
	if len(sel.Skipped) != 2 {
		t.Fatalf("Skipped = %+v, want 2 items", sel.Skipped)
	}
}

func TestSelectForQuestion_RespectsSourceSpecificScope(t *testing.T) {
	store := newFakeStore()
	store.addActiveItem(1, model.KindSourceQuirk, model.ScopeSourceSpecific, "gmail receipts omit subject lines often", 90, `{"source":"gmail"}`)
	store.addActiveItem(2, model.KindSourceQuirk, model.ScopeSourceSpecific, "gmail receipts omit subject lines often", 90, `{"source":"slack"}`)

	mgr := New(store)
	sel, err := mgr.SelectForQuestion(context.Background(), "why do gmail receipts omit subject lines", nil, []string{"gmail"}, 4)
	if err != nil {
		t.Fatalf("SelectForQuestion() error: %v", err)
	}

	if len(sel.Used) != 1 || sel.Used[0].ID != 1 {
		t.Fatalf("Used = %+v, want only the gmail-scoped item", sel.Used)
	}
}

func TestSelectForQuestion_TopKOrdersByScore(t *testing.T) {
	store := newFakeStore()
	store.addActiveItem(1, model.KindUserPreference, model.ScopeUserGlobal, "summaries summaries summaries please always", 90, "{}")
	store.addActiveItem(2, model.KindUserPreference, model.ScopeUserGlobal, "summaries please", 90, "{}")

	mgr := New(store)
	sel, err := mgr.SelectForQuestion(context.Background(), "summaries please always", nil, nil, 1)
	if err != nil {
		t.Fatalf("SelectForQuestion() error: %v", err)
	}

	if len(sel.Used) != 1 || sel.Used[0].ID != 1 {
		t.Fatalf("Used = %+v, want top-scoring item 1 only", sel.Used)
	}
	if len(sel.Skipped) != 1 || sel.Skipped[0].ID != 2 {
		t.Fatalf("Skipped = %+v, want item 2 pushed out by top_k", sel.Skipped)
	}
}

func TestApproveCandidate_RequiresEvidenceCitations(t *testing.T) {
	store := newFakeStore()
	store.candidates[1] = &model.MemoryCandidate{ID: 1, Kind: model.KindUserPreference, Scope: model.ScopeUserGlobal, Learning: "x", Confidence: 80, Status: model.CandidateProposed}

	mgr := New(store)
	if _, _, err := mgr.ApproveCandidate(context.Background(), 1); err == nil {
		t.Fatal("expected error approving candidate without evidence citations")
	}
}

func TestApproveCandidate_ActivatesItemAndEmitsEvent(t *testing.T) {
	store := newFakeStore()
	store.candidates[1] = &model.MemoryCandidate{
		ID: 1, Kind: model.KindUserPreference, Scope: model.ScopeUserGlobal,
		Title: "concise summaries", Learning: "prefers concise summaries", Confidence: 80,
		EvidenceCitationIDs: []string{"c1"}, Status: model.CandidateProposed,
	}

	mgr := New(store)
	item, demoted, err := mgr.ApproveCandidate(context.Background(), 1)
	if err != nil {
		t.Fatalf("ApproveCandidate() error: %v", err)
	}
	if len(demoted) != 0 {
		t.Fatalf("demoted = %v, want none", demoted)
	}
	if item.ActivationState != model.ActivationActive {
		t.Fatalf("item.ActivationState = %q, want active", item.ActivationState)
	}
	if store.candidates[1].Status != model.CandidateApproved {
		t.Fatalf("candidate status = %q, want approved", store.candidates[1].Status)
	}
	if len(store.events) != 1 || store.events[0].Event != model.EventApproved {
		t.Fatalf("events = %+v, want one approved event", store.events)
	}
}

func TestApproveCandidate_StalesWeakerConflictingItem(t *testing.T) {
	store := newFakeStore()
	store.addActiveItem(1, model.KindUserPreference, model.ScopeUserGlobal, "never summarize emails without my approval", 50, "{}")
	store.candidates[2] = &model.MemoryCandidate{
		ID: 2, Kind: model.KindUserPreference, Scope: model.ScopeUserGlobal,
		Title: "auto summarize", Learning: "summarize emails with my approval automatically", Confidence: 90,
		EvidenceCitationIDs: []string{"c1"}, Status: model.CandidateProposed,
	}

	mgr := New(store)
	item, demoted, err := mgr.ApproveCandidate(context.Background(), 2)
	if err != nil {
		t.Fatalf("ApproveCandidate() error: %v", err)
	}
	if len(demoted) != 1 || demoted[0] != 1 {
		t.Fatalf("demoted = %v, want [1]", demoted)
	}
	if store.items[1].ActivationState != model.ActivationStale {
		t.Fatalf("item 1 state = %q, want stale", store.items[1].ActivationState)
	}
	if store.items[1].SupersedesID == nil || *store.items[1].SupersedesID != item.ID {
		t.Fatalf("item 1 supersedes_id = %v, want %d", store.items[1].SupersedesID, item.ID)
	}

	foundAutoStale := false
	for _, e := range store.events {
		if e.Event == model.EventAutoStale {
			foundAutoStale = true
		}
	}
	if !foundAutoStale {
		t.Fatal("expected an auto_stale event to be recorded")
	}
}

func TestApproveCandidate_StalesNewItemWhenExistingIsStronger(t *testing.T) {
	store := newFakeStore()
	store.addActiveItem(1, model.KindUserPreference, model.ScopeUserGlobal, "never summarize emails without my approval", 95, "{}")
	store.candidates[2] = &model.MemoryCandidate{
		ID: 2, Kind: model.KindUserPreference, Scope: model.ScopeUserGlobal,
		Title: "auto summarize", Learning: "summarize emails with my approval automatically", Confidence: 40,
		EvidenceCitationIDs: []string{"c1"}, Status: model.CandidateProposed,
	}

	mgr := New(store)
	item, demoted, err := mgr.ApproveCandidate(context.Background(), 2)
	if err != nil {
		t.Fatalf("ApproveCandidate() error: %v", err)
	}
	if len(demoted) != 1 || demoted[0] != item.ID {
		t.Fatalf("demoted = %v, want [%d]", demoted, item.ID)
	}
	if store.items[item.ID].ActivationState != model.ActivationStale {
		t.Fatalf("new item state = %q, want stale", store.items[item.ID].ActivationState)
	}
}

func TestRejectCandidate_MarksRejectedAndEmitsEvent(t *testing.T) {
	store := newFakeStore()
	store.candidates[1] = &model.MemoryCandidate{ID: 1, Status: model.CandidateProposed}

	mgr := New(store)
	if err := mgr.RejectCandidate(context.Background(), 1); err != nil {
		t.Fatalf("RejectCandidate() error: %v", err)
	}
	if store.candidates[1].Status != model.CandidateRejected {
		t.Fatalf("status = %q, want rejected", store.candidates[1].Status)
	}
	if len(store.events) != 1 || store.events[0].Event != model.EventRejected {
		t.Fatalf("events = %+v, want one rejected event", store.events)
	}
}

func TestDeprecateItem_TransitionsAndEmitsEvent(t *testing.T) {
	store := newFakeStore()
	store.addActiveItem(1, model.KindUserPreference, model.ScopeUserGlobal, "anything", 90, "{}")

	mgr := New(store)
	if err := mgr.DeprecateItem(context.Background(), 1); err != nil {
		t.Fatalf("DeprecateItem() error: %v", err)
	}
	if store.items[1].ActivationState != model.ActivationDeprecated {
		t.Fatalf("state = %q, want deprecated", store.items[1].ActivationState)
	}
	if len(store.events) != 1 || store.events[0].Event != model.EventDeprecated {
		t.Fatalf("events = %+v, want one deprecated event", store.events)
	}
}

func TestIsConflicting_RequiresHighOverlapAndExactlyOneNegation(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want bool
	}{
		{"clear conflict", "never send emails after 9pm", "always send emails after 9pm", true},
		{"both negated, not a conflict", "never send emails after 9pm", "never send texts after 9pm", false},
		{"low overlap, not a conflict", "never send emails after 9pm", "prefers dark mode in the dashboard", false},
		{"identical statement", "always send emails after 9pm", "always send emails after 9pm", false},
	}
	for _, c := range cases {
		if got := isConflicting(c.a, c.b); got != c.want {
			t.Errorf("%s: isConflicting(%q, %q) = %v, want %v", c.name, c.a, c.b, got, c.want)
		}
	}
}
