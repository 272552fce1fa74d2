// Package memory implements the lifecycle of learned directives: selecting
// which active memories apply to a question, promoting reviewed candidates
// into active items, and retiring items that conflict or go stale.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/connexus-ai/personal-vault/internal/model"
	"github.com/connexus-ai/personal-vault/internal/textutil"
)

const (
	minSelectionConfidence = 60
	minSelectionScore      = 0.15
	defaultTopK            = 4
	conflictOverlapRatio   = 0.5
)

var negationWords = map[string]bool{
	"no": true, "not": true, "never": true, "without": true, "avoid": true,
}

// Selection is the outcome of SelectForQuestion: the items chosen to inform
// an answer and the items considered but set aside.
type Selection struct {
	Used    []model.MemoryItem
	Skipped []model.MemoryItem
}

// Store is the persistence surface a Manager needs. *repository.MemoryRepo
// satisfies it.
type Store interface {
	GetCandidate(ctx context.Context, id int64) (*model.MemoryCandidate, error)
	SetCandidateStatus(ctx context.Context, id int64, status model.CandidateStatus) error
	InsertItem(ctx context.Context, item *model.MemoryItem) (int64, error)
	ListActive(ctx context.Context) ([]model.MemoryItem, error)
	SetActivationState(ctx context.Context, id int64, state model.ActivationState, supersedesID *int64) error
	InsertEvent(ctx context.Context, e *model.MemoryEvent) error
}

// Manager handles memory candidate review and active item retrieval.
type Manager struct {
	repo Store
}

// New creates a Manager.
func New(repo Store) *Manager {
	return &Manager{repo: repo}
}

// SelectForQuestion picks the top_k active memory items most relevant to
// question, in descending relevance order, and reports everything else as
// skipped. sessionID is accepted for future per-session scoping but does not
// currently affect selection.
func (m *Manager) SelectForQuestion(ctx context.Context, question string, sessionID *string, sourceFilters []string, topK int) (Selection, error) {
	_ = sessionID
	if topK <= 0 {
		topK = defaultTopK
	}

	items, err := m.repo.ListActive(ctx)
	if err != nil {
		return Selection{}, fmt.Errorf("memory.SelectForQuestion: list active: %w", err)
	}
	qTokens := textutil.Tokenize(question)

	type scored struct {
		score float64
		item  model.MemoryItem
	}
	var candidates []scored
	var skipped []model.MemoryItem

	for _, item := range items {
		if item.Confidence < minSelectionConfidence {
			skipped = append(skipped, item)
			continue
		}
		if item.Scope == model.ScopeSourceSpecific {
			if src := metadataSource(item.Metadata); src != "" && !containsFold(sourceFilters, src) {
				skipped = append(skipped, item)
				continue
			}
		}

		itemTokens := textutil.Tokenize(item.Statement)
		overlap := textutil.Overlap(qTokens, itemTokens)
		if overlap == 0 {
			skipped = append(skipped, item)
			continue
		}
		score := float64(overlap) / float64(max(1, len(qTokens)))
		if score < minSelectionScore {
			skipped = append(skipped, item)
			continue
		}
		candidates = append(candidates, scored{score: score, item: item})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	used := make([]model.MemoryItem, 0, topK)
	for i, c := range candidates {
		if i < topK {
			used = append(used, c.item)
		} else {
			skipped = append(skipped, c.item)
		}
	}

	return Selection{Used: used, Skipped: skipped}, nil
}

// ApproveCandidate requires non-empty evidence citations, promotes the
// candidate into an active memory item, and runs the conflict scan against
// other active items of the same kind and scope. It returns the new item and
// the ids of any items it demoted to stale (which may include the new item
// itself, if a stronger conflicting item already exists).
func (m *Manager) ApproveCandidate(ctx context.Context, candidateID int64) (*model.MemoryItem, []int64, error) {
	candidate, err := m.repo.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, nil, fmt.Errorf("memory.ApproveCandidate: get candidate: %w", err)
	}
	if len(candidate.EvidenceCitationIDs) == 0 {
		return nil, nil, fmt.Errorf("memory.ApproveCandidate: candidate %d requires evidence citations before activation", candidateID)
	}

	if err := m.repo.SetCandidateStatus(ctx, candidateID, model.CandidateApproved); err != nil {
		return nil, nil, fmt.Errorf("memory.ApproveCandidate: set status: %w", err)
	}

	statement := strings.TrimSpace(candidate.Learning)
	meta, err := json.Marshal(map[string]any{
		"candidate_id":          fmt.Sprintf("%d", candidateID),
		"title":                 candidate.Title,
		"evidence_citation_ids": candidate.EvidenceCitationIDs,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("memory.ApproveCandidate: marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	itemID, err := m.repo.InsertItem(ctx, &model.MemoryItem{
		Kind:            candidate.Kind,
		Scope:           candidate.Scope,
		Statement:       statement,
		ActivationState: model.ActivationActive,
		Confidence:      candidate.Confidence,
		Source:          "candidate_approval",
		LastVerifiedAt:  now,
		Metadata:        meta,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("memory.ApproveCandidate: insert item: %w", err)
	}

	if err := m.repo.InsertEvent(ctx, &model.MemoryEvent{
		Event:             model.EventApproved,
		Reason:            "candidate approved by user",
		MemoryItemID:      &itemID,
		MemoryCandidateID: &candidateID,
	}); err != nil {
		return nil, nil, fmt.Errorf("memory.ApproveCandidate: insert event: %w", err)
	}

	item, err := m.getItem(ctx, itemID)
	if err != nil {
		return nil, nil, fmt.Errorf("memory.ApproveCandidate: load approved item: %w", err)
	}

	demoted, err := m.demoteConflicts(ctx, itemID)
	if err != nil {
		return nil, nil, fmt.Errorf("memory.ApproveCandidate: demote conflicts: %w", err)
	}
	for _, id := range demoted {
		if id == itemID {
			item.ActivationState = model.ActivationStale
		}
	}
	return item, demoted, nil
}

// RejectCandidate marks a proposed candidate rejected. Terminal.
func (m *Manager) RejectCandidate(ctx context.Context, candidateID int64) error {
	if _, err := m.repo.GetCandidate(ctx, candidateID); err != nil {
		return fmt.Errorf("memory.RejectCandidate: get candidate: %w", err)
	}
	if err := m.repo.SetCandidateStatus(ctx, candidateID, model.CandidateRejected); err != nil {
		return fmt.Errorf("memory.RejectCandidate: set status: %w", err)
	}
	return m.repo.InsertEvent(ctx, &model.MemoryEvent{
		Event:             model.EventRejected,
		Reason:            "candidate rejected by user",
		MemoryCandidateID: &candidateID,
	})
}

// DeprecateItem transitions an active memory item to deprecated. Terminal.
func (m *Manager) DeprecateItem(ctx context.Context, itemID int64) error {
	if err := m.repo.SetActivationState(ctx, itemID, model.ActivationDeprecated, nil); err != nil {
		return fmt.Errorf("memory.DeprecateItem: set state: %w", err)
	}
	return m.repo.InsertEvent(ctx, &model.MemoryEvent{
		Event:        model.EventDeprecated,
		Reason:       "memory manually deprecated",
		MemoryItemID: &itemID,
	})
}

// demoteConflicts compares newItemID against every other active item sharing
// its kind and scope, staling whichever side of a conflicting pair has the
// lower confidence. Ties stale the existing item; the new item is staled
// only when an existing item is strictly stronger.
func (m *Manager) demoteConflicts(ctx context.Context, newItemID int64) ([]int64, error) {
	newItem, err := m.getItem(ctx, newItemID)
	if err != nil {
		return nil, err
	}

	active, err := m.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}

	var demoted []int64
	for _, other := range active {
		if other.ID == newItemID {
			continue
		}
		if other.Kind != newItem.Kind || other.Scope != newItem.Scope {
			continue
		}
		if !isConflicting(newItem.Statement, other.Statement) {
			continue
		}

		if other.Confidence <= newItem.Confidence {
			if err := m.repo.SetActivationState(ctx, other.ID, model.ActivationStale, &newItemID); err != nil {
				return nil, fmt.Errorf("stale %d: %w", other.ID, err)
			}
			otherID := other.ID
			if err := m.repo.InsertEvent(ctx, &model.MemoryEvent{
				Event:        model.EventAutoStale,
				Reason:       fmt.Sprintf("conflicts with stronger memory %d", newItemID),
				MemoryItemID: &otherID,
			}); err != nil {
				return nil, err
			}
			demoted = append(demoted, other.ID)
			continue
		}

		if err := m.repo.SetActivationState(ctx, newItemID, model.ActivationStale, &other.ID); err != nil {
			return nil, fmt.Errorf("stale %d: %w", newItemID, err)
		}
		if err := m.repo.InsertEvent(ctx, &model.MemoryEvent{
			Event:        model.EventAutoStale,
			Reason:       fmt.Sprintf("conflicts with stronger memory %d", other.ID),
			MemoryItemID: &newItemID,
		}); err != nil {
			return nil, err
		}
		demoted = append(demoted, newItemID)
		return demoted, nil
	}

	return demoted, nil
}

func (m *Manager) getItem(ctx context.Context, id int64) (*model.MemoryItem, error) {
	items, err := m.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("memory item %d not found among active items", id)
}

// isConflicting is a heuristic contradiction detector for short guidance
// statements: high token overlap plus exactly one side carrying a negation
// marker ("no", "not", "never", "without", "avoid").
func isConflicting(a, b string) bool {
	aTokens := textutil.Tokenize(a)
	bTokens := textutil.Tokenize(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return false
	}

	smaller := len(aTokens)
	if len(bTokens) < smaller {
		smaller = len(bTokens)
	}
	overlap := float64(textutil.Overlap(aTokens, bTokens)) / float64(max(1, smaller))
	if overlap < conflictOverlapRatio {
		return false
	}

	return hasNegation(a) != hasNegation(b)
}

func hasNegation(text string) bool {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:()\"'")
		if negationWords[word] {
			return true
		}
	}
	return false
}

func metadataSource(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var meta struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(meta.Source))
}

func containsFold(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
