package watcher

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/connexus-ai/personal-vault/internal/ingest"
	"github.com/connexus-ai/personal-vault/internal/model"
)

type countingSyncer struct {
	calls int32
	err   error
}

func (c *countingSyncer) Sync(ctx context.Context, conn ingest.Connector) (ingest.SyncStats, error) {
	atomic.AddInt32(&c.calls, 1)
	return ingest.SyncStats{}, c.err
}

type fakeConnector struct{}

func (fakeConnector) Source() model.Source { return model.SourceFiles }
func (fakeConnector) Sync(ctx context.Context, cursor json.RawMessage) (ingest.SyncResult, error) {
	return ingest.SyncResult{}, nil
}

func TestWatcher_DebouncesRapidChangesIntoOneSync(t *testing.T) {
	syncer := &countingSyncer{}
	w := New(syncer, fakeConnector{}, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	for i := 0; i < 5; i++ {
		w.OnPathChanged("/home/user/notes/todo.md")
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&syncer.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if atomic.LoadInt32(&syncer.calls) == 0 {
		t.Fatal("expected at least one sync after debounce settled")
	}
}

func TestWatcher_NoPendingChangesNeverSyncs(t *testing.T) {
	syncer := &countingSyncer{}
	w := New(syncer, fakeConnector{}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	cancel()

	if atomic.LoadInt32(&syncer.calls) != 0 {
		t.Fatalf("calls = %d, want 0 with no pending changes", syncer.calls)
	}
}

func TestWatcher_StartIsIdempotent(t *testing.T) {
	syncer := &countingSyncer{}
	w := New(syncer, fakeConnector{}, time.Second)
	ctx := context.Background()

	w.Start(ctx)
	w.Start(ctx)
	w.Stop()
}
