// Package watcher coalesces file-change events into debounced indexing
// passes. The underlying OS-level file-system event stream is abstracted
// away (out of scope for this module); callers feed path-changed events in
// from whatever notification mechanism they wire up, and this package
// handles the debounce and dispatch.
package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/connexus-ai/personal-vault/internal/ingest"
)

// defaultDebounce groups rapid edits to the same path (e.g. save-save-save)
// into one indexing pass.
const defaultDebounce = 5 * time.Second

// pollInterval is how often the debounce loop checks for settled paths.
const pollInterval = 1 * time.Second

// Syncer runs one ingestion pass for the files connector.
type Syncer interface {
	Sync(ctx context.Context, conn ingest.Connector) (ingest.SyncStats, error)
}

// Watcher coalesces per-path change events through a shared, mutex-guarded
// pending map; only the debounce loop drains it, after a quiet interval.
type Watcher struct {
	syncer    Syncer
	conn      ingest.Connector
	debounce  time.Duration
	mu        sync.Mutex
	pending   map[string]time.Time
	stop      chan struct{}
	wg        sync.WaitGroup
	running   bool
}

// New creates a Watcher. debounce of 0 uses the default (5s).
func New(syncer Syncer, conn ingest.Connector, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		syncer:   syncer,
		conn:     conn,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		stop:     make(chan struct{}),
	}
}

// OnPathChanged records that path changed just now. Safe to call
// concurrently from multiple event-stream producers.
func (w *Watcher) OnPathChanged(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = time.Now()
}

// Start launches the background debounce loop. Call Stop to shut it down.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.debounceLoop(ctx)
	slog.Info("[WATCHER] started", "debounce", w.debounce)
}

// Stop halts the debounce loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stop)
	w.wg.Wait()
	slog.Info("[WATCHER] stopped")
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.drainSettled() {
				if _, err := w.syncer.Sync(ctx, w.conn); err != nil {
					slog.Warn("[WATCHER] auto-index sync failed", "error", err)
				}
			}
		}
	}
}

// drainSettled removes paths whose last change is older than the debounce
// interval and reports whether any were found.
func (w *Watcher) drainSettled() bool {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()

	found := false
	for path, changedAt := range w.pending {
		if now.Sub(changedAt) >= w.debounce {
			delete(w.pending, path)
			found = true
		}
	}
	return found
}
