package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/llmc/llmc/store"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store, int64) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue_test.db")
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	fileID, err := s.UpsertFile(ctx, store.File{RepoRoot: "/repo", RelativePath: "a.go", ContentHash: "h1"})
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}
	spanIDs, err := s.ReplaceSpans(ctx, fileID, []store.Span{
		{FileID: fileID, StartLine: 1, EndLine: 3, Symbol: "A", RawText: "func A() {}", SpanHash: store.SpanHash("func A() {}")},
	})
	if err != nil {
		t.Fatalf("ReplaceSpans: %v", err)
	}

	return New(s), s, spanIDs[0]
}

func TestQueuePushPullComplete(t *testing.T) {
	ctx := context.Background()
	q, _, spanID := newTestQueue(t)

	if err := q.Push(ctx, "/repo", spanID, "h-a", 1.0); err != nil {
		t.Fatalf("Push: %v", err)
	}

	items, err := q.Pull(ctx, "/repo", "worker-1", 5, time.Minute)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].LeaseOwner != "worker-1" {
		t.Errorf("expected lease owner worker-1, got %q", items[0].LeaseOwner)
	}

	// Second puller should see nothing: the lease has not expired.
	again, err := q.Pull(ctx, "/repo", "worker-2", 5, time.Minute)
	if err != nil {
		t.Fatalf("Pull (second): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected 0 items while leased, got %d", len(again))
	}

	if err := q.Complete(ctx, items[0].ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	depth, err := q.Depth(ctx, "/repo")
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("expected depth 0 after complete, got %d", depth)
	}
}

func TestQueuePushIdempotent(t *testing.T) {
	ctx := context.Background()
	q, _, spanID := newTestQueue(t)

	if err := q.Push(ctx, "/repo", spanID, "h-a", 1.0); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := q.Push(ctx, "/repo", spanID, "h-a", 5.0); err != nil {
		t.Fatalf("Push (again): %v", err)
	}

	depth, err := q.Depth(ctx, "/repo")
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected re-pushing the same span to stay a single row, got depth %d", depth)
	}
}

func TestQueueFailReleasesLeaseAfterBackoff(t *testing.T) {
	ctx := context.Background()
	q, _, spanID := newTestQueue(t)

	if err := q.Push(ctx, "/repo", spanID, "h-a", 1.0); err != nil {
		t.Fatalf("Push: %v", err)
	}
	items, err := q.Pull(ctx, "/repo", "worker-1", 5, time.Minute)
	if err != nil || len(items) != 1 {
		t.Fatalf("Pull: %v (items=%d)", err, len(items))
	}

	if err := q.Fail(ctx, items[0].ID, -time.Second); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	retried, err := q.Pull(ctx, "/repo", "worker-2", 5, time.Minute)
	if err != nil {
		t.Fatalf("Pull (after fail): %v", err)
	}
	if len(retried) != 1 {
		t.Fatalf("expected the failed item to be reclaimable immediately, got %d", len(retried))
	}
}
