package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestNotifierSignalWakesWaitEarly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wake.fifo")
	n := NewNotifier(path, 5*time.Second)

	go func() {
		time.Sleep(100 * time.Millisecond)
		n.Signal()
	}()

	start := time.Now()
	n.Wait(context.Background())
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Fatalf("expected Wait to return early on signal, took %v", elapsed)
	}
}

func TestNotifierWaitRespectsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wake.fifo")
	n := NewNotifier(path, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	n.Wait(ctx)
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Fatalf("expected Wait to return when context is done, took %v", elapsed)
	}
}
