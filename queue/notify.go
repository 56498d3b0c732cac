package queue

import (
	"context"
	"os"
	"syscall"
	"time"
)

const drainPollInterval = 50 * time.Millisecond

// Notifier wakes a waiting daemon loop shortly after new work is
// pushed, without the loop needing to hit the database on every tick.
// It uses a named Unix FIFO as the cross-process signal and always
// bounds the wait with a plain interval, so a platform or permission
// problem creating the FIFO degrades to pure polling rather than
// hanging.
type Notifier struct {
	path      string
	pollEvery time.Duration
}

// NewNotifier creates (or reuses) a FIFO at path. Failure to create
// the FIFO is not fatal — Wait still works, just as a plain poller.
func NewNotifier(path string, pollEvery time.Duration) *Notifier {
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	_ = syscall.Mkfifo(path, 0600)
	return &Notifier{path: path, pollEvery: pollEvery}
}

// Signal wakes anyone waiting on the FIFO. It never blocks: if the
// FIFO can't be opened (missing, no reader, unsupported platform) the
// signal is simply dropped, since the poll interval in Wait is the
// backstop.
func (n *Notifier) Signal() {
	f, err := os.OpenFile(n.path, os.O_WRONLY|syscall.O_NONBLOCK, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write([]byte{0})
}

// Wait returns when a signal arrives on the FIFO, the poll interval
// elapses, or ctx is done — whichever comes first. The caller must
// re-check actual queue state after Wait returns; a timeout wakeup
// carries no guarantee of new work, same as the fsnotify-driven
// watcher in the daemon loop.
func (n *Notifier) Wait(ctx context.Context) {
	deadline := time.Now().Add(n.pollEvery)
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	// The read end stays open for the whole wait: a non-blocking writer
	// open fails while no reader holds the FIFO, and a pipe discards
	// unread bytes once its last reader closes.
	f, err := os.OpenFile(n.path, os.O_RDONLY|syscall.O_NONBLOCK, 0600)
	if err == nil {
		defer f.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.drain(f) || time.Now().After(deadline) {
				return
			}
		}
	}
}

// drain does a non-blocking check for a pending signal byte on the
// FIFO's read end f (nil when it could not be opened), returning true
// if one was found.
func (n *Notifier) drain(f *os.File) bool {
	if f == nil {
		return false
	}
	buf := make([]byte, 1)
	k, _ := f.Read(buf)
	return k > 0
}
