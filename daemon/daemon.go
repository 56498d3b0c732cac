// Package daemon runs the idle-throttled background loop that keeps a
// repository's index fresh between explicit commands: it repeats a
// cycle on an exponentially backed-off schedule, wakes immediately on
// a filesystem event or an explicit nudge, lowers its own scheduling
// priority, and shuts down gracefully on SIGINT/SIGTERM within a
// bounded grace period. The signal handling and bounded shutdown
// mirror cmd/server/main.go's ListenAndServe/Shutdown(ctx) sequence,
// generalized from an HTTP server's request drain to a cycle's
// natural completion point.
package daemon

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// CycleFunc runs one pass of work and reports whether it found
// anything to do. The loop uses that signal to back off while the
// repository is quiet and reset to the base interval the moment real
// work reappears.
type CycleFunc func(ctx context.Context) (didWork bool, err error)

// Loop is the idle-throttled background process.
type Loop struct {
	cfg     Config
	cycle   CycleFunc
	watcher *Watcher
	wake    chan struct{}
}

// New builds a Loop. watcher may be nil to disable filesystem-driven
// wakeups, in which case the loop falls back to pure polling at the
// backed-off interval.
func New(cfg Config, cycle CycleFunc, watcher *Watcher) *Loop {
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = 2 * time.Second
	}
	if cfg.MaxMultiplier <= 0 {
		cfg.MaxMultiplier = 16
	}
	if cfg.ShutdownBound <= 0 {
		cfg.ShutdownBound = 30 * time.Second
	}
	return &Loop{cfg: cfg, cycle: cycle, watcher: watcher, wake: make(chan struct{}, 1)}
}

// Wake interrupts the current backoff sleep immediately, used when a
// caller pushes new work and doesn't want to wait for the next poll.
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run blocks, running cycle on a backed-off schedule, until ctx is
// cancelled or a SIGINT/SIGTERM arrives. It returns once shutdown is
// complete.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Nice != 0 {
		if err := syscall.Setpriority(syscall.PRIO_PROCESS, 0, l.cfg.Nice); err != nil {
			slog.Warn("daemon: failed to lower process priority", "nice", l.cfg.Nice, "error", err)
		}
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	multiplier := 1
	for {
		done := make(chan struct{})
		var didWork bool
		var cycleErr error
		go func() {
			defer close(done)
			didWork, cycleErr = l.cycle(runCtx)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			cancelRun()
			l.awaitCycle(done)
			return l.close()
		case sig := <-sigCh:
			slog.Info("daemon: received signal, shutting down", "signal", sig)
			cancelRun()
			l.awaitCycle(done)
			return l.close()
		}

		if cycleErr != nil {
			slog.Warn("daemon: cycle failed", "error", cycleErr)
		}

		if didWork {
			multiplier = 1
		} else if multiplier < l.cfg.MaxMultiplier {
			multiplier *= 2
			if multiplier > l.cfg.MaxMultiplier {
				multiplier = l.cfg.MaxMultiplier
			}
		}

		if !l.sleep(runCtx, sigCh, time.Duration(multiplier)*l.cfg.BaseInterval) {
			cancelRun()
			return l.close()
		}
	}
}

// awaitCycle waits for an in-flight cycle to observe cancellation and
// return, giving up after ShutdownBound so a cycle that ignores its
// context can't hang the process indefinitely.
func (l *Loop) awaitCycle(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(l.cfg.ShutdownBound):
		slog.Warn("daemon: cycle did not finish within shutdown bound", "bound", l.cfg.ShutdownBound)
	}
}

// sleep waits for the next cycle, interruptible by a filesystem event,
// an explicit Wake, a signal, or cancellation. It returns false when
// the loop should stop.
func (l *Loop) sleep(ctx context.Context, sigCh <-chan os.Signal, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var events <-chan string
	if l.watcher != nil {
		events = l.watcher.Events()
	}

	select {
	case <-ctx.Done():
		return false
	case <-sigCh:
		return false
	case <-timer.C:
		return true
	case <-l.wake:
		return true
	case _, ok := <-events:
		return ok
	}
}

func (l *Loop) close() error {
	if l.watcher != nil {
		if err := l.watcher.Close(); err != nil {
			slog.Warn("daemon: watcher close error", "error", err)
		}
	}
	slog.Info("daemon: stopped")
	return nil
}
