package daemon

import (
	"log/slog"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher wraps fsnotify, dropping events under gitignore-style glob
// patterns before they ever reach the daemon loop.
type Watcher struct {
	fs          *fsnotify.Watcher
	ignoreGlobs []string
	events      chan string
}

// NewWatcher starts watching paths, filtering against ignoreGlobs.
// A path that fails to register is logged and skipped rather than
// failing the whole watcher, since a single unreadable subdirectory
// shouldn't block indexing the rest of the tree.
func NewWatcher(paths []string, ignoreGlobs []string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := fw.Add(p); err != nil {
			slog.Warn("daemon: failed to watch path", "path", p, "error", err)
		}
	}
	w := &Watcher{fs: fw, ignoreGlobs: ignoreGlobs, events: make(chan string, 64)}
	go w.pump()
	return w, nil
}

func (w *Watcher) pump() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				close(w.events)
				return
			}
			if w.ignored(ev.Name) {
				continue
			}
			select {
			case w.events <- ev.Name:
			default:
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("daemon: watcher error", "error", err)
		}
	}
}

func (w *Watcher) ignored(path string) bool {
	rel := filepath.ToSlash(path)
	for _, g := range w.ignoreGlobs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// Events yields a changed path each time an unignored filesystem event
// arrives.
func (w *Watcher) Events() <-chan string { return w.events }

func (w *Watcher) Close() error { return w.fs.Close() }
