package daemon

import "time"

// Config tunes the idle-throttled background loop. It mirrors
// llmc.DaemonConfig field-for-field; the package keeps its own copy
// so it can be imported by the root package without creating a cycle.
type Config struct {
	BaseInterval  time.Duration
	MaxMultiplier int
	Nice          int
	ShutdownBound time.Duration
	WatchPaths    []string
	IgnoreGlobs   []string
}
