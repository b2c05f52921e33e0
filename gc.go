package apmz

import (
	"runtime/debug"
	"time"
)

// GC reports garbage collection time observed by one trace.
type GC interface {
	// Update refreshes internal counters and advances the cursor.
	Update()
	// Time returns nanoseconds of GC activity between the last two updates.
	Time() int64
}

// GCTracker hands each new trace its own GC window.
type GCTracker interface {
	Track() GC
}

// RuntimeGC samples pause totals from the Go runtime. It holds no cursor of
// its own; every window returned by Track keeps its own.
// Safe for concurrent use.
type RuntimeGC struct {
	read func(*debug.GCStats)
}

// NewRuntimeGC creates a tracker reading debug.ReadGCStats.
func NewRuntimeGC() *RuntimeGC {
	return &RuntimeGC{read: debug.ReadGCStats}
}

func (g *RuntimeGC) total() time.Duration {
	var stats debug.GCStats
	g.read(&stats)
	return stats.PauseTotal
}

// Track opens a window whose cursor starts at the current pause total.
func (g *RuntimeGC) Track() GC {
	return &gcWindow{source: g, last: g.total()}
}

// gcWindow is a per-trace cursor over the shared runtime total.
// Not safe for concurrent use, like the trace that owns it.
type gcWindow struct {
	source  *RuntimeGC
	last    time.Duration
	pending time.Duration
}

// Update stores the pause time accrued since the previous update.
func (w *gcWindow) Update() {
	total := w.source.total()
	if total < w.last {
		// Counter went backwards, resync without reporting.
		w.last = total
		w.pending = 0
		return
	}
	w.pending = total - w.last
	w.last = total
}

func (w *gcWindow) Time() int64 {
	return int64(w.pending)
}
