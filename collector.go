package apmz

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector buffers processed trace reports for batch export.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	reports      []Report
	reportsCh    chan Report
	stopCh       chan struct{}
	done         chan struct{}
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closed       atomic.Bool
	syncMode     atomic.Bool
}

// NewCollector creates a collector with the given name and channel size.
func NewCollector(name string, bufferSize int) *Collector {
	c := &Collector{
		name:      name,
		reports:   make([]Report, 0, 8),
		reportsCh: make(chan Report, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.start()
	return c
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

// Handler returns a TraceHandler feeding this collector.
func (c *Collector) Handler() TraceHandler {
	return c.Collect
}

func (c *Collector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			// Drain what is already queued.
			for {
				select {
				case r := <-c.reportsCh:
					c.buffer(r)
				default:
					return
				}
			}
		case r := <-c.reportsCh:
			c.buffer(r)
		}
	}
}

// Close stops the collector goroutine after draining queued reports.
func (c *Collector) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stopCh)
	select {
	case <-c.done:
	case <-time.After(100 * time.Millisecond):
	}
}

// Collect buffers a report. Drops it when the channel is full or the
// collector is closed. In sync mode the report is buffered directly.
func (c *Collector) Collect(r Report) {
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	if c.syncMode.Load() {
		c.buffer(r)
		return
	}

	select {
	case c.reportsCh <- r:
	default:
		c.droppedCount.Add(1)
	}
}

func (c *Collector) buffer(r Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

// Export returns all buffered reports and clears the buffer.
func (c *Collector) Export() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.reports) == 0 {
		return nil
	}

	result := make([]Report, len(c.reports))
	copy(result, c.reports)

	// Shrink only when the buffer is very oversized.
	if cap(c.reports) > 256 && len(c.reports) < cap(c.reports)/8 {
		c.reports = make([]Report, 0, cap(c.reports)/4)
	} else {
		c.reports = c.reports[:0]
	}
	return result
}

// Count returns the number of buffered reports.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}

// DroppedCount returns the number of reports dropped by backpressure.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode bypasses the channel so collection is deterministic in tests.
func (c *Collector) SetSyncMode(sync bool) {
	c.syncMode.Store(sync)
}

// Reset clears buffered reports and the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reports = c.reports[:0]
	c.droppedCount.Store(0)
}
