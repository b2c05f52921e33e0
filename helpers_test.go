package apmz

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeGC reports GC time queued with add on the next Update.
type fakeGC struct {
	queued  int64
	pending int64
	updates int
	mu      sync.Mutex
}

func (g *fakeGC) add(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued += int64(d)
}

func (g *fakeGC) Update() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = g.queued
	g.queued = 0
	g.updates++
}

// Track returns the fake itself, so every trace shares one cursor.
func (g *fakeGC) Track() GC {
	return g
}

func (g *fakeGC) Time() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// fakeClock is the part of clockz's fake clock the tests drive.
type fakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
}

// harness bundles an instrumenter with its fake collaborators.
type harness struct {
	inst    *Instrumenter
	clock   fakeClock
	gc      *fakeGC
	probes  *ProbeRegistry
	logs    *observer.ObservedLogs
	reports []Report
	mu      sync.Mutex
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		clock:  clockz.NewFakeClock(),
		gc:     &fakeGC{},
		probes: NewProbeRegistry(),
		logs:   logs,
	}

	base := []Option{
		WithLogger(zap.New(core)),
		WithClock(h.clock),
		WithGC(h.gc),
		WithProbes(h.probes),
	}
	h.inst = New(append(base, opts...)...)
	h.inst.OnTrace(func(r Report) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.reports = append(h.reports, r)
	})
	t.Cleanup(h.inst.Close)
	return h
}

// ticks advances the fake clock by n ticks.
func (h *harness) ticks(n int) {
	h.clock.Advance(time.Duration(n) * TickResolution)
}

func (h *harness) processed() []Report {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Report(nil), h.reports...)
}

func (h *harness) start(endpoint string) *Trace {
	_, trace := h.inst.StartTrace(context.Background(), endpoint, "app.request", "root", "", nil)
	return trace
}

// span looks up a span in the trace's memory store.
func span(t *testing.T, trace *Trace, id SpanID) Span {
	t.Helper()
	store, ok := trace.store.(*MemoryStore)
	if !ok {
		t.Fatalf("expected MemoryStore, got %T", trace.store)
	}
	spans := store.Spans()
	if id == NoSpan || int(id) > len(spans) {
		t.Fatalf("span %d not found (have %d)", id, len(spans))
	}
	return spans[id-1]
}
