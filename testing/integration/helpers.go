// Package integration exercises apmz the way an instrumented application
// drives it: through an HTTP stack, across goroutines and via context.
package integration

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zoobzio/apmz"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported []apmz.Report
	*apmz.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a collector for testing.
func NewMockCollector(t *testing.T, name string, bufferSize int) *MockCollector {
	collector := apmz.NewCollector(name, bufferSize)
	collector.SetSyncMode(true)
	t.Cleanup(collector.Close)
	return &MockCollector{
		Collector: collector,
		t:         t,
	}
}

// GetAll returns every report collected so far without losing any.
func (m *MockCollector) GetAll() []apmz.Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current := m.Collector.Export(); len(current) > 0 {
		m.exported = append(m.exported, current...)
	}
	all := make([]apmz.Report, len(m.exported))
	copy(all, m.exported)
	return all
}

// WaitForReports waits for expected reports with timeout.
func (m *MockCollector) WaitForReports(expected int, timeout time.Duration) []apmz.Report {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if all := m.GetAll(); len(all) >= expected {
			return all
		}
		time.Sleep(5 * time.Millisecond)
	}
	all := m.GetAll()
	m.t.Errorf("Timeout waiting for reports: expected %d, got %d", expected, len(all))
	return all
}

// AssertReportFor returns the report for endpoint, failing when absent.
func (m *MockCollector) AssertReportFor(endpoint string) *apmz.Report {
	all := m.GetAll()
	for i := range all {
		if all[i].Endpoint == endpoint {
			return &all[i]
		}
	}
	m.t.Errorf("No report for endpoint '%s'", endpoint)
	return nil
}

// AssertNested checks that span inner lies within span outer.
func (m *MockCollector) AssertNested(r *apmz.Report, outer, inner string) {
	var o, i *apmz.Span
	for n := range r.Spans {
		switch r.Spans[n].Title {
		case outer:
			o = &r.Spans[n]
		case inner:
			i = &r.Spans[n]
		}
	}
	if o == nil || i == nil {
		m.t.Errorf("Spans '%s'/'%s' not found", outer, inner)
		return
	}
	if i.Start < o.Start || i.Stop > o.Stop {
		m.t.Errorf("Span '%s' [%d,%d] not within '%s' [%d,%d]",
			inner, i.Start, i.Stop, outer, o.Start, o.Stop)
	}
}

// FakeClock is the part of clockz's fake clock these tests drive.
type FakeClock interface {
	clockz.Clock
	Advance(d time.Duration)
}

// Env bundles an instrumenter on a fake clock with its collector and logs.
type Env struct {
	Inst      *apmz.Instrumenter
	Clock     FakeClock
	Collector *MockCollector
	Logs      *observer.ObservedLogs
}

// NewEnv builds an instrumenter with GC tracking off so tick math is exact.
func NewEnv(t *testing.T, opts ...apmz.Option) *Env {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	clock := clockz.NewFakeClock()
	cfg := apmz.DefaultConfig()
	cfg.GC.Track = false

	base := []apmz.Option{
		apmz.WithConfig(cfg),
		apmz.WithClock(clock),
		apmz.WithLogger(zap.New(core)),
	}
	inst := apmz.New(append(base, opts...)...)
	t.Cleanup(inst.Close)

	collector := NewMockCollector(t, "integration", 100)
	inst.OnTrace(collector.Handler())

	return &Env{Inst: inst, Clock: clock, Collector: collector, Logs: logs}
}

// Ticks advances the fake clock by n ticks.
func (e *Env) Ticks(n int) {
	e.Clock.Advance(time.Duration(n) * apmz.TickResolution)
}

// Start begins a request trace.
func (e *Env) Start(ctx context.Context, endpoint string) (context.Context, *apmz.Trace) {
	return e.Inst.StartTrace(ctx, endpoint, "app.request", endpoint, "", nil)
}

// ErrorsContaining returns error-level log messages containing substr.
func (e *Env) ErrorsContaining(substr string) []string {
	var out []string
	for _, entry := range e.Logs.FilterLevelExact(zapcore.ErrorLevel).All() {
		if strings.Contains(entry.Message, substr) {
			out = append(out, entry.Message)
		}
	}
	return out
}
