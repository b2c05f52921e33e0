package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/apmz"
)

func TestConcurrentTracesAreIsolated(t *testing.T) {
	env := NewEnv(t)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx, trace := env.Start(context.Background(), fmt.Sprintf("GET /item/%d", n))

			// Every other request closes out of order.
			a := trace.Instrument("app.block", "a", "", nil)
			b := trace.Instrument("app.block", "b", "", nil)
			if n%2 == 0 {
				trace.Done(b)
				trace.Done(a)
			} else {
				trace.Done(a)
				trace.Done(b)
			}

			if env.Inst.CurrentTrace(ctx) != trace {
				t.Errorf("request %d sees another trace", n)
			}
			trace.Submit()
		}(i)
	}
	wg.Wait()

	reports := env.Collector.GetAll()
	if len(reports) != workers/2 {
		t.Fatalf("Expected %d reports, got %d", workers/2, len(reports))
	}
	for _, r := range reports {
		if len(r.Spans) != 3 {
			t.Errorf("%s: expected 3 spans, got %d", r.Endpoint, len(r.Spans))
		}
		var n int
		if _, err := fmt.Sscanf(r.Endpoint, "GET /item/%d", &n); err != nil || n%2 != 0 {
			t.Errorf("Unexpected report for %s", r.Endpoint)
		}
	}
}

func TestAsyncHandlersWithWorkerPool(t *testing.T) {
	env := NewEnv(t)
	if err := env.Inst.EnableWorkerPool(4, 100); err != nil {
		t.Fatalf("EnableWorkerPool failed: %v", err)
	}

	async := NewMockCollector(t, "async", 100)
	env.Inst.OnTraceAsync(async.Handler())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, trace := env.Start(context.Background(), fmt.Sprintf("GET /%d", n))
			trace.Record("app.block", "checkpoint", "")
			trace.Submit()
		}(i)
	}
	wg.Wait()

	got := async.WaitForReports(20, 2*time.Second)
	if len(got) != 20 {
		t.Errorf("Expected 20 async reports, got %d", len(got))
	}
	if env.Inst.DroppedTraces() != 0 {
		t.Errorf("Expected no drops, got %d", env.Inst.DroppedTraces())
	}
}

func TestSharedDescriptionBudget(t *testing.T) {
	cfg := apmz.DefaultConfig()
	cfg.GC.Track = false
	cfg.MaxDescriptions = 3
	env := NewEnv(t, apmz.WithConfig(cfg))

	// Each request issues a distinct query; the budget spans requests.
	for i := 0; i < 5; i++ {
		_, trace := env.Start(context.Background(), "GET /search")
		span := trace.Instrument("db.sql.query", "search", fmt.Sprintf("SELECT %d", i), nil)
		trace.Done(span)
		trace.Submit()
	}

	var sentinel int
	for _, r := range env.Collector.GetAll() {
		for _, s := range r.Find("db.sql.query") {
			if s.Description == apmz.TooManyUniques {
				sentinel++
			}
		}
	}
	if sentinel != 2 {
		t.Errorf("Expected 2 over-budget descriptions, got %d", sentinel)
	}
	if got := len(env.ErrorsContaining("[E0002]")); got != 2 {
		t.Errorf("Expected 2 E0002 errors, got %d", got)
	}
}
