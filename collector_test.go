package apmz

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func testReport(id string) Report {
	return Report{ID: id, Endpoint: "GET /"}
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector("test-collector", 100)
	defer collector.Close()

	if collector.Name() != "test-collector" {
		t.Errorf("Expected name 'test-collector', got %s", collector.Name())
	}
	if collector.Count() != 0 {
		t.Errorf("Expected 0 reports initially, got %d", collector.Count())
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped reports initially, got %d", collector.DroppedCount())
	}
	if collector.Export() != nil {
		t.Error("Expected nil export when empty")
	}
}

func TestCollectorSyncCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	collector.Collect(testReport("trace-1"))

	if collector.Count() != 1 {
		t.Errorf("Expected 1 report, got %d", collector.Count())
	}

	reports := collector.Export()
	if len(reports) != 1 {
		t.Fatalf("Expected 1 exported report, got %d", len(reports))
	}
	if reports[0].ID != "trace-1" {
		t.Errorf("Expected report 'trace-1', got %s", reports[0].ID)
	}
	if collector.Count() != 0 {
		t.Errorf("Expected 0 reports after export, got %d", collector.Count())
	}
}

func TestCollectorAsyncCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	defer collector.Close()

	for i := 0; i < 5; i++ {
		collector.Collect(testReport(fmt.Sprintf("trace-%d", i)))
	}

	deadline := time.Now().Add(time.Second)
	for collector.Count() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if collector.Count() != 5 {
		t.Errorf("Expected 5 reports, got %d", collector.Count())
	}
}

func TestCollectorDrainsOnClose(t *testing.T) {
	collector := NewCollector("test", 10)
	for i := 0; i < 5; i++ {
		collector.Collect(testReport(fmt.Sprintf("trace-%d", i)))
	}
	collector.Close()

	if got := collector.Count() + int(collector.DroppedCount()); got != 5 {
		t.Errorf("Expected every report buffered or dropped, got %d", got)
	}
}

func TestCollectorAfterClose(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.Close()
	collector.Close()

	collector.Collect(testReport("late"))
	if collector.DroppedCount() != 1 {
		t.Errorf("Expected 1 dropped report after close, got %d", collector.DroppedCount())
	}
}

func TestCollectorReset(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	collector.Collect(testReport("trace-1"))
	collector.Reset()

	if collector.Count() != 0 || collector.DroppedCount() != 0 {
		t.Errorf("Expected empty collector after reset, got %d/%d", collector.Count(), collector.DroppedCount())
	}
}

func TestCollectorAsHandler(t *testing.T) {
	h := newHarness(t)
	collector := NewCollector("handler", 10)
	collector.SetSyncMode(true)
	defer collector.Close()
	h.inst.OnTrace(collector.Handler())

	trace := h.start("GET /users")
	h.ticks(3)
	trace.Submit()

	reports := collector.Export()
	if len(reports) != 1 {
		t.Fatalf("Expected 1 report, got %d", len(reports))
	}
	root, ok := reports[0].Root()
	if !ok {
		t.Fatal("Expected a root span")
	}
	if root.Duration() != 3 {
		t.Errorf("Expected root duration 3, got %d", root.Duration())
	}
}

func TestCollectorConcurrentCollect(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				collector.Collect(testReport(fmt.Sprintf("trace-%d-%d", n, j)))
			}
		}(i)
	}
	wg.Wait()

	if collector.Count() != 100 {
		t.Errorf("Expected 100 reports, got %d", collector.Count())
	}
}
