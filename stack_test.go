package apmz

import "testing"

func TestSpanStackLIFO(t *testing.T) {
	var s spanStack
	s.push(1)
	s.push(2)
	s.push(3)

	for _, want := range []SpanID{3, 2, 1} {
		got, ok := s.pop()
		if !ok || got != want {
			t.Errorf("Expected pop %d, got %d (ok=%v)", want, got, ok)
		}
	}
	if id, ok := s.pop(); ok || id != NoSpan {
		t.Errorf("Expected empty pop to return NoSpan, got %d (ok=%v)", id, ok)
	}
}

func TestSpanStackRemove(t *testing.T) {
	var s spanStack
	for _, id := range []SpanID{1, 2, 3, 4} {
		s.push(id)
	}

	if !s.remove(2) {
		t.Fatal("Expected remove to find 2")
	}
	if s.remove(9) {
		t.Error("Expected remove of missing id to report false")
	}
	if s.contains(2) {
		t.Error("Expected 2 to be gone")
	}
	want := []SpanID{1, 3, 4}
	if len(s.ids) != len(want) {
		t.Fatalf("Expected %d entries, got %d", len(want), len(s.ids))
	}
	for i, id := range want {
		if s.ids[i] != id {
			t.Errorf("Expected order %v, got %v", want, s.ids)
			break
		}
	}
}

func TestDeferredLedger(t *testing.T) {
	l := make(deferredLedger)
	l.add(5, 10)
	l.add(5, 20)

	tick, ok := l.take(5)
	if !ok || tick != 10 {
		t.Errorf("Expected first deferral 10, got %d (ok=%v)", tick, ok)
	}
	if _, ok := l.take(5); ok {
		t.Error("Expected take to remove the entry")
	}
}
