package apmz

// spanStack holds the open spans of a trace in open order.
type spanStack struct {
	ids []SpanID
}

func (s *spanStack) push(id SpanID) {
	s.ids = append(s.ids, id)
}

// pop removes and returns the top of the stack. ok is false when empty.
func (s *spanStack) pop() (SpanID, bool) {
	if len(s.ids) == 0 {
		return NoSpan, false
	}
	top := s.ids[len(s.ids)-1]
	s.ids = s.ids[:len(s.ids)-1]
	return top, true
}

// remove drops id from anywhere in the stack, preserving order.
func (s *spanStack) remove(id SpanID) bool {
	for i := len(s.ids) - 1; i >= 0; i-- {
		if s.ids[i] == id {
			copy(s.ids[i:], s.ids[i+1:])
			s.ids = s.ids[:len(s.ids)-1]
			return true
		}
	}
	return false
}

func (s *spanStack) contains(id SpanID) bool {
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

// deferredLedger maps spans whose close was deferred to their stop tick.
type deferredLedger map[SpanID]Tick

// add records the stop tick unless the span was already deferred.
func (l deferredLedger) add(id SpanID, stop Tick) {
	if _, ok := l[id]; ok {
		return
	}
	l[id] = stop
}

// take removes and returns the deferred stop tick for id.
func (l deferredLedger) take(id SpanID) (Tick, bool) {
	stop, ok := l[id]
	if ok {
		delete(l, id)
	}
	return stop, ok
}
