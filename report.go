package apmz

// Report is the snapshot of a finished trace handed to trace handlers.
//
//nolint:govet // Field order follows JSON output order
type Report struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Meta     Meta   `json:"meta,omitempty"`
	Spans    []Span `json:"spans"`
	// Broken is set when the trace broke while being finalized.
	Broken bool `json:"broken,omitempty"`
}

// spanLister is implemented by stores that can snapshot their spans.
type spanLister interface {
	Spans() []Span
}

// Report snapshots the trace. Spans are empty for stores that cannot list them.
func (t *Trace) Report() Report {
	r := Report{
		ID:       t.id,
		Endpoint: t.endpoint,
		Broken:   t.Broken(),
	}
	if t.meta != nil {
		r.Meta = make(Meta, len(t.meta))
		for k, v := range t.meta {
			r.Meta[k] = v
		}
	}
	if lister, ok := t.store.(spanLister); ok {
		r.Spans = lister.Spans()
	}
	return r
}

// Root returns the first span, which is the trace's root.
func (r Report) Root() (Span, bool) {
	if len(r.Spans) == 0 {
		return Span{}, false
	}
	return r.Spans[0], true
}

// Find returns every span with the given category in open order.
func (r Report) Find(category string) []Span {
	var found []Span
	for _, s := range r.Spans {
		if s.Category == category {
			found = append(found, s)
		}
	}
	return found
}
