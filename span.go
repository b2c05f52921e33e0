package apmz

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
)

// SpanID identifies a span inside a single trace's store.
// Values are assigned monotonically starting at 1.
type SpanID uint32

// NoSpan is returned when a span could not be opened.
// Every operation on NoSpan is a no-op.
const NoSpan SpanID = 0

// Store errors.
var (
	ErrTooManySpans   = errors.New("too many spans")
	ErrUnknownSpan    = errors.New("unknown span")
	ErrSpanNotStarted = errors.New("span not started")
	ErrSpanStopped    = errors.New("span already stopped")
)

// Store is the backend that owns span content for one trace.
// The trace is authoritative for ordering; the store for everything else.
type Store interface {
	StartedAt() Tick
	SetEndpoint(endpoint string) error
	StartSpan(start Tick, category string) (SpanID, error)
	SetTitle(id SpanID, title string) error
	SetDescription(id SpanID, desc string) error
	SetMeta(id SpanID, meta Meta) error
	Started(id SpanID) error
	StopSpan(id SpanID, stop Tick) error
	SetException(id SpanID, err error, summary []string) error
	Title(id SpanID) string
	Category(id SpanID) string
	CorrelationHeader(id SpanID) string
}

// Span is a timed unit of work as held by a MemoryStore.
//
//nolint:govet // Field order follows JSON output order
type Span struct {
	ID               SpanID   `json:"id"`
	Category         string   `json:"category"`
	Title            string   `json:"title,omitempty"`
	Description      string   `json:"description,omitempty"`
	Meta             Meta     `json:"meta,omitempty"`
	Exception        string   `json:"exception,omitempty"`
	ExceptionSummary []string `json:"exception_summary,omitempty"`
	Start            Tick     `json:"start"`
	Stop             Tick     `json:"stop"`
	IsStarted        bool     `json:"-"`
	IsStopped        bool     `json:"-"`
}

// Duration returns the span length in ticks, or 0 while it is open.
func (s Span) Duration() Tick {
	if !s.IsStopped {
		return 0
	}
	return s.Stop - s.Start
}

// MemoryStore keeps spans in memory with a span-count ceiling.
// Safe for concurrent use, though a trace only ever calls it from one goroutine.
type MemoryStore struct {
	spans     []*Span
	traceID   string
	endpoint  string
	startedAt Tick
	maxSpans  int
	mu        sync.Mutex
}

// NewMemoryStore creates a store for the trace starting at the given tick.
// maxSpans <= 0 disables the ceiling.
func NewMemoryStore(traceID string, startedAt Tick, maxSpans int) *MemoryStore {
	return &MemoryStore{
		traceID:   traceID,
		startedAt: startedAt,
		maxSpans:  maxSpans,
		spans:     make([]*Span, 0, 8),
	}
}

// StartedAt returns the already-normalized start tick of the trace.
func (m *MemoryStore) StartedAt() Tick {
	return m.startedAt
}

// SetEndpoint records the endpoint label.
func (m *MemoryStore) SetEndpoint(endpoint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoint = endpoint
	return nil
}

// Endpoint returns the last endpoint label set.
func (m *MemoryStore) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// StartSpan allocates a span. Fails with ErrTooManySpans at the ceiling.
func (m *MemoryStore) StartSpan(start Tick, category string) (SpanID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSpans > 0 && len(m.spans) >= m.maxSpans {
		return NoSpan, errors.Wrapf(ErrTooManySpans, "limit %d", m.maxSpans)
	}

	id := SpanID(len(m.spans) + 1)
	m.spans = append(m.spans, &Span{ID: id, Category: category, Start: start})
	return id, nil
}

// SetTitle sets the span title.
func (m *MemoryStore) SetTitle(id SpanID, title string) error {
	return m.update(id, func(s *Span) error {
		s.Title = title
		return nil
	})
}

// SetDescription sets the span description.
func (m *MemoryStore) SetDescription(id SpanID, desc string) error {
	return m.update(id, func(s *Span) error {
		s.Description = desc
		return nil
	})
}

// SetMeta copies meta onto the span.
func (m *MemoryStore) SetMeta(id SpanID, meta Meta) error {
	return m.update(id, func(s *Span) error {
		if s.Meta == nil {
			s.Meta = make(Meta, len(meta))
		}
		for k, v := range meta {
			s.Meta[k] = v
		}
		return nil
	})
}

// Started marks the span as started.
func (m *MemoryStore) Started(id SpanID) error {
	return m.update(id, func(s *Span) error {
		s.IsStarted = true
		return nil
	})
}

// StopSpan stamps the span stopped. A span is stopped at most once.
func (m *MemoryStore) StopSpan(id SpanID, stop Tick) error {
	return m.update(id, func(s *Span) error {
		if !s.IsStarted {
			return errors.Wrapf(ErrSpanNotStarted, "span %d", id)
		}
		if s.IsStopped {
			return errors.Wrapf(ErrSpanStopped, "span %d", id)
		}
		s.Stop = stop
		s.IsStopped = true
		return nil
	})
}

// SetException attaches exception details to the span.
func (m *MemoryStore) SetException(id SpanID, err error, summary []string) error {
	return m.update(id, func(s *Span) error {
		if err != nil {
			s.Exception = err.Error()
		}
		if len(summary) > 0 {
			s.ExceptionSummary = append([]string(nil), summary...)
		}
		return nil
	})
}

// Title returns the span title, or "" for unknown spans.
func (m *MemoryStore) Title(id SpanID) string {
	var title string
	_ = m.update(id, func(s *Span) error {
		title = s.Title
		return nil
	})
	return title
}

// Category returns the span category, or "" for unknown spans.
func (m *MemoryStore) Category(id SpanID) string {
	var cat string
	_ = m.update(id, func(s *Span) error {
		cat = s.Category
		return nil
	})
	return cat
}

// CorrelationHeader returns a header value linking downstream work to the span.
func (m *MemoryStore) CorrelationHeader(id SpanID) string {
	if id == NoSpan {
		return ""
	}
	return fmt.Sprintf("%s;s=%d", m.traceID, id)
}

// Spans returns a copy of every span in open order.
func (m *MemoryStore) Spans() []Span {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]Span, len(m.spans))
	for i, s := range m.spans {
		result[i] = *s
		if s.Meta != nil {
			result[i].Meta = make(Meta, len(s.Meta))
			for k, v := range s.Meta {
				result[i].Meta[k] = v
			}
		}
	}
	return result
}

func (m *MemoryStore) update(id SpanID, fn func(*Span) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == NoSpan || int(id) > len(m.spans) {
		return errors.Wrapf(ErrUnknownSpan, "span %d", id)
	}
	return fn(m.spans[id-1])
}
