// Package apmz provides the request-tracing core of an application
// performance monitoring agent.
//
// apmz records a tree of timed spans for one logical request and hands the
// finished trace downstream exactly once. Spans closed out of order are
// reconciled where possible. Instrumentation runs inside someone else's request path, so no public
// operation ever panics or returns an error into the caller.
//
// Core Components:
//   - Instrumenter: Process-wide owner of config and trace handlers.
//   - Trace: One per request. Opens and closes spans, repairs out-of-order closes.
//   - Store: Backend that holds span content. MemoryStore is the default.
//   - Collector: Buffers processed trace reports for export.
//
// Basic Usage:
//
//	inst := apmz.New(apmz.WithLogger(logger))
//	defer inst.Close()
//
//	ctx, trace := inst.StartTrace(ctx, "GET /users", "app.request", "", "", nil)
//	defer trace.Submit()
//
//	span := trace.Instrument("db.query", "SELECT users", "SELECT * FROM users", nil)
//	rows := query(ctx)
//	trace.Done(span)
//
// Deferred Closes:
//
// Middleware that may be unwound by a panic can close its span with
// DoneWith(span, DoneMeta{Defer: true}). The stop tick is recorded right away
// but the stack pop is delayed until a later close on an outer span flushes it.
//
// Broken Traces:
//
// Any fault or ordering violation marks the trace broken. A broken trace
// ignores further instrumentation and is discarded at Submit.
//
// Thread Safety:
//
// Instrumenter is safe for concurrent use. A Trace belongs to a single request
// and must not be mutated from multiple goroutines at the same time.
package apmz

// Meta carries span or trace metadata.
type Meta map[string]string

// Well known categories.
const (
	// GCCategory is the category of synthetic spans covering GC pauses.
	GCCategory = "noise.gc"

	// MiddlewareCategory marks spans opened by the middleware probe.
	MiddlewareCategory = "app.middleware"
)

// MiddlewareProbe is the probe consulted when middleware spans close out of order.
const MiddlewareProbe = "middleware"

// DisableGCTrackingEnv opts every new trace out of GC tracking when present.
const DisableGCTrackingEnv = "APMZ_DISABLE_GC_TRACKING"
