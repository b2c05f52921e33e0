package apmz

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// traceState holds the trace's one-way flags. A trace with no flag set is
// open; once set, a flag is never cleared.
type traceState uint8

const (
	stateBroken traceState = 1 << iota
	stateSubmitted

	stateOpen traceState = 0
)

func (s traceState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateBroken:
		return "broken"
	case stateSubmitted:
		return "submitted"
	case stateBroken | stateSubmitted:
		return "submitted,broken"
	}
	return "unknown"
}

// DoneMeta carries optional instructions for closing a span.
type DoneMeta struct {
	// Exception is attached to the span before it closes.
	Exception error
	// ExceptionSummary is a short [class, message] style description.
	ExceptionSummary []string
	// Defer records the stop time now but leaves the span on the stack
	// until a later close on an outer span flushes it.
	Defer bool
}

// Trace records the spans of one logical request.
// A Trace is NOT safe for concurrent use.
//
//nolint:govet // Field order groups collaborators before state
type Trace struct {
	inst     *Instrumenter
	store    Store
	scope    *scope
	gc       GC
	log      *zap.Logger
	meta     Meta
	deferred deferredLedger
	clock    nanoClock
	stack    spanStack
	id       string
	endpoint string
	root     SpanID
	state    traceState
}

func newTrace(inst *Instrumenter, store Store, id, endpoint, category, title, desc string, meta Meta) *Trace {
	t := &Trace{
		inst:     inst,
		store:    store,
		clock:    inst.clock,
		log:      inst.logger.With(zap.String("trace", id)),
		meta:     meta,
		deferred: make(deferredLedger),
		id:       id,
	}

	if inst.config.GC.Track && inst.gc != nil {
		if _, disabled := os.LookupEnv(DisableGCTrackingEnv); !disabled {
			t.gc = inst.gc.Track()
		}
	}

	t.SetEndpoint(endpoint)

	err := t.guard("start", func() (err error) {
		t.root, err = t.start(int64(store.StartedAt()), category, title, desc, meta, false)
		return err
	})
	if err == nil && t.root == NoSpan {
		err = errors.New("root span could not be allocated")
	}
	if err != nil {
		t.maybeBroken(err)
	}
	return t
}

// ID returns the unique trace identifier.
func (t *Trace) ID() string {
	return t.id
}

// Endpoint returns the current endpoint label.
func (t *Trace) Endpoint() string {
	return t.endpoint
}

// SetEndpoint relabels the trace and propagates the label to the store.
func (t *Trace) SetEndpoint(endpoint string) {
	t.endpoint = endpoint
	if err := t.guard("set endpoint", func() error {
		return t.store.SetEndpoint(endpoint)
	}); err != nil {
		t.maybeBroken(err)
	}
}

// Meta returns the metadata attached when the trace was created.
func (t *Trace) Meta() Meta {
	return t.meta
}

// Broken reports whether the trace hit a fault and will be discarded.
func (t *Trace) Broken() bool {
	return t.state&stateBroken != 0
}

// Submitted reports whether Submit ran on an unbroken trace. A trace that
// breaks while finalizing is still submitted and processed.
func (t *Trace) Submitted() bool {
	return t.state&stateSubmitted != 0
}

// CorrelationHeader returns the header value for propagating span to
// downstream services. Empty for NoSpan.
func (t *Trace) CorrelationHeader(span SpanID) string {
	if span == NoSpan {
		return ""
	}
	var header string
	_ = t.guard("correlation header", func() error {
		header = t.store.CorrelationHeader(span)
		return nil
	})
	return header
}

// Record adds a zero-duration span at the current instant.
func (t *Trace) Record(category, title, desc string) {
	if t.state != stateOpen {
		return
	}

	err := t.guard("record", func() error {
		desc = t.inst.LimitedDescription(t.endpoint, desc)
		now := t.clock.Nanos() - t.gcTime()

		id, err := t.start(now, category, title, desc, nil, true)
		if err != nil || id == NoSpan {
			return err
		}
		return t.stop(id, now)
	})
	if err != nil {
		t.maybeBroken(err)
	}
}

// Instrument opens a span and returns its handle for a later Done.
// Returns NoSpan when the trace is not open or the span could not be allocated.
func (t *Trace) Instrument(category, title, desc string, meta Meta) SpanID {
	if t.state != stateOpen {
		return NoSpan
	}

	var id SpanID
	err := t.guard("instrument", func() (err error) {
		now := t.clock.Nanos()
		original := desc
		desc = t.inst.LimitedDescription(t.endpoint, desc)

		if desc == TooManyUniques {
			t.inst.metrics.DescriptionsOverBudget.Inc()
			t.log.Error("[E0002] The number of unique span descriptions allowed per-request has been exceeded",
				zap.String("endpoint", t.endpoint))
			t.log.Debug("original description", zap.String("desc", original))
			t.log.Debug("over budget span",
				zap.String("category", category),
				zap.String("title", title),
				zap.String("desc", desc))
		}

		id, err = t.start(now-t.gcTime(), category, title, desc, meta, true)
		return err
	})
	if err != nil {
		t.maybeBroken(err)
		return NoSpan
	}
	return id
}

// Done closes a span opened by Instrument.
func (t *Trace) Done(span SpanID) {
	t.DoneWith(span, DoneMeta{})
}

// DoneWith closes a span, attaching exception details or deferring the close.
func (t *Trace) DoneWith(span SpanID, meta DoneMeta) {
	if span == NoSpan || t.state != stateOpen {
		return
	}

	err := t.guard("done", func() error {
		if meta.Defer {
			if t.stack.contains(span) {
				t.deferred.add(span, NormalizeTime(t.clock.Nanos()-t.gcTime()))
			}
			return nil
		}

		if meta.Exception != nil || len(meta.ExceptionSummary) > 0 {
			if err := t.store.SetException(span, meta.Exception, meta.ExceptionSummary); err != nil {
				return err
			}
		}

		return t.stop(span, t.clock.Nanos()-t.gcTime())
	})
	if err != nil {
		t.log.Error("failed to close span", zap.Error(err), zap.String("endpoint", t.endpoint))
		t.markBroken()
	}
}

// Submit finalizes the trace and hands it to the instrumenter once.
// Safe to call multiple times; never panics.
func (t *Trace) Submit() {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("failed to submit trace", zap.Any("panic", r))
		}
	}()

	t.release()

	if t.Broken() {
		t.log.Debug("broken, not submitting")
		return
	}
	if !t.set(stateSubmitted) {
		t.log.Debug("already submitted")
		return
	}

	if err := t.guard("traced", t.traced); err != nil {
		t.log.Error("failed to finalize trace", zap.Error(err), zap.String("endpoint", t.endpoint))
		t.markBroken()
		return
	}

	if err := t.inst.Process(t); err != nil {
		t.log.Error("failed to process trace", zap.Error(err), zap.String("endpoint", t.endpoint))
	}
}

// traced appends the trailing GC span and closes the root.
func (t *Trace) traced() error {
	gc := t.gcTime()
	now := t.clock.Nanos()

	if gc > 0 {
		t.log.Debug("tracking GC time", zap.Int64("duration", gc))
		id, err := t.start(now-gc, GCCategory, "", "", nil, true)
		if err != nil {
			return err
		}
		if id != NoSpan {
			if err := t.stop(id, now); err != nil {
				return err
			}
		}
	}

	return t.stop(t.root, now)
}

func (t *Trace) release() {
	if t.scope == nil {
		return
	}
	released := t.scope.release(t)
	t.log.Debug("release", zap.Bool("was_current", released))
}

// start opens a span. time is in nanoseconds unless normalize is false, in
// which case it is already a Tick. Hitting the span ceiling is not a fault.
func (t *Trace) start(time int64, category, title, desc string, meta Meta, normalize bool) (SpanID, error) {
	tick := Tick(time)
	if normalize {
		tick = NormalizeTime(time)
	}

	id, err := t.store.StartSpan(tick, category)
	if err != nil {
		if errors.Is(err, ErrTooManySpans) {
			t.log.Debug("span not recorded", zap.Error(err), zap.String("category", category))
			return NoSpan, nil
		}
		return NoSpan, err
	}

	if title != "" {
		if err := t.store.SetTitle(id, title); err != nil {
			return NoSpan, err
		}
	}
	if desc != "" {
		if err := t.store.SetDescription(id, desc); err != nil {
			return NoSpan, err
		}
	}
	if meta != nil {
		if err := t.store.SetMeta(id, meta); err != nil {
			return NoSpan, err
		}
	}
	if err := t.store.Started(id); err != nil {
		return NoSpan, err
	}

	t.stack.push(id)
	return id, nil
}

// stop closes span at time (nanoseconds). Deferred spans sitting on top of
// the stack are flushed first, each with its own deferred tick.
func (t *Trace) stop(span SpanID, time int64) error {
	expected, _ := t.stack.pop()
	for {
		tick, ok := t.deferred.take(expected)
		if !ok {
			break
		}
		if err := t.store.StopSpan(expected, tick); err != nil {
			return err
		}
		expected, _ = t.stack.pop()
	}

	if expected != span {
		return t.unexpectedStop(expected, span, NormalizeTime(time))
	}

	return t.store.StopSpan(span, NormalizeTime(time))
}

// unexpectedStop handles a close for a span that is not on top of the stack.
// It tries one remediation, logs, breaks the trace and still stops both spans.
func (t *Trace) unexpectedStop(expected, actual SpanID, tick Tick) error {
	var msg strings.Builder
	msg.WriteString("[E0001] Spans were closed out of order. Expected to see '")
	msg.WriteString(t.store.Title(expected))
	msg.WriteString("', but got '")
	msg.WriteString(t.store.Title(actual))
	msg.WriteString("' instead.")

	probes := t.inst.probes
	if t.store.Category(actual) == MiddlewareCategory && probes.Installed(MiddlewareProbe) {
		if probes.Disable(MiddlewareProbe) {
			msg.WriteString("\n")
			msg.WriteString(t.store.Title(actual))
			msg.WriteString(" may be a middleware that does not always close its span. ")
			msg.WriteString("The middleware probe has been disabled to see if that resolves the issue.")
		} else {
			msg.WriteString("\nThe middleware probe was disabled but that did not solve the issue.")
		}
	}

	msg.WriteString("\nThis request will not be tracked.")

	t.log.Error(msg.String(), zap.String("endpoint", t.endpoint))
	t.log.Debug("unexpected stop", zap.Uint32("expected", uint32(expected)), zap.Uint32("actual", uint32(actual)))

	t.inst.metrics.OrderingViolations.Inc()
	t.markBroken()

	var err error
	if expected != NoSpan {
		err = ignoreStopped(t.store.StopSpan(expected, tick))
	}
	t.stack.remove(actual)
	return errors.CombineErrors(err, ignoreStopped(t.store.StopSpan(actual, tick)))
}

func ignoreStopped(err error) error {
	if errors.Is(err, ErrSpanStopped) {
		return nil
	}
	return err
}

func (t *Trace) gcTime() int64 {
	if t.gc == nil {
		return 0
	}
	t.gc.Update()
	return t.gc.Time()
}

// set raises flag. It reports false when the flag was already set.
func (t *Trace) set(flag traceState) bool {
	if t.state&flag != 0 {
		return false
	}
	t.state |= flag
	return true
}

func (t *Trace) markBroken() {
	if !t.set(stateBroken) {
		return
	}
	t.log.Debug("trace is broken")
	t.inst.metrics.TracesBroken.Inc()
}

func (t *Trace) maybeBroken(err error) {
	t.log.Error("failed to instrument span", zap.Error(err), zap.String("endpoint", t.endpoint))
	t.markBroken()
}

// guard runs fn, converting a panic into an error.
func (t *Trace) guard(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic during %s: %v", op, r)
		}
	}()
	return fn()
}
