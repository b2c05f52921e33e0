package apmz

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// ErrClosed is returned by Process after Close.
var ErrClosed = errors.New("instrumenter closed")

// TraceHandler is called with the report of every processed trace.
type TraceHandler func(report Report)

// StoreFactory builds the backend store for a new trace.
type StoreFactory func(traceID string, startedAt Tick, maxSpans int) Store

type handlerEntry struct {
	handler TraceHandler
	id      uint64
	async   bool
}

// Option configures an Instrumenter.
type Option func(*Instrumenter)

// WithConfig sets the configuration. nil keeps the defaults.
func WithConfig(cfg *Config) Option {
	return func(i *Instrumenter) {
		if cfg != nil {
			i.config = cfg
		}
	}
}

// WithLogger sets the logger. nil keeps the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(i *Instrumenter) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithClock injects a clock, typically clockz.NewFakeClock in tests.
func WithClock(clock clockz.Clock) Option {
	return func(i *Instrumenter) {
		if clock != nil {
			i.clock = newNanoClock(clock)
		}
	}
}

// WithGC sets the tracker that opens a GC window for every trace.
func WithGC(gc GCTracker) Option {
	return func(i *Instrumenter) {
		i.gc = gc
	}
}

// WithProbes sets the probe registry consulted on ordering violations.
func WithProbes(probes *ProbeRegistry) Option {
	return func(i *Instrumenter) {
		if probes != nil {
			i.probes = probes
		}
	}
}

// WithRegisterer registers the instrumenter's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(i *Instrumenter) {
		i.registerer = reg
	}
}

// WithStoreFactory replaces the MemoryStore backend.
func WithStoreFactory(factory StoreFactory) Option {
	return func(i *Instrumenter) {
		if factory != nil {
			i.newStore = factory
		}
	}
}

// Instrumenter owns configuration, the description budget and the
// processing queue shared by every trace in the process.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Instrumenter struct {
	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r interface{})
	workers      *workerPool
	idPool       *IDPool
	descriptions *descriptionTracker
	probes       *ProbeRegistry
	metrics      *Metrics
	registerer   prometheus.Registerer
	config       *Config
	logger       *zap.Logger
	gc           GCTracker
	newStore     StoreFactory
	clock        nanoClock
	handlersLock sync.RWMutex
	idPoolOnce   sync.Once
	nextID       atomic.Uint64
	dropped      atomic.Uint64
	closed       atomic.Bool
}

// New creates an instrumenter. Without options it uses the default config,
// the real clock, the runtime GC sampler and a no-op logger.
func New(opts ...Option) *Instrumenter {
	i := &Instrumenter{
		handlers: make([]handlerEntry, 0),
		config:   DefaultConfig(),
		logger:   zap.NewNop(),
		clock:    newNanoClock(clockz.RealClock),
		probes:   NewProbeRegistry(),
		metrics:  newMetrics(),
		newStore: func(traceID string, startedAt Tick, maxSpans int) Store {
			return NewMemoryStore(traceID, startedAt, maxSpans)
		},
	}
	for _, opt := range opts {
		opt(i)
	}

	if i.gc == nil && i.config.GC.Track {
		i.gc = NewRuntimeGC()
	}
	i.descriptions = newDescriptionTracker(i.config.MaxEndpoints, i.config.MaxDescriptions)

	if i.registerer != nil {
		if err := i.metrics.Register(i.registerer); err != nil {
			i.logger.Warn("metrics not registered", zap.Error(err))
		}
	}
	return i
}

// Config returns the active configuration.
func (i *Instrumenter) Config() *Config {
	return i.config
}

// Metrics returns the instrumenter's counters.
func (i *Instrumenter) Metrics() *Metrics {
	return i.metrics
}

// Probes returns the probe registry.
func (i *Instrumenter) Probes() *ProbeRegistry {
	return i.probes
}

func (i *Instrumenter) ensureIDPool() {
	i.idPoolOnce.Do(func() {
		i.idPool = NewIDPool(runtime.NumCPU()*100, nil)
	})
}

func (i *Instrumenter) traceID() string {
	i.ensureIDPool()
	if i.idPool == nil {
		return newTraceID()
	}
	return i.idPool.Get()
}

// StartTrace begins a trace for one request and makes it the current trace
// of the returned context. Never returns nil.
func (i *Instrumenter) StartTrace(ctx context.Context, endpoint, category, title, desc string, meta Meta) (context.Context, *Trace) {
	ctx = WithScope(ctx)

	id := i.traceID()
	start := NormalizeTime(i.clock.Nanos())
	store := i.newStore(id, start, i.config.MaxSpans)

	t := newTrace(i, store, id, endpoint, category, title, desc, meta)
	t.scope = scopeFrom(ctx)
	if prev := t.scope.current.Swap(t); prev != nil {
		t.log.Debug("replacing current trace", zap.String("previous", prev.ID()))
	}

	i.metrics.TracesStarted.Inc()
	return ctx, t
}

// CurrentTrace returns the trace associated with ctx, or nil.
func (*Instrumenter) CurrentTrace(ctx context.Context) *Trace {
	s := scopeFrom(ctx)
	if s == nil {
		return nil
	}
	return s.current.Load()
}

// LimitedDescription returns desc, or TooManyUniques once the endpoint's
// unique description budget is spent.
func (i *Instrumenter) LimitedDescription(endpoint, desc string) string {
	return i.descriptions.limit(endpoint, desc)
}

// ResetDescriptions clears every endpoint's description budget.
func (i *Instrumenter) ResetDescriptions() {
	i.descriptions.reset()
}

// Process hands a finalized trace to the registered handlers.
func (i *Instrumenter) Process(t *Trace) error {
	if i.closed.Load() {
		return ErrClosed
	}
	if t == nil {
		return errors.New("nil trace")
	}

	i.metrics.TracesSubmitted.Inc()
	i.executeHandlers(t.Report())
	return nil
}

// OnTrace registers a synchronous handler for processed traces.
func (i *Instrumenter) OnTrace(handler TraceHandler) uint64 {
	return i.registerHandler(handler, false)
}

// OnTraceAsync registers a handler run on the worker pool, or on its own
// goroutine when no pool is enabled.
func (i *Instrumenter) OnTraceAsync(handler TraceHandler) uint64 {
	return i.registerHandler(handler, true)
}

func (i *Instrumenter) registerHandler(handler TraceHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := i.nextID.Add(1)

	i.handlersLock.Lock()
	defer i.handlersLock.Unlock()

	i.handlers = append(i.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (i *Instrumenter) RemoveHandler(id uint64) {
	i.handlersLock.Lock()
	defer i.handlersLock.Unlock()

	for n, h := range i.handlers {
		if h.id == id {
			copy(i.handlers[n:], i.handlers[n+1:])
			i.handlers = i.handlers[:len(i.handlers)-1]
			return
		}
	}
}

// HasHandlers reports whether any handler is registered.
func (i *Instrumenter) HasHandlers() bool {
	i.handlersLock.RLock()
	defer i.handlersLock.RUnlock()
	return len(i.handlers) > 0
}

// SetPanicHook sets a function called when a handler panics.
func (i *Instrumenter) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	i.panicHook = hook
}

func (i *Instrumenter) executeHandlers(report Report) {
	i.handlersLock.RLock()
	if len(i.handlers) == 0 {
		i.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(i.handlers))
	copy(handlers, i.handlers)
	i.handlersLock.RUnlock()

	for _, h := range handlers {
		if !h.async {
			i.safeCall(h, report)
			continue
		}
		entry := h
		if i.workers != nil {
			if !i.workers.submit(func() { i.safeCall(entry, report) }) {
				i.metrics.TracesDropped.Inc()
			}
		} else {
			go i.safeCall(entry, report)
		}
	}
}

func (i *Instrumenter) safeCall(entry handlerEntry, report Report) {
	defer func() {
		if r := recover(); r != nil {
			i.logger.Error("trace handler panicked",
				zap.Uint64("handler", entry.id),
				zap.String("trace", report.ID),
				zap.Any("panic", r))
			if i.panicHook != nil {
				i.panicHook(entry.id, r)
			}
		}
	}()
	entry.handler(report)
}

// EnableWorkerPool runs async handlers on a bounded pool. A queueSize <= 0
// uses the configured max_pending_traces.
func (i *Instrumenter) EnableWorkerPool(workers, queueSize int) error {
	if i.workers != nil {
		return errors.New("worker pool already enabled")
	}
	if workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if queueSize <= 0 {
		queueSize = i.config.MaxPendingTraces
	}
	if queueSize <= 0 {
		return errors.New("queueSize must be > 0")
	}

	i.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &i.dropped,
	}

	i.workers.wg.Add(workers)
	for n := 0; n < workers; n++ {
		go i.workers.run()
	}

	return nil
}

// DroppedTraces returns the number of reports dropped by a full worker queue.
func (i *Instrumenter) DroppedTraces() uint64 {
	return i.dropped.Load()
}

// Close stops workers and the id pool. Traces submitted afterwards are
// logged and discarded.
func (i *Instrumenter) Close() {
	if !i.closed.CompareAndSwap(false, true) {
		return
	}

	i.handlersLock.Lock()
	i.handlers = nil
	i.handlersLock.Unlock()

	if i.workers != nil {
		i.workers.shutdown()
	}

	// Make sure a later StartTrace does not start a new refill goroutine.
	i.idPoolOnce.Do(func() {})
	if i.idPool != nil {
		i.idPool.Close()
	}
}

// workerPool runs async trace handlers on a fixed number of goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

// submit queues a task, dropping it when the queue is full.
func (w *workerPool) submit(task func()) bool {
	select {
	case w.tasks <- task:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
