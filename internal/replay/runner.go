package replay

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/zoobzio/apmz"
)

// Result is the outcome of a replayed scenario.
type Result struct {
	Report    *apmz.Report `json:"report,omitempty"`
	TraceID   string       `json:"trace_id"`
	Broken    bool         `json:"broken"`
	Submitted bool         `json:"submitted"`
}

// scriptedGC reports GC time queued by gc steps on the next update.
type scriptedGC struct {
	queued  int64
	pending int64
	mu      sync.Mutex
}

func (g *scriptedGC) add(nanos int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued += nanos
}

func (g *scriptedGC) Update() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = g.queued
	g.queued = 0
}

// Track returns g; a scenario drives a single trace.
func (g *scriptedGC) Track() apmz.GC {
	return g
}

func (g *scriptedGC) Time() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

// Run replays sc under cfg and returns what the processor received. A nil
// cfg uses the defaults. The trace is submitted at the end even if the
// scenario has no submit step.
func Run(ctx context.Context, sc *Scenario, cfg *apmz.Config, logger *zap.Logger) (*Result, error) {
	if sc == nil {
		return nil, errors.New("nil scenario")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg == nil {
		cfg = apmz.DefaultConfig()
	}
	// Scenario settings win over the config; copy so the caller's is untouched.
	scoped := *cfg
	if sc.GCTracking != nil {
		scoped.GC.Track = *sc.GCTracking
	}
	if sc.MaxSpans > 0 {
		scoped.MaxSpans = sc.MaxSpans
	}

	probes := apmz.NewProbeRegistry()
	for _, p := range sc.Probes {
		probes.Install(p)
	}

	clock := clockz.NewFakeClock()
	gc := &scriptedGC{}
	inst := apmz.New(
		apmz.WithConfig(&scoped),
		apmz.WithLogger(logger),
		apmz.WithClock(clock),
		apmz.WithGC(gc),
		apmz.WithProbes(probes),
	)
	defer inst.Close()

	var report *apmz.Report
	inst.OnTrace(func(r apmz.Report) {
		report = &r
	})

	_, trace := inst.StartTrace(ctx, sc.Endpoint, sc.Category, sc.Title, "", nil)
	handles := make(map[string]apmz.SpanID)

	for _, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "replay interrupted")
		}

		d, _ := step.duration()
		switch step.Op {
		case OpAdvance:
			clock.Advance(d)
		case OpGC:
			gc.add(int64(d))
		case OpInstrument:
			handles[step.Name] = trace.Instrument(step.Category, step.Title, step.Description, step.Meta)
		case OpDone:
			meta := apmz.DoneMeta{Defer: step.Defer}
			if step.Exception != "" {
				meta.Exception = errors.New(step.Exception)
				meta.ExceptionSummary = []string{"replay", step.Exception}
			}
			trace.DoneWith(handles[step.Name], meta)
		case OpRecord:
			trace.Record(step.Category, step.Title, step.Description)
		case OpEndpoint:
			trace.SetEndpoint(step.Endpoint)
		case OpSubmit:
			trace.Submit()
		}
	}
	trace.Submit()

	return &Result{
		Report:    report,
		TraceID:   trace.ID(),
		Broken:    trace.Broken(),
		Submitted: trace.Submitted(),
	}, nil
}
