package apmz

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the instrumenter's Prometheus counters.
type Metrics struct {
	TracesStarted          prometheus.Counter
	TracesSubmitted        prometheus.Counter
	TracesBroken           prometheus.Counter
	TracesDropped          prometheus.Counter
	OrderingViolations     prometheus.Counter
	DescriptionsOverBudget prometheus.Counter
}

func newMetrics() *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "apmz",
			Name:      name,
			Help:      help,
		})
	}

	return &Metrics{
		TracesStarted:          counter("traces_started_total", "Total number of traces started"),
		TracesSubmitted:        counter("traces_submitted_total", "Total number of traces handed to the processor"),
		TracesBroken:           counter("traces_broken_total", "Total number of traces marked broken"),
		TracesDropped:          counter("traces_dropped_total", "Total number of processed traces dropped by a full queue"),
		OrderingViolations:     counter("ordering_violations_total", "Total number of spans closed out of order"),
		DescriptionsOverBudget: counter("descriptions_over_budget_total", "Total number of descriptions replaced for exceeding the unique budget"),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TracesStarted,
		m.TracesSubmitted,
		m.TracesBroken,
		m.TracesDropped,
		m.OrderingViolations,
		m.DescriptionsOverBudget,
	}
}

// Register adds every counter to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "register apmz metrics")
		}
	}
	return nil
}
