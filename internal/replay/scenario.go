// Package replay drives a trace through a scripted sequence of
// instrumentation calls on a fake clock. It is used to reproduce ordering
// problems reported from production without the application that caused them.
package replay

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-yaml"
)

// Op names a scenario step.
type Op string

// Supported operations.
const (
	OpAdvance    Op = "advance"
	OpGC         Op = "gc"
	OpInstrument Op = "instrument"
	OpDone       Op = "done"
	OpRecord     Op = "record"
	OpEndpoint   Op = "endpoint"
	OpSubmit     Op = "submit"
)

// Scenario is a scripted trace. GCTracking and MaxSpans override the
// config when set.
type Scenario struct {
	Endpoint   string   `yaml:"endpoint"`
	Category   string   `yaml:"category"`
	Title      string   `yaml:"title"`
	Probes     []string `yaml:"probes"`
	Steps      []Step   `yaml:"steps"`
	MaxSpans   int      `yaml:"max_spans"`
	GCTracking *bool    `yaml:"gc_tracking"`
}

// Step is one scenario operation. Name refers to a span handle opened by an
// earlier instrument step.
type Step struct {
	Op          Op                `yaml:"op"`
	Name        string            `yaml:"name"`
	Category    string            `yaml:"category"`
	Title       string            `yaml:"title"`
	Description string            `yaml:"desc"`
	Endpoint    string            `yaml:"endpoint"`
	Duration    string            `yaml:"duration"`
	Exception   string            `yaml:"exception"`
	Meta        map[string]string `yaml:"meta"`
	Defer       bool              `yaml:"defer"`
}

// duration parses the step's duration, empty meaning zero.
func (s Step) duration() (time.Duration, error) {
	if s.Duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Duration)
	if err != nil {
		return 0, errors.Wrapf(err, "step %s", s.Op)
	}
	if d < 0 {
		return 0, errors.Newf("step %s: negative duration %s", s.Op, s.Duration)
	}
	return d, nil
}

// Load reads a scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read scenario %s", path)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, errors.Wrap(err, "parse scenario")
	}
	if sc.Category == "" {
		sc.Category = "app.request"
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks that every step is well formed and that done steps only
// name handles opened earlier.
func (sc *Scenario) Validate() error {
	opened := make(map[string]bool)
	for n, step := range sc.Steps {
		switch step.Op {
		case OpAdvance, OpGC:
			if _, err := step.duration(); err != nil {
				return errors.Wrapf(err, "step %d", n)
			}
		case OpInstrument:
			if step.Name == "" || step.Category == "" {
				return errors.Newf("step %d: instrument needs name and category", n)
			}
			opened[step.Name] = true
		case OpDone:
			if !opened[step.Name] {
				return errors.Newf("step %d: done for unknown span %q", n, step.Name)
			}
		case OpRecord:
			if step.Category == "" {
				return errors.Newf("step %d: record needs a category", n)
			}
		case OpEndpoint:
			if step.Endpoint == "" {
				return errors.Newf("step %d: endpoint needs a value", n)
			}
		case OpSubmit:
		default:
			return errors.Newf("step %d: unknown op %q", n, step.Op)
		}
	}
	return nil
}
