package diagnosis

import (
	"errors"
	"fmt"
	"time"

	"fridgeclinic/internal/faults"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports pipeline stage timings and failures. A nil *Metrics is a no-op.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	failures      *prometheus.CounterVec
	runs          *prometheus.CounterVec
	active        prometheus.Gauge
	orphans       prometheus.Counter
}

// NewMetrics registers the pipeline collectors on reg, reusing collectors
// that are already registered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fridgeclinic",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Latency of each diagnosis pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fridgeclinic",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by error kind.",
		}, []string{"stage", "kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fridgeclinic",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished pipeline runs by outcome.",
		}, []string{"outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fridgeclinic",
			Subsystem: "pipeline",
			Name:      "active_runs",
			Help:      "Pipeline runs currently in flight.",
		}),
		orphans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fridgeclinic",
			Subsystem: "pipeline",
			Name:      "remote_delete_failures_total",
			Help:      "Remote files whose cleanup failed and were queued for the sweeper.",
		}),
	}
	var err error
	if m.stageDuration, err = register(reg, m.stageDuration); err != nil {
		return nil, err
	}
	if m.failures, err = register(reg, m.failures); err != nil {
		return nil, err
	}
	if m.runs, err = register(reg, m.runs); err != nil {
		return nil, err
	}
	if m.active, err = register(reg, m.active); err != nil {
		return nil, err
	}
	if m.orphans, err = register(reg, m.orphans); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register pipeline metric: %w", err)
	}
	return c, nil
}

func (m *Metrics) observeStage(stage string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(took.Seconds())
	if err != nil {
		m.failures.WithLabelValues(stage, faults.Kind(err)).Inc()
	}
}

func (m *Metrics) runStarted() {
	if m != nil {
		m.active.Inc()
	}
}

func (m *Metrics) runFinished(outcome string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) orphaned() {
	if m != nil {
		m.orphans.Inc()
	}
}
