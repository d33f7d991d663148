package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-product-sourcing/internal/progress"
)

// PrometheusSink exports sourcing progress metrics via Prometheus. It owns the
// collectors for runs started/completed/running, fallback tier attempts and
// product imports.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	tierAttempts *prometheus.CounterVec
	tierDuration *prometheus.HistogramVec
	imports      *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcer_runs_started_total",
			Help: "Total sourcing runs started partitioned by scope.",
		}, []string{"scope"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcer_runs_completed_total",
			Help: "Total sourcing runs completed partitioned by scope and result.",
		}, []string{"scope", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sourcer_runs_running",
			Help: "Current number of running sourcing runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sourcer_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		tierAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcer_tier_attempts_total",
			Help: "Fallback tier attempts partitioned by family, tier and outcome.",
		}, []string{"family", "tier", "outcome"}),
		tierDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sourcer_tier_duration_seconds",
			Help:    "Fallback tier latency partitioned by tier.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"tier"}),
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sourcer_products_imported_total",
			Help: "Products upserted partitioned by source and action.",
		}, []string{"source", "action"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.tierAttempts,
		s.tierDuration,
		s.imports,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
		s.handleRunEvent(evt)
	case progress.StageTierAttempt:
		outcome := "empty"
		if evt.Count > 0 {
			outcome = "hit"
		}
		s.tierAttempts.WithLabelValues(string(evt.Family), evt.Tier, outcome).Inc()
		if evt.Dur > 0 {
			s.tierDuration.WithLabelValues(evt.Tier).Observe(evt.Dur.Seconds())
		}
	case progress.StageProductImported:
		action := "updated"
		if evt.NewProduct {
			action = "created"
		}
		s.imports.WithLabelValues(string(evt.Product.Source), action).Inc()
	}
}

func (s *PrometheusSink) handleRunEvent(evt progress.Event) {
	scope := string(evt.Scope)
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(scope).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(scope, "success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues(scope, "error").Inc()
		s.observeRuntime(evt, "error")
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
