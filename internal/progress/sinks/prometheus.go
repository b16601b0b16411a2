package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pricewise/internal/progress"
)

// PrometheusSink exports run and analyzer lifecycle metrics.
type PrometheusSink struct {
	runsStarted    prometheus.Counter
	runsCompleted  *prometheus.CounterVec
	runsRunning    prometheus.Gauge
	runRuntime     *prometheus.HistogramVec
	analyzerPasses *prometheus.CounterVec
	analyzerTime   prometheus.Histogram

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewise_runs_started_total",
			Help: "Total scraper runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewise_runs_completed_total",
			Help: "Total scraper runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricewise_runs_running",
			Help: "Scraper runs currently in progress.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pricewise_run_runtime_seconds",
			Help:    "Wall time per completed scraper run.",
			Buckets: []float64{30, 60, 300, 600, 1200, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		analyzerPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewise_analyzer_passes_total",
			Help: "Analyzer-only passes partitioned by result.",
		}, []string{"result"}),
		analyzerTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricewise_analyzer_duration_seconds",
			Help:    "Wall time per analyzer-only pass.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.analyzerPasses,
		s.analyzerTime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.Inc()
			if s.tracker.start(evt.RunID) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone, progress.StageRunError, progress.StageRunCancelled:
			result := evt.Stage.Result()
			s.runsCompleted.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.RunID) {
				s.runsRunning.Dec()
			}
		case progress.StageAnalyzerDone, progress.StageAnalyzerError:
			s.analyzerPasses.WithLabelValues(evt.Stage.Result()).Inc()
			if evt.Dur > 0 {
				s.analyzerTime.Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
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
