// Package metrics records per-run pipeline counters on a private registry
// and writes them as a text-exposition artifact next to the other run
// outputs. There is no scrape endpoint; the file is the interface.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Run holds one pipeline run's metrics. Not safe for concurrent use; the
// pipeline is single-threaded.
type Run struct {
	registry *prometheus.Registry

	Readings      prometheus.Counter
	Events        prometheus.Counter
	Tasks         prometheus.Counter
	EventsDropped prometheus.Counter
	TasksDropped  *prometheus.CounterVec
	RiskHolds     prometheus.Counter
	StageSeconds  *prometheus.HistogramVec
}

// NewRun builds a run-scoped registry with all pipeline series registered.
func NewRun() *Run {
	reg := prometheus.NewRegistry()
	r := &Run{
		registry: reg,
		Readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "readings_total",
			Help:      "Sensor readings ingested.",
		}),
		Events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "events_total",
			Help:      "Events produced by the rules engine.",
		}),
		Tasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "tasks_total",
			Help:      "Task recommendations produced.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "events_dropped_total",
			Help:      "Events dropped by governance filtering.",
		}),
		TasksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "tasks_dropped_total",
			Help:      "Tasks dropped by guardrails, by reason.",
		}, []string{"reason"}),
		RiskHolds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vigil",
			Name:      "risk_holds_total",
			Help:      "Tasks held by the risk budget.",
		}),
		StageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vigil",
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	reg.MustRegister(r.Readings, r.Events, r.Tasks, r.EventsDropped, r.TasksDropped, r.RiskHolds, r.StageSeconds)
	return r
}

// ObserveStage records the duration of one stage given its start time.
func (r *Run) ObserveStage(stage string, start time.Time) {
	r.StageSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// WriteProm writes the registry in text exposition format to
// <outDir>/metrics.prom and returns the path.
func (r *Run) WriteProm(outDir string) (string, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", fmt.Errorf("metrics: gather: %w", err)
	}

	path := filepath.Join(outDir, "metrics.prom")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("metrics: create %s: %w", path, err)
	}
	defer f.Close()

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(f, family); err != nil {
			return "", fmt.Errorf("metrics: write %s: %w", path, err)
		}
	}
	return path, nil
}
