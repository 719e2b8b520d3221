// Package telemetry exports run and engine metrics to Prometheus.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evolab/evolab/internal/domain"
)

const namespace = "evolab"

// Metrics holds the collectors on a private registry. It observes controller
// transitions and engine steps.
type Metrics struct {
	Registry *prometheus.Registry

	transitions *prometheus.CounterVec
	activeRuns  prometheus.Gauge
	generations prometheus.Counter
	bestFitness prometheus.Histogram
	stepSeconds *prometheus.HistogramVec
}

// New registers the evolab collectors plus Go and process collectors on a
// new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_transitions_total",
			Help:      "Committed run transitions by trigger.",
		}, []string{"trigger"}),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs that are running or paused.",
		}),
		generations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_recorded_total",
			Help:      "Generations recorded across all runs.",
		}),
		bestFitness: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_best_fitness",
			Help:      "Best fitness of each recorded generation.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		stepSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_step_duration_seconds",
			Help:      "Engine step latency by model and outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"model", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// OnTransition implements workflow.Observer. The run carries the status after
// the transition, so a generation that completed the run is reported with the
// completed trigger.
func (m *Metrics) OnTransition(_ context.Context, run domain.EvolutionRun, trigger domain.Trigger) {
	m.transitions.WithLabelValues(string(trigger)).Inc()

	switch trigger {
	case domain.TriggerStarted:
		m.activeRuns.Inc()
	case domain.TriggerStopped, domain.TriggerFailed, domain.TriggerCompleted:
		m.activeRuns.Dec()
	}
	if trigger == domain.TriggerGeneration || trigger == domain.TriggerCompleted {
		m.generations.Inc()
		m.bestFitness.Observe(run.Status.BestFitness)
	}
}

// ObserveStep implements engine.StepRecorder.
func (m *Metrics) ObserveStep(model domain.Model, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stepSeconds.WithLabelValues(string(model), outcome).Observe(elapsed.Seconds())
}
