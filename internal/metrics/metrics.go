// Package metrics exposes Prometheus collectors for pipeline activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's collectors. A nil *Metrics is valid and
// records nothing, so components can run without observability wired.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	stageRetries  *prometheus.CounterVec
	costUnits     *prometheus.CounterVec
	rewrites      prometheus.Counter
	runsActive    prometheus.Gauge
	runsFinished  *prometheus.CounterVec
}

// MustNew registers the collectors with reg. Collectors that are already
// registered are reused so several orchestrators can share one registry.
// Any other registration error panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "blogflow",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Duration of stage invocations.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage", "status"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blogflow",
			Subsystem: "stage",
			Name:      "failures_total",
			Help:      "Stage invocations that failed, by reason.",
		}, []string{"stage", "reason"}),
		stageRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blogflow",
			Subsystem: "stage",
			Name:      "retries_total",
			Help:      "Retries scheduled after transient stage failures.",
		}, []string{"stage"}),
		costUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blogflow",
			Subsystem: "stage",
			Name:      "cost_units_total",
			Help:      "Estimated relative cost of stage invocations.",
		}, []string{"stage"}),
		rewrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blogflow",
			Subsystem: "pipeline",
			Name:      "rewrites_total",
			Help:      "Rewrite loop iterations started.",
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "blogflow",
			Subsystem: "pipeline",
			Name:      "runs_active",
			Help:      "Pipeline runs currently executing.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blogflow",
			Subsystem: "pipeline",
			Name:      "runs_finished_total",
			Help:      "Pipeline runs that reached a terminal status.",
		}, []string{"status"}),
	}

	m.stageDuration = register(reg, m.stageDuration)
	m.stageFailures = register(reg, m.stageFailures)
	m.stageRetries = register(reg, m.stageRetries)
	m.costUnits = register(reg, m.costUnits)
	m.rewrites = register(reg, m.rewrites)
	m.runsActive = register(reg, m.runsActive)
	m.runsFinished = register(reg, m.runsFinished)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveStage records one stage invocation.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration, cost int) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
	if cost > 0 {
		m.costUnits.WithLabelValues(stage).Add(float64(cost))
	}
}

// IncStageFailure counts a failed invocation.
func (m *Metrics) IncStageFailure(stage, reason string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, reason).Inc()
}

// IncStageRetry counts a scheduled retry.
func (m *Metrics) IncStageRetry(stage string) {
	if m == nil {
		return
	}
	m.stageRetries.WithLabelValues(stage).Inc()
}

// IncRewrite counts a rewrite loop iteration.
func (m *Metrics) IncRewrite() {
	if m == nil {
		return
	}
	m.rewrites.Inc()
}

// RunStarted increments the active runs gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished decrements the active runs gauge and counts the outcome.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsFinished.WithLabelValues(status).Inc()
}
