package schedule

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes scheduler activity to prometheus
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	running     *prometheus.GaugeVec
	skipped     *prometheus.CounterVec
}

// NewMetrics creates and registers the scheduler collectors.
// A nil registerer uses the prometheus default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Finished job runs by job and status",
			},
			[]string{"job", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_run_duration_seconds",
				Help:      "Duration of finished job runs",
				Buckets:   []float64{.01, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"job"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_running",
				Help:      "1 while a run of the job is in flight",
			},
			[]string{"job"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_triggers_skipped_total",
				Help:      "Triggers that found the job already running",
			},
			[]string{"job"},
		),
	}

	reg.MustRegister(m.runsTotal, m.runDuration, m.running, m.skipped)
	return m
}

func (m *Metrics) runStarted(jobID string) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(jobID).Set(1)
}

func (m *Metrics) runFinished(jobID string, status ExecutionStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.running.WithLabelValues(jobID).Set(0)
	m.runsTotal.WithLabelValues(jobID, string(status)).Inc()
	m.runDuration.WithLabelValues(jobID).Observe(d.Seconds())
}

func (m *Metrics) triggerSkipped(jobID string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(jobID).Inc()
}
