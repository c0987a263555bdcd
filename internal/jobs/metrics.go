package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts job lifecycle outcomes for the /metrics endpoint.
type Metrics struct {
	Submitted     prometheus.Counter
	Completed     prometheus.Counter
	Failed        prometheus.Counter
	Cancelled     prometheus.Counter
	Running       prometheus.Gauge
	EventsDropped prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Submitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_jobs_submitted_total",
			Help: "Backtest jobs accepted by the manager.",
		}),
		Completed: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_jobs_completed_total",
			Help: "Backtest jobs that finished successfully.",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_jobs_failed_total",
			Help: "Backtest jobs that ended with an error.",
		}),
		Cancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_jobs_cancelled_total",
			Help: "Backtest jobs cancelled before completion.",
		}),
		Running: factory.NewGauge(prometheus.GaugeOpts{
			Name: "backtest_jobs_running",
			Help: "Backtest jobs currently executing.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_job_events_dropped_total",
			Help: "Job events dropped because the event queue was full.",
		}),
	}
}
