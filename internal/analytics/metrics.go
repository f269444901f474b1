package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricTicksTotal          = "analytics_monitor_ticks_total"
	MetricTickDuration        = "analytics_monitor_tick_duration_seconds"
	MetricActiveExperiments   = "analytics_active_experiments"
	MetricEvaluationsTotal    = "analytics_experiment_evaluations_total"
	MetricNotificationsTotal  = "analytics_notifications_sent_total"
	MetricAggregateRefreshAge = "analytics_last_aggregate_refresh_timestamp"
)

// Metrics contains Prometheus metrics for the analytics monitor.
// All operations are thread-safe.
type Metrics struct {
	ticksTotal         *prometheus.CounterVec
	tickDuration       *prometheus.HistogramVec
	activeExperiments  prometheus.Gauge
	evaluationsTotal   *prometheus.CounterVec
	notificationsTotal prometheus.Counter
	lastRefreshTime    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTicksTotal,
			Help: "Total number of analytics monitor ticks by task and status",
		}, []string{"task", "status"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricTickDuration,
			Help:    "Histogram of analytics monitor tick duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		}, []string{"task"}),
		activeExperiments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricActiveExperiments,
			Help: "Number of experiments currently serving traffic",
		}),
		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEvaluationsTotal,
			Help: "Total number of experiment evaluations by outcome",
		}, []string{"outcome"}),
		notificationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricNotificationsTotal,
			Help: "Total number of experiment result notifications sent",
		}),
		lastRefreshTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricAggregateRefreshAge,
			Help: "Unix timestamp of the last aggregate cache refresh",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.ticksTotal,
		m.tickDuration,
		m.activeExperiments,
		m.evaluationsTotal,
		m.notificationsTotal,
		m.lastRefreshTime,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncTick increments the tick counter for a task.
func (m *Metrics) IncTick(task, status string) {
	m.ticksTotal.WithLabelValues(task, status).Inc()
}

// ObserveTickDuration records a tick duration sample for a task.
func (m *Metrics) ObserveTickDuration(task string, seconds float64) {
	m.tickDuration.WithLabelValues(task).Observe(seconds)
}

// SetActiveExperiments sets the active experiment gauge.
func (m *Metrics) SetActiveExperiments(count float64) {
	m.activeExperiments.Set(count)
}

// IncEvaluation increments the evaluation counter for an outcome.
func (m *Metrics) IncEvaluation(outcome string) {
	m.evaluationsTotal.WithLabelValues(outcome).Inc()
}

// IncNotifications increments the notification counter.
func (m *Metrics) IncNotifications() {
	m.notificationsTotal.Inc()
}

// SetLastRefreshTimestamp sets the last aggregate refresh gauge.
func (m *Metrics) SetLastRefreshTimestamp(timestamp float64) {
	m.lastRefreshTime.Set(timestamp)
}
