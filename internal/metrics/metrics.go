package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Plan metrics
	PlanRequestsTotal   *prometheus.CounterVec
	PlanDurationSeconds prometheus.Histogram
	PlanItems           prometheus.Histogram

	// Reconciliation metrics
	ReconcileChangesTotal *prometheus.CounterVec

	// Device report metrics
	ReportsTotal *prometheus.CounterVec

	// Requirement source metrics
	SourceFailuresTotal *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Device lifecycle metrics
	DeviceCleanupsTotal prometheus.Counter

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Job metrics
	JobDurationSeconds *prometheus.HistogramVec

	// Health metrics
	HealthStatus *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance registered against reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		PlanRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signage_sync_plan_requests_total",
				Help: "Total number of sync plan requests by outcome",
			},
			[]string{"outcome"},
		),
		PlanDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signage_sync_plan_duration_seconds",
				Help:    "Duration of sync plan resolution and reconciliation",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		PlanItems: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signage_sync_plan_items",
				Help:    "Number of items in returned sync plans",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
			},
		),

		ReconcileChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signage_sync_reconcile_changes_total",
				Help: "Sync item changes applied by reconciliation",
			},
			[]string{"change"},
		),

		ReportsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signage_sync_reports_total",
				Help: "Device progress, ack and failure reports by outcome",
			},
			[]string{"kind", "outcome"},
		),

		SourceFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signage_sync_source_failures_total",
				Help: "Requirement source lookups that failed during resolution",
			},
			[]string{"source"},
		),

		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signage_sync_notifications_total",
				Help: "Plan change notifications sent to devices",
			},
			[]string{"outcome"},
		),

		DeviceCleanupsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "signage_sync_device_cleanups_total",
				Help: "Sync state removals triggered by device deletion",
			},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signage_api_requests_total",
				Help: "Total number of API requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signage_api_request_duration_seconds",
				Help:    "Histogram of request durations by method, route, and status",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route", "status"},
		),

		JobDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "signage_job_duration_seconds",
				Help: "Duration of jobs in seconds",
			},
			[]string{"queue", "type", "status"},
		),

		HealthStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signage_health_status",
				Help: "Health status of dependencies (1=ok, 0=down)",
			},
			[]string{"dependency"},
		),
	}
}
