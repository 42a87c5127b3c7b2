package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics
	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panfm_job_runs_total",
			Help: "Total number of scheduler job executions by job name",
		},
		[]string{"job"},
	)

	JobErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panfm_job_errors_total",
			Help: "Total number of scheduler job executions that returned an error",
		},
		[]string{"job"},
	)

	JobMisfiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panfm_job_misfires_total",
			Help: "Total number of job firings skipped because the previous run overran its grace period",
		},
		[]string{"job"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panfm_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// Collector metrics
	DevicePollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panfm_device_polls_total",
			Help: "Total number of device polls by result",
		},
		[]string{"result"},
	)

	DevicesByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "panfm_devices",
			Help: "Number of monitored devices by health status",
		},
		[]string{"status"},
	)

	RowsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panfm_store_rows_written_total",
			Help: "Total number of rows written to the time-series store by table",
		},
		[]string{"table"},
	)

	CollectionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panfm_collection_requests_total",
			Help: "Total number of on-demand collection requests by final status",
		},
		[]string{"status"},
	)

	// Alerting metrics
	AlertsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panfm_alerts_triggered_total",
			Help: "Total number of alerts triggered by severity",
		},
		[]string{"severity"},
	)

	AlertsSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "panfm_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by an active cooldown",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panfm_notifications_total",
			Help: "Total number of notification deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panfm_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panfm_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobRunsTotal)
	prometheus.MustRegister(JobErrorsTotal)
	prometheus.MustRegister(JobMisfiresTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(DevicePollsTotal)
	prometheus.MustRegister(DevicesByStatus)
	prometheus.MustRegister(RowsWrittenTotal)
	prometheus.MustRegister(CollectionRequestsTotal)
	prometheus.MustRegister(AlertsTriggeredTotal)
	prometheus.MustRegister(AlertsSuppressedTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
