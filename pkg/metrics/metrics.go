package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superdeploy_runs_total",
			Help: "Total number of completed runs by project and final status",
		},
		[]string{"project", "status"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "superdeploy_run_duration_seconds",
			Help:    "Wall time of a full deployment run in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"project"},
	)

	// Step metrics
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superdeploy_steps_total",
			Help: "Total number of plan steps by final status",
		},
		[]string{"project", "status"},
	)

	StepPhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "superdeploy_step_phase_duration_seconds",
			Help:    "Duration of one step phase (render, apply, verify) in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superdeploy_rollbacks_total",
			Help: "Total number of rollbacks by project and result",
		},
		[]string{"project", "result"},
	)

	VerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superdeploy_verifications_total",
			Help: "Total number of health verifications by result",
		},
		[]string{"project", "result"},
	)

	// State metrics
	UnitsDeployed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "superdeploy_units_deployed",
			Help: "Number of units with a deployment record per project",
		},
		[]string{"project"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "superdeploy_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "superdeploy_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "superdeploy_queue_depth",
			Help: "Number of runs waiting for a worker",
		},
	)

	WatchReloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "superdeploy_watch_reloads_total",
			Help: "Total number of deployments triggered by config file changes",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(StepsTotal)
	prometheus.MustRegister(StepPhaseDuration)
	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(VerificationsTotal)
	prometheus.MustRegister(UnitsDeployed)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(WatchReloadsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
