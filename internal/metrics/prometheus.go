package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle metrics
	SessionCreations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casino_session_creations_total",
			Help: "Total number of game sessions created",
		},
		[]string{"game"},
	)

	SessionTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casino_session_terminations_total",
			Help: "Total number of game session terminations",
		},
		[]string{"game", "state"}, // state: completed|cancelled|errored|timed_out
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "casino_sessions_active",
			Help: "Number of currently active game sessions",
		},
	)

	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casino_session_duration_seconds",
			Help:    "Game session duration from creation to termination",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"game"},
	)

	// Admission metrics
	AdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casino_admission_rejections_total",
			Help: "Total number of session admission rejections",
		},
		[]string{"reason"}, // reason: rate_limited|locked|session_exists|insufficient_funds
	)

	StaleLocksCleared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casino_stale_locks_cleared_total",
			Help: "Total number of abandoned admission locks cleared",
		},
	)

	// Ledger metrics
	LedgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casino_ledger_operations_total",
			Help: "Total number of ledger debit/credit operations",
		},
		[]string{"operation", "status"}, // operation: debit|credit|compensating_credit, status: success|error
	)

	// Cleanup metrics
	SessionsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casino_sessions_swept_total",
			Help: "Total number of stale sessions expired by the cleanup sweep",
		},
	)

	SessionsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casino_sessions_purged_total",
			Help: "Total number of terminal session records purged after the grace window",
		},
	)

	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casino_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "casino_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "casino_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)
)

// Init registers all metrics with the default registry
func Init() {
	prometheus.MustRegister(SessionCreations)
	prometheus.MustRegister(SessionTerminations)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionDuration)

	prometheus.MustRegister(AdmissionRejections)
	prometheus.MustRegister(StaleLocksCleared)

	prometheus.MustRegister(LedgerOperations)

	prometheus.MustRegister(SessionsSwept)
	prometheus.MustRegister(SessionsPurged)

	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)
}

// RecordWorkerRun records a worker execution
func RecordWorkerRun(worker string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	WorkerExecutions.WithLabelValues(worker, status).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordLedgerOperation records a ledger debit/credit outcome
func RecordLedgerOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LedgerOperations.WithLabelValues(operation, status).Inc()
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts the metrics HTTP server on the given port
func Serve(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go srv.ListenAndServe()
	return srv
}
