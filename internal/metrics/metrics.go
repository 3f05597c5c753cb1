package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weskerllc/cronicorn/internal/health"
)

var (
	// Claim/dispatch metrics

	ClaimLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cronicorn",
		Name:      "endpoint_claim_latency_seconds",
		Help:      "Time from an endpoint's nextRunAt to the tick that claimed it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cronicorn",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of one endpoint dispatch HTTP call.",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"status"})

	RunsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cronicorn",
		Name:      "runs_in_flight",
		Help:      "Number of endpoint dispatches currently executing.",
	})

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "runs_completed_total",
		Help:      "Total runs finished, by outcome.",
	}, []string{"outcome"})

	BackoffAppliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "backoff_applied_total",
		Help:      "Total times the scheduling algebra applied exponential backoff after a failed run.",
	})

	DispatchQuotaDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "dispatch_quota_denied_total",
		Help:      "Total dispatches skipped because the tenant's quota was exhausted.",
	})

	// Sweeper metrics

	SweeperRecoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "sweeper_recovered_runs_total",
		Help:      "Total zombie runs marked failed by the sweeper.",
	})

	SweeperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cronicorn",
		Name:      "sweeper_cycle_duration_seconds",
		Help:      "Time taken for one sweeper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// Planner metrics

	PlannerSessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "planner_sessions_total",
		Help:      "Total AI planner analysis sessions, by outcome.",
	}, []string{"outcome"})

	PlannerQuotaDeniedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "planner_quota_denied_total",
		Help:      "Total planner analyses skipped because the tenant's quota was exhausted.",
	})

	PlannerTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "planner_tokens_total",
		Help:      "Total LLM tokens consumed by the planner, by direction.",
	}, []string{"direction"})

	// Worker lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cronicorn",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker started.",
	})

	// HTTP metrics (admin surface)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cronicorn",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronicorn",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		ClaimLatency,
		DispatchDuration,
		RunsInFlight,
		RunsCompletedTotal,
		BackoffAppliedTotal,
		DispatchQuotaDeniedTotal,
		SweeperRecoveredTotal,
		SweeperCycleDuration,
		PlannerSessionsTotal,
		PlannerQuotaDeniedTotal,
		PlannerTokensTotal,
		WorkerStartTime,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer builds the metrics/health sidecar server: /metrics for
// Prometheus scraping, /healthz for liveness, /readyz for dependency
// readiness.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		if result.Status != "up" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeHealth(w, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
