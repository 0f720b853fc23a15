package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	PoolWorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandboxd_pool_workers_total",
			Help: "Total number of worker handles per pool by state",
		},
		[]string{"fingerprint", "state"},
	)

	PoolWaitersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sandboxd_pool_waiters_total",
			Help: "Number of callers queued waiting for a worker handle",
		},
		[]string{"fingerprint"},
	)

	PoolsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_pools_total",
			Help: "Total number of warm pools currently registered",
		},
	)

	EnvironmentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sandboxd_environments_total",
			Help: "Total number of prepared environments in the cache",
		},
	)

	// Dispatch metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_jobs_total",
			Help: "Total number of dispatched jobs by terminal outcome",
		},
		[]string{"outcome"},
	)

	JobRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sandboxd_job_retries_total",
			Help: "Total number of job retries issued after a worker death",
		},
	)

	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandboxd_job_duration_seconds",
			Help:    "End-to-end dispatch duration in seconds, including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	AcquireDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandboxd_acquire_duration_seconds",
			Help:    "Time spent waiting to acquire a ready worker handle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExecuteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandboxd_execute_duration_seconds",
			Help:    "Time spent executing a job inside a worker, once acquired",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Environment build metrics
	EnvironmentBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandboxd_environment_build_duration_seconds",
			Help:    "Time taken to build a prepared environment (dependency install)",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	EnvironmentBuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_environment_builds_total",
			Help: "Total number of environment builds by outcome",
		},
		[]string{"outcome"},
	)

	WorkerSpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sandboxd_worker_spawn_duration_seconds",
			Help:    "Time taken for a worker process to become ready",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerDeathsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_worker_deaths_total",
			Help: "Total number of worker handles that transitioned to dead",
		},
		[]string{"fingerprint", "reason"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sandboxd_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sandboxd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(PoolWorkersTotal)
	prometheus.MustRegister(PoolWaitersTotal)
	prometheus.MustRegister(PoolsTotal)
	prometheus.MustRegister(EnvironmentsTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobRetriesTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(AcquireDuration)
	prometheus.MustRegister(ExecuteDuration)
	prometheus.MustRegister(EnvironmentBuildDuration)
	prometheus.MustRegister(EnvironmentBuildsTotal)
	prometheus.MustRegister(WorkerSpawnDuration)
	prometheus.MustRegister(WorkerDeathsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
