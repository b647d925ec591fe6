package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Agent metrics
	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "terrapool_agents",
			Help: "Number of registered agents by pool and status",
		},
		[]string{"pool", "status"},
	)

	// Provisioning metrics
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terrapool_attempts_total",
			Help: "Total number of provisioning attempts by pool, template and result",
		},
		[]string{"pool", "template", "result"},
	)

	TeardownFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "terrapool_teardown_failures_total",
			Help: "Total number of terraform destroy runs that failed",
		},
	)

	// Terraform command metrics
	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "terrapool_command_duration_seconds",
			Help:    "Terraform command duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"command"},
	)

	CommandTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "terrapool_command_timeouts_total",
			Help: "Total number of terraform commands killed after exceeding their timeout",
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "terrapool_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	RetentionTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terrapool_retention_terminations_total",
			Help: "Total number of agents terminated by their retention policy",
		},
		[]string{"pool", "kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terrapool_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "terrapool_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(AttemptsTotal)
	prometheus.MustRegister(TeardownFailures)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(CommandTimeouts)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(RetentionTerminations)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time in a histogram vec
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
