package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "session",
			Name:      "started_total",
			Help:      "Authentication sessions accepted from the authority.",
		},
	)
	sessionOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "session",
			Name:      "outcomes_total",
			Help:      "Terminal session outcomes by verdict.",
		},
		[]string{"outcome"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently live in the registry.",
		},
	)
	sessionAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "session",
			Name:      "attempts",
			Help:      "Challenge rounds issued per completed session.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		},
	)
	verifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "verify",
			Name:      "duration_seconds",
			Help:      "Credential verification latency by result.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	promptsShown = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "prompt",
			Name:      "shown_total",
			Help:      "Prompt rounds pushed to the UI client.",
		},
	)
	promptClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "prompt",
			Name:      "clients",
			Help:      "Prompt UI clients currently attached.",
		},
	)
	reportDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "report",
			Name:      "deliveries_total",
			Help:      "Verdict report delivery attempts by status.",
		},
		[]string{"status"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total introspection HTTP requests.",
		},
		[]string{"agent", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Introspection HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsStarted,
			sessionOutcomes,
			sessionsActive,
			sessionAttempts,
			verifyDuration,
			promptsShown,
			promptClients,
			reportDeliveries,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordSessionStarted() {
	RegisterMetrics()
	sessionsStarted.Inc()
	sessionsActive.Inc()
}

func RecordSessionOutcome(outcome string, attempts int) {
	RegisterMetrics()
	sessionOutcomes.WithLabelValues(outcome).Inc()
	sessionsActive.Dec()
	if attempts > 0 {
		sessionAttempts.Observe(float64(attempts))
	}
}

func RecordVerify(status string, duration time.Duration) {
	RegisterMetrics()
	verifyDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordPromptShown() {
	RegisterMetrics()
	promptsShown.Inc()
}

func SetPromptClients(n int64) {
	RegisterMetrics()
	promptClients.Set(float64(n))
}

func RecordReportDelivery(status string) {
	RegisterMetrics()
	reportDeliveries.WithLabelValues(status).Inc()
}

func RecordHTTPRequest(agent, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(agent, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(agent, method, path, statusLabel).Observe(duration.Seconds())
}
