package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rcp"

var (
	registerOnce sync.Once

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_sessions",
			Help:      "Sessions currently attached to the server.",
		},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "sessions_total",
			Help:      "Accepted connections by outcome.",
		},
		[]string{"outcome"},
	)
	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Authentication attempts by method and result.",
		},
		[]string{"method", "result"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "frames_total",
			Help:      "Frames handled by command and direction.",
		},
		[]string{"command", "direction"},
	)
	serviceSubscriptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "service_subscriptions_total",
			Help:      "Service subscribe outcomes by service name.",
		},
		[]string{"service", "result"},
	)
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Lifetime of closed sessions in seconds.",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 14400},
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			activeSessions,
			sessionsTotal,
			authAttempts,
			framesTotal,
			serviceSubscriptions,
			sessionDuration,
			httpRequests,
			httpDuration,
		)
	})
}

// SessionOpened records an accepted connection that got a session slot.
func SessionOpened() {
	RegisterMetrics()
	activeSessions.Inc()
	sessionsTotal.WithLabelValues("accepted").Inc()
}

// SessionRejected records a connection refused before a session started.
func SessionRejected(reason string) {
	RegisterMetrics()
	sessionsTotal.WithLabelValues(reason).Inc()
}

func SessionClosed(lifetime time.Duration) {
	RegisterMetrics()
	activeSessions.Dec()
	sessionDuration.Observe(lifetime.Seconds())
}

func RecordAuth(method string, ok bool) {
	RegisterMetrics()
	result := "rejected"
	if ok {
		result = "accepted"
	}
	authAttempts.WithLabelValues(method, result).Inc()
}

// RecordFrame counts one frame; direction is "in" or "out".
func RecordFrame(command string, direction string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(command, direction).Inc()
}

func RecordSubscription(service string, ok bool) {
	RegisterMetrics()
	serviceSubscriptions.WithLabelValues(service, strconv.FormatBool(ok)).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
