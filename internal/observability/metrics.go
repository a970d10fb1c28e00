package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hublink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hublink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hublink",
			Subsystem: "transfer",
			Name:      "sends_total",
			Help:      "Messages sent on sender links by outcome.",
		},
		[]string{"identity", "link", "result"},
	)
	sendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hublink",
			Subsystem: "transfer",
			Name:      "send_duration_seconds",
			Help:      "Time from send to settlement in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"identity", "link", "result"},
	)
	receives = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hublink",
			Subsystem: "transfer",
			Name:      "receives_total",
			Help:      "Receive polls by outcome.",
		},
		[]string{"identity", "link", "result"},
	)
	attaches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hublink",
			Subsystem: "link",
			Name:      "attaches_total",
			Help:      "Link attach attempts by direction and outcome.",
		},
		[]string{"identity", "direction", "result"},
	)
	recoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hublink",
			Subsystem: "session",
			Name:      "recoveries_total",
			Help:      "Session recovery attempts by outcome.",
		},
		[]string{"identity", "result"},
	)
	sessionFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hublink",
			Subsystem: "session",
			Name:      "faults_total",
			Help:      "Sessions ended by the transport, by fault kind.",
		},
		[]string{"identity", "kind"},
	)
	connected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hublink",
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while a session is active.",
		},
		[]string{"identity"},
	)
	credentialExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "hublink",
			Subsystem: "session",
			Name:      "credential_expiry_timestamp_seconds",
			Help:      "Unix expiry of the credential used for the next connect.",
		},
		[]string{"identity"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sends, sendDuration, receives, attaches,
			recoveries, sessionFaults, connected, credentialExpiry,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSend(identity, link, result string, duration time.Duration) {
	RegisterMetrics()
	sends.WithLabelValues(identity, link, result).Inc()
	sendDuration.WithLabelValues(identity, link, result).Observe(duration.Seconds())
}

func RecordReceive(identity, link, result string) {
	RegisterMetrics()
	receives.WithLabelValues(identity, link, result).Inc()
}

func RecordAttach(identity, direction, result string) {
	RegisterMetrics()
	attaches.WithLabelValues(identity, direction, result).Inc()
}

func RecordRecovery(identity, result string) {
	RegisterMetrics()
	recoveries.WithLabelValues(identity, result).Inc()
}

func RecordSessionFault(identity, kind string) {
	RegisterMetrics()
	sessionFaults.WithLabelValues(identity, kind).Inc()
}

func SetConnected(identity string, up bool) {
	RegisterMetrics()
	v := 0.0
	if up {
		v = 1
	}
	connected.WithLabelValues(identity).Set(v)
}

func SetCredentialExpiry(identity string, at time.Time) {
	RegisterMetrics()
	credentialExpiry.WithLabelValues(identity).Set(float64(at.Unix()))
}
