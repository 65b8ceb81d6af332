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
			Namespace: "jukebox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jukebox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jukebox",
			Subsystem: "session",
			Name:      "closed_total",
			Help:      "Sessions closed, by outcome.",
		},
		[]string{"mode", "outcome"},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jukebox",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently being served.",
		},
	)
	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jukebox",
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Login and register attempts, by result token.",
		},
		[]string{"op", "result"},
	)
	catalogQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jukebox",
			Subsystem: "catalog",
			Name:      "queries_total",
			Help:      "Catalog listings and filters served.",
		},
		[]string{"kind", "success"},
	)
	catalogRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jukebox",
			Subsystem: "catalog",
			Name:      "records_sent_total",
			Help:      "Catalog lines sent to clients.",
		},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jukebox",
			Subsystem: "transfer",
			Name:      "total",
			Help:      "Track download exchanges, by result.",
		},
		[]string{"result"},
	)
	transferBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jukebox",
			Subsystem: "transfer",
			Name:      "bytes_total",
			Help:      "Track bytes streamed to clients.",
		},
	)
	transferDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "jukebox",
			Subsystem: "transfer",
			Name:      "duration_seconds",
			Help:      "Track transfer duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			sessionsTotal, sessionsActive,
			authAttempts,
			catalogQueries, catalogRecords,
			transfers, transferBytes, transferDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func SessionOpened() {
	RegisterMetrics()
	sessionsActive.Inc()
}

func SessionClosed(mode, outcome string) {
	RegisterMetrics()
	sessionsActive.Dec()
	sessionsTotal.WithLabelValues(mode, outcome).Inc()
}

func RecordAuth(op, result string) {
	RegisterMetrics()
	authAttempts.WithLabelValues(op, result).Inc()
}

func RecordCatalogQuery(kind string, records int, success bool) {
	RegisterMetrics()
	catalogQueries.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
	catalogRecords.Add(float64(records))
}

func RecordTransfer(result string, bytes int64, duration time.Duration) {
	RegisterMetrics()
	transfers.WithLabelValues(result).Inc()
	if bytes > 0 {
		transferBytes.Add(float64(bytes))
	}
	if duration > 0 {
		transferDuration.Observe(duration.Seconds())
	}
}
