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
			Namespace: "vizlink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vizlink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	establishAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vizlink",
			Subsystem: "session",
			Name:      "establish_attempts_total",
			Help:      "Session establishment attempts by stage and result.",
		},
		[]string{"stage", "result"},
	)
	epochs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vizlink",
			Subsystem: "stream",
			Name:      "epochs_total",
			Help:      "Frame epochs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vizlink",
			Subsystem: "stream",
			Name:      "fetches_total",
			Help:      "Resource fetches by kind and success.",
		},
		[]string{"kind", "success"},
	)
	fetchBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vizlink",
			Subsystem: "stream",
			Name:      "fetch_bytes_total",
			Help:      "Bytes delivered by resource fetches after truncation.",
		},
		[]string{"kind"},
	)
	fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vizlink",
			Subsystem: "stream",
			Name:      "fetch_duration_seconds",
			Help:      "Resource fetch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	frameAckInterval = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vizlink",
			Subsystem: "stream",
			Name:      "frame_ack_interval_seconds",
			Help:      "Elapsed time reported to the worker between frame acks.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			establishAttempts,
			epochs, fetches, fetchBytes, fetchDuration, frameAckInterval,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordEstablish counts one resolve/connect/handshake/config attempt.
func RecordEstablish(stage string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	establishAttempts.WithLabelValues(stage, result).Inc()
}

func RecordEpoch(outcome string) {
	RegisterMetrics()
	epochs.WithLabelValues(outcome).Inc()
}

func RecordFetch(kind string, n int, duration time.Duration, err error) {
	RegisterMetrics()
	fetches.WithLabelValues(kind, strconv.FormatBool(err == nil)).Inc()
	fetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err == nil {
		fetchBytes.WithLabelValues(kind).Add(float64(n))
	}
}

func RecordFrameAck(elapsed time.Duration) {
	RegisterMetrics()
	frameAckInterval.Observe(elapsed.Seconds())
}
