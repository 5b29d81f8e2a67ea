package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DetectionsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takpipe",
		Name:      "detections_ingested_total",
		Help:      "Total number of detections accepted for resolution",
	}, []string{"source"})

	ResolutionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takpipe",
		Name:      "resolution_failures_total",
		Help:      "Total number of geolocation resolution failures",
	}, []string{"source"})

	DispatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takpipe",
		Name:      "dispatch_results_total",
		Help:      "Synchronous sink dispatch outcomes",
	}, []string{"result"}) // delivered, queued

	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "takpipe",
		Name:      "retry_attempts_total",
		Help:      "Background redelivery attempt outcomes",
	}, []string{"result"}) // delivered, failed, failed_permanent

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "takpipe",
		Name:      "queue_depth",
		Help:      "Number of pending items in the offline queue",
	})

	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "takpipe",
		Name:      "resolve_duration_seconds",
		Help:      "Duration of geolocation resolution",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "takpipe",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "takpipe",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
