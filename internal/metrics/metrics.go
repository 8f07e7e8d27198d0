package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airouter",
			Name:      "provider_requests_total",
			Help:      "Total provider requests by provider, engine and result",
		},
		[]string{"provider", "engine", "result"},
	)

	providerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "airouter",
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of provider requests by provider and engine",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "engine"},
	)

	docsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airouter",
			Name:      "documents_processed_total",
			Help:      "Total documents routed, by result (success, error, dlq)",
		},
		[]string{"result"},
	)

	validationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airouter",
			Name:      "validation_failures_total",
			Help:      "Response validation failures by job type",
		},
		[]string{"job_type"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "airouter",
			Name:      "retries_total",
			Help:      "Total number of request retries",
		},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "airouter",
			Name:      "breaker_events_total",
			Help:      "Circuit breaker events by provider, engine and action",
		},
		[]string{"provider", "engine", "action"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "airouter",
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(providerReqs, providerLatency, docsProcessed, validationFailures, retriesTotal, breakerEvents, queueDepth)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func ObserveProvider(provider, engine, result string, dur time.Duration) {
	providerReqs.WithLabelValues(provider, engine, result).Inc()
	if dur > 0 {
		providerLatency.WithLabelValues(provider, engine).Observe(dur.Seconds())
	}
}

func IncProcessed(result string) { docsProcessed.WithLabelValues(result).Inc() }

func IncValidationFailure(jobType string) {
	if jobType == "" {
		jobType = "generic"
	}
	validationFailures.WithLabelValues(jobType).Inc()
}

func IncRetry() { retriesTotal.Inc() }

func BreakerOpened(provider, engine string) {
	breakerEvents.WithLabelValues(provider, engine, "opened").Inc()
}

func BreakerClosed(provider, engine string) {
	breakerEvents.WithLabelValues(provider, engine, "closed").Inc()
}

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
