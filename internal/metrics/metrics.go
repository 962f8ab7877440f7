package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdfoutline"

var (
	documentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents processed by result (success, skipped, failed, cancelled)",
		},
		[]string{"result"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	headingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "headings_total",
			Help:      "Outline entries emitted by level",
		},
		[]string{"level"},
	)

	embedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embed_requests_total",
			Help:      "Embedding service requests by result",
		},
		[]string{"result"},
	)

	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of pipeline retries",
		},
	)

	breakerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_events_total",
			Help:      "Embedder circuit breaker events by action",
		},
		[]string{"action"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queue depth gauges for stream, delayed and dlq",
		},
		[]string{"type"},
	)

	embedInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "embed_inflight",
			Help:      "Embedding requests currently holding a slot",
		},
		[]string{"backend"},
	)

	registerOnce sync.Once
)

// Init registers collectors with the default registry. Safe to call twice.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(documentsProcessed, stageDuration, headingsTotal, embedRequests, retriesTotal, breakerEvents, queueDepth, embedInflight)
	})
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncProcessed(result string) { documentsProcessed.WithLabelValues(result).Inc() }

func ObserveStage(stage string, dur time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(dur.Seconds())
}

// AddHeadings adds per-level outline counts.
func AddHeadings(level string, n int) {
	if n > 0 {
		headingsTotal.WithLabelValues(level).Add(float64(n))
	}
}

func IncEmbed(result string) { embedRequests.WithLabelValues(result).Inc() }
func IncRetry()              { retriesTotal.Inc() }
func BreakerOpened()         { breakerEvents.WithLabelValues("opened").Inc() }
func BreakerClosed()         { breakerEvents.WithLabelValues("closed").Inc() }

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }

func SetEmbedInflight(backend string, n int) { embedInflight.WithLabelValues(backend).Set(float64(n)) }
