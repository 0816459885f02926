// Package metrics provides Prometheus metrics for remittance encoding and delivery.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drfirst/go-era/internal/x12/era835"
)

// Encode sources
const (
	SourceAPI    = "api"
	SourceWorker = "worker"
	SourceCLI    = "cli"
)

// Metrics holds all application metrics
type Metrics struct {
	RemittancesEncoded    *prometheus.CounterVec
	RemittancesFailed     *prometheus.CounterVec
	ClaimsEncoded         prometheus.Counter
	ServiceLinesEncoded   prometheus.Counter
	SegmentsPerDocument   prometheus.Histogram
	EncodeDuration        prometheus.Histogram
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
	BatchTasks            *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg (the default registerer when nil)
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		RemittancesEncoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "era_remittances_encoded_total",
			Help: "Total 835 documents encoded",
		}, []string{"source"}),
		RemittancesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "era_remittances_failed_total",
			Help: "Total remittances that failed, by stage",
		}, []string{"stage"}),
		ClaimsEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "era_claims_encoded_total",
			Help: "Total claim loops encoded",
		}),
		ServiceLinesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "era_service_lines_encoded_total",
			Help: "Total service line loops encoded",
		}),
		SegmentsPerDocument: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "era_document_segments",
			Help:    "Segments per encoded interchange",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10),
		}),
		EncodeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "era_encode_duration_seconds",
			Help:    "Time to encode one document",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		BatchTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "era_batch_tasks_total",
			Help: "Encoding worker tasks by result",
		}, []string{"result"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.RemittancesEncoded,
		m.RemittancesFailed,
		m.ClaimsEncoded,
		m.ServiceLinesEncoded,
		m.SegmentsPerDocument,
		m.EncodeDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
		m.BatchTasks,
		m.HTTPRequestDuration,
	)

	return m
}

// ObserveEncode records one encoded document
func (m *Metrics) ObserveEncode(source string, res *era835.Result, elapsed time.Duration) {
	m.RemittancesEncoded.WithLabelValues(source).Inc()
	m.ClaimsEncoded.Add(float64(res.ClaimCount))
	m.ServiceLinesEncoded.Add(float64(res.ServiceLineCount))
	m.SegmentsPerDocument.Observe(float64(res.SegmentCount))
	m.EncodeDuration.Observe(elapsed.Seconds())
}

// ObserveHTTP records one served request. route is the matched pattern, not the raw path.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
