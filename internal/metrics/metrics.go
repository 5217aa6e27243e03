// Package metrics holds the Prometheus collectors of the retrieval core.
// All recorders are nil-safe.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "finrag"

// Request outcomes. OutcomeRejected marks queries refused before reaching the embedder.
const (
	OutcomeOK       = "ok"
	OutcomeEmpty    = "empty"
	OutcomeError    = "error"
	OutcomeRejected = "rejected"
)

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	retrievals        *prometheus.CounterVec
	retrievalDuration prometheus.Histogram
	outOfRange        prometheus.Counter
	tickerMatches     *prometheus.CounterVec
	embedBatches      *prometheus.CounterVec
	indexSize         *prometheus.GaugeVec
	httpRequests      *prometheus.HistogramVec
}

// New creates the collectors and registers them together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Context retrievals by outcome.",
		}, []string{"outcome"}),
		retrievalDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Latency of embed plus index search.",
			Buckets:   prometheus.DefBuckets,
		}),
		outOfRange: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_out_of_range_ids_total",
			Help:      "Ids returned by the index that had no metadata record.",
		}),
		tickerMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticker_matches_total",
			Help:      "Ticker match requests by outcome.",
		}, []string{"outcome"}),
		embedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_batches_total",
			Help:      "Embedding batches by result.",
		}, []string{"result"}),
		indexSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_vectors",
			Help:      "Vectors in the live index.",
		}, []string{"index"}),
		httpRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route, method and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m.registry.MustRegister(m.retrievals, m.retrievalDuration, m.outOfRange, m.tickerMatches, m.embedBatches, m.indexSize, m.httpRequests)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRetrieval(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome).Inc()
	m.retrievalDuration.Observe(d.Seconds())
}

func (m *Metrics) OutOfRange() {
	if m == nil {
		return
	}
	m.outOfRange.Inc()
}

func (m *Metrics) ObserveTickerMatch(outcome string) {
	if m == nil {
		return
	}
	m.tickerMatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEmbedBatch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.embedBatches.WithLabelValues(result).Inc()
}

// SetIndexSize records the vector count of a named index ("documents", "tickers").
func (m *Metrics) SetIndexSize(index string, n int) {
	if m == nil {
		return
	}
	m.indexSize.WithLabelValues(index).Set(float64(n))
}

// ObserveHTTP records one served request. route is the registered pattern, not the raw path.
func (m *Metrics) ObserveHTTP(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}
