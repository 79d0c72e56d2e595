// Package metrics exports Prometheus metrics for the GraphQL endpoint. The
// counters are fed from the event bus and from cache hooks.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	eventbus "github.com/hanpama/gqlhttp/internal/eventbus"
	events "github.com/hanpama/gqlhttp/internal/events"
)

const namespace = "gqlhttp"

// Metrics holds the collectors of one handler.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Operations      *prometheus.CounterVec
	OperationTime   *prometheus.HistogramVec
	Chunks          *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	Upstream        *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by method and status code",
			},
			[]string{"method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds, streamed responses included",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "operations_total",
				Help:      "Executed GraphQL operations by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		OperationTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "graphql",
				Name:      "operation_duration_seconds",
				Help:      "Time until the executor returned a result or a stream",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		Chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "chunks_total",
				Help:      "Payloads flushed by streaming encoders",
			},
			[]string{"content_type"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Parse cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),
		Upstream: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "request_duration_seconds",
				Help:      "Upstream round trips until response headers, by status code (0 on transport failure)",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"code"},
		),
	}
	for _, c := range []prometheus.Collector{
		m.Requests, m.RequestDuration, m.Operations, m.OperationTime, m.Chunks, m.CacheLookups, m.Upstream,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// CacheHooks returns hit and miss callbacks counting lookups of cache.
func (m *Metrics) CacheHooks(cache string) (hit, miss func()) {
	hits := m.CacheLookups.WithLabelValues(cache, "hit")
	misses := m.CacheLookups.WithLabelValues(cache, "miss")
	return hits.Inc, misses.Inc
}

// Subscribe feeds the collectors from bus.
func (m *Metrics) Subscribe(bus *eventbus.Bus) (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPFinish) {
			m.Requests.WithLabelValues(e.Request.Method, strconv.Itoa(e.Status)).Inc()
			m.RequestDuration.WithLabelValues(e.Request.Method).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.OperationFinish) {
			outcome := "ok"
			switch {
			case len(e.Errors) > 0:
				outcome = "error"
			case e.Streaming:
				outcome = "stream"
			}
			typ := e.OperationType
			if typ == "" {
				typ = "unknown"
			}
			m.Operations.WithLabelValues(typ, outcome).Inc()
			m.OperationTime.WithLabelValues(typ).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.ChunkWritten) {
			m.Chunks.WithLabelValues(e.MediaType).Inc()
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.UpstreamFinish) {
			m.Upstream.WithLabelValues(strconv.Itoa(e.Status)).Observe(e.Duration.Seconds())
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
