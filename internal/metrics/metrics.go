// Package metrics records engine and server events as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hanpama/hurdles/internal/eventbus"
	"github.com/hanpama/hurdles/internal/events"
)

// Collector owns the hurdles metrics and the registry they live in.
type Collector struct {
	registry *prometheus.Registry

	queries         *prometheus.CounterVec
	queryDuration   prometheus.Histogram
	handlerCalls    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cacheWidens     *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
}

// New creates a Collector with its own registry, including the Go and
// process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hurdles_queries_total",
			Help: "Resolved query definitions by result.",
		}, []string{"result"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hurdles_query_duration_seconds",
			Help:    "Time to resolve one query definition.",
			Buckets: prometheus.DefBuckets,
		}),
		handlerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hurdles_handler_calls_total",
			Help: "Handler invocations by operation, kind and result.",
		}, []string{"operation", "kind", "result"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hurdles_handler_duration_seconds",
			Help:    "Duration of handler invocations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hurdles_cache_hits_total",
			Help: "Invocations served without calling the handler, by source (stored or inflight).",
		}, []string{"operation", "source"}),
		cacheWidens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hurdles_cache_widens_total",
			Help: "Cached invocations repeated with a wider shape.",
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hurdles_http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
	c.registry.MustRegister(
		c.queries, c.queryDuration,
		c.handlerCalls, c.handlerDuration,
		c.cacheHits, c.cacheWidens,
		c.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Attach subscribes the collector to bus and returns a function removing
// the subscriptions.
func (c *Collector) Attach(bus *eventbus.Bus) func() {
	unsubs := []func(){
		eventbus.Subscribe(bus, func(_ context.Context, e events.QueryFinish) {
			c.queries.WithLabelValues(result(e.Err)).Inc()
			c.queryDuration.Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.HandlerFinish) {
			c.handlerCalls.WithLabelValues(e.Operation, e.Kind, result(e.Err)).Inc()
			c.handlerDuration.WithLabelValues(e.Operation).Observe(e.Duration.Seconds())
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.CacheHit) {
			source := "inflight"
			if e.Stored {
				source = "stored"
			}
			c.cacheHits.WithLabelValues(e.Operation, source).Inc()
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.CacheWiden) {
			c.cacheWidens.WithLabelValues(e.Operation).Inc()
		}),
		eventbus.Subscribe(bus, func(_ context.Context, e events.HTTPFinish) {
			c.httpRequests.WithLabelValues(e.Request.Method, strconv.Itoa(e.Status)).Inc()
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
