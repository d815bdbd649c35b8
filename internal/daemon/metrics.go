package daemon

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	shardsRegistered *prometheus.CounterVec
	pages            prometheus.GaugeFunc
	watchers         prometheus.Gauge
}

func newMetrics(pageCount func() int) *metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &metrics{
		registry: registry,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "implindex",
			Name:      "requests_total",
			Help:      "Daemon requests by route and status code",
		}, []string{"route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "implindex",
			Name:      "request_duration_seconds",
			Help:      "Daemon request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		shardsRegistered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "implindex",
			Name:      "shards_registered_total",
			Help:      "Shards offered to a page, by outcome",
		}, []string{"result"}),

		pages: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "implindex",
			Name:      "pages",
			Help:      "Pages currently held by the daemon",
		}, func() float64 { return float64(pageCount()) }),

		watchers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "implindex",
			Name:      "watchers",
			Help:      "Open /watch connections",
		}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument records request counts and latency per chi route pattern.
func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *metrics) shardResult(err error) {
	m.shardsRegistered.WithLabelValues(outcome(err)).Inc()
}
