// Package metrics exposes Prometheus instrumentation for the feed pipeline
// and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FetchTotal counts feed fetch attempts by outcome: fresh,
	// not_modified, cached_fallback, error.
	FetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "icalq",
		Subsystem: "feed",
		Name:      "fetch_total",
		Help:      "Feed fetch attempts by outcome.",
	}, []string{"outcome"})

	// ParseWarnings counts parse and expansion warnings by kind.
	ParseWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "icalq",
		Subsystem: "parse",
		Name:      "warnings_total",
		Help:      "Parse and expansion warnings observed, by kind.",
	}, []string{"kind"})

	// ExpansionTruncations counts events whose recurrence expansion hit the
	// occurrence cap.
	ExpansionTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "icalq",
		Subsystem: "expand",
		Name:      "truncations_total",
		Help:      "Recurring events truncated at the expansion cap.",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "icalq",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests processed, by route and status.",
	}, []string{"route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "icalq",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Histogram of HTTP request latencies, by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

// Middleware records per-request counters and latency using the matched
// route pattern so path parameters don't explode label cardinality.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := routePattern(r)
			httpRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
			httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
