// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "habitly",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "habitly",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// CheckIns counts check-in attempts by outcome: created, duplicate, undone.
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "habitly",
		Name:      "checkins_total",
		Help:      "Check-in operations by outcome.",
	}, []string{"outcome"})

	// FeedReads counts activity feed builds by id source: cache, warmed, database.
	FeedReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "habitly",
		Name:      "activity_feed_reads_total",
		Help:      "Activity feed builds by source of completion ids.",
	}, []string{"source"})

	// WorkerEvents counts stream events handled by the workers.
	WorkerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "habitly",
		Name:      "worker_events_total",
		Help:      "Activity stream events by type and result.",
	}, []string{"type", "result"})
)

// Middleware records request count and latency labelled by the chi route
// pattern, so /habits/1 and /habits/2 share a series.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
