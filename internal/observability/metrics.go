// Package observability defines the Prometheus metrics of promptgate.
// Metrics are registered on the default registry and served by promhttp.
package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"promptgate/internal/core"
)

// Cache lookup results
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
	// CacheSkipped counts requests whose user has caching turned off
	CacheSkipped = "skipped"
)

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "promptgate_cache_lookups_total",
		Help: "Response cache lookups by result",
	},
	[]string{"result"},
)

var upstreamRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "promptgate_upstream_requests_total",
		Help: "Calls to the completion provider by operation and outcome",
	},
	[]string{"operation", "outcome"},
)

var upstreamDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "promptgate_upstream_request_duration_seconds",
		Help:    "Latency of calls to the completion provider",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	},
	[]string{"operation"},
)

var httpRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "promptgate_http_requests_total",
		Help: "HTTP requests served by route and status code",
	},
	[]string{"method", "route", "status"},
)

var httpDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "promptgate_http_request_duration_seconds",
		Help:    "Latency of HTTP requests by route",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)

// ObserveCacheLookup counts one cache lookup.
func ObserveCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// ObserveUpstream records the outcome and latency of one provider call.
// The outcome label is "success" or the error kind.
func ObserveUpstream(operation string, err error, elapsed time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = string(core.KindOf(err))
	}
	upstreamRequests.WithLabelValues(operation, outcome).Inc()
	upstreamDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Middleware records request counts and latency per matched route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				// The error handler has not written the response yet.
				var he *echo.HTTPError
				var ce *core.Error
				switch {
				case errors.As(err, &he):
					status = he.Code
				case errors.As(err, &ce):
					status = ce.HTTPStatusCode()
				default:
					status = http.StatusInternalServerError
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
