package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"Consilium/pkg/logger"
)

// Analyses can run for minutes, so the buckets reach ten.
var durationBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}

type httpCollectors struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

var (
	collectors     *httpCollectors
	collectorsOnce sync.Once
)

func registerCollectors() *httpCollectors {
	collectorsOnce.Do(func() {
		collectors = &httpCollectors{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "consilium",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status code.",
			}, []string{"route", "method", "status"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "consilium",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route, method and status class.",
				Buckets:   durationBuckets,
			}, []string{"route", "method", "class"}),
			inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "consilium",
				Subsystem: "http",
				Name:      "in_flight_requests",
				Help:      "Requests currently being served.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(collectors.requests, collectors.duration, collectors.inFlight)
	})
	return collectors
}

// Metrics labels by the route template, never the raw path, so /api/history/:id
// stays one series. Requests at or above slow are logged at warn.
func Metrics(l *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	m := registerCollectors()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			gauge := m.inFlight.WithLabelValues(route)
			gauge.Inc()
			defer gauge.Dec()

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
			m.duration.WithLabelValues(route, method, statusClass(status)).Observe(elapsed.Seconds())

			if l != nil && slow > 0 && elapsed >= slow {
				l.Warn("http request slow",
					logger.String("route", route),
					logger.String("method", method),
					logger.Int("status", status),
					logger.Duration("duration_ms", elapsed),
				)
			}
			return err
		}
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
