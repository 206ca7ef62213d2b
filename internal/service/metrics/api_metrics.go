package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "consilium",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of analysis API endpoints",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consilium",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by analysis API endpoint and code",
		},
		[]string{"endpoint", "code"},
	)

	APIRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "consilium",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limit",
		},
		[]string{"endpoint"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, APIRejected)
	})
}
