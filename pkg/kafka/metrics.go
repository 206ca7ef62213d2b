package kafka

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "consilium"
	metricsSubsystem = "kafka"
)

var (
	producerMessages       *prometheus.CounterVec
	producerBytes          *prometheus.CounterVec
	producerPublishSeconds *prometheus.HistogramVec
	producerOnce           sync.Once

	consumerMessages      *prometheus.CounterVec
	consumerRetries       *prometheus.CounterVec
	consumerHandleSeconds *prometheus.HistogramVec
	consumerLaneDepth     *prometheus.GaugeVec
	consumerOnce          sync.Once
)

func initProducerMetrics() {
	producerOnce.Do(func() {
		producerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "produced_messages_total",
			Help: "Messages written, by topic and result.",
		}, []string{"topic", "result"})
		producerBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "produced_bytes_total",
			Help: "Uncompressed payload bytes written.",
		}, []string{"topic"})
		producerPublishSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name:    "publish_seconds",
			Help:    "Latency of one PublishBatch call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
	})
}

func observePublish(topic string, bytes int64, count int, d time.Duration, err error) {
	if producerMessages == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMessages.WithLabelValues(topic, result).Add(float64(count))
	producerBytes.WithLabelValues(topic).Add(float64(bytes))
	producerPublishSeconds.WithLabelValues(topic).Observe(d.Seconds())
}

func initConsumerMetrics() {
	consumerOnce.Do(func() {
		consumerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "consumed_messages_total",
			Help: "Messages handled, by topic and outcome (ok, failed, dead_lettered, interrupted, panic).",
		}, []string{"topic", "outcome"})
		consumerRetries = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "handler_retries_total",
			Help: "Handler attempts that failed and were retried.",
		}, []string{"topic"})
		// analysis requests take minutes, so buckets run from 50ms to ~7m
		consumerHandleSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name:    "handle_seconds",
			Help:    "Time from first attempt to final outcome per message.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"topic"})
		consumerLaneDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Subsystem: metricsSubsystem,
			Name: "lane_depth",
			Help: "Messages buffered in the lane the last fetch was routed to.",
		}, []string{"topic"})
	})
}
