package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent   *prometheus.CounterVec
	storeWrites    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	agentCalls     *prometheus.CounterVec
	agentDuration  *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	consensusScore *prometheus.GaugeVec
	consensusTotal *prometheus.CounterVec
}

// New creates a recorder registered with the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg. Tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consilium_results_published_total",
				Help: "Total number of consensus results delivered to a backend",
			},
			[]string{"backend", "ticker"},
		),
		storeWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consilium_results_stored_total",
				Help: "Consensus result writes by store backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consilium_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "consilium_last_price",
				Help: "Last streamed price for a ticker",
			},
			[]string{"ticker"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consilium_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		agentCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consilium_agent_calls_total",
				Help: "Agent invocations by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),
		agentDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "consilium_agent_call_duration_seconds",
				Help:    "End-to-end agent invocation time including retries",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"agent"},
		),
		retries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consilium_agent_retries_total",
				Help: "Retried agent attempts by failure kind",
			},
			[]string{"agent", "kind"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consilium_market_cache_lookups_total",
				Help: "Market data cache lookups by category and result (hit, miss, stale, unavailable)",
			},
			[]string{"category", "result"},
		),
		consensusScore: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "consilium_consensus_score",
				Help: "Most recent weighted consensus score per ticker",
			},
			[]string{"ticker"},
		),
		consensusTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "consilium_consensus_total",
				Help: "Consensus results by final signal",
			},
			[]string{"signal"},
		),
	}
}

// RecordStoreWrite counts one persist attempt; outcome is "ok" or "error".
func (r *Recorder) RecordStoreWrite(backend, outcome string) {
	r.storeWrites.WithLabelValues(backend, outcome).Inc()
}

// RecordMessageSent records a result delivered to a backend.
func (r *Recorder) RecordMessageSent(backend, ticker string) {
	r.messagesSent.WithLabelValues(backend, ticker).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a ticker.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordAgentCall(agentID, outcome string, seconds float64) {
	r.agentCalls.WithLabelValues(agentID, outcome).Inc()
	r.agentDuration.WithLabelValues(agentID).Observe(seconds)
}

func (r *Recorder) RecordRetry(agentID, kind string) {
	r.retries.WithLabelValues(agentID, kind).Inc()
}

func (r *Recorder) RecordCacheLookup(category, result string) {
	r.cacheLookups.WithLabelValues(category, result).Inc()
}

func (r *Recorder) RecordConsensus(ticker string, score float64, signal string) {
	r.consensusScore.WithLabelValues(ticker).Set(score)
	r.consensusTotal.WithLabelValues(signal).Inc()
}

// Nop satisfies the Metrics interface and records nothing.
type Nop struct{}

func (Nop) RecordMessageSent(string, string)        {}
func (Nop) RecordStoreWrite(string, string)         {}
func (Nop) RecordError(string)                      {}
func (Nop) RecordLastPrice(string, float64)         {}
func (Nop) RecordLatency(string, float64)           {}
func (Nop) RecordAgentCall(string, string, float64) {}
func (Nop) RecordRetry(string, string)              {}
func (Nop) RecordCacheLookup(string, string)        {}
func (Nop) RecordConsensus(string, float64, string) {}
