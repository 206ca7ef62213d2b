package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"Consilium/internal/domain/models"
	drepo "Consilium/internal/domain/repository"
	"Consilium/internal/domain/service"
	"Consilium/internal/handler/api"
	"Consilium/internal/repository"
	"Consilium/internal/service/cache"
	"Consilium/internal/service/finnhub"
	"Consilium/internal/service/marketdata"
	"Consilium/internal/service/ratelimit"
	"Consilium/internal/services/consensus"
	"Consilium/internal/services/cost"
	"Consilium/internal/services/llm"
	"Consilium/internal/usecase"
	pkgch "Consilium/pkg/clickhouse"
	"Consilium/pkg/config"
	xerrors "Consilium/pkg/errors"
	xhttp "Consilium/pkg/http"
	pkgkafka "Consilium/pkg/kafka"
	applogger "Consilium/pkg/logger"
	"Consilium/pkg/metrics"
	pkgpg "Consilium/pkg/postgres"
	"Consilium/pkg/server"
)

const serviceName = "consilium"

// ProvideLogger builds the process logger and attaches the Sentry tracker when a DSN is set.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, func(), error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	tracker, err := applogger.NewTracker(cfg.Log.SentryDSN, cfg.Environment)
	if err != nil {
		return nil, nil, fmt.Errorf("tracker: %w", err)
	}
	if tracker != nil {
		l.SetTracker(tracker)
	}

	cleanup := func() {
		tracker.Flush(2 * time.Second)
	}
	return l, cleanup, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideLimiter is shared by the Finnhub source and the API; their bucket keys never collide.
func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(cfg.Finnhub.Timeout), xhttp.WithUserAgent(serviceName))
}

func ProvideFinnhubSource(cfg *config.Config, client *xhttp.Client, limiter *ratelimit.Limiter, l *applogger.Logger) *finnhub.Source {
	return finnhub.NewSource(finnhub.SourceConfig{
		BaseURL:           cfg.Finnhub.BaseURL,
		APIKey:            cfg.Finnhub.APIKey,
		RequestsPerSecond: cfg.Finnhub.RequestsPerSecond,
		Burst:             cfg.Finnhub.Burst,
		CandleDays:        cfg.Finnhub.CandleDays,
	}, client, limiter, finnhub.WithSourceLogger(l))
}

// ProvideCacheStore selects the byte store behind the market-data cache.
func ProvideCacheStore(cfg *config.Config, l *applogger.Logger) (cache.BytesCache, func(), error) {
	newRedis := func() (*cache.RedisCache, error) {
		r := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	}

	var store cache.BytesCache
	switch cfg.Cache.Store {
	case "redis":
		r, err := newRedis()
		if err != nil {
			return nil, nil, err
		}
		store = r
	case "layered":
		r, err := newRedis()
		if err != nil {
			return nil, nil, err
		}
		store = cache.NewLayeredCache(cache.NewTTLCache(cache.WithMaxEntries(10_000)), r, cfg.Cache.LocalTTL)
	default:
		store = cache.NewTTLCache()
	}
	l.Info("market cache ready", applogger.String("store", cfg.Cache.Store))

	cleanup := func() {
		if err := store.Close(); err != nil {
			l.Warn("market cache close error", applogger.Error(err))
		}
	}
	return store, cleanup, nil
}

func ProvideMarketCache(cfg *config.Config, src *finnhub.Source, store cache.BytesCache, m drepo.Metrics, l *applogger.Logger) *marketdata.Cache {
	policies := make(map[models.DataCategory]marketdata.Policy, len(cfg.Cache.TTL))
	for k, ttl := range cfg.Cache.TTL {
		policies[models.DataCategory(k)] = marketdata.Policy{TTL: ttl, StaleFallback: cfg.Cache.StaleFallback[k]}
	}
	return marketdata.NewCache(src, store, policies,
		marketdata.WithLogger(l),
		marketdata.WithMetrics(m),
		marketdata.WithRetention(cfg.Cache.Retention),
		marketdata.WithFetchTimeout(cfg.Orchestrator.SnapshotTimeout),
	)
}

func ProvideAgentCatalog(cfg *config.Config) (*repository.Catalog, error) {
	return repository.LoadCatalog(cfg.Agents.CatalogPath, cfg.Agents.Weights)
}

func ProvideServiceTransport(cfg *config.Config) (service.ServiceTransport, error) {
	return llm.NewTransport(llm.TransportConfig{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
}

func ProvideAgentInvoker(cfg *config.Config, transport service.ServiceTransport, m drepo.Metrics, l *applogger.Logger) service.AgentInvoker {
	return llm.NewRetryingClient(transport, llm.RetryConfig{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		BaseDelay:         cfg.Retry.BaseDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		CallTimeout:       cfg.Retry.CallTimeout,
		RequestsPerMinute: cfg.Retry.RequestsPerMinute,
		MaxTokens:         cfg.LLM.MaxTokens,
	}, llm.WithLogger(l), llm.WithMetrics(m))
}

func ProvidePromptBuilder() (service.PromptBuilder, error) {
	return llm.NewTemplateBuilder()
}

func ProvideConsensusEngine(cfg *config.Config) *consensus.Engine {
	return consensus.NewEngine(consensus.Config{
		Thresholds: consensus.Thresholds{
			StrongBuy: cfg.Consensus.StrongBuy,
			Buy:       cfg.Consensus.Buy,
			Hold:      cfg.Consensus.Hold,
			Sell:      cfg.Consensus.Sell,
		},
		DissentThreshold: cfg.Consensus.DissentThreshold,
		TopN:             cfg.Consensus.TopN,
	})
}

func ProvideCostEstimator(cfg *config.Config) *cost.Estimator {
	c := cost.DefaultConfig(cfg.LLM.Model)
	p := cfg.Cost.Profiles
	c.Specialist = cost.TokenProfile{Input: p.Specialist.Input, Output: p.Specialist.Output}
	c.Investor = cost.TokenProfile{Input: p.Investor.Input, Output: p.Investor.Output}
	c.InvestorSkipSpecialists = cost.TokenProfile{Input: p.InvestorSkipSpecialists.Input, Output: p.InvestorSkipSpecialists.Output}
	if len(cfg.Cost.Pricing) > 0 {
		c.Pricing = make([]cost.Price, 0, len(cfg.Cost.Pricing))
		for _, mp := range cfg.Cost.Pricing {
			c.Pricing = append(c.Pricing, cost.Price{
				Match:  mp.Match,
				Input:  decimal.NewFromFloat(mp.Input),
				Output: decimal.NewFromFloat(mp.Output),
			})
		}
	}
	return cost.NewEstimator(c)
}

// ProvideConsensusStore opens the configured backend and ensures its schema.
func ProvideConsensusStore(cfg *config.Config, l *applogger.Logger) (drepo.ConsensusStore, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var (
		store  drepo.ConsensusStore
		closer func() error
	)
	switch cfg.Persistence.Backend {
	case "clickhouse":
		client, err := pkgch.NewClient(ctx, pkgch.Config{
			Host:         cfg.ClickHouse.Host,
			Port:         cfg.ClickHouse.Port,
			Database:     cfg.ClickHouse.Database,
			User:         cfg.ClickHouse.User,
			Password:     cfg.ClickHouse.Password,
			UseHTTP:      cfg.ClickHouse.UseHTTP,
			AsyncInsert:  cfg.ClickHouse.AsyncInsert,
			WaitForAsync: cfg.ClickHouse.WaitForAsync,
			DialTimeout:  cfg.ClickHouse.DialTimeout,
			ReadTimeout:  cfg.ClickHouse.ReadTimeout,
			MaxExecTime:  cfg.ClickHouse.MaxExecTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("clickhouse client: %w", err)
		}
		store = repository.NewClickHouseStore(client, "consensus_results", l)
		closer = client.Close
	case "postgres":
		client, err := pkgpg.NewClient(pkgpg.Config{
			DSN:             cfg.Postgres.DSN,
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("postgres client: %w", err)
		}
		store = repository.NewPostgresStore(client, l)
		closer = client.Close
	default:
		store = repository.NewMemoryStore()
		closer = func() error { return nil }
	}

	if err := store.Init(ctx); err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("init %s store: %w", cfg.Persistence.Backend, err)
	}
	l.Info("consensus store ready", applogger.String("backend", cfg.Persistence.Backend))

	cleanup := func() {
		if err := closer(); err != nil {
			l.Warn("consensus store close error", applogger.Error(err))
		}
	}
	return store, cleanup, nil
}

// ProvideKafkaProducer returns nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	cleanup := func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}
	return producer, cleanup, nil
}

// ProvideResultPublisher also routes aggregated error logs to Kafka when log collection is on.
func ProvideResultPublisher(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) (drepo.ResultPublisher, func()) {
	if producer == nil {
		return nil, func() {}
	}
	pub := repository.NewKafkaResultPublisher(producer, cfg.Kafka.Topics.Results)
	if !cfg.Log.CollectLog {
		return pub, func() {}
	}
	l.AddCollector(&applogger.CollectionConfig{
		TimeInterval:   30 * time.Second,
		CountThreshold: 100,
		Topic:          cfg.Kafka.Topics.Logs,
		Service:        serviceName,
		Publisher:      pub,
	})
	return pub, l.RemoveCollector
}

func ProvideResultRecorder(cfg *config.Config, store drepo.ConsensusStore, pub drepo.ResultPublisher, m drepo.Metrics, l *applogger.Logger) *usecase.ResultRecorder {
	return usecase.NewResultRecorder(store, pub, m, l, cfg.Persistence.Backend)
}

func ProvideOrchestrator(
	cfg *config.Config,
	catalog *repository.Catalog,
	snapshots *marketdata.Cache,
	runner *usecase.AgentRunner,
	engine *consensus.Engine,
	estimator *cost.Estimator,
	recorder *usecase.ResultRecorder,
	m drepo.Metrics,
	l *applogger.Logger,
) *usecase.Orchestrator {
	return usecase.NewOrchestrator(catalog, snapshots, runner, engine, estimator, recorder, m, l, usecase.OrchestratorConfig{
		MaxConcurrency:  cfg.Orchestrator.MaxConcurrency,
		Deadline:        cfg.Orchestrator.Deadline,
		SnapshotTimeout: cfg.Orchestrator.SnapshotTimeout,
		DrainGrace:      cfg.Orchestrator.Grace,
	})
}

func ProvideAnalysisHandler(cfg *config.Config, orch *usecase.Orchestrator, store drepo.ConsensusStore, limiter *ratelimit.Limiter, l *applogger.Logger) *api.AnalysisHandler {
	return api.NewAnalysisHandler(orch, store, limiter, api.RateLimit{
		Capacity:     cfg.Server.RateLimit.Capacity,
		RefillPerSec: cfg.Server.RateLimit.RefillPerSec,
	}, l)
}

// retryableIntake rejects errors that would fail identically on redelivery.
func retryableIntake(err error) bool {
	return !errors.Is(err, xerrors.ErrInvalidInput) &&
		!errors.Is(err, xerrors.ErrPermanent) &&
		!errors.Is(err, xerrors.ErrConfiguration)
}

// ProvideAnalysisConsumer subscribes the analyze-request intake. Nil when Kafka is disabled.
func ProvideAnalysisConsumer(cfg *config.Config, orch *usecase.Orchestrator, m drepo.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled || cfg.Kafka.Topics.Requests == "" {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerHandleTimeout(cfg.Orchestrator.Deadline+cfg.Orchestrator.Grace+cfg.Orchestrator.SnapshotTimeout),
		pkgkafka.WithConsumerRetryable(retryableIntake),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook())
	consumer.RegisterHandler(usecase.NewAnalysisRequestHandler(cfg.Kafka.Topics.Requests, orch, m, l))
	return consumer, nil
}

// ProvidePriceWarmer returns nil unless the live trade stream is enabled.
func ProvidePriceWarmer(cfg *config.Config, mc *marketdata.Cache, m drepo.Metrics, l *applogger.Logger) *usecase.PriceWarmer {
	s := cfg.Finnhub.Stream
	if !s.Enabled || len(s.Symbols) == 0 {
		return nil
	}
	stream := finnhub.NewStream(cfg.Finnhub.APIKey, cfg.Finnhub.WebSocketURL, s.Symbols, s.ReconnectDelay, l)
	return usecase.NewPriceWarmer(stream, mc, m, l)
}

func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler *api.AnalysisHandler,
	consumer *pkgkafka.Consumer,
	warmer *usecase.PriceWarmer,
) *server.App {
	return server.New(cfg, l, handler, consumer, warmer)
}
